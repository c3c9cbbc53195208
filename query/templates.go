package query

// The base query texts below mirror the loader protocol: every query accepts
// batching, shuffle and filter parameters plus the optional message-queue
// producer parameters, accumulates delimited lines into per-batch
// accumulators, and either prints each batch or hands it to the server-side
// producer when a topic is supplied.

const vertexTemplate = `CREATE QUERY {QUERYNAME}(
  INT num_batches=1, INT batch_size=0, BOOL shuffle=FALSE, STRING filter_by="",
  SET<STRING> v_types, STRING delimiter=",",
  STRING kafka_address="", STRING kafka_topic="", INT kafka_topic_partitions=1,
  STRING kafka_max_size="104857600", INT kafka_timeout=300000
) SYNTAX V1 {
  SumAccum<STRING> @@v_batch;
  SumAccum<INT> @batch_id;
  start = {v_types};
  FOREACH batch_id IN RANGE[0, num_batches-1] DO
    seeds = SELECT s FROM start:s
            WHERE vertex_batch_of(s, num_batches, shuffle, filter_by) == batch_id
            ACCUM {VERTEXATTRS};
    IF kafka_address != "" THEN
      produce_batch(kafka_address, kafka_topic, "vertex_" + to_string(batch_id), @@v_batch);
    ELSE
      PRINT @@v_batch AS vertex_batch;
    END;
    @@v_batch = "";
  END;
}`

const edgeTemplate = `CREATE QUERY {QUERYNAME}(
  INT num_batches=1, INT batch_size=0, BOOL shuffle=FALSE, STRING filter_by="",
  SET<STRING> v_types, SET<STRING> e_types, STRING delimiter=",",
  STRING kafka_address="", STRING kafka_topic="", INT kafka_topic_partitions=1,
  STRING kafka_max_size="104857600", INT kafka_timeout=300000
) SYNTAX V1 {
  SumAccum<STRING> @@e_batch;
  start = {v_types};
  FOREACH batch_id IN RANGE[0, num_batches-1] DO
    seeds = SELECT s FROM start:s -(e_types:e)- :t
            WHERE edge_batch_of(e, num_batches, shuffle, filter_by) == batch_id
            ACCUM {EDGEATTRS};
    IF kafka_address != "" THEN
      produce_batch(kafka_address, kafka_topic, "edge_" + to_string(batch_id), @@e_batch);
    ELSE
      PRINT @@e_batch AS edge_batch;
    END;
    @@e_batch = "";
  END;
}`

const graphTemplate = `CREATE QUERY {QUERYNAME}(
  INT num_batches=1, INT batch_size=0, BOOL shuffle=FALSE, STRING filter_by="",
  SET<STRING> v_types, SET<STRING> e_types, STRING delimiter=",",
  STRING kafka_address="", STRING kafka_topic="", INT kafka_topic_partitions=1,
  STRING kafka_max_size="104857600", INT kafka_timeout=300000
) SYNTAX V1 {
  SumAccum<STRING> @@v_batch;
  SumAccum<STRING> @@e_batch;
  OrAccum @touched;
  start = {v_types};
  FOREACH batch_id IN RANGE[0, num_batches-1] DO
    attached = SELECT s FROM start:s -(e_types:e)- :t
               WHERE edge_batch_of(e, num_batches, shuffle, filter_by) == batch_id
               ACCUM s.@touched += TRUE, t.@touched += TRUE, {EDGEATTRS};
    touched = SELECT s FROM start:s WHERE s.@touched
              POST-ACCUM {VERTEXATTRS}, s.@touched = FALSE;
    IF kafka_address != "" THEN
      produce_batch(kafka_address, kafka_topic, "vertex_" + to_string(batch_id), @@v_batch);
      produce_batch(kafka_address, kafka_topic, "edge_" + to_string(batch_id), @@e_batch);
    ELSE
      PRINT @@v_batch AS vertex_batch, @@e_batch AS edge_batch;
    END;
    @@v_batch = "";
    @@e_batch = "";
  END;
}`

const neighborTemplate = `CREATE QUERY {QUERYNAME}(
  SET<VERTEX> input_vertices, INT num_batches=1, INT batch_size=0,
  INT num_neighbors=10, INT num_hops=2, BOOL shuffle=FALSE, STRING filter_by="",
  SET<STRING> v_types, SET<STRING> e_types, SET<STRING> seed_types,
  STRING delimiter=",",
  STRING kafka_address="", STRING kafka_topic="", INT kafka_topic_partitions=1,
  STRING kafka_max_size="104857600", INT kafka_timeout=300000
) SYNTAX V1 {
  SumAccum<STRING> @@v_batch;
  SumAccum<STRING> @@e_batch;
  OrAccum @is_seed;
  OrAccum @touched;
  start = {seed_types};
  FOREACH batch_id IN RANGE[0, num_batches-1] DO
    seeds = SELECT s FROM start:s
            WHERE vertex_batch_of(s, num_batches, shuffle, filter_by) == batch_id
            POST-ACCUM s.@is_seed += TRUE, s.@touched += TRUE;
    expanded = seeds;
    FOREACH hop IN RANGE[1, num_hops] DO
      expanded = SELECT t FROM expanded:s -(e_types:e)- :t
                 SAMPLE num_neighbors EDGE WHEN s.outdegree() >= 1
                 ACCUM t.@touched += TRUE, {EDGEATTRS};
    END;
    touched = SELECT s FROM :s WHERE s.@touched
              POST-ACCUM {VERTEXATTRS}, s.@touched = FALSE, s.@is_seed = FALSE;
    IF kafka_address != "" THEN
      produce_batch(kafka_address, kafka_topic, "vertex_" + to_string(batch_id), @@v_batch);
      produce_batch(kafka_address, kafka_topic, "edge_" + to_string(batch_id), @@e_batch);
    ELSE
      PRINT @@v_batch AS vertex_batch, @@e_batch AS edge_batch;
    END;
    @@v_batch = "";
    @@e_batch = "";
  END;
}`

const edgeNeighborTemplate = `CREATE QUERY {QUERYNAME}(
  INT num_batches=1, INT batch_size=0,
  INT num_neighbors=10, INT num_hops=2, BOOL shuffle=FALSE, STRING filter_by="",
  SET<STRING> v_types, SET<STRING> e_types, STRING delimiter=",",
  STRING kafka_address="", STRING kafka_topic="", INT kafka_topic_partitions=1,
  STRING kafka_max_size="104857600", INT kafka_timeout=300000
) SYNTAX V1 {
  SumAccum<STRING> @@v_batch;
  SumAccum<STRING> @@e_batch;
  OrAccum @is_seed;
  OrAccum @touched;
  start = {v_types};
  FOREACH batch_id IN RANGE[0, num_batches-1] DO
    seeds = SELECT s FROM start:s -(e_types:e)- :t
            WHERE edge_batch_of(e, num_batches, shuffle, filter_by) == batch_id
            ACCUM e.@is_seed += TRUE, s.@touched += TRUE, t.@touched += TRUE;
    marked = SELECT s FROM start:s -(e_types:e)- :t
             WHERE e.@is_seed
             ACCUM {EDGEATTRS};
    expanded = seeds;
    FOREACH hop IN RANGE[1, num_hops] DO
      expanded = SELECT t FROM expanded:s -(e_types:e)- :t
                 WHERE NOT e.@is_seed
                 SAMPLE num_neighbors EDGE WHEN s.outdegree() >= 1
                 ACCUM t.@touched += TRUE, {EDGEATTRS};
    END;
    touched = SELECT s FROM :s WHERE s.@touched
              POST-ACCUM {VERTEXATTRS}, s.@touched = FALSE;
    unmark = SELECT s FROM start:s -(e_types:e)- :t
             WHERE e.@is_seed
             ACCUM e.@is_seed = FALSE;
    IF kafka_address != "" THEN
      produce_batch(kafka_address, kafka_topic, "vertex_" + to_string(batch_id), @@v_batch);
      produce_batch(kafka_address, kafka_topic, "edge_" + to_string(batch_id), @@e_batch);
    ELSE
      PRINT @@v_batch AS vertex_batch, @@e_batch AS edge_batch;
    END;
    @@v_batch = "";
    @@e_batch = "";
  END;
}`

func queryTemplate(kind Kind) string {
	switch kind {
	case VertexKind:
		return vertexTemplate
	case EdgeKind:
		return edgeTemplate
	case NeighborKind:
		return neighborTemplate
	case EdgeNeighborKind:
		return edgeNeighborTemplate
	}
	return graphTemplate
}
