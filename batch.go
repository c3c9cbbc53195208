package graphload

// Batch is one bounded unit of vertex/edge data emitted by a loader for one
// consumption step. Heterogeneous loaders key tables by type name;
// homogeneous loaders produce a single table per side, keyed by the empty
// string and reachable through VertexTable/EdgeTable. Batches are immutable
// once constructed and owned exclusively by the consumer that received them.
type Batch struct {
	Hetero   bool
	Vertices map[string]*Table
	Edges    map[string]*Table
}

// VertexTable returns the single vertex table of a homogeneous Batch, or nil
// if the Batch is heterogeneous or carries no vertices
func (b *Batch) VertexTable() *Table {
	if b.Hetero {
		return nil
	}
	return b.Vertices[""]
}

// EdgeTable returns the single edge table of a homogeneous Batch, or nil if
// the Batch is heterogeneous or carries no edges
func (b *Batch) EdgeTable() *Table {
	if b.Hetero {
		return nil
	}
	return b.Edges[""]
}

// NumVertices returns the total vertex row count across all types
func (b *Batch) NumVertices() int {
	n := 0
	for _, t := range b.Vertices {
		n += t.NumRows()
	}
	return n
}

// NumEdges returns the total edge row count across all types
func (b *Batch) NumEdges() int {
	n := 0
	for _, t := range b.Edges {
		n += t.NumRows()
	}
	return n
}
