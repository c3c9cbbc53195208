package loader

import (
	"context"
	"sort"

	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
	"github.com/go-graphload/graphload/logging"
	"github.com/go-graphload/graphload/parser"
	"github.com/go-graphload/graphload/query"
	"github.com/go-graphload/graphload/schema"
)

// NewVertexLoader returns a Loader streaming batches of vertices with the
// selected attributes
func NewVertexLoader(conf *Config) (*Loader, error) {
	return newLoader(conf, query.VertexKind)
}

// NewEdgeLoader returns a Loader streaming batches of edges with the
// selected attributes
func NewEdgeLoader(conf *Config) (*Loader, error) {
	return newLoader(conf, query.EdgeKind)
}

// NewGraphLoader returns a Loader streaming whole subgraphs: paired vertex
// and edge tables with edge endpoints rewritten to batch-local vertex ids.
// Endpoints missing from the vertex side are synthesized as zero-valued rows.
func NewGraphLoader(conf *Config) (*Loader, error) {
	return newLoader(conf, query.GraphKind)
}

// NewNeighborLoader returns a Loader streaming sampled neighborhoods around
// batches of seed vertices. Vertex tables carry an is_seed column; edges
// whose endpoints fall outside the sample are dropped.
func NewNeighborLoader(conf *Config) (*Loader, error) {
	return newLoader(conf, query.NeighborKind)
}

// NewEdgeNeighborLoader returns a Loader streaming sampled neighborhoods
// around batches of seed edges. Edge tables carry an is_seed column marking
// the batch's seed edges; edges whose endpoints fall outside the sample are
// dropped.
func NewEdgeNeighborLoader(conf *Config) (*Loader, error) {
	return newLoader(conf, query.EdgeNeighborKind)
}

func newLoader(conf *Config, kind query.Kind) (*Loader, error) {
	if conf == nil {
		return nil, errors.ConfigurationError{Reason: "a configuration is required"}
	}
	conf.ensureDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}
	hetero, err := conf.hetero()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), conf.Timeout)
	defer cancel()

	cache, err := schema.Fetch(ctx, conf.DB, schema.Options{ReverseEdge: conf.ReverseEdge, Delimiter: conf.Delimiter})
	if err != nil {
		return nil, err
	}
	for _, sel := range []graphload.AttributeSelection{conf.VertexInFeats, conf.VertexOutLabels, conf.VertexExtraFeats} {
		if err := cache.ValidateVertexSelection(sel); err != nil {
			return nil, err
		}
	}
	for _, sel := range []graphload.AttributeSelection{conf.EdgeInFeats, conf.EdgeOutLabels, conf.EdgeExtraFeats} {
		if err := cache.ValidateEdgeSelection(sel); err != nil {
			return nil, err
		}
	}

	vtypes := selectionTypes(hetero, cache.VertexTypes(), conf.VertexInFeats, conf.VertexOutLabels, conf.VertexExtraFeats)
	etypes := selectionTypes(hetero, cache.EdgeTypes(), conf.EdgeInFeats, conf.EdgeOutLabels, conf.EdgeExtraFeats)
	seedTypes := conf.SeedTypes
	if len(seedTypes) == 0 {
		seedTypes = vtypes
	}

	// The sampling queries mark which vertices or edges were seeds; the
	// marker travels the wire like any other extra attribute.
	vExtra := conf.VertexExtraFeats
	if kind == query.NeighborKind {
		vExtra = appendSeedColumn(vExtra, hetero, vtypes)
	}
	eExtra := conf.EdgeExtraFeats
	if kind == query.EdgeNeighborKind {
		eExtra = appendSeedColumn(eExtra, hetero, etypes)
	}

	numBatches := conf.NumBatches
	if conf.BatchSize > 0 {
		count, err := countRows(ctx, conf, kind, vtypes, etypes, seedTypes)
		if err != nil {
			return nil, err
		}
		numBatches = int((count + int64(conf.BatchSize) - 1) / int64(conf.BatchSize))
		if numBatches < 1 {
			numBatches = 1
		}
	}

	builder := query.NewBuilder(&query.Conf{
		Kind:        kind,
		Hetero:      hetero,
		Distributed: conf.DistributedQuery,
		VertexTypes: vtypes,
		EdgeTypes:   etypes,
		VIn:         conf.VertexInFeats,
		VOut:        conf.VertexOutLabels,
		VExtra:      vExtra,
		EIn:         conf.EdgeInFeats,
		EOut:        conf.EdgeOutLabels,
		EExtra:      eExtra,
		Schema:      cache.Schema(),
	})
	queryName, err := builder.Install(ctx, conf.DB)
	if err != nil {
		return nil, err
	}

	vAttrTypes, err := attrTypeMaps(cache.VertexAttrTypes, hetero, vtypes)
	if err != nil {
		return nil, err
	}
	eAttrTypes, err := attrTypeMaps(cache.EdgeAttrTypes, hetero, etypes)
	if err != nil {
		return nil, err
	}

	resp := respBoth
	reindex := true
	synthesize := false
	switch kind {
	case query.VertexKind:
		resp = respVertex
		reindex = false
	case query.EdgeKind:
		resp = respEdge
		reindex = false
	case query.GraphKind:
		synthesize = true
	}

	p := parser.CreateParser(&parser.Conf{
		Delimiter:         conf.Delimiter,
		Hetero:            hetero,
		Reindex:           reindex,
		AddSelfLoop:       conf.AddSelfLoop,
		SynthesizeMissing: synthesize,
		VInFeats:          conf.VertexInFeats,
		VOutLabels:        conf.VertexOutLabels,
		VExtraFeats:       vExtra,
		EInFeats:          conf.EdgeInFeats,
		EOutLabels:        conf.EdgeOutLabels,
		EExtraFeats:       eExtra,
		VAttrTypes:        vAttrTypes,
		EAttrTypes:        eAttrTypes,
		Schema:            cache.Schema(),
	})

	basePayload := map[string]interface{}{
		"num_batches": numBatches,
		"shuffle":     conf.Shuffle,
		"filter_by":   conf.FilterBy,
		"delimiter":   conf.Delimiter,
		"v_types":     vtypes,
	}
	if kind != query.VertexKind {
		basePayload["e_types"] = etypes
	}
	if kind == query.NeighborKind {
		basePayload["seed_types"] = seedTypes
	}
	if kind == query.NeighborKind || kind == query.EdgeNeighborKind {
		basePayload["num_neighbors"] = conf.NumNeighbors
		basePayload["num_hops"] = conf.NumHops
	}

	logging.Log(logging.DebugLevel, "loader %s: built %s loader over query %s (%d batches)", conf.LoaderID, kind, queryName, numBatches)
	return &Loader{
		conf:        conf,
		kind:        kind,
		hetero:      hetero,
		resp:        resp,
		cache:       cache,
		parser:      p,
		queryName:   queryName,
		numBatches:  numBatches,
		basePayload: basePayload,
	}, nil
}

// countRows counts the rows the loader will batch over: edges for edge and
// graph loaders, vertices otherwise
func countRows(ctx context.Context, conf *Config, kind query.Kind, vtypes, etypes, seedTypes []string) (int64, error) {
	var total int64
	switch kind {
	case query.EdgeKind, query.GraphKind, query.EdgeNeighborKind:
		for _, t := range etypes {
			n, err := conf.DB.EdgeCount(ctx, t, conf.FilterBy)
			if err != nil {
				return 0, err
			}
			total += n
		}
	case query.NeighborKind:
		for _, t := range seedTypes {
			n, err := conf.DB.VertexCount(ctx, t, conf.FilterBy)
			if err != nil {
				return 0, err
			}
			total += n
		}
	default:
		for _, t := range vtypes {
			n, err := conf.DB.VertexCount(ctx, t, conf.FilterBy)
			if err != nil {
				return 0, err
			}
			total += n
		}
	}
	return total, nil
}

// selectionTypes resolves which types a loader covers: the union of the
// types its selections name, or every type when nothing narrows it
func selectionTypes(hetero bool, all []string, sels ...graphload.AttributeSelection) []string {
	if !hetero {
		return all
	}
	set := make(map[string]bool)
	for _, sel := range sels {
		for _, t := range sel.Types() {
			set[t] = true
		}
	}
	if len(set) == 0 {
		return all
	}
	names := make([]string, 0, len(set))
	for t := range set {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

// appendSeedColumn extends a selection with the is_seed marker on every
// covered type
func appendSeedColumn(sel graphload.AttributeSelection, hetero bool, types []string) graphload.AttributeSelection {
	if !hetero {
		attrs := append(append([]string{}, sel.Attrs("")...), graphload.SeedColumn)
		return graphload.Flat(attrs...)
	}
	byType := make(map[string][]string, len(types))
	for _, t := range types {
		byType[t] = append(append([]string{}, sel.Attrs(t)...), graphload.SeedColumn)
	}
	return graphload.ByType(byType)
}

// attrTypeMaps snapshots the declared attribute types of the covered types
// into the parser's layout, keyed by the empty string for homogeneous
// loaders. The is_seed marker is declared as BOOL on every type.
func attrTypeMaps(lookup func(string) (map[string]graphload.AttrType, error), hetero bool, types []string) (map[string]map[string]graphload.AttrType, error) {
	out := make(map[string]map[string]graphload.AttrType, len(types))
	for _, t := range types {
		declared, err := lookup(t)
		if err != nil {
			return nil, err
		}
		copied := make(map[string]graphload.AttrType, len(declared)+1)
		for name, at := range declared {
			copied[name] = at
		}
		copied[graphload.SeedColumn] = graphload.AttrType{Kind: graphload.BoolKind}
		if !hetero {
			out[""] = copied
			break
		}
		out[t] = copied
	}
	return out, nil
}
