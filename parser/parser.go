// Package parser decodes raw delimited payloads produced by loader queries
// into typed columnar tables, assembling homogeneous or heterogeneous
// graph batches.
package parser

import (
	"strconv"
	"strings"

	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
)

// Conf configures a batch Parser
type Conf struct {
	// Delimiter separates fields within a line. Defaults to ","
	Delimiter string
	// Hetero indicates each line carries a leading type-name field
	Hetero bool
	// Reindex assigns batch-local contiguous vertex ids and rewrites edge
	// endpoints to them
	Reindex bool
	// AddSelfLoop appends one self-referencing edge per vertex
	AddSelfLoop bool
	// SynthesizeMissing adds a zero-valued vertex row for edge endpoints
	// absent from the vertex payload instead of dropping the edge
	SynthesizeMissing bool

	// Attribute selections, in wire order: input features, then output
	// labels, then extra pass-through attributes
	VInFeats    graphload.AttributeSelection
	VOutLabels  graphload.AttributeSelection
	VExtraFeats graphload.AttributeSelection
	EInFeats    graphload.AttributeSelection
	EOutLabels  graphload.AttributeSelection
	EExtraFeats graphload.AttributeSelection

	// Declared attribute types per vertex/edge type. Homogeneous parsers
	// key the single implicit type by the empty string.
	VAttrTypes map[string]map[string]graphload.AttrType
	EAttrTypes map[string]map[string]graphload.AttrType

	// Schema supplies edge endpoint types for heterogeneous reindexing
	Schema *graphload.Schema
}

// Parser decodes raw batch payloads into graphload Batches
type Parser struct {
	conf *Conf
}

// CreateParser returns a new batch Parser
func CreateParser(conf *Conf) *Parser {
	if conf.Delimiter == "" {
		conf.Delimiter = ","
	}
	return &Parser{conf: conf}
}

// rowset accumulates the undecoded field rows of one vertex or edge type
type rowset struct {
	rows [][]string
}

// ParseVertex decodes a vertex-only payload
func (p *Parser) ParseVertex(raw string) (*graphload.Batch, error) {
	grouped, err := p.groupLines(raw, p.conf.VAttrTypes, "vertex")
	if err != nil {
		return nil, err
	}
	batch := &graphload.Batch{Hetero: p.conf.Hetero, Vertices: make(map[string]*graphload.Table)}
	for typeName, rs := range grouped {
		table, err := p.buildVertexTable(typeName, rs.rows, nil, nil)
		if err != nil {
			return nil, err
		}
		batch.Vertices[typeName] = table
	}
	return batch, nil
}

// ParseEdge decodes an edge-only payload
func (p *Parser) ParseEdge(raw string) (*graphload.Batch, error) {
	grouped, err := p.groupLines(raw, p.conf.EAttrTypes, "edge")
	if err != nil {
		return nil, err
	}
	batch := &graphload.Batch{Hetero: p.conf.Hetero, Edges: make(map[string]*graphload.Table)}
	for typeName, rs := range grouped {
		table, err := p.buildEdgeTable(typeName, rs.rows, nil)
		if err != nil {
			return nil, err
		}
		batch.Edges[typeName] = table
	}
	return batch, nil
}

// ParseGraph decodes a paired vertex/edge payload into one graph batch.
// seeds, when non-nil, marks the vertex rows whose global id it contains
// with is_seed=true; otherwise seed marking comes from the wire when the
// selection carries an is_seed column.
func (p *Parser) ParseGraph(rawVertices string, rawEdges string, seeds map[string]bool) (*graphload.Batch, error) {
	vGrouped, err := p.groupLines(rawVertices, p.conf.VAttrTypes, "vertex")
	if err != nil {
		return nil, err
	}
	eGrouped, err := p.groupLines(rawEdges, p.conf.EAttrTypes, "edge")
	if err != nil {
		return nil, err
	}

	batch := &graphload.Batch{
		Hetero:   p.conf.Hetero,
		Vertices: make(map[string]*graphload.Table),
		Edges:    make(map[string]*graphload.Table),
	}

	if !p.conf.Reindex {
		for typeName, rs := range vGrouped {
			table, err := p.buildVertexTable(typeName, rs.rows, seeds, nil)
			if err != nil {
				return nil, err
			}
			batch.Vertices[typeName] = table
		}
		for typeName, rs := range eGrouped {
			rows := rs.rows
			if p.conf.AddSelfLoop {
				rows = p.appendSelfLoopRows(typeName, rows, vGrouped)
			}
			table, err := p.buildEdgeTable(typeName, rows, nil)
			if err != nil {
				return nil, err
			}
			batch.Edges[typeName] = table
		}
		return batch, nil
	}

	// Reindexing: assign each distinct vertex id a batch-local contiguous id
	// per type, then rewrite edge endpoints to local ids. Edges whose
	// endpoint is absent are dropped, or the vertex is synthesized.
	localIDs := make(map[string]map[string]int64, len(vGrouped))
	for typeName, rs := range vGrouped {
		ids := make(map[string]int64, len(rs.rows))
		for _, row := range rs.rows {
			if _, ok := ids[row[0]]; !ok {
				ids[row[0]] = int64(len(ids))
			}
		}
		localIDs[typeName] = ids
	}

	type localEdge struct {
		source, target int64
		attrs          []string
	}
	localEdges := make(map[string][]localEdge, len(eGrouped))
	for typeName, rs := range eGrouped {
		srcType, tgtType, directed, err := p.edgeEndpoints(typeName)
		if err != nil {
			return nil, err
		}
		for _, row := range rs.rows {
			srcIDs := p.endpointIDs(localIDs, srcType)
			tgtIDs := p.endpointIDs(localIDs, tgtType)
			src, srcOK := srcIDs[row[0]]
			tgt, tgtOK := tgtIDs[row[1]]
			if !(srcOK && tgtOK) && !directed && srcType != tgtType {
				// Undirected edges across types may arrive in either
				// orientation.
				if s, ok := srcIDs[row[1]]; ok {
					if t, ok := tgtIDs[row[0]]; ok {
						src, tgt, srcOK, tgtOK = s, t, true, true
					}
				}
			}
			if !srcOK || !tgtOK {
				if !p.conf.SynthesizeMissing {
					continue
				}
				if !srcOK {
					src = p.synthesizeVertex(vGrouped, localIDs, srcType, row[0])
				}
				if !tgtOK {
					tgt = p.synthesizeVertex(vGrouped, localIDs, tgtType, row[1])
				}
			}
			localEdges[typeName] = append(localEdges[typeName], localEdge{source: src, target: tgt, attrs: row[2:]})
		}
	}

	if p.conf.AddSelfLoop {
		for _, etype := range p.selfLoopEdgeTypes(eGrouped) {
			srcType, _, _, err := p.edgeEndpoints(etype)
			if err != nil {
				return nil, err
			}
			attrTypes, attrs, err := p.edgeLayout(etype)
			if err != nil {
				return nil, err
			}
			zeros := make([]string, len(attrs))
			for i, attr := range attrs {
				zeros[i] = zeroField(attrTypes[attr])
			}
			vids := p.endpointIDs(localIDs, srcType)
			for i := int64(0); i < int64(len(vids)); i++ {
				localEdges[etype] = append(localEdges[etype], localEdge{source: i, target: i, attrs: zeros})
			}
		}
	}

	for typeName, rs := range vGrouped {
		table, err := p.buildVertexTable(typeName, rs.rows, seeds, localIDs[typeName])
		if err != nil {
			return nil, err
		}
		batch.Vertices[typeName] = table
	}
	for typeName, edges := range localEdges {
		attrTypes, attrs, err := p.edgeLayout(typeName)
		if err != nil {
			return nil, err
		}
		table := graphload.CreateTable(typeName)
		sources := make([]int64, len(edges))
		targets := make([]int64, len(edges))
		attrRows := make([][]string, len(edges))
		for i, e := range edges {
			sources[i] = e.source
			targets[i] = e.target
			attrRows[i] = e.attrs
		}
		if err := table.AppendColumn(graphload.Column{Name: graphload.SourceColumn, Type: graphload.AttrType{Kind: graphload.IntKind}, Data: sources}); err != nil {
			return nil, err
		}
		if err := table.AppendColumn(graphload.Column{Name: graphload.TargetColumn, Type: graphload.AttrType{Kind: graphload.IntKind}, Data: targets}); err != nil {
			return nil, err
		}
		if err := p.appendAttrColumns(table, attrs, attrTypes, attrRows, 0); err != nil {
			return nil, err
		}
		batch.Edges[typeName] = table
	}
	return batch, nil
}

// groupLines splits a payload into per-type undecoded field rows, verifying
// field counts against the configured layout
func (p *Parser) groupLines(raw string, attrTypes map[string]map[string]graphload.AttrType, schemaType string) (map[string]*rowset, error) {
	grouped := make(map[string]*rowset)
	idFields := 1
	if schemaType == "edge" {
		idFields = 2
	}
	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, p.conf.Delimiter)
		typeName := ""
		if p.conf.Hetero {
			typeName = fields[0]
			fields = fields[1:]
			if _, ok := attrTypes[typeName]; !ok {
				return nil, errors.ParseError{Line: line, Reason: "unknown " + schemaType + " type " + typeName}
			}
		}
		attrs, err := p.layout(schemaType, typeName)
		if err != nil {
			return nil, err
		}
		if len(fields) != idFields+len(attrs) {
			return nil, errors.ParseError{
				Line:   line,
				Reason: "expected " + strconv.Itoa(idFields+len(attrs)) + " fields, got " + strconv.Itoa(len(fields)),
			}
		}
		rs, ok := grouped[typeName]
		if !ok {
			rs = &rowset{}
			grouped[typeName] = rs
		}
		rs.rows = append(rs.rows, fields)
	}
	return grouped, nil
}

// layout returns the selected attribute names of one type, in wire order
func (p *Parser) layout(schemaType string, typeName string) ([]string, error) {
	var in, out, extra graphload.AttributeSelection
	if schemaType == "vertex" {
		in, out, extra = p.conf.VInFeats, p.conf.VOutLabels, p.conf.VExtraFeats
	} else {
		in, out, extra = p.conf.EInFeats, p.conf.EOutLabels, p.conf.EExtraFeats
	}
	attrs := make([]string, 0, len(in.Attrs(typeName))+len(out.Attrs(typeName))+len(extra.Attrs(typeName)))
	attrs = append(attrs, in.Attrs(typeName)...)
	attrs = append(attrs, out.Attrs(typeName)...)
	attrs = append(attrs, extra.Attrs(typeName)...)
	return attrs, nil
}

func (p *Parser) vertexLayout(typeName string) (map[string]graphload.AttrType, []string, error) {
	attrs, err := p.layout("vertex", typeName)
	if err != nil {
		return nil, nil, err
	}
	types, ok := p.conf.VAttrTypes[typeName]
	if !ok {
		return nil, nil, errors.ParseError{Reason: "no attribute types declared for vertex type " + typeName}
	}
	return types, attrs, nil
}

func (p *Parser) edgeLayout(typeName string) (map[string]graphload.AttrType, []string, error) {
	attrs, err := p.layout("edge", typeName)
	if err != nil {
		return nil, nil, err
	}
	types, ok := p.conf.EAttrTypes[typeName]
	if !ok {
		return nil, nil, errors.ParseError{Reason: "no attribute types declared for edge type " + typeName}
	}
	return types, attrs, nil
}

// buildVertexTable decodes vertex field rows into a typed table. localIDs,
// when non-nil, appends the batch-local id column.
func (p *Parser) buildVertexTable(typeName string, rows [][]string, seeds map[string]bool, localIDs map[string]int64) (*graphload.Table, error) {
	attrTypes, attrs, err := p.vertexLayout(typeName)
	if err != nil {
		return nil, err
	}
	table := graphload.CreateTable(typeName)
	vids := make([]string, len(rows))
	for i, row := range rows {
		vids[i] = row[0]
	}
	if err := table.AppendColumn(graphload.Column{Name: graphload.VertexIDColumn, Type: graphload.AttrType{Kind: graphload.StringKind}, Data: vids}); err != nil {
		return nil, err
	}
	if err := p.appendAttrColumns(table, attrs, attrTypes, rows, 1); err != nil {
		return nil, err
	}
	if seeds != nil && !table.HasColumn(graphload.SeedColumn) {
		marks := make([]bool, len(rows))
		for i, vid := range vids {
			marks[i] = seeds[vid]
		}
		if err := table.AppendColumn(graphload.Column{Name: graphload.SeedColumn, Type: graphload.AttrType{Kind: graphload.BoolKind}, Data: marks}); err != nil {
			return nil, err
		}
	}
	if localIDs != nil {
		locals := make([]int64, len(rows))
		for i, vid := range vids {
			locals[i] = localIDs[vid]
		}
		if err := table.AppendColumn(graphload.Column{Name: graphload.LocalIDColumn, Type: graphload.AttrType{Kind: graphload.IntKind}, Data: locals}); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// buildEdgeTable decodes edge field rows into a typed table with string
// endpoint columns (no reindexing)
func (p *Parser) buildEdgeTable(typeName string, rows [][]string, seeds map[string]bool) (*graphload.Table, error) {
	attrTypes, attrs, err := p.edgeLayout(typeName)
	if err != nil {
		return nil, err
	}
	table := graphload.CreateTable(typeName)
	sources := make([]string, len(rows))
	targets := make([]string, len(rows))
	for i, row := range rows {
		sources[i] = row[0]
		targets[i] = row[1]
	}
	if err := table.AppendColumn(graphload.Column{Name: graphload.SourceColumn, Type: graphload.AttrType{Kind: graphload.StringKind}, Data: sources}); err != nil {
		return nil, err
	}
	if err := table.AppendColumn(graphload.Column{Name: graphload.TargetColumn, Type: graphload.AttrType{Kind: graphload.StringKind}, Data: targets}); err != nil {
		return nil, err
	}
	if err := p.appendAttrColumns(table, attrs, attrTypes, rows, 2); err != nil {
		return nil, err
	}
	return table, nil
}

// appendAttrColumns decodes the selected attributes of every row, column by
// column, starting at field offset
func (p *Parser) appendAttrColumns(table *graphload.Table, attrs []string, attrTypes map[string]graphload.AttrType, rows [][]string, offset int) error {
	for i, attr := range attrs {
		at, ok := attrTypes[attr]
		if !ok {
			return errors.ParseError{Reason: "attribute " + attr + " has no declared type"}
		}
		raw := make([]string, len(rows))
		for j, row := range rows {
			raw[j] = row[offset+i]
		}
		data, err := decodeColumn(attr, at, raw)
		if err != nil {
			return err
		}
		if err := table.AppendColumn(graphload.Column{Name: attr, Type: at, Data: data}); err != nil {
			return err
		}
	}
	return nil
}

// edgeEndpoints resolves the endpoint vertex types and directedness of an
// edge type. Homogeneous parsers treat every endpoint as the implicit type.
func (p *Parser) edgeEndpoints(typeName string) (string, string, bool, error) {
	if !p.conf.Hetero {
		return "", "", true, nil
	}
	if p.conf.Schema == nil {
		return "", "", false, errors.ParseError{Reason: "no schema available for edge type " + typeName}
	}
	et, ok := p.conf.Schema.Edges[typeName]
	if !ok {
		return "", "", false, errors.ParseError{Reason: "unknown edge type " + typeName}
	}
	return et.FromType, et.ToType, et.Directed, nil
}

func (p *Parser) endpointIDs(localIDs map[string]map[string]int64, typeName string) map[string]int64 {
	ids, ok := localIDs[typeName]
	if !ok {
		ids = make(map[string]int64)
		localIDs[typeName] = ids
	}
	return ids
}

// synthesizeVertex appends a zero-valued vertex row for an endpoint missing
// from the vertex payload and returns its local id
func (p *Parser) synthesizeVertex(vGrouped map[string]*rowset, localIDs map[string]map[string]int64, typeName string, vid string) int64 {
	ids := p.endpointIDs(localIDs, typeName)
	if id, ok := ids[vid]; ok {
		return id
	}
	attrTypes, attrs, err := p.vertexLayout(typeName)
	if err != nil {
		// Unknown layouts cannot occur here: groupLines validated the type.
		return -1
	}
	row := make([]string, 1+len(attrs))
	row[0] = vid
	for i, attr := range attrs {
		row[1+i] = zeroField(attrTypes[attr])
	}
	rs, ok := vGrouped[typeName]
	if !ok {
		rs = &rowset{}
		vGrouped[typeName] = rs
	}
	rs.rows = append(rs.rows, row)
	id := int64(len(ids))
	ids[vid] = id
	return id
}

// selfLoopEdgeTypes lists the edge types eligible for self loops: the single
// implicit type for homogeneous batches, or every edge type whose endpoints
// share a vertex type
func (p *Parser) selfLoopEdgeTypes(eGrouped map[string]*rowset) []string {
	if !p.conf.Hetero {
		return []string{""}
	}
	var etypes []string
	for typeName := range eGrouped {
		srcType, tgtType, _, err := p.edgeEndpoints(typeName)
		if err == nil && srcType == tgtType {
			etypes = append(etypes, typeName)
		}
	}
	return etypes
}

// appendSelfLoopRows adds one (vid, vid) edge row per vertex, for
// non-reindexed batches
func (p *Parser) appendSelfLoopRows(typeName string, rows [][]string, vGrouped map[string]*rowset) [][]string {
	attrTypes, attrs, err := p.edgeLayout(typeName)
	if err != nil {
		return rows
	}
	srcType, tgtType, _, err := p.edgeEndpoints(typeName)
	if err != nil || srcType != tgtType {
		return rows
	}
	vrs, ok := vGrouped[srcType]
	if !ok {
		return rows
	}
	zeros := make([]string, len(attrs))
	for i, attr := range attrs {
		zeros[i] = zeroField(attrTypes[attr])
	}
	for _, vrow := range vrs.rows {
		row := make([]string, 0, 2+len(zeros))
		row = append(row, vrow[0], vrow[0])
		row = append(row, zeros...)
		rows = append(rows, row)
	}
	return rows
}

// decodeColumn decodes the raw string values of one column according to its
// declared attribute type
func decodeColumn(name string, at graphload.AttrType, raw []string) (interface{}, error) {
	switch at.Kind {
	case graphload.IntKind, graphload.UintKind, graphload.DatetimeKind:
		data := make([]int64, len(raw))
		for i, s := range raw {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, errors.ParseError{Line: s, Reason: "cannot decode integer attribute " + name}
			}
			data[i] = v
		}
		return data, nil
	case graphload.FloatKind, graphload.DoubleKind:
		data := make([]float64, len(raw))
		for i, s := range raw {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, errors.ParseError{Line: s, Reason: "cannot decode float attribute " + name}
			}
			data[i] = v
		}
		return data, nil
	case graphload.BoolKind:
		data := make([]bool, len(raw))
		for i, s := range raw {
			v, err := strconv.ParseBool(s)
			if err != nil {
				return nil, errors.ParseError{Line: s, Reason: "cannot decode bool attribute " + name}
			}
			data[i] = v
		}
		return data, nil
	case graphload.StringKind:
		data := make([]string, len(raw))
		copy(data, raw)
		return data, nil
	case graphload.ListKind:
		switch at.Elem {
		case graphload.IntKind, graphload.UintKind, graphload.FloatKind, graphload.DoubleKind:
			data := make([][]float64, len(raw))
			for i, s := range raw {
				elems := strings.Fields(s)
				vals := make([]float64, len(elems))
				for j, e := range elems {
					v, err := strconv.ParseFloat(e, 64)
					if err != nil {
						return nil, errors.ParseError{Line: s, Reason: "cannot decode list attribute " + name}
					}
					vals[j] = v
				}
				data[i] = vals
			}
			return data, nil
		case graphload.StringKind:
			data := make([][]string, len(raw))
			for i, s := range raw {
				data[i] = strings.Fields(s)
			}
			return data, nil
		}
	}
	return nil, errors.ParseError{Reason: "unsupported attribute type for " + name}
}

// zeroField renders the zero value of an attribute type in wire format
func zeroField(at graphload.AttrType) string {
	switch at.Kind {
	case graphload.IntKind, graphload.UintKind, graphload.BoolKind, graphload.DatetimeKind:
		return "0"
	case graphload.FloatKind, graphload.DoubleKind:
		return "0"
	}
	return ""
}
