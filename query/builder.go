// Package query generates and installs the parameterized server-side queries
// loaders dispatch. Query names are derived deterministically from the
// feature signature, so identical signatures reuse an installed query.
package query

import (
	"context"
	"fmt"
	"strings"

	xxhash "github.com/cespare/xxhash/v2"
	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
)

// Kind enumerates the loader query families
type Kind int

const (
	// VertexKind queries emit vertex batches only
	VertexKind Kind = iota
	// EdgeKind queries emit edge batches only
	EdgeKind
	// GraphKind queries emit paired vertex and edge batches
	GraphKind
	// NeighborKind queries emit paired batches sampled around seed vertices
	NeighborKind
	// EdgeNeighborKind queries emit paired batches sampled around seed edges
	EdgeNeighborKind
)

// String returns the lowercase name of this Kind
func (k Kind) String() string {
	switch k {
	case VertexKind:
		return "vertex"
	case EdgeKind:
		return "edge"
	case GraphKind:
		return "graph"
	case NeighborKind:
		return "neighbor"
	case EdgeNeighborKind:
		return "edge_neighbor"
	}
	return "unknown"
}

// Conf describes the feature signature a query is built for
type Conf struct {
	Kind        Kind
	Hetero      bool
	Distributed bool
	// VertexTypes and EdgeTypes are the types the query prints, sorted
	VertexTypes       []string
	EdgeTypes         []string
	VIn, VOut, VExtra graphload.AttributeSelection
	EIn, EOut, EExtra graphload.AttributeSelection
	Schema            *graphload.Schema
}

// Builder renders and installs the query for one feature signature
type Builder struct {
	conf *Conf
}

// NewBuilder returns a Builder for the given signature
func NewBuilder(conf *Conf) *Builder {
	return &Builder{conf: conf}
}

// Name derives the deterministic query name for this signature
func (b *Builder) Name() string {
	var sig strings.Builder
	sig.WriteString(b.conf.Kind.String())
	if b.conf.Hetero {
		sig.WriteString(";hetero")
	}
	if b.conf.Distributed {
		sig.WriteString(";dist")
	}
	sig.WriteString(";v=" + strings.Join(b.conf.VertexTypes, " "))
	sig.WriteString(";e=" + strings.Join(b.conf.EdgeTypes, " "))
	for _, sel := range []graphload.AttributeSelection{b.conf.VIn, b.conf.VOut, b.conf.VExtra, b.conf.EIn, b.conf.EOut, b.conf.EExtra} {
		sig.WriteString(";")
		if sel.Hetero() {
			for _, t := range sel.Types() {
				sig.WriteString(t + ":" + strings.Join(sel.Attrs(t), " ") + "|")
			}
		} else {
			sig.WriteString(strings.Join(sel.Attrs(""), " "))
		}
	}
	return fmt.Sprintf("gl_%s_%016x", b.conf.Kind, xxhash.Sum64String(sig.String()))
}

// Render produces the query text for this signature
func (b *Builder) Render() (string, error) {
	var vertexPrint, edgePrint string
	var err error
	needsVertices := b.conf.Kind != EdgeKind
	needsEdges := b.conf.Kind != VertexKind
	if needsVertices {
		vertexPrint, err = b.printBlock("vertex", "s", "@@v_batch", b.conf.VertexTypes, b.conf.VIn, b.conf.VOut, b.conf.VExtra)
		if err != nil {
			return "", err
		}
	}
	if needsEdges {
		edgePrint, err = b.printBlock("edge", "e", "@@e_batch", b.conf.EdgeTypes, b.conf.EIn, b.conf.EOut, b.conf.EExtra)
		if err != nil {
			return "", err
		}
	}

	text := queryTemplate(b.conf.Kind)
	text = strings.ReplaceAll(text, "{QUERYNAME}", b.Name())
	text = strings.ReplaceAll(text, "{VERTEXATTRS}", vertexPrint)
	text = strings.ReplaceAll(text, "{EDGEATTRS}", edgePrint)
	if b.conf.Distributed {
		text = strings.ReplaceAll(text, "CREATE QUERY", "CREATE DISTRIBUTED QUERY")
	}
	return text, nil
}

// Install installs the query if no query is installed under its name, and
// returns the query name. Re-running with the same signature is a no-op.
func (b *Builder) Install(ctx context.Context, db graphload.GraphDB) (string, error) {
	name := b.Name()
	installed, err := db.IsQueryInstalled(ctx, name)
	if err != nil {
		return "", errors.TransportError{Op: "query lookup", Err: err}
	}
	if installed {
		return name, nil
	}
	return b.install(ctx, db, name)
}

// Reinstall renders and installs the query unconditionally
func (b *Builder) Reinstall(ctx context.Context, db graphload.GraphDB) (string, error) {
	return b.install(ctx, db, b.Name())
}

func (b *Builder) install(ctx context.Context, db graphload.GraphDB, name string) (string, error) {
	text, err := b.Render()
	if err != nil {
		return "", err
	}
	if err := db.InstallQuery(ctx, name, text); err != nil {
		return "", errors.TransportError{Op: "query install", Err: err}
	}
	return name, nil
}

// printBlock renders the accumulator statement collecting one side of the
// batch: a single append for homogeneous output, or one conditional branch
// per type for heterogeneous output
func (b *Builder) printBlock(schemaType, alias, accum string, typeNames []string, in, out, extra graphload.AttributeSelection) (string, error) {
	idExpr := "stringify(getvid(" + alias + "))"
	if schemaType == "edge" {
		idExpr = "stringify(getvid(e.src)) + delimiter + stringify(getvid(e.tgt))"
	}
	if !b.conf.Hetero {
		if len(typeNames) == 0 {
			return "", errors.TemplateError{Reason: "no " + schemaType + " types in signature"}
		}
		attrs := selectedAttrs(typeNames[0], in, out, extra)
		expr, err := b.attrExpr(schemaType, alias, typeNames[0], attrs)
		if err != nil {
			return "", err
		}
		if expr != "" {
			expr = " + delimiter + " + expr
		}
		return fmt.Sprintf("%s += (%s%s + \"\\n\")", accum, idExpr, expr), nil
	}
	var block strings.Builder
	for i, typeName := range typeNames {
		attrs := selectedAttrs(typeName, in, out, extra)
		expr, err := b.attrExpr(schemaType, alias, typeName, attrs)
		if err != nil {
			return "", err
		}
		if expr != "" {
			expr = " + delimiter + " + expr
		}
		branch := "IF"
		if i > 0 {
			branch = "ELSE IF"
		}
		fmt.Fprintf(&block, "%s %s.type == \"%s\" THEN\n  %s += (%s.type + delimiter + %s%s + \"\\n\")\n",
			branch, alias, typeName, accum, alias, idExpr, expr)
	}
	block.WriteString("END")
	return block.String(), nil
}

// attrExpr renders the delimiter-joined stringification of the selected
// attributes of one type
func (b *Builder) attrExpr(schemaType, alias, typeName string, attrs []string) (string, error) {
	attrTypes, err := b.declaredTypes(schemaType, typeName)
	if err != nil {
		return "", err
	}
	exprs := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		at, ok := attrTypes[attr]
		if !ok && attr == graphload.SeedColumn {
			// The seed marker is synthesized by the query, not declared.
			exprs = append(exprs, fmt.Sprintf("stringify(%s.@%s)", alias, graphload.SeedColumn))
			continue
		}
		if !ok {
			return "", errors.TemplateError{Reason: "attribute " + attr + " is not declared for " + schemaType + " type " + typeName}
		}
		switch at.Kind {
		case graphload.MapKind:
			exprs = append(exprs, fmt.Sprintf("\"[\" + stringify(%s.%s) + \"]\"", alias, attr))
		case graphload.DatetimeKind:
			exprs = append(exprs, fmt.Sprintf("stringify(datetime_to_epoch(%s.%s))", alias, attr))
		default:
			exprs = append(exprs, fmt.Sprintf("stringify(%s.%s)", alias, attr))
		}
	}
	return strings.Join(exprs, " + delimiter + "), nil
}

func (b *Builder) declaredTypes(schemaType, typeName string) (map[string]graphload.AttrType, error) {
	if schemaType == "vertex" {
		vt, ok := b.conf.Schema.Vertices[typeName]
		if !ok {
			return nil, errors.TemplateError{Reason: "unknown vertex type " + typeName}
		}
		return vt.Attributes, nil
	}
	et, ok := b.conf.Schema.Edges[typeName]
	if !ok {
		return nil, errors.TemplateError{Reason: "unknown edge type " + typeName}
	}
	return et.Attributes, nil
}

func selectedAttrs(typeName string, in, out, extra graphload.AttributeSelection) []string {
	attrs := append([]string{}, in.Attrs(typeName)...)
	attrs = append(attrs, out.Attrs(typeName)...)
	attrs = append(attrs, extra.Attrs(typeName)...)
	return attrs
}
