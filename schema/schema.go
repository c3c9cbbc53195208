// Package schema fetches and validates read-only snapshots of a graph's
// vertex and edge type declarations.
package schema

import (
	"context"

	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
)

// Options configures how a schema snapshot is built
type Options struct {
	// ReverseEdge registers the reverse-edge name of each edge type that
	// declares one, with swapped endpoints
	ReverseEdge bool
	// Delimiter is the field delimiter the loader will use. MAP attributes
	// cannot be transferred with the comma delimiter.
	Delimiter string
}

// Cache is a read-only snapshot of the graph's type declarations, fetched
// once at construction and refreshed only on explicit request. It is safe to
// share across goroutines without locking.
type Cache struct {
	opts   Options
	schema *graphload.Schema
}

// Fetch builds a Cache by fetching the schema from the database
func Fetch(ctx context.Context, db graphload.GraphDB, opts Options) (*Cache, error) {
	if opts.Delimiter == "" {
		opts.Delimiter = ","
	}
	c := &Cache{opts: opts}
	if err := c.Refresh(ctx, db); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh refetches the schema, replacing the snapshot. Existing references
// to the old snapshot remain valid.
func (c *Cache) Refresh(ctx context.Context, db graphload.GraphDB) error {
	fetched, err := db.GetSchema(ctx)
	if err != nil {
		return err
	}
	s := &graphload.Schema{
		Vertices: make(map[string]graphload.VertexType, len(fetched.Vertices)),
		Edges:    make(map[string]graphload.EdgeType, len(fetched.Edges)),
	}
	for name, vt := range fetched.Vertices {
		if c.opts.Delimiter == "," {
			for attr, at := range vt.Attributes {
				if at.Kind == graphload.MapKind {
					return errors.ConfigurationError{
						Reason: "MAP attribute " + attr + " of vertex type " + name + " is not supported with the comma delimiter",
					}
				}
			}
		}
		s.Vertices[name] = vt
	}
	for name, et := range fetched.Edges {
		if c.opts.Delimiter == "," {
			for attr, at := range et.Attributes {
				if at.Kind == graphload.MapKind {
					return errors.ConfigurationError{
						Reason: "MAP attribute " + attr + " of edge type " + name + " is not supported with the comma delimiter",
					}
				}
			}
		}
		s.Edges[name] = et
		if c.opts.ReverseEdge && et.ReverseName != "" {
			s.Edges[et.ReverseName] = graphload.EdgeType{
				Name:       et.ReverseName,
				FromType:   et.ToType,
				ToType:     et.FromType,
				Directed:   et.Directed,
				Attributes: et.Attributes,
			}
		}
	}
	c.schema = s
	return nil
}

// Schema returns the current snapshot
func (c *Cache) Schema() *graphload.Schema {
	return c.schema
}

// VertexTypes returns the names of all vertex types, sorted
func (c *Cache) VertexTypes() []string {
	return c.schema.VertexTypeNames()
}

// EdgeTypes returns the names of all edge types, sorted
func (c *Cache) EdgeTypes() []string {
	return c.schema.EdgeTypeNames()
}

// ValidateVertexSelection checks every attribute the selection names against
// the vertex type declarations
func (c *Cache) ValidateVertexSelection(sel graphload.AttributeSelection) error {
	return c.validateSelection(sel, "vertex")
}

// ValidateEdgeSelection checks every attribute the selection names against
// the edge type declarations
func (c *Cache) ValidateEdgeSelection(sel graphload.AttributeSelection) error {
	return c.validateSelection(sel, "edge")
}

func (c *Cache) validateSelection(sel graphload.AttributeSelection, schemaType string) error {
	if sel.Hetero() {
		for _, typeName := range sel.Types() {
			attrs, err := c.attrTypes(schemaType, typeName)
			if err != nil {
				return err
			}
			for _, attr := range sel.Attrs(typeName) {
				if _, ok := attrs[attr]; !ok {
					return errors.SchemaValidationError{SchemaType: schemaType, TypeName: typeName, Attribute: attr}
				}
			}
		}
		return nil
	}
	// A flat selection must be available on every type of that side.
	var typeNames []string
	if schemaType == "vertex" {
		typeNames = c.schema.VertexTypeNames()
	} else {
		typeNames = c.schema.EdgeTypeNames()
	}
	for _, typeName := range typeNames {
		attrs, err := c.attrTypes(schemaType, typeName)
		if err != nil {
			return err
		}
		for _, attr := range sel.Attrs(typeName) {
			if _, ok := attrs[attr]; !ok {
				return errors.SchemaValidationError{SchemaType: schemaType, TypeName: typeName, Attribute: attr}
			}
		}
	}
	return nil
}

// VertexAttrTypes returns the declared attribute types of a vertex type
func (c *Cache) VertexAttrTypes(typeName string) (map[string]graphload.AttrType, error) {
	return c.attrTypes("vertex", typeName)
}

// EdgeAttrTypes returns the declared attribute types of an edge type
func (c *Cache) EdgeAttrTypes(typeName string) (map[string]graphload.AttrType, error) {
	return c.attrTypes("edge", typeName)
}

func (c *Cache) attrTypes(schemaType string, typeName string) (map[string]graphload.AttrType, error) {
	if schemaType == "vertex" {
		vt, ok := c.schema.Vertices[typeName]
		if !ok {
			return nil, errors.SchemaValidationError{SchemaType: schemaType, TypeName: typeName}
		}
		return vt.Attributes, nil
	}
	et, ok := c.schema.Edges[typeName]
	if !ok {
		return nil, errors.SchemaValidationError{SchemaType: schemaType, TypeName: typeName}
	}
	return et.Attributes, nil
}
