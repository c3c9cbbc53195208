package graphload

import "sort"

// VertexType describes the declared attributes of one vertex type
type VertexType struct {
	Name       string
	Attributes map[string]AttrType
}

// EdgeType describes the declared attributes and endpoints of one edge type
type EdgeType struct {
	Name        string
	FromType    string
	ToType      string
	Directed    bool
	ReverseName string
	Attributes  map[string]AttrType
}

// Schema is a snapshot of the vertex and edge type declarations of a graph.
// It is immutable after construction and safe to share without locking.
type Schema struct {
	Vertices map[string]VertexType
	Edges    map[string]EdgeType
}

// VertexTypeNames returns the names of all vertex types, sorted
func (s *Schema) VertexTypeNames() []string {
	names := make([]string, 0, len(s.Vertices))
	for name := range s.Vertices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EdgeTypeNames returns the names of all edge types, sorted
func (s *Schema) EdgeTypeNames() []string {
	names := make([]string, 0, len(s.Edges))
	for name := range s.Edges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasVertexType returns true iff the schema declares the given vertex type
func (s *Schema) HasVertexType(name string) bool {
	_, ok := s.Vertices[name]
	return ok
}

// HasEdgeType returns true iff the schema declares the given edge type
func (s *Schema) HasEdgeType(name string) bool {
	_, ok := s.Edges[name]
	return ok
}
