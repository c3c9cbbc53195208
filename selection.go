package graphload

import "sort"

// AttributeSelection names the attributes a loader reads from the graph,
// either as one flat list shared by the single implicit type (homogeneous
// output) or as a per-type map (heterogeneous output). The zero value selects
// nothing and is valid for either shape.
type AttributeSelection struct {
	flat   []string
	byType map[string][]string
	hetero bool
}

// Flat builds a homogeneous AttributeSelection from a list of attribute names
func Flat(attrs ...string) AttributeSelection {
	return AttributeSelection{flat: attrs}
}

// ByType builds a heterogeneous AttributeSelection from a map of type name to
// attribute names
func ByType(attrs map[string][]string) AttributeSelection {
	return AttributeSelection{byType: attrs, hetero: true}
}

// Hetero returns true iff this selection maps attributes per type
func (s AttributeSelection) Hetero() bool {
	return s.hetero
}

// Empty returns true iff this selection names no attributes
func (s AttributeSelection) Empty() bool {
	if s.hetero {
		for _, attrs := range s.byType {
			if len(attrs) > 0 {
				return false
			}
		}
		return true
	}
	return len(s.flat) == 0
}

// Attrs returns the attribute names selected for the given type, in
// declaration order. Homogeneous selections return the flat list for any type.
func (s AttributeSelection) Attrs(typeName string) []string {
	if s.hetero {
		return s.byType[typeName]
	}
	return s.flat
}

// Types returns the type names a heterogeneous selection covers, sorted.
// Homogeneous selections cover no explicit types.
func (s AttributeSelection) Types() []string {
	if !s.hetero {
		return nil
	}
	names := make([]string, 0, len(s.byType))
	for name := range s.byType {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
