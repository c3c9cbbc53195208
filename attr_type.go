package graphload

import "strings"

// AttrKind enumerates the scalar kinds a declared attribute can decode to
type AttrKind int

const (
	// UnknownKind indicates an attribute kind graphload does not recognize
	UnknownKind AttrKind = iota
	// IntKind indicates a signed integer attribute
	IntKind
	// UintKind indicates an unsigned integer attribute
	UintKind
	// FloatKind indicates a single-precision floating point attribute
	FloatKind
	// DoubleKind indicates a double-precision floating point attribute
	DoubleKind
	// BoolKind indicates a boolean attribute, encoded as 0/1 on the wire
	BoolKind
	// StringKind indicates an opaque string attribute
	StringKind
	// DatetimeKind indicates a datetime attribute, transferred as epoch seconds
	DatetimeKind
	// ListKind indicates a list attribute whose elements are space-separated on the wire
	ListKind
	// MapKind indicates a map attribute, which graphload recognizes but cannot decode
	MapKind
	// SetKind indicates a set attribute, which graphload recognizes but cannot decode
	SetKind
)

// AttrType is the declared type of a vertex or edge attribute
type AttrType struct {
	Kind AttrKind
	Elem AttrKind // element kind, for ListKind only
}

// IsNumeric returns true iff values of this type decode to numbers
func (t AttrType) IsNumeric() bool {
	switch t.Kind {
	case IntKind, UintKind, FloatKind, DoubleKind, DatetimeKind:
		return true
	}
	return false
}

// ParseAttrType translates a declared type name from the remote schema
// (e.g. "INT", "BOOL", "LIST:DOUBLE") into an AttrType
func ParseAttrType(decl string) AttrType {
	name := strings.ToUpper(strings.TrimSpace(decl))
	if rest, ok := strings.CutPrefix(name, "LIST:"); ok {
		elem := ParseAttrType(rest)
		return AttrType{Kind: ListKind, Elem: elem.Kind}
	}
	switch name {
	case "INT", "INT64":
		return AttrType{Kind: IntKind}
	case "UINT", "UINT64":
		return AttrType{Kind: UintKind}
	case "FLOAT":
		return AttrType{Kind: FloatKind}
	case "DOUBLE":
		return AttrType{Kind: DoubleKind}
	case "BOOL":
		return AttrType{Kind: BoolKind}
	case "STRING":
		return AttrType{Kind: StringKind}
	case "DATETIME":
		return AttrType{Kind: DatetimeKind}
	case "MAP":
		return AttrType{Kind: MapKind}
	case "SET":
		return AttrType{Kind: SetKind}
	}
	return AttrType{Kind: UnknownKind}
}
