package graphload

import (
	"github.com/go-graphload/graphload/errors"
)

// Reserved column names of a Table. Selected attributes appear under their
// declared names alongside these.
const (
	// VertexIDColumn holds the global vertex identifier
	VertexIDColumn = "vid"
	// SourceColumn holds the source endpoint of an edge
	SourceColumn = "source"
	// TargetColumn holds the target endpoint of an edge
	TargetColumn = "target"
	// SeedColumn marks rows chosen as sampling origins
	SeedColumn = "is_seed"
	// LocalIDColumn holds the batch-local contiguous id assigned by reindexing
	LocalIDColumn = "local_id"
)

// Column holds one typed column of a Table. Data is one of []int64,
// []float64, []bool, []string, [][]float64 or [][]string, depending on the
// declared attribute type.
type Column struct {
	Name string
	Type AttrType
	Data interface{}
}

// Table is a columnar batch of vertices or edges of a single type.
// Tables are immutable once emitted by the loader.
type Table struct {
	typeName string
	numRows  int
	cols     []Column
	index    map[string]int
}

// CreateTable builds an empty Table for the given vertex or edge type name
func CreateTable(typeName string) *Table {
	return &Table{typeName: typeName, index: make(map[string]int)}
}

// TypeName returns the vertex or edge type this Table holds rows for.
// Homogeneous loaders produce tables with an empty type name.
func (t *Table) TypeName() string {
	return t.typeName
}

// NumRows returns the number of rows in this Table
func (t *Table) NumRows() int {
	return t.numRows
}

// NumColumns returns the number of columns in this Table
func (t *Table) NumColumns() int {
	return len(t.cols)
}

// ColumnNames returns the column names of this Table, in wire order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, col := range t.cols {
		names[i] = col.Name
	}
	return names
}

// HasColumn returns true iff this Table has a column with the given name
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// AppendColumn adds a column to this Table. All columns of a Table must have
// the same length, and column names must be unique.
func (t *Table) AppendColumn(col Column) error {
	if _, ok := t.index[col.Name]; ok {
		return errors.ConfigurationError{Reason: "duplicate column " + col.Name}
	}
	n := columnLen(col.Data)
	if len(t.cols) > 0 && n != t.numRows {
		return errors.ConfigurationError{Reason: "column " + col.Name + " length does not match table"}
	}
	t.numRows = n
	t.index[col.Name] = len(t.cols)
	t.cols = append(t.cols, col)
	return nil
}

// Column returns the column with the given name
func (t *Table) Column(name string) (Column, error) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, errors.MissingColumnError{Name: name}
	}
	return t.cols[i], nil
}

// Ints returns the data of an integer-typed column
func (t *Table) Ints(name string) ([]int64, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	data, ok := col.Data.([]int64)
	if !ok {
		return nil, errors.ColumnTypeError{Name: name, Expected: "[]int64"}
	}
	return data, nil
}

// Floats returns the data of a float-typed column
func (t *Table) Floats(name string) ([]float64, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	data, ok := col.Data.([]float64)
	if !ok {
		return nil, errors.ColumnTypeError{Name: name, Expected: "[]float64"}
	}
	return data, nil
}

// Bools returns the data of a bool-typed column
func (t *Table) Bools(name string) ([]bool, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	data, ok := col.Data.([]bool)
	if !ok {
		return nil, errors.ColumnTypeError{Name: name, Expected: "[]bool"}
	}
	return data, nil
}

// Strings returns the data of a string-typed column
func (t *Table) Strings(name string) ([]string, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	data, ok := col.Data.([]string)
	if !ok {
		return nil, errors.ColumnTypeError{Name: name, Expected: "[]string"}
	}
	return data, nil
}

// FloatLists returns the data of a numeric-list-typed column
func (t *Table) FloatLists(name string) ([][]float64, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	data, ok := col.Data.([][]float64)
	if !ok {
		return nil, errors.ColumnTypeError{Name: name, Expected: "[][]float64"}
	}
	return data, nil
}

// StringLists returns the data of a string-list-typed column
func (t *Table) StringLists(name string) ([][]string, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	data, ok := col.Data.([][]string)
	if !ok {
		return nil, errors.ColumnTypeError{Name: name, Expected: "[][]string"}
	}
	return data, nil
}

func columnLen(data interface{}) int {
	switch d := data.(type) {
	case []int64:
		return len(d)
	case []float64:
		return len(d)
	case []bool:
		return len(d)
	case []string:
		return len(d)
	case [][]float64:
		return len(d)
	case [][]string:
		return len(d)
	}
	return 0
}
