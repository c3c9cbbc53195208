package errors

import (
	"fmt"
)

// SchemaValidationError occurs when a selected attribute or type is not declared in the Schema
type SchemaValidationError struct {
	SchemaType string // "vertex" or "edge"
	TypeName   string
	Attribute  string
}

// Error returns a textual representation of this SchemaValidationError
func (e SchemaValidationError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("%s type %s is not available in the database", e.SchemaType, e.TypeName)
	}
	return fmt.Sprintf("Attribute %s is not available for %s type %s", e.Attribute, e.SchemaType, e.TypeName)
}

// ConfigurationError occurs when loader parameters are missing or contradict each other
type ConfigurationError struct{ Reason string }

// Error returns a textual representation of this ConfigurationError
func (e ConfigurationError) Error() string {
	return fmt.Sprintf("Invalid loader configuration: %s", e.Reason)
}

// TemplateError occurs when a query signature cannot be rendered into query text
type TemplateError struct{ Reason string }

// Error returns a textual representation of this TemplateError
func (e TemplateError) Error() string {
	return fmt.Sprintf("Cannot render query template: %s", e.Reason)
}

// TransportError occurs when query dispatch, topic lifecycle or status polling fails
type TransportError struct {
	Op  string
	Err error
}

// Error returns a textual representation of this TransportError
func (e TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("Transport failure during %s", e.Op)
	}
	return fmt.Sprintf("Transport failure during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause of this TransportError
func (e TransportError) Unwrap() error {
	return e.Err
}

// ParseError occurs when a raw payload cannot be decoded. It is fatal to the
// batch being parsed and stops the run.
type ParseError struct {
	Line   string
	Reason string
}

// Error returns a textual representation of this ParseError
func (e ParseError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("Cannot parse batch: %s", e.Reason)
	}
	return fmt.Sprintf("Cannot parse line %q: %s", e.Line, e.Reason)
}

// MissingColumnError occurs when a Table is asked for a column it does not have
type MissingColumnError struct{ Name string }

// Error returns a textual representation of this MissingColumnError
func (e MissingColumnError) Error() string {
	return fmt.Sprintf("Column %s does not exist in table", e.Name)
}

// ColumnTypeError occurs when a Table column is accessed as the wrong type
type ColumnTypeError struct {
	Name     string
	Expected string
}

// Error returns a textual representation of this ColumnTypeError
func (e ColumnTypeError) Error() string {
	return fmt.Sprintf("Column %s does not hold %s data", e.Name, e.Expected)
}

// NoMoreBatchesError occurs when Next is called on a drained loader run
type NoMoreBatchesError struct{}

// Error returns a textual representation of this NoMoreBatchesError
func (e NoMoreBatchesError) Error() string {
	return "No more batches"
}
