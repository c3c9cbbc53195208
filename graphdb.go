package graphload

import (
	"context"
	"time"
)

// QueryRow is one row of an installed query's response, flattened to strings
// keyed by the query's print labels
type QueryRow map[string]string

// QueryState enumerates the states of an asynchronously dispatched query
type QueryState int

const (
	// QueryRunning indicates the query is still executing
	QueryRunning QueryState = iota
	// QuerySuccess indicates the query completed
	QuerySuccess
	// QueryFailed indicates the query terminated with an error
	QueryFailed
	// QueryAborted indicates the query was aborted by the client
	QueryAborted
)

// QueryStatus reports the state of an asynchronously dispatched query
type QueryStatus struct {
	RequestID string
	State     QueryState
	// Message carries the server's error detail when State is QueryFailed
	Message string
	// ProducerError carries the error reported by the server-side
	// message-queue producer, if any, once State is QuerySuccess
	ProducerError string
}

// GraphDB is the remote graph database collaborator. Implementations execute
// installed queries, introspect the schema and count vertices/edges. All
// operations honour context cancellation.
type GraphDB interface {
	// GetSchema fetches a snapshot of the graph's type declarations
	GetSchema(ctx context.Context) (*Schema, error)
	// InstallQuery installs query text under the given name, replacing any
	// query already installed under that name
	InstallQuery(ctx context.Context, name string, text string) error
	// IsQueryInstalled reports whether a query is installed under the given name
	IsQueryInstalled(ctx context.Context, name string) (bool, error)
	// RunQuery executes an installed query synchronously and returns its rows
	RunQuery(ctx context.Context, name string, params map[string]interface{}, timeout time.Duration) ([]QueryRow, error)
	// RunQueryAsync executes an installed query in detached mode and returns
	// a request id for status polling
	RunQueryAsync(ctx context.Context, name string, params map[string]interface{}, timeout time.Duration) (string, error)
	// QueryStatus polls the state of a detached query
	QueryStatus(ctx context.Context, requestID string) (QueryStatus, error)
	// AbortQuery aborts a detached query
	AbortQuery(ctx context.Context, requestID string) error
	// VertexCount counts vertices of the given type, optionally restricted by
	// a filter expression
	VertexCount(ctx context.Context, vertexType string, filter string) (int64, error)
	// EdgeCount counts edges of the given type, optionally restricted by a
	// filter expression
	EdgeCount(ctx context.Context, edgeType string, filter string) (int64, error)
}
