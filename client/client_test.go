package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, handler http.HandlerFunc) *Connection {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	conn, err := Connect(&Config{Host: server.URL, Graph: "social"})
	require.Nil(t, err)
	return conn
}

func TestConnectRequiresHostAndGraph(t *testing.T) {
	_, err := Connect(&Config{Graph: "social"})
	require.IsType(t, errors.ConfigurationError{}, err)
	_, err = Connect(&Config{Host: "http://db:9000"})
	require.IsType(t, errors.ConfigurationError{}, err)
}

func TestGetSchemaParsesTypes(t *testing.T) {
	conn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gsqlserver/gsql/schema", r.URL.Path)
		require.Equal(t, "social", r.URL.Query().Get("graph"))
		w.Write([]byte(`{"error": false, "results": {
			"VertexTypes": [{
				"Name": "People",
				"PrimaryId": {"AttributeName": "id", "AttributeType": {"Name": "STRING"}, "PrimaryIdAsAttribute": true},
				"Attributes": [
					{"AttributeName": "age", "AttributeType": {"Name": "INT"}},
					{"AttributeName": "embedding", "AttributeType": {"Name": "LIST", "ValueTypeName": "DOUBLE"}}
				]
			}],
			"EdgeTypes": [{
				"Name": "Knows", "FromVertexTypeName": "People", "ToVertexTypeName": "People",
				"IsDirected": false, "Config": {"REVERSE_EDGE": "KnownBy"},
				"Attributes": [{"AttributeName": "since", "AttributeType": {"Name": "DATETIME"}}]
			}]
		}}`))
	})

	s, err := conn.GetSchema(context.Background())
	require.Nil(t, err)

	people := s.Vertices["People"]
	require.Equal(t, graphload.IntKind, people.Attributes["age"].Kind)
	require.Equal(t, graphload.AttrType{Kind: graphload.ListKind, Elem: graphload.DoubleKind}, people.Attributes["embedding"])
	require.Equal(t, graphload.StringKind, people.Attributes["id"].Kind)

	knows := s.Edges["Knows"]
	require.Equal(t, "People", knows.FromType)
	require.False(t, knows.Directed)
	require.Equal(t, "KnownBy", knows.ReverseName)
	require.Equal(t, graphload.DatetimeKind, knows.Attributes["since"].Kind)
}

func TestRunQueryFlattensRows(t *testing.T) {
	conn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/restpp/query/social/gl_vertex_1", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("GSQL-TIMEOUT"))
		w.Write([]byte(`{"error": false, "results": [
			{"vertex_batch": "a,1\nb,2\n"},
			{"vertex_batch": "c,3\n"}
		]}`))
	})

	rows, err := conn.RunQuery(context.Background(), "gl_vertex_1", map[string]interface{}{"num_batches": 2}, 0)
	require.Nil(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "a,1\nb,2\n", rows[0]["vertex_batch"])
	require.Equal(t, "c,3\n", rows[1]["vertex_batch"])
}

func TestRunQueryAsyncReturnsRequestID(t *testing.T) {
	conn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.Header.Get("GSQL-ASYNC"))
		w.Write([]byte(`{"error": false, "request_id": "16842752.RESTPP_1_1"}`))
	})

	id, err := conn.RunQueryAsync(context.Background(), "gl_graph_1", nil, 0)
	require.Nil(t, err)
	require.Equal(t, "16842752.RESTPP_1_1", id)
}

func TestQueryStatusStates(t *testing.T) {
	conn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/restpp/query_status/social":
			w.Write([]byte(`{"error": false, "results": [{"status": "success"}]}`))
		case "/restpp/query_result/social":
			w.Write([]byte(`{"error": false, "results": [{"kafkaError": "leader not available"}]}`))
		}
	})

	status, err := conn.QueryStatus(context.Background(), "req-1")
	require.Nil(t, err)
	require.Equal(t, graphload.QuerySuccess, status.State)
	require.Equal(t, "leader not available", status.ProducerError)
}

func TestServerErrorsBecomeTransportErrors(t *testing.T) {
	conn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": true, "message": "query not installed"}`))
	})
	_, err := conn.RunQuery(context.Background(), "missing", nil, 0)
	require.IsType(t, errors.TransportError{}, err)
	require.Contains(t, err.Error(), "query not installed")
}

func TestHTTPFailureBecomesTransportError(t *testing.T) {
	conn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := conn.GetSchema(context.Background())
	require.IsType(t, errors.TransportError{}, err)
}

func TestVertexCountUsesBuiltins(t *testing.T) {
	conn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/restpp/builtins/social", r.URL.Path)
		w.Write([]byte(`{"error": false, "results": [{"count": 42}]}`))
	})
	count, err := conn.VertexCount(context.Background(), "People", "")
	require.Nil(t, err)
	require.Equal(t, int64(42), count)
}

func TestIsQueryInstalled(t *testing.T) {
	conn := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": false, "results": {"GET /query/social/gl_vertex_1": {}}}`))
	})
	installed, err := conn.IsQueryInstalled(context.Background(), "gl_vertex_1")
	require.Nil(t, err)
	require.True(t, installed)
	installed, err = conn.IsQueryInstalled(context.Background(), "gl_vertex_2")
	require.Nil(t, err)
	require.False(t, installed)
}
