// Package client implements the graphload.GraphDB interface over the graph
// database's REST endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
	"github.com/tidwall/gjson"
)

// Config configures a Connection to the graph database
type Config struct {
	// Host is the base URL of the database's REST server, e.g. "http://db:9000"
	Host string
	// Graph is the name of the graph to operate on
	Graph string
	// Token is an optional bearer token
	Token string
	// Timeout bounds each HTTP request. Defaults to 30s. Query execution
	// timeouts are passed per call and communicated to the server.
	Timeout time.Duration
	// HTTPClient overrides the underlying client, e.g. for custom TLS
	HTTPClient *http.Client
}

// Connection is a GraphDB implementation over REST
type Connection struct {
	conf *Config
	http *http.Client
}

// Connect returns a Connection for the given Config
func Connect(conf *Config) (*Connection, error) {
	if conf.Host == "" {
		return nil, errors.ConfigurationError{Reason: "database host is required"}
	}
	if conf.Graph == "" {
		return nil, errors.ConfigurationError{Reason: "graph name is required"}
	}
	if conf.Timeout == 0 {
		conf.Timeout = 30 * time.Second
	}
	httpClient := conf.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: conf.Timeout}
	}
	return &Connection{conf: conf, http: httpClient}, nil
}

// GetSchema fetches a snapshot of the graph's type declarations
func (c *Connection) GetSchema(ctx context.Context) (*graphload.Schema, error) {
	res, err := c.request(ctx, http.MethodGet, "/gsqlserver/gsql/schema", url.Values{"graph": {c.conf.Graph}}, nil, nil)
	if err != nil {
		return nil, err
	}
	s := &graphload.Schema{
		Vertices: make(map[string]graphload.VertexType),
		Edges:    make(map[string]graphload.EdgeType),
	}
	res.Get("results.VertexTypes").ForEach(func(_, vt gjson.Result) bool {
		name := vt.Get("Name").String()
		attrs := parseAttributes(vt.Get("Attributes"))
		if vt.Get("PrimaryId.PrimaryIdAsAttribute").Bool() {
			attrs[vt.Get("PrimaryId.AttributeName").String()] =
				graphload.ParseAttrType(vt.Get("PrimaryId.AttributeType.Name").String())
		}
		s.Vertices[name] = graphload.VertexType{Name: name, Attributes: attrs}
		return true
	})
	res.Get("results.EdgeTypes").ForEach(func(_, et gjson.Result) bool {
		name := et.Get("Name").String()
		s.Edges[name] = graphload.EdgeType{
			Name:        name,
			FromType:    et.Get("FromVertexTypeName").String(),
			ToType:      et.Get("ToVertexTypeName").String(),
			Directed:    et.Get("IsDirected").Bool(),
			ReverseName: et.Get("Config.REVERSE_EDGE").String(),
			Attributes:  parseAttributes(et.Get("Attributes")),
		}
		return true
	})
	return s, nil
}

func parseAttributes(attrs gjson.Result) map[string]graphload.AttrType {
	parsed := make(map[string]graphload.AttrType)
	attrs.ForEach(func(_, attr gjson.Result) bool {
		name := attr.Get("AttributeName").String()
		typeName := attr.Get("AttributeType.Name").String()
		if typeName == "LIST" {
			typeName = "LIST:" + attr.Get("AttributeType.ValueTypeName").String()
		}
		parsed[name] = graphload.ParseAttrType(typeName)
		return true
	})
	return parsed
}

// InstallQuery installs query text under the given name
func (c *Connection) InstallQuery(ctx context.Context, name string, text string) error {
	body := map[string]interface{}{"name": name, "query": text}
	_, err := c.request(ctx, http.MethodPost, "/gsqlserver/gsql/queries", url.Values{"graph": {c.conf.Graph}}, body, nil)
	return err
}

// IsQueryInstalled reports whether a query endpoint exists under the given name
func (c *Connection) IsQueryInstalled(ctx context.Context, name string) (bool, error) {
	res, err := c.request(ctx, http.MethodGet, "/restpp/endpoints/"+c.conf.Graph, url.Values{"dynamic": {"true"}}, nil, nil)
	if err != nil {
		return false, err
	}
	target := fmt.Sprintf("GET /query/%s/%s", c.conf.Graph, name)
	installed := false
	res.Get("results").ForEach(func(key, _ gjson.Result) bool {
		if key.String() == target {
			installed = true
			return false
		}
		return true
	})
	return installed, nil
}

// RunQuery executes an installed query synchronously and returns its rows
func (c *Connection) RunQuery(ctx context.Context, name string, params map[string]interface{}, timeout time.Duration) ([]graphload.QueryRow, error) {
	headers := map[string]string{"GSQL-TIMEOUT": strconv.FormatInt(timeout.Milliseconds(), 10)}
	res, err := c.request(ctx, http.MethodPost, "/restpp/query/"+c.conf.Graph+"/"+name, nil, params, headers)
	if err != nil {
		return nil, err
	}
	var rows []graphload.QueryRow
	res.Get("results").ForEach(func(_, result gjson.Result) bool {
		row := make(graphload.QueryRow)
		result.ForEach(func(key, value gjson.Result) bool {
			row[key.String()] = value.String()
			return true
		})
		rows = append(rows, row)
		return true
	})
	return rows, nil
}

// RunQueryAsync executes an installed query in detached mode and returns a
// request id for status polling
func (c *Connection) RunQueryAsync(ctx context.Context, name string, params map[string]interface{}, timeout time.Duration) (string, error) {
	headers := map[string]string{
		"GSQL-TIMEOUT": strconv.FormatInt(timeout.Milliseconds(), 10),
		"GSQL-ASYNC":   "true",
	}
	res, err := c.request(ctx, http.MethodPost, "/restpp/query/"+c.conf.Graph+"/"+name, nil, params, headers)
	if err != nil {
		return "", err
	}
	requestID := res.Get("request_id").String()
	if requestID == "" {
		return "", errors.TransportError{Op: "async dispatch", Err: fmt.Errorf("no request id in response")}
	}
	return requestID, nil
}

// QueryStatus polls the state of a detached query
func (c *Connection) QueryStatus(ctx context.Context, requestID string) (graphload.QueryStatus, error) {
	status := graphload.QueryStatus{RequestID: requestID}
	res, err := c.request(ctx, http.MethodGet, "/restpp/query_status/"+c.conf.Graph, url.Values{"requestid": {requestID}}, nil, nil)
	if err != nil {
		return status, err
	}
	state := res.Get("results.0.status").String()
	switch state {
	case "running":
		status.State = graphload.QueryRunning
	case "success":
		status.State = graphload.QuerySuccess
	case "aborted":
		status.State = graphload.QueryAborted
	default:
		status.State = graphload.QueryFailed
		status.Message = res.Get("results.0").Raw
	}
	if status.State == graphload.QuerySuccess {
		result, err := c.request(ctx, http.MethodGet, "/restpp/query_result/"+c.conf.Graph, url.Values{"requestid": {requestID}}, nil, nil)
		if err != nil {
			return status, err
		}
		status.ProducerError = result.Get("results.0.kafkaError").String()
	}
	return status, nil
}

// AbortQuery aborts a detached query
func (c *Connection) AbortQuery(ctx context.Context, requestID string) error {
	_, err := c.request(ctx, http.MethodGet, "/restpp/abortquery/"+c.conf.Graph, url.Values{"requestid": {requestID}}, nil, nil)
	return err
}

// VertexCount counts vertices of the given type, optionally filtered
func (c *Connection) VertexCount(ctx context.Context, vertexType string, filter string) (int64, error) {
	if filter == "" {
		body := map[string]interface{}{"function": "stat_vertex_number", "type": vertexType}
		res, err := c.request(ctx, http.MethodPost, "/restpp/builtins/"+c.conf.Graph, nil, body, nil)
		if err != nil {
			return 0, err
		}
		return res.Get("results.0.count").Int(), nil
	}
	query := url.Values{"count_only": {"true"}, "filter": {filter}}
	res, err := c.request(ctx, http.MethodGet, "/restpp/graph/"+c.conf.Graph+"/vertices/"+vertexType, query, nil, nil)
	if err != nil {
		return 0, err
	}
	return res.Get("results.0.count").Int(), nil
}

// EdgeCount counts edges of the given type, optionally filtered
func (c *Connection) EdgeCount(ctx context.Context, edgeType string, filter string) (int64, error) {
	if filter == "" {
		body := map[string]interface{}{"function": "stat_edge_number", "type": edgeType}
		res, err := c.request(ctx, http.MethodPost, "/restpp/builtins/"+c.conf.Graph, nil, body, nil)
		if err != nil {
			return 0, err
		}
		return res.Get("results.0.count").Int(), nil
	}
	query := url.Values{"count_only": {"true"}, "filter": {filter}}
	res, err := c.request(ctx, http.MethodGet, "/restpp/graph/"+c.conf.Graph+"/edges/"+edgeType, query, nil, nil)
	if err != nil {
		return 0, err
	}
	return res.Get("results.0.count").Int(), nil
}

// request performs one HTTP round trip and returns the parsed JSON body,
// translating HTTP and server-reported failures into TransportErrors
func (c *Connection) request(ctx context.Context, method, path string, query url.Values, body interface{}, headers map[string]string) (gjson.Result, error) {
	op := method + " " + path
	endpoint := c.conf.Host + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, errors.TransportError{Op: op, Err: err}
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return gjson.Result{}, errors.TransportError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.conf.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.conf.Token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, errors.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, errors.TransportError{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, errors.TransportError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, payload)}
	}
	parsed := gjson.ParseBytes(payload)
	if parsed.Get("error").Bool() {
		return gjson.Result{}, errors.TransportError{Op: op, Err: fmt.Errorf("%s", parsed.Get("message").String())}
	}
	return parsed, nil
}
