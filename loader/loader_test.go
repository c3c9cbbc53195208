package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
	"github.com/go-graphload/graphload/transport/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeDB serves a fixed schema and canned query results. In broker mode it
// stands in for the server-side producer by publishing canned messages to
// the topic named in the dispatch parameters.
type fakeDB struct {
	lock          sync.Mutex
	schema        *graphload.Schema
	installed     map[string]string
	runRows       []graphload.QueryRow
	runCalls      int
	broker        *memory.Broker
	produce       []graphload.Message
	producerError string
	statusRunning bool
	aborted       []string
	vertexCount   int64
	edgeCount     int64
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		schema: &graphload.Schema{
			Vertices: map[string]graphload.VertexType{
				"Paper": {Name: "Paper", Attributes: map[string]graphload.AttrType{
					"y":          {Kind: graphload.IntKind},
					"train_mask": {Kind: graphload.BoolKind},
				}},
			},
			Edges: map[string]graphload.EdgeType{
				"Cites": {Name: "Cites", FromType: "Paper", ToType: "Paper",
					Directed: true, Attributes: map[string]graphload.AttrType{}},
			},
		},
		installed:   make(map[string]string),
		vertexCount: 4,
		edgeCount:   2,
	}
}

func (f *fakeDB) GetSchema(ctx context.Context) (*graphload.Schema, error) { return f.schema, nil }

func (f *fakeDB) InstallQuery(ctx context.Context, name string, text string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.installed[name] = text
	return nil
}

func (f *fakeDB) IsQueryInstalled(ctx context.Context, name string) (bool, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	_, ok := f.installed[name]
	return ok, nil
}

func (f *fakeDB) RunQuery(ctx context.Context, name string, params map[string]interface{}, timeout time.Duration) ([]graphload.QueryRow, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.runCalls++
	return f.runRows, nil
}

func (f *fakeDB) RunQueryAsync(ctx context.Context, name string, params map[string]interface{}, timeout time.Duration) (string, error) {
	topic, _ := params["kafka_topic"].(string)
	f.lock.Lock()
	produce := f.produce
	f.lock.Unlock()
	for _, msg := range produce {
		if err := f.broker.Publish(topic, msg.Key, msg.Value); err != nil {
			return "", err
		}
	}
	return "req-1", nil
}

func (f *fakeDB) QueryStatus(ctx context.Context, requestID string) (graphload.QueryStatus, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.statusRunning {
		return graphload.QueryStatus{RequestID: requestID, State: graphload.QueryRunning}, nil
	}
	return graphload.QueryStatus{
		RequestID:     requestID,
		State:         graphload.QuerySuccess,
		ProducerError: f.producerError,
	}, nil
}

func (f *fakeDB) AbortQuery(ctx context.Context, requestID string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.aborted = append(f.aborted, requestID)
	return nil
}

func (f *fakeDB) VertexCount(ctx context.Context, vertexType string, filter string) (int64, error) {
	return f.vertexCount, nil
}

func (f *fakeDB) EdgeCount(ctx context.Context, edgeType string, filter string) (int64, error) {
	return f.edgeCount, nil
}

func drain(t *testing.T, l *Loader) []*graphload.Batch {
	t.Helper()
	var batches []*graphload.Batch
	for {
		batch, err := l.Next()
		if err != nil {
			require.IsType(t, errors.NoMoreBatchesError{}, err)
			return batches
		}
		batches = append(batches, batch)
	}
}

func TestVertexLoaderDirectEpoch(t *testing.T) {
	defer goleak.VerifyNone(t)
	db := newFakeDB()
	db.runRows = []graphload.QueryRow{
		{"vertex_batch": "a,1\nb,2\n"},
		{"vertex_batch": "c,3\n"},
		{"vertex_batch": "d,4\n"},
	}
	l, err := NewVertexLoader(&Config{
		DB:            db,
		NumBatches:    3,
		VertexInFeats: graphload.Flat("y"),
	})
	require.Nil(t, err)
	require.Equal(t, 3, l.NumBatches())
	require.Len(t, db.installed, 1)

	require.Nil(t, l.Start(context.Background()))
	batches := drain(t, l)
	require.Len(t, batches, 3)

	ys, err := batches[0].VertexTable().Ints("y")
	require.Nil(t, err)
	require.Equal(t, []int64{1, 2}, ys)
	require.Equal(t, 1, batches[1].NumVertices())

	// The loader is reusable: a second epoch re-runs the query.
	require.Nil(t, l.Start(context.Background()))
	require.Len(t, drain(t, l), 3)
	require.Equal(t, 2, db.runCalls)
}

func TestGraphLoaderReassemblesPairsOutOfOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	broker := memory.CreateBroker(memory.Conf{})
	db := newFakeDB()
	db.broker = broker
	db.produce = []graphload.Message{
		{Key: "edge_0", Value: []byte("a,b\n")},
		{Key: "vertex_1", Value: []byte("c,3\nd,4\n")},
		{Key: "vertex_0", Value: []byte("a,1\nb,2\n")},
		{Key: "edge_1", Value: []byte("c,d\n")},
	}
	l, err := NewGraphLoader(&Config{
		DB:              db,
		Broker:          broker,
		NumBatches:      2,
		VertexInFeats:   graphload.Flat("y"),
		ProducerAddress: "broker:9092",
		PollInterval:    10 * time.Millisecond,
	})
	require.Nil(t, err)

	require.Nil(t, l.Start(context.Background()))
	topic := l.Topic()
	require.True(t, broker.HasTopic(topic))

	batches := drain(t, l)
	require.Len(t, batches, 2)

	ys, err := batches[0].VertexTable().Ints("y")
	require.Nil(t, err)
	require.Equal(t, []int64{1, 2}, ys)

	sources, err := batches[0].EdgeTable().Ints(graphload.SourceColumn)
	require.Nil(t, err)
	targets, err := batches[0].EdgeTable().Ints(graphload.TargetColumn)
	require.Nil(t, err)
	require.Equal(t, []int64{0}, sources)
	require.Equal(t, []int64{1}, targets)

	ys, err = batches[1].VertexTable().Ints("y")
	require.Nil(t, err)
	require.Equal(t, []int64{3, 4}, ys)

	// The epoch finished, so the loader deleted the topic it created.
	require.False(t, broker.HasTopic(topic))
}

func TestNeighborLoaderMarksSeeds(t *testing.T) {
	defer goleak.VerifyNone(t)
	db := newFakeDB()
	db.runRows = []graphload.QueryRow{
		{"vertex_batch": "a,1,true\nb,2,false\n", "edge_batch": "a,b\n"},
	}
	l, err := NewNeighborLoader(&Config{
		DB:            db,
		NumBatches:    1,
		VertexInFeats: graphload.Flat("y"),
		NumNeighbors:  5,
		NumHops:       2,
	})
	require.Nil(t, err)

	require.Nil(t, l.Start(context.Background()))
	batches := drain(t, l)
	require.Len(t, batches, 1)

	vt := batches[0].VertexTable()
	seeds, err := vt.Bools(graphload.SeedColumn)
	require.Nil(t, err)
	require.Equal(t, []bool{true, false}, seeds)
	locals, err := vt.Ints(graphload.LocalIDColumn)
	require.Nil(t, err)
	require.Equal(t, []int64{0, 1}, locals)

	// Neighbor batches are reindexed and edges outside the sample dropped.
	sources, err := batches[0].EdgeTable().Ints(graphload.SourceColumn)
	require.Nil(t, err)
	require.Equal(t, []int64{0}, sources)
}

func TestEdgeNeighborLoaderMarksSeedEdges(t *testing.T) {
	defer goleak.VerifyNone(t)
	db := newFakeDB()
	db.runRows = []graphload.QueryRow{
		{"vertex_batch": "a,1\nb,2\nc,3\n", "edge_batch": "a,b,1\nb,c,0\n"},
	}
	l, err := NewEdgeNeighborLoader(&Config{
		DB:            db,
		NumBatches:    1,
		VertexInFeats: graphload.Flat("y"),
		NumNeighbors:  5,
		NumHops:       2,
	})
	require.Nil(t, err)
	require.True(t, strings.HasPrefix(l.QueryName(), "gl_edge_neighbor_"))

	require.Nil(t, l.Start(context.Background()))
	batches := drain(t, l)
	require.Len(t, batches, 1)

	// The seed marker lands on the edge side, not on the vertices.
	et := batches[0].EdgeTable()
	seeds, err := et.Bools(graphload.SeedColumn)
	require.Nil(t, err)
	require.Equal(t, []bool{true, false}, seeds)
	require.False(t, batches[0].VertexTable().HasColumn(graphload.SeedColumn))

	sources, err := et.Ints(graphload.SourceColumn)
	require.Nil(t, err)
	targets, err := et.Ints(graphload.TargetColumn)
	require.Nil(t, err)
	require.Equal(t, []int64{0, 1}, sources)
	require.Equal(t, []int64{1, 2}, targets)
}

func TestEdgeNeighborLoaderBatchesOverEdges(t *testing.T) {
	db := newFakeDB()
	db.edgeCount = 21
	l, err := NewEdgeNeighborLoader(&Config{
		DB:            db,
		BatchSize:     10,
		VertexInFeats: graphload.Flat("y"),
	})
	require.Nil(t, err)
	require.Equal(t, 3, l.NumBatches())
}

func TestStopMidEpochTearsDown(t *testing.T) {
	defer goleak.VerifyNone(t)
	broker := memory.CreateBroker(memory.Conf{})
	db := newFakeDB()
	db.broker = broker
	db.statusRunning = true
	db.produce = []graphload.Message{
		{Key: "vertex_0", Value: []byte("a,1\n")},
		{Key: "edge_0", Value: []byte("a,a\n")},
	}
	l, err := NewGraphLoader(&Config{
		DB:              db,
		Broker:          broker,
		NumBatches:      5,
		VertexInFeats:   graphload.Flat("y"),
		ProducerAddress: "broker:9092",
		PollInterval:    10 * time.Millisecond,
	})
	require.Nil(t, err)

	require.Nil(t, l.Start(context.Background()))
	topic := l.Topic()
	batch, err := l.Next()
	require.Nil(t, err)
	require.Equal(t, 1, batch.NumVertices())

	require.Nil(t, l.Stop())
	require.False(t, broker.HasTopic(topic))
	db.lock.Lock()
	require.Equal(t, []string{"req-1"}, db.aborted)
	db.lock.Unlock()

	// Stop is idempotent and safe on an idle loader.
	require.Nil(t, l.Stop())
}

func TestSkipProduceConsumesExistingTopic(t *testing.T) {
	defer goleak.VerifyNone(t)
	broker := memory.CreateBroker(memory.Conf{})
	_, err := broker.CreateTopic(context.Background(), "shared_topic", graphload.TopicConfig{})
	require.Nil(t, err)
	require.Nil(t, broker.Publish("shared_topic", "vertex_0", []byte("a,1\n")))

	db := newFakeDB()
	l, err := NewVertexLoader(&Config{
		DB:            db,
		Broker:        broker,
		NumBatches:    1,
		VertexInFeats: graphload.Flat("y"),
		Topic:         "shared_topic",
		SkipProduce:   true,
		PollInterval:  10 * time.Millisecond,
	})
	require.Nil(t, err)

	require.Nil(t, l.Start(context.Background()))
	batches := drain(t, l)
	require.Len(t, batches, 1)

	// A consuming sibling never owns the topic, so teardown leaves it alone.
	require.True(t, broker.HasTopic("shared_topic"))
}

func TestProducerErrorSurfaces(t *testing.T) {
	defer goleak.VerifyNone(t)
	broker := memory.CreateBroker(memory.Conf{})
	db := newFakeDB()
	db.broker = broker
	db.producerError = "message too large"
	l, err := NewGraphLoader(&Config{
		DB:              db,
		Broker:          broker,
		NumBatches:      1,
		VertexInFeats:   graphload.Flat("y"),
		ProducerAddress: "broker:9092",
		PollInterval:    10 * time.Millisecond,
	})
	require.Nil(t, err)

	require.Nil(t, l.Start(context.Background()))
	_, err = l.Next()
	require.IsType(t, errors.TransportError{}, err)
	require.Contains(t, err.Error(), "message too large")
}

func TestParseErrorStopsTheRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	db := newFakeDB()
	db.runRows = []graphload.QueryRow{
		{"vertex_batch": "a,1,extra_field\n"},
	}
	l, err := NewVertexLoader(&Config{
		DB:            db,
		NumBatches:    1,
		VertexInFeats: graphload.Flat("y"),
	})
	require.Nil(t, err)
	require.Nil(t, l.Start(context.Background()))
	_, err = l.Next()
	require.IsType(t, errors.ParseError{}, err)
}

func TestBatchCountFromBatchSize(t *testing.T) {
	db := newFakeDB()
	db.vertexCount = 25
	l, err := NewVertexLoader(&Config{
		DB:            db,
		BatchSize:     10,
		VertexInFeats: graphload.Flat("y"),
	})
	require.Nil(t, err)
	require.Equal(t, 3, l.NumBatches())
}

func TestDataCachesSingleBatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	db := newFakeDB()
	db.runRows = []graphload.QueryRow{
		{"vertex_batch": "a,1\nb,2\n"},
	}
	l, err := NewVertexLoader(&Config{
		DB:            db,
		NumBatches:    1,
		VertexInFeats: graphload.Flat("y"),
	})
	require.Nil(t, err)

	batch, err := l.Data(context.Background())
	require.Nil(t, err)
	require.Equal(t, 2, batch.NumVertices())

	again, err := l.Data(context.Background())
	require.Nil(t, err)
	require.True(t, batch == again)
	require.Equal(t, 1, db.runCalls)
}

func TestConfigValidation(t *testing.T) {
	db := newFakeDB()

	_, err := NewVertexLoader(nil)
	require.IsType(t, errors.ConfigurationError{}, err)

	_, err = NewVertexLoader(&Config{})
	require.IsType(t, errors.ConfigurationError{}, err)

	_, err = NewVertexLoader(&Config{DB: db, NumBatches: 2, BatchSize: 10})
	require.IsType(t, errors.ConfigurationError{}, err)

	_, err = NewVertexLoader(&Config{
		DB:            db,
		VertexInFeats: graphload.Flat("y"),
		EdgeInFeats:   graphload.ByType(map[string][]string{"Cites": {}}),
	})
	require.IsType(t, errors.ConfigurationError{}, err)

	_, err = NewVertexLoader(&Config{DB: db, VertexInFeats: graphload.Flat("no_such_attr")})
	require.IsType(t, errors.SchemaValidationError{}, err)
}

func TestInstalledQuerySharedBySignature(t *testing.T) {
	db := newFakeDB()
	conf := func() *Config {
		return &Config{DB: db, VertexInFeats: graphload.Flat("y")}
	}
	first, err := NewVertexLoader(conf())
	require.Nil(t, err)
	second, err := NewVertexLoader(conf())
	require.Nil(t, err)
	require.Equal(t, first.QueryName(), second.QueryName())
	require.Len(t, db.installed, 1)
}

// subscribeFailBroker wraps a working broker with a Subscribe that always
// fails, as a broker does when no partition can be assigned.
type subscribeFailBroker struct {
	*memory.Broker
}

func (b *subscribeFailBroker) Subscribe(ctx context.Context, topic string, groupID string) (graphload.Consumer, error) {
	return nil, errors.TransportError{Op: "subscribe", Err: fmt.Errorf("no partitions assignable")}
}

func TestFailedSubscribeReleasesCreatedTopic(t *testing.T) {
	defer goleak.VerifyNone(t)
	broker := memory.CreateBroker(memory.Conf{})
	db := newFakeDB()
	db.broker = broker
	l, err := NewGraphLoader(&Config{
		DB:              db,
		Broker:          &subscribeFailBroker{Broker: broker},
		NumBatches:      1,
		VertexInFeats:   graphload.Flat("y"),
		ProducerAddress: "broker:9092",
		Topic:           "orphan_topic",
	})
	require.Nil(t, err)

	err = l.Start(context.Background())
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "no partitions assignable")

	// The topic created for this run must not survive the failed start.
	require.False(t, broker.HasTopic("orphan_topic"))
	require.Equal(t, "", l.Topic())
	require.Nil(t, l.Stop())
}

func TestUnknownMessageKeyFailsTheRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	broker := memory.CreateBroker(memory.Conf{})
	db := newFakeDB()
	db.broker = broker
	db.produce = []graphload.Message{
		{Key: "batch_0", Value: []byte("a,1\n")},
	}
	l, err := NewGraphLoader(&Config{
		DB:              db,
		Broker:          broker,
		NumBatches:      1,
		VertexInFeats:   graphload.Flat("y"),
		ProducerAddress: "broker:9092",
		PollInterval:    10 * time.Millisecond,
	})
	require.Nil(t, err)

	require.Nil(t, l.Start(context.Background()))
	_, err = l.Next()
	require.IsType(t, errors.ParseError{}, err)
	require.Contains(t, err.Error(), "unrecognized message key")
}

func TestDuplicateBatchPartFailsTheRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	broker := memory.CreateBroker(memory.Conf{})
	db := newFakeDB()
	db.broker = broker
	db.produce = []graphload.Message{
		{Key: "vertex_0", Value: []byte("a,1\n")},
		{Key: "vertex_0", Value: []byte("b,2\n")},
	}
	l, err := NewGraphLoader(&Config{
		DB:              db,
		Broker:          broker,
		NumBatches:      2,
		VertexInFeats:   graphload.Flat("y"),
		ProducerAddress: "broker:9092",
		PollInterval:    10 * time.Millisecond,
	})
	require.Nil(t, err)

	require.Nil(t, l.Start(context.Background()))
	_, err = l.Next()
	require.IsType(t, errors.ParseError{}, err)
	require.Contains(t, err.Error(), "duplicate batch part")
}

func TestIdleTopicAbortsTheRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	broker := memory.CreateBroker(memory.Conf{})
	db := newFakeDB()
	db.broker = broker
	db.statusRunning = true
	l, err := NewGraphLoader(&Config{
		DB:              db,
		Broker:          broker,
		NumBatches:      1,
		VertexInFeats:   graphload.Flat("y"),
		ProducerAddress: "broker:9092",
		PollInterval:    5 * time.Millisecond,
		MaxIdle:         25 * time.Millisecond,
	})
	require.Nil(t, err)

	require.Nil(t, l.Start(context.Background()))
	_, err = l.Next()
	require.IsType(t, errors.TransportError{}, err)
	require.Contains(t, err.Error(), "no messages")
}

func TestSplitKey(t *testing.T) {
	for _, tc := range []struct {
		key  string
		side string
		idx  string
		ok   bool
	}{
		{"vertex_0", "vertex", "0", true},
		{"edge_12", "edge", "12", true},
		{"vertex_", "", "", false},
		{"batch_3", "", "", false},
		{"vertex", "", "", false},
	} {
		side, idx, ok := splitKey(tc.key)
		require.Equal(t, tc.ok, ok, fmt.Sprintf("key %q", tc.key))
		require.Equal(t, tc.side, side)
		require.Equal(t, tc.idx, idx)
	}
}
