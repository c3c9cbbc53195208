// Package loader assembles the batch-loading pipeline: it installs the
// server-side query for a feature signature, dispatches it, moves raw
// payloads over the direct or message-queue transport, and parses them into
// typed graph batches, a bounded number of batches ahead of the consumer.
package loader

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
	"time"

	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
	"github.com/go-graphload/graphload/internal/util"
	"github.com/go-graphload/graphload/logging"
	"github.com/go-graphload/graphload/parser"
	"github.com/go-graphload/graphload/query"
	"github.com/go-graphload/graphload/schema"
	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

type loaderState int

const (
	stateIdle loaderState = iota
	stateRunning
	stateDraining
)

// respKind identifies which sides of the batch a loader's query emits
type respKind int

const (
	respVertex respKind = iota
	respEdge
	respBoth
)

// rawBatch carries the undecoded payloads of one batch between the transport
// and parse stages
type rawBatch struct {
	vertices string
	edges    string
}

// Loader streams batches of graph data from the database. Construct one with
// NewVertexLoader, NewEdgeLoader, NewGraphLoader, NewNeighborLoader or
// NewEdgeNeighborLoader, then call Start and drain it with Next until
// NoMoreBatchesError. A Loader is reusable: Start begins a fresh epoch over
// the same data.
type Loader struct {
	conf        *Config
	kind        query.Kind
	hetero      bool
	resp        respKind
	cache       *schema.Cache
	parser      *parser.Parser
	queryName   string
	numBatches  int
	basePayload map[string]interface{}

	// lifecycleLock serializes state transitions. It is never held while
	// waiting on pipeline channels.
	lifecycleLock sync.Mutex
	state         loaderState
	cancel        context.CancelFunc
	group         *errgroup.Group
	dataCh        chan *graphload.Batch
	consumer      graphload.Consumer
	topic         string
	ownsTopic     bool
	cached        *graphload.Batch
	epoch         int
}

// Start begins a new epoch: it connects the transport and launches the
// dispatch, bridge and parse stages. It returns immediately; batches are
// retrieved with Next.
func (l *Loader) Start(ctx context.Context) error {
	l.lifecycleLock.Lock()
	defer l.lifecycleLock.Unlock()
	if l.state != stateIdle {
		return errors.ConfigurationError{Reason: "loader is already running"}
	}
	runCtx, cancel := context.WithCancel(ctx)
	rawCh := make(chan rawBatch, l.conf.BufferSize*2)
	dataCh := make(chan *graphload.Batch, l.conf.BufferSize)
	payload := l.runPayload()

	if l.conf.Broker != nil {
		topic := l.conf.topicBase()
		ownsTopic := false
		if !l.conf.SkipProduce {
			created, err := l.conf.Broker.CreateTopic(runCtx, topic, graphload.TopicConfig{
				Partitions:        l.conf.Partitions,
				ReplicationFactor: l.conf.Replicas,
				RetentionMS:       l.conf.RetentionMS,
				MaxMessageBytes:   l.conf.MaxMessageBytes,
			})
			if err != nil {
				cancel()
				return err
			}
			ownsTopic = created
		}
		l.topic = topic
		l.ownsTopic = ownsTopic
		consumer, err := l.conf.Broker.Subscribe(runCtx, topic, l.conf.GroupID)
		if err != nil {
			cancel()
			// A topic this run just created must not outlive the failed run.
			if terr := l.teardown(); terr != nil {
				err = multierror.Append(err, terr)
			}
			return err
		}
		l.consumer = consumer
		payload["kafka_address"] = l.conf.ProducerAddress
		payload["kafka_topic"] = topic
		payload["kafka_topic_partitions"] = l.conf.Partitions
		payload["kafka_max_size"] = strconv.FormatInt(l.conf.MaxMessageBytes, 10)
		payload["kafka_timeout"] = l.conf.Timeout.Milliseconds()
	}

	group, gctx := errgroup.WithContext(runCtx)
	if l.conf.Broker != nil {
		if !l.conf.SkipProduce {
			group.Go(util.SafeStage("dispatch", func() error {
				return l.runDispatcherAsync(gctx, payload)
			}))
		}
		group.Go(util.SafeStage("bridge", func() error {
			return l.runBridge(gctx, rawCh)
		}))
	} else {
		group.Go(util.SafeStage("dispatch", func() error {
			return l.runDispatcherDirect(gctx, payload, rawCh)
		}))
	}
	group.Go(util.SafeStage("parse", func() error {
		return l.runParser(gctx, rawCh, dataCh)
	}))

	l.cancel = cancel
	l.group = group
	l.dataCh = dataCh
	l.state = stateRunning
	l.epoch++
	logging.Log(logging.InfoLevel, "loader %s: starting epoch %d of %d batches via query %s", l.conf.LoaderID, l.epoch, l.numBatches, l.queryName)
	return nil
}

// Next blocks for the next parsed batch. Once the epoch is exhausted it
// tears down the transport and returns NoMoreBatchesError; any stage failure
// is returned instead.
func (l *Loader) Next() (*graphload.Batch, error) {
	l.lifecycleLock.Lock()
	dataCh := l.dataCh
	state := l.state
	l.lifecycleLock.Unlock()
	if state == stateIdle || dataCh == nil {
		return nil, errors.NoMoreBatchesError{}
	}
	if batch, ok := <-dataCh; ok {
		return batch, nil
	}
	return l.finish()
}

// finish waits for the stages, tears down the transport and reports the
// epoch's outcome
func (l *Loader) finish() (*graphload.Batch, error) {
	l.lifecycleLock.Lock()
	defer l.lifecycleLock.Unlock()
	if l.state == stateIdle {
		return nil, errors.NoMoreBatchesError{}
	}
	l.state = stateDraining
	runErr := l.group.Wait()
	l.cancel()
	teardownErr := l.teardown()
	l.state = stateIdle
	l.dataCh = nil
	l.group = nil
	l.cancel = nil
	if runErr != nil && !stderrors.Is(runErr, context.Canceled) {
		return nil, runErr
	}
	if teardownErr != nil {
		return nil, teardownErr
	}
	logging.Log(logging.DebugLevel, "loader %s: epoch %d complete", l.conf.LoaderID, l.epoch)
	return nil, errors.NoMoreBatchesError{}
}

// Stop cancels the current epoch, discards any queued batches and tears down
// the transport. It is safe to call before the first Start and after the
// epoch already finished.
func (l *Loader) Stop() error {
	l.lifecycleLock.Lock()
	defer l.lifecycleLock.Unlock()
	if l.state == stateIdle {
		return nil
	}
	l.cancel()
	// Discard queued batches so a parse stage blocked on a full buffer can
	// observe the cancellation and exit.
	go func(dataCh <-chan *graphload.Batch) {
		for range dataCh {
		}
	}(l.dataCh)
	var result error
	if err := l.group.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		result = multierror.Append(result, err)
	}
	if err := l.teardown(); err != nil {
		result = multierror.Append(result, err)
	}
	l.state = stateIdle
	l.dataCh = nil
	l.group = nil
	l.cancel = nil
	logging.Log(logging.InfoLevel, "loader %s: stopped during epoch %d", l.conf.LoaderID, l.epoch)
	return result
}

// teardown closes the consumer and deletes the topic when this loader
// created it. Caller holds lifecycleLock.
func (l *Loader) teardown() error {
	var result error
	if l.consumer != nil {
		if err := l.consumer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		l.consumer = nil
	}
	if l.ownsTopic && !l.conf.KeepTopic && l.topic != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := l.conf.Broker.DeleteTopic(ctx, l.topic); err != nil {
			result = multierror.Append(result, err)
		}
		cancel()
	}
	l.topic = ""
	l.ownsTopic = false
	return result
}

// Data runs one full epoch of a single-batch loader and returns the batch,
// caching it for subsequent calls
func (l *Loader) Data(ctx context.Context) (*graphload.Batch, error) {
	l.lifecycleLock.Lock()
	cached := l.cached
	l.lifecycleLock.Unlock()
	if cached != nil {
		return cached, nil
	}
	if l.numBatches != 1 {
		return nil, errors.ConfigurationError{Reason: "Data requires a single-batch loader"}
	}
	if err := l.Start(ctx); err != nil {
		return nil, err
	}
	batch, err := l.Next()
	if err != nil {
		return nil, err
	}
	if _, err := l.Next(); err != nil {
		if _, done := err.(errors.NoMoreBatchesError); !done {
			return nil, err
		}
	}
	l.lifecycleLock.Lock()
	l.cached = batch
	l.lifecycleLock.Unlock()
	return batch, nil
}

// runParser decodes raw payloads into typed batches until the transport
// stage closes the raw channel
func (l *Loader) runParser(ctx context.Context, rawCh <-chan rawBatch, dataCh chan<- *graphload.Batch) error {
	defer close(dataCh)
	for rb := range rawCh {
		var batch *graphload.Batch
		var err error
		switch l.resp {
		case respVertex:
			batch, err = l.parser.ParseVertex(rb.vertices)
		case respEdge:
			batch, err = l.parser.ParseEdge(rb.edges)
		default:
			batch, err = l.parser.ParseGraph(rb.vertices, rb.edges, nil)
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case dataCh <- batch:
		}
	}
	return nil
}

// runPayload copies the immutable base payload so per-run transport
// parameters can be added
func (l *Loader) runPayload() map[string]interface{} {
	payload := make(map[string]interface{}, len(l.basePayload)+5)
	for k, v := range l.basePayload {
		payload[k] = v
	}
	return payload
}

// NumBatches returns the number of batches in one epoch
func (l *Loader) NumBatches() int {
	return l.numBatches
}

// QueryName returns the name of the installed query backing this loader
func (l *Loader) QueryName() string {
	return l.queryName
}

// Hetero reports whether batches keep per-type tables
func (l *Loader) Hetero() bool {
	return l.hetero
}

// Topic returns the transport topic of the current epoch, or "" outside one
func (l *Loader) Topic() string {
	l.lifecycleLock.Lock()
	defer l.lifecycleLock.Unlock()
	return l.topic
}

// Schema returns the schema snapshot the loader was built against
func (l *Loader) Schema() *graphload.Schema {
	return l.cache.Schema()
}
