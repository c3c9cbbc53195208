package loader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
	"github.com/go-graphload/graphload/logging"
)

// runBridge consumes the epoch's messages from the broker, reassembles
// paired vertex/edge parts into complete raw batches and forwards them to
// the parse stage. It returns once every expected batch was delivered, the
// context is cancelled, or the transport idles past MaxIdle.
func (l *Loader) runBridge(ctx context.Context, rawCh chan<- rawBatch) error {
	defer close(rawCh)
	// Vertex and edge parts of one batch share a numeric suffix but arrive
	// in arbitrary order; unmatched parts wait here for their companion.
	pending := make(map[string]string)
	delivered := 0
	var idle time.Duration
	for delivered < l.numBatches {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := l.consumer.Poll(ctx, l.conf.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(msgs) == 0 {
			idle += l.conf.PollInterval
			if idle >= l.conf.MaxIdle {
				return errors.TransportError{Op: "poll", Err: fmt.Errorf("no messages received for %s", l.conf.MaxIdle)}
			}
			continue
		}
		idle = 0
		for _, msg := range msgs {
			rb, complete, err := l.assemble(pending, msg)
			if err != nil {
				return err
			}
			if !complete {
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			case rawCh <- rb:
				delivered++
			}
		}
	}
	logging.Log(logging.DebugLevel, "loader %s: received all %d batches", l.conf.LoaderID, l.numBatches)
	return nil
}

// assemble folds one message into the reassembly state, returning a complete
// raw batch once both parts of its batch are present. Single-sided loaders
// complete on every message.
func (l *Loader) assemble(pending map[string]string, msg graphload.Message) (rawBatch, bool, error) {
	side, idx, ok := splitKey(msg.Key)
	if !ok {
		return rawBatch{}, false, errors.ParseError{Line: msg.Key, Reason: "unrecognized message key"}
	}
	if l.resp != respBoth {
		expected := "vertex"
		if l.resp == respEdge {
			expected = "edge"
		}
		if side != expected {
			return rawBatch{}, false, errors.ParseError{Line: msg.Key, Reason: "unexpected " + side + " part for a " + expected + " loader"}
		}
		if side == "vertex" {
			return rawBatch{vertices: string(msg.Value)}, true, nil
		}
		return rawBatch{edges: string(msg.Value)}, true, nil
	}
	companion := "edge_" + idx
	if side == "edge" {
		companion = "vertex_" + idx
	}
	if other, found := pending[companion]; found {
		delete(pending, companion)
		if side == "vertex" {
			return rawBatch{vertices: string(msg.Value), edges: other}, true, nil
		}
		return rawBatch{vertices: other, edges: string(msg.Value)}, true, nil
	}
	if _, dup := pending[msg.Key]; dup {
		return rawBatch{}, false, errors.ParseError{Line: msg.Key, Reason: "duplicate batch part"}
	}
	pending[msg.Key] = string(msg.Value)
	return rawBatch{}, false, nil
}

// splitKey parses a message key of the form "vertex_<n>" or "edge_<n>"
func splitKey(key string) (side string, idx string, ok bool) {
	i := strings.LastIndexByte(key, '_')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	side, idx = key[:i], key[i+1:]
	if side != "vertex" && side != "edge" {
		return "", "", false
	}
	return side, idx, true
}
