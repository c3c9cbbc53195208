package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/go-graphload/graphload"
	"github.com/go-graphload/graphload/errors"
	"github.com/go-graphload/graphload/logging"
)

// runDispatcherDirect executes the query synchronously and forwards each
// returned chunk as one raw batch. Used when no broker is configured.
func (l *Loader) runDispatcherDirect(ctx context.Context, payload map[string]interface{}, rawCh chan<- rawBatch) error {
	defer close(rawCh)
	rows, err := l.conf.DB.RunQuery(ctx, l.queryName, payload, l.conf.Timeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	for _, row := range rows {
		rb := rawBatch{vertices: row["vertex_batch"], edges: row["edge_batch"]}
		if rb.vertices == "" && rb.edges == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case rawCh <- rb:
		}
	}
	return nil
}

// runDispatcherAsync executes the query in detached mode, leaving delivery to
// the message queue, and polls its status until it terminates. A query that
// outlives the epoch is aborted.
func (l *Loader) runDispatcherAsync(ctx context.Context, payload map[string]interface{}) error {
	requestID, err := l.conf.DB.RunQueryAsync(ctx, l.queryName, payload, l.conf.Timeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	logging.Log(logging.DebugLevel, "loader %s: dispatched query %s as request %s", l.conf.LoaderID, l.queryName, requestID)
	ticker := time.NewTicker(l.conf.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.abort(requestID)
			return nil
		case <-ticker.C:
			status, err := l.conf.DB.QueryStatus(ctx, requestID)
			if err != nil {
				if ctx.Err() != nil {
					l.abort(requestID)
					return nil
				}
				return err
			}
			switch status.State {
			case graphload.QueryRunning:
				continue
			case graphload.QuerySuccess:
				if status.ProducerError != "" {
					return errors.TransportError{Op: "produce", Err: fmt.Errorf("server-side producer failed: %s", status.ProducerError)}
				}
				return nil
			case graphload.QueryAborted:
				return errors.TransportError{Op: "dispatch", Err: fmt.Errorf("request %s was aborted", requestID)}
			default:
				return errors.TransportError{Op: "dispatch", Err: fmt.Errorf("request %s failed: %s", requestID, status.Message)}
			}
		}
	}
}

// abort asks the database to stop a detached query. Runs on a fresh context
// so it still works after the epoch's context was cancelled.
func (l *Loader) abort(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.conf.DB.AbortQuery(ctx, requestID); err != nil {
		logging.Log(logging.WarnLevel, "loader %s: failed to abort request %s: %v", l.conf.LoaderID, requestID, err)
	}
}
