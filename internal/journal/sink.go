// internal/journal/sink.go
package journal

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

var sinkJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultBatchSize  = 64
	defaultFlushEvery = 2 * time.Second
	finalFlushTimeout = 5 * time.Second
)

// Sink buffers run events and writes them to the journal in CopyFrom
// batches. Handle satisfies the event router's sink signature; Run drives
// the periodic flush.
type Sink struct {
	journal   *Journal
	logger    *zap.Logger
	batchSize int

	mu      sync.Mutex
	pending []EventRecord
}

// NewSink wraps a journal in a batching event consumer.
func NewSink(journal *Journal, logger *zap.Logger) *Sink {
	return &Sink{
		journal:   journal,
		logger:    logger.Named("journal.sink"),
		batchSize: defaultBatchSize,
	}
}

// Handle buffers one event. Terminal events and full buffers flush
// immediately so a finished run is durable right away.
func (s *Sink) Handle(ctx context.Context, runID string, seq uint64, ev schemas.Event) error {
	if !s.journal.Enabled() {
		return nil
	}

	payload, err := sinkJSON.Marshal(ev)
	if err != nil {
		s.logger.Warn("Failed to encode event for the journal",
			zap.String("run_id", runID), zap.Error(err))
		return nil
	}

	s.mu.Lock()
	s.pending = append(s.pending, EventRecord{
		RunID:   runID,
		Seq:     seq,
		Type:    string(ev.Type),
		Payload: payload,
		At:      time.Now().UTC(),
	})
	full := len(s.pending) >= s.batchSize
	s.mu.Unlock()

	if full || ev.Terminal() {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes everything buffered so far. A failed batch is dropped, not
// requeued; the journal must never grow without bound against a down
// database.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.journal.AppendEvents(ctx, batch)
}

// Run flushes on an interval until ctx is cancelled, then performs one
// final flush on a fresh context so the tail of a stream survives
// shutdown.
func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.Warn("Periodic journal flush failed", zap.Error(err))
			}
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			defer cancel()
			if err := s.Flush(flushCtx); err != nil {
				s.logger.Warn("Final journal flush failed", zap.Error(err))
			}
			return
		}
	}
}

// StatusForEvent maps a terminal event onto the run status it implies.
// Non-terminal events leave the run in StatusRunning.
func StatusForEvent(ev schemas.Event) string {
	switch {
	case ev.Type == schemas.EventError:
		return StatusFailed
	case ev.Type == schemas.EventDone && ev.Content == schemas.MsgStoppedByUser:
		return StatusCancelled
	case ev.Type == schemas.EventDone:
		return StatusCompleted
	default:
		return StatusRunning
	}
}
