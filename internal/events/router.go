// internal/events/router.go

// Package events fans agent run events out to background sinks. The live
// client stream reads the orchestrator's channel directly; this router is
// the side path feeding diagnostics such as the run journal, so a slow or
// failing sink can never stall or fail a run.
package events

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

var eventsJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// TopicRunEvents carries every run's events on one topic; messages are
// distinguished by metadata rather than per-run topics so sinks subscribe
// once, before any run exists.
const TopicRunEvents = "agent.run.events"

// Metadata keys set on every published message.
const (
	MetadataRunID     = "run_id"
	MetadataSequence  = "sequence_number"
	MetadataEventType = "event_type"
)

// SinkFunc receives one decoded event. Errors are logged and swallowed;
// sinks observe runs, they do not participate in them.
type SinkFunc func(ctx context.Context, runID string, seq uint64, ev schemas.Event) error

// Router is an in-process pub/sub for run events backed by a watermill
// gochannel. Sinks must be registered before Run is called.
type Router struct {
	logger *zap.Logger
	pubSub *gochannel.GoChannel
	router *message.Router

	mu   sync.Mutex
	seqs map[string]uint64
}

// NewRouter builds the router and its in-memory pub/sub. It does nothing
// until Run is called.
func NewRouter(logger *zap.Logger) (*Router, error) {
	log := logger.Named("events")
	wmLogger := newWatermillLogger(log)

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to build event router: %w", err)
	}

	return &Router{
		logger: log,
		pubSub: pubSub,
		router: router,
		seqs:   make(map[string]uint64),
	}, nil
}

// AddSink registers a named consumer for every run event. Call before Run.
func (r *Router) AddSink(name string, sink SinkFunc) {
	r.router.AddNoPublisherHandler(name, TopicRunEvents, r.pubSub, func(msg *message.Message) error {
		ev, err := schemas.EventFromJSON(msg.Payload)
		if err != nil {
			r.logger.Warn("Dropping undecodable event message",
				zap.String("message_id", msg.UUID), zap.Error(err))
			return nil
		}
		runID := msg.Metadata.Get(MetadataRunID)
		seq, _ := strconv.ParseUint(msg.Metadata.Get(MetadataSequence), 10, 64)

		if err := sink(msg.Context(), runID, seq, ev); err != nil {
			r.logger.Warn("Event sink failed",
				zap.String("sink", name),
				zap.String("run_id", runID),
				zap.String("event_type", string(ev.Type)),
				zap.Error(err))
		}
		return nil
	})
}

// Publish sends one event for the given run, stamping it with a per-run
// sequence number. With no sinks registered the event is dropped.
func (r *Router) Publish(runID string, ev schemas.Event) error {
	payload, err := eventsJSON.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataRunID, runID)
	msg.Metadata.Set(MetadataEventType, string(ev.Type))
	msg.Metadata.Set(MetadataSequence, strconv.FormatUint(r.nextSeq(runID), 10))

	return r.pubSub.Publish(TopicRunEvents, msg)
}

// PublishBlind publishes and logs instead of returning failures. The run
// path uses this; losing a diagnostic event is not a run error.
func (r *Router) PublishBlind(runID string, ev schemas.Event) {
	if err := r.Publish(runID, ev); err != nil {
		r.logger.Warn("Failed to publish run event",
			zap.String("run_id", runID),
			zap.String("event_type", string(ev.Type)),
			zap.Error(err))
	}
}

// ForgetRun drops the sequence counter for a finished run.
func (r *Router) ForgetRun(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seqs, runID)
}

func (r *Router) nextSeq(runID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := r.seqs[runID]
	r.seqs[runID] = seq + 1
	return seq
}

// Run delivers messages to sinks until ctx is cancelled. It blocks.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running unblocks once Run has started delivering.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close shuts the publisher down first so no new messages enter, then the
// delivery router.
func (r *Router) Close() error {
	if err := r.pubSub.Close(); err != nil {
		r.logger.Warn("Failed to close event pub/sub", zap.Error(err))
	}
	if err := r.router.Close(); err != nil {
		return fmt.Errorf("failed to close event router: %w", err)
	}
	return nil
}
