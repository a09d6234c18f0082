// internal/agent/orchestrator.go

// Package agent runs the control loop at the heart of the system: ask the
// model for a turn, execute the tool calls it returns against the desktop,
// feed the results back, repeat until the model stops calling tools, the
// caller cancels, the iteration cap trips or a provider fault ends the run.
package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/actions"
)

// DefaultMaxIterations bounds model round-trips when the caller does not
// configure a cap.
const DefaultMaxIterations = 20

// eventBuffer smooths bursts so the loop rarely blocks on a slow drain.
const eventBuffer = 64

// ActionExecutor runs one parsed action and always produces a result; the
// dispatcher substitutes fallback screenshots for failures so the loop
// never needs its own driver error handling.
type ActionExecutor interface {
	Execute(ctx context.Context, action schemas.Action) *schemas.ActionResult
}

// Orchestrator owns the turn-by-turn loop for a single run. It writes an
// ordered event stream and never lets an internal failure escape as
// anything but a terminal ERROR event.
type Orchestrator struct {
	client        schemas.ModelClient
	executor      ActionExecutor
	maxIterations int
	logger        *zap.Logger
}

// NewOrchestrator wires a model client to an action executor. maxIterations
// values at or below zero fall back to DefaultMaxIterations.
func NewOrchestrator(client schemas.ModelClient, executor ActionExecutor, maxIterations int, logger *zap.Logger) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Orchestrator{
		client:        client,
		executor:      executor,
		maxIterations: maxIterations,
		logger:        logger.Named("Orchestrator"),
	}
}

// Run starts the loop over the given conversation and returns its event
// stream. The channel closes after the single terminal DONE or ERROR
// event; callers must drain it until then. Cancelling ctx stops the run
// cooperatively and still ends the stream with DONE.
func (o *Orchestrator) Run(ctx context.Context, conversation []schemas.Turn) <-chan schemas.Event {
	events := make(chan schemas.Event, eventBuffer)
	go o.run(ctx, conversation, events)
	return events
}

func (o *Orchestrator) run(ctx context.Context, history []schemas.Turn, events chan<- schemas.Event) {
	defer close(events)
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Run loop panicked", zap.Any("panic", r), zap.Stack("stack"))
			events <- schemas.NewErrorEvent(fmt.Sprintf("internal error: %v", r), false)
		}
	}()

	tools := actions.ToolDefinitions()

	for iterations := 0; ; {
		// 1. Cooperative cancel, observed before any model call.
		if ctx.Err() != nil {
			o.logger.Info("Run cancelled before model turn", zap.Int("iterations", iterations))
			events <- schemas.NewDoneEvent(schemas.MsgStoppedByUser)
			return
		}

		// 2. One model round-trip.
		turn, err := o.client.GenerateTurn(ctx, history, tools)
		if err != nil {
			// Cancellation surfacing through the provider call is the
			// stop path, not a failure.
			if ctx.Err() != nil {
				events <- schemas.NewDoneEvent(schemas.MsgStoppedByUser)
				return
			}
			o.logger.Error("Model turn failed", zap.Int("iterations", iterations), zap.Error(err))
			events <- schemas.NewErrorEvent(providerMessage(err), schemas.IsRateLimited(err))
			return
		}

		// 3. Surface the model's prose and record the assistant turn.
		if turn.Reasoning != "" {
			events <- schemas.NewReasoningEvent(turn.Reasoning)
		}
		if turn.Text != "" {
			events <- schemas.NewUpdateEvent(turn.Text)
		}
		if turn.Text != "" || turn.HasToolCalls() {
			history = append(history, schemas.NewAssistantTurn(turn.Text, turn.ToolCalls))
		}

		// 4. No tool calls means the model considers the task finished.
		if !turn.HasToolCalls() {
			content := turn.Text
			if content == "" {
				content = schemas.MsgTaskCompleted
			}
			events <- schemas.NewDoneEvent(content)
			return
		}

		// 5. Execute the batch strictly in order; the desktop has a single
		// input focus, so tool calls are never run concurrently.
		for _, call := range turn.ToolCalls {
			if ctx.Err() != nil {
				o.logger.Info("Run cancelled mid-batch", zap.Int("iterations", iterations))
				events <- schemas.NewDoneEvent(schemas.MsgStoppedByUser)
				return
			}

			action := actions.ParseToolCall(call, o.logger)
			events <- schemas.NewActionEvent(action)

			result := o.executor.Execute(ctx, action)

			events <- schemas.NewActionCompletedEvent(action)
			history = append(history, schemas.NewToolTurn(call, result))
		}

		// 6. The cap is a policy boundary against runaway tool loops.
		iterations++
		if iterations >= o.maxIterations {
			o.logger.Warn("Run reached the tool iteration cap", zap.Int("iterations", iterations))
			events <- schemas.NewErrorEvent(schemas.MsgMaxIterationsReached, false)
			return
		}
	}
}

// providerMessage reduces a model client failure to prose safe to show a
// caller. Vendor envelopes and transport detail stay in the logs.
func providerMessage(err error) string {
	var providerErr *schemas.ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.RateLimited {
			return fmt.Sprintf("The %s provider is rate limiting requests. Please retry shortly.", providerErr.Provider)
		}
		return fmt.Sprintf("The %s provider rejected the request: %s", providerErr.Provider, providerErr.Message)
	}
	return "The model request failed: " + err.Error()
}
