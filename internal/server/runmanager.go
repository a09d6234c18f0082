package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/agent"
	"github.com/xkilldash9x/operator-cli/internal/config"
	"github.com/xkilldash9x/operator-cli/internal/desktop"
	"github.com/xkilldash9x/operator-cli/internal/events"
	"github.com/xkilldash9x/operator-cli/internal/journal"
)

// ErrTooManyRuns is returned when starting a run would exceed the
// configured concurrency cap.
var ErrTooManyRuns = errors.New("too many concurrent runs")

// ErrEmptyInstruction is returned when a run is requested without an
// instruction for the agent.
var ErrEmptyInstruction = errors.New("instruction must not be empty")

// runEventBuffer sizes the per-run event channel handed to transports.
const runEventBuffer = 64

// journalWriteTimeout bounds the bookkeeping writes that happen after a
// run's own context is already cancelled.
const journalWriteTimeout = 5 * time.Second

// ClientProvider resolves a model client for a provider name. It is
// satisfied by llmclient.Router.
type ClientProvider interface {
	Client(ctx context.Context, provider config.LLMProvider) (schemas.ModelClient, error)
}

// RunRequest describes one chat run to start. Provider optionally
// overrides the configured default for this run only.
type RunRequest struct {
	Instruction string `json:"instruction"`
	Provider    string `json:"provider,omitempty"`
}

// Run is a live agent run. Exactly one consumer reads Events until it is
// closed; the channel closes shortly after the terminal event.
type Run struct {
	ID        string
	SandboxID string

	events chan schemas.Event
	cancel context.CancelFunc
	done   chan struct{}
}

// Events returns the run's ordered event stream.
func (r *Run) Events() <-chan schemas.Event { return r.events }

// Cancel requests that the run stop. The stream still ends with a
// terminal event and a channel close, so consumers keep draining.
func (r *Run) Cancel() { r.cancel() }

// Done closes when the run has fully torn down, desktop included.
func (r *Run) Done() <-chan struct{} { return r.done }

// Manager owns the lifecycle of agent runs: it provisions sessions,
// enforces the concurrency cap, fans events out to the journal, and
// tears everything down when a run ends. Transports only start runs and
// drain their channels.
type Manager struct {
	cfg     *config.Config
	clients ClientProvider
	events  *events.Router
	journal *journal.Journal
	logger  *zap.Logger

	driverFactory DriverFactory
	sem           *semaphore.Weighted

	mu   sync.Mutex
	runs map[string]*Run
}

// NewManager wires a run manager over the shared infrastructure. The
// desktop backend comes from configuration; tests swap driverFactory for
// an in-memory driver.
func NewManager(cfg *config.Config, clients ClientProvider, eventRouter *events.Router, jnl *journal.Journal, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:           cfg,
		clients:       clients,
		events:        eventRouter,
		journal:       jnl,
		logger:        logger.Named("RunManager"),
		driverFactory: desktop.New,
		sem:           semaphore.NewWeighted(int64(cfg.Server.MaxConcurrentRuns)),
		runs:          make(map[string]*Run),
	}
}

// StartRun provisions a session and launches the agent loop for one
// instruction. Failures before the first event are returned synchronously
// so transports can map them to status codes; once a *Run is returned,
// all further outcomes arrive as events on its channel.
//
// The run's context derives from ctx, so an SSE consumer dropping its
// request context cancels the run. Cancellation by run ID works
// regardless of the parent.
func (m *Manager) StartRun(ctx context.Context, req RunRequest) (*Run, error) {
	if req.Instruction == "" {
		return nil, ErrEmptyInstruction
	}

	provider := m.cfg.LLM.Provider
	if req.Provider != "" {
		provider = config.LLMProvider(req.Provider)
	}

	if !m.sem.TryAcquire(1) {
		m.logger.Warn("Rejecting run, concurrency cap reached",
			zap.Int("max_concurrent_runs", m.cfg.Server.MaxConcurrentRuns),
		)
		return nil, ErrTooManyRuns
	}

	client, err := m.clients.Client(ctx, provider)
	if err != nil {
		m.sem.Release(1)
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, m.cfg.Agent.RunTimeout)

	session, err := NewSession(runCtx, m.driverFactory, m.cfg.Desktop, m.cfg.Display.Bounds, m.logger)
	if err != nil {
		cancel()
		m.sem.Release(1)
		return nil, err
	}

	run := &Run{
		ID:        uuid.New().String(),
		SandboxID: session.ID,
		events:    make(chan schemas.Event, runEventBuffer),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	if err := m.journal.StartRun(runCtx, journal.RunRecord{
		ID:          run.ID,
		Instruction: req.Instruction,
		Model:       m.cfg.LLM.ProviderFor(provider).Model,
		StartedAt:   time.Now(),
	}); err != nil {
		// The journal is an audit trail, never a gate on the run itself.
		m.logger.Warn("Failed to record run start", zap.String("run_id", run.ID), zap.Error(err))
	}

	m.logger.Info("Starting agent run",
		zap.String("run_id", run.ID),
		zap.String("sandbox_id", session.ID),
		zap.String("provider", string(provider)),
	)

	orchestrator := agent.NewOrchestrator(client, session.Dispatcher, m.cfg.Agent.MaxIterations, m.logger)
	systemPrompt := agent.BuildSystemPrompt(session.Scaler.Pair().Model, m.cfg.Agent.SystemPrompt)
	conversation := agent.SeedConversation(systemPrompt, req.Instruction)

	go m.pump(runCtx, run, session, orchestrator.Run(runCtx, conversation))

	return run, nil
}

// pump forwards the orchestrator's stream to the run channel and the
// event router, prepending the sandbox announcement and recording the
// terminal status. It owns all teardown for the run.
func (m *Manager) pump(ctx context.Context, run *Run, session *Session, stream <-chan schemas.Event) {
	defer close(run.done)
	defer func() {
		session.Close()
		m.events.ForgetRun(run.ID)
		m.mu.Lock()
		delete(m.runs, run.ID)
		m.mu.Unlock()
		m.sem.Release(1)
		run.cancel()
	}()
	defer close(run.events)

	created := session.Created()
	run.events <- created
	m.events.PublishBlind(run.ID, created)

	for ev := range stream {
		run.events <- ev
		m.events.PublishBlind(run.ID, ev)

		if ev.Terminal() {
			m.finishRun(run.ID, ev)
		}
	}
}

// finishRun stamps the run's terminal status in the journal. It runs on
// a fresh context because the run context is typically already done.
func (m *Manager) finishRun(runID string, ev schemas.Event) {
	status := journal.StatusForEvent(ev)
	m.logger.Info("Agent run finished",
		zap.String("run_id", runID),
		zap.String("status", status),
	)

	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := m.journal.FinishRun(ctx, runID, status, time.Now()); err != nil {
		m.logger.Warn("Failed to record run finish", zap.String("run_id", runID), zap.Error(err))
	}
}

// Cancel requests cancellation of a run by ID. It reports whether the
// run was active.
func (m *Manager) Cancel(runID string) bool {
	m.mu.Lock()
	run, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.logger.Info("Cancelling run on request", zap.String("run_id", runID))
	run.Cancel()
	return true
}

// ActiveRuns reports how many runs are currently live.
func (m *Manager) ActiveRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// StopAll cancels every active run and waits for them to tear down, or
// for ctx to expire. Used during graceful shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	active := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		active = append(active, run)
	}
	m.mu.Unlock()

	if len(active) == 0 {
		return
	}
	m.logger.Info("Stopping active runs", zap.Int("count", len(active)))

	for _, run := range active {
		run.Cancel()
	}
	for _, run := range active {
		select {
		case <-run.Done():
		case <-ctx.Done():
			m.logger.Warn("Timed out waiting for run to stop", zap.String("run_id", run.ID))
			return
		}
	}
}
