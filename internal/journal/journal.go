// internal/journal/journal.go

// Package journal persists runs and their event streams to Postgres for
// diagnostics and replay. It is strictly an observer: when disabled or
// failing it logs and the run carries on.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Run lifecycle states stored in the runs table.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID          string
	Instruction string
	Model       string
	Status      string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// EventRecord is one row of the run_events table. Payload is the event's
// wire JSON, stored verbatim.
type EventRecord struct {
	RunID   string
	Seq     uint64
	Type    string
	Payload json.RawMessage
	At      time.Time
}

// Journal writes run metadata and events. A nil pool builds a disabled
// journal whose methods all succeed without touching a database.
type Journal struct {
	pool DBPool
	log  *zap.Logger
}

// New verifies the connection and returns a live journal.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Journal, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}
	return &Journal{
		pool: pool,
		log:  logger.Named("journal"),
	}, nil
}

// NewDisabled builds a journal that records nothing. Used when journalling
// is switched off so callers never need a nil check.
func NewDisabled(logger *zap.Logger) *Journal {
	log := logger.Named("journal")
	log.Warn("Run journal is disabled, events will not be persisted")
	return &Journal{log: log}
}

// Enabled reports whether this journal actually writes anywhere.
func (j *Journal) Enabled() bool { return j.pool != nil }

// EnsureSchema creates the journal tables when they do not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if !j.Enabled() {
		return nil
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			instruction TEXT NOT NULL,
			model TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			run_id UUID NOT NULL,
			seq BIGINT NOT NULL,
			type TEXT NOT NULL,
			payload JSONB NOT NULL,
			at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
	}
	for _, stmt := range statements {
		if _, err := j.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create journal schema: %w", err)
		}
	}
	return nil
}

// StartRun records the beginning of a run.
func (j *Journal) StartRun(ctx context.Context, run RunRecord) error {
	if !j.Enabled() {
		return nil
	}
	_, err := j.pool.Exec(ctx,
		`INSERT INTO runs (id, instruction, model, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Instruction, run.Model, StatusRunning, run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records a run's terminal state.
func (j *Journal) FinishRun(ctx context.Context, runID, status string, finishedAt time.Time) error {
	if !j.Enabled() {
		return nil
	}
	_, err := j.pool.Exec(ctx,
		`UPDATE runs SET status = $2, finished_at = $3 WHERE id = $1`,
		runID, status, finishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// AppendEvents writes a batch of events in one transaction via CopyFrom.
func (j *Journal) AppendEvents(ctx context.Context, records []EventRecord) error {
	if !j.Enabled() || len(records) == 0 {
		return nil
	}

	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed; that is
		// the normal path, not a failure worth logging.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			j.log.Error("Failed to rollback event batch", zap.Error(rollbackErr))
		}
	}()

	rows := make([][]interface{}, len(records))
	for i, rec := range records {
		payload := rec.Payload
		if len(payload) == 0 || string(payload) == "null" {
			payload = json.RawMessage("{}")
		}
		rows[i] = []interface{}{
			rec.RunID, int64(rec.Seq), rec.Type, payload, rec.At.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"run_events"},
		[]string{"run_id", "seq", "type", "payload", "at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy run events: %w", err)
	}
	if int(copyCount) != len(records) {
		return fmt.Errorf("mismatch in copied event count: expected %d, got %d", len(records), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit event batch: %w", err)
	}
	return nil
}

// ListRunEvents returns a run's recorded events in emission order.
func (j *Journal) ListRunEvents(ctx context.Context, runID string) ([]EventRecord, error) {
	if !j.Enabled() {
		return nil, nil
	}

	rows, err := j.pool.Query(ctx,
		`SELECT seq, type, payload, at FROM run_events WHERE run_id = $1 ORDER BY seq ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query run events: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var (
			rec EventRecord
			seq int64
		)
		if err := rows.Scan(&seq, &rec.Type, &rec.Payload, &rec.At); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		rec.RunID = runID
		rec.Seq = uint64(seq)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during event row iteration: %w", err)
	}

	return records, nil
}
