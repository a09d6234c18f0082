// File: cmd/replay.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/config"
	"github.com/xkilldash9x/operator-cli/internal/journal"
	"github.com/xkilldash9x/operator-cli/internal/observability"
)

// runEventLister is the slice of the journal the replay command needs.
type runEventLister interface {
	ListRunEvents(ctx context.Context, runID string) ([]journal.EventRecord, error)
}

// journalProvider creates the journal backing a replay. The indirection
// lets tests inject a canned journal instead of a live database.
type journalProvider interface {
	// Create returns the journal, a cleanup function releasing its
	// resources, and an error if the journal cannot be reached.
	Create(ctx context.Context, cfg *config.Config) (runEventLister, func(), error)
}

// defaultJournalProvider connects to the real Postgres journal.
type defaultJournalProvider struct{}

func (p *defaultJournalProvider) Create(ctx context.Context, cfg *config.Config) (runEventLister, func(), error) {
	logger := observability.GetLogger()

	if !cfg.Journal.Enabled {
		return nil, nil, fmt.Errorf("the run journal is disabled (set journal.enabled or OPERATOR_JOURNAL_ENABLED)")
	}
	if cfg.Journal.URL == "" {
		return nil, nil, fmt.Errorf("journal is enabled but journal.url is not configured (OPERATOR_JOURNAL_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Journal.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}

	jnl, err := journal.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize journal: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Journal connection pool closed (via replay cleanup).")
	}
	return jnl, cleanup, nil
}

// newReplayCmd creates and configures the `replay` command.
func newReplayCmd(provider journalProvider) *cobra.Command {
	var jsonOut bool

	replayCmd := &cobra.Command{
		Use:   "replay <run-id>",
		Short: "Render a completed run's event stream from the journal",
		Long: `Fetches the recorded events of a past run from the Postgres journal and
renders them in emission order, either human-readable or as the raw
event frames the live stream would have carried.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := configFromContext(cmd)

			// Delegate to the testable core logic function.
			return runReplay(ctx, logger, cfg, args[0], jsonOut, provider, cmd.OutOrStdout())
		},
	}

	replayCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit raw event frames instead of human-readable lines")

	return replayCmd
}

// runReplay contains the core, testable logic for replaying a run.
func runReplay(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	runID string,
	jsonOut bool,
	provider journalProvider,
	w io.Writer,
) error {
	jnl, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize journal: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	records, err := jnl.ListRunEvents(ctx, runID)
	if err != nil {
		logger.Error("Failed to fetch run events", zap.Error(err), zap.String("run_id", runID))
		return fmt.Errorf("failed to fetch run events: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no recorded events for run %q", runID)
	}

	for _, rec := range records {
		ev, err := schemas.EventFromJSON(rec.Payload)
		if err != nil {
			// A single corrupt row should not abort the replay.
			logger.Warn("Skipping undecodable event record.",
				zap.String("run_id", runID),
				zap.Uint64("seq", rec.Seq),
				zap.Error(err),
			)
			continue
		}

		if jsonOut {
			if _, err := w.Write(ev.Frame()); err != nil {
				return fmt.Errorf("failed to write event frame: %w", err)
			}
			continue
		}
		printEvent(w, ev)
	}

	return nil
}
