package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/internal/config"
	"github.com/xkilldash9x/operator-cli/internal/events"
	"github.com/xkilldash9x/operator-cli/internal/journal"
	"github.com/xkilldash9x/operator-cli/internal/llmclient"
	"github.com/xkilldash9x/operator-cli/internal/observability"
	"github.com/xkilldash9x/operator-cli/internal/server"
)

// newServeCmd creates the `serve` command, the long-running HTTP API.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent HTTP API server",
		Long: `Starts the HTTP server that accepts chat runs and streams agent
events over SSE and websocket. The server runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFromContext(cmd)
			logger := observability.GetLogger()

			// Command line flags beat config file and environment.
			if cmd.Flags().Changed("host") {
				cfg.Server.Host, _ = cmd.Flags().GetString("host")
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port, _ = cmd.Flags().GetInt("port")
			}

			components, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize server components: %w", err)
			}
			defer components.Shutdown(logger)

			srv := server.New(cfg, components.Manager, components.Journal, components.EventRouter, logger)
			return srv.Run(ctx)
		},
	}

	serveCmd.Flags().String("host", "", "Listen address. (Overrides config/env)")
	serveCmd.Flags().IntP("port", "p", 0, "Listen port. (Overrides config/env)")
	return serveCmd
}

// appComponents holds the services shared by the serve and run commands.
type appComponents struct {
	DBPool      *pgxpool.Pool
	Journal     *journal.Journal
	EventRouter *events.Router
	LLMRouter   *llmclient.Router
	Manager     *server.Manager
}

// Shutdown releases everything initializeComponents created. The event
// router is owned by whoever ran it and is not closed here.
func (c *appComponents) Shutdown(logger *zap.Logger) {
	if c.LLMRouter != nil {
		if err := c.LLMRouter.Close(); err != nil {
			logger.Warn("Error closing model clients", zap.Error(err))
		}
	}
	if c.DBPool != nil {
		c.DBPool.Close()
	}
	observability.Sync()
}

// initializeComponents handles dependency injection for agent runs.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*appComponents, error) {
	components := &appComponents{}

	// 1. Run journal. Optional: without it the agent still runs, events
	//    are just not persisted.
	if cfg.Journal.Enabled {
		if cfg.Journal.URL == "" {
			return nil, fmt.Errorf("journal is enabled but journal.url is not configured (OPERATOR_JOURNAL_URL)")
		}
		dbPool, err := pgxpool.New(ctx, cfg.Journal.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to journal database: %w", err)
		}
		components.DBPool = dbPool

		jnl, err := journal.New(ctx, dbPool, logger)
		if err != nil {
			components.Shutdown(logger)
			return nil, err
		}
		if err := jnl.EnsureSchema(ctx); err != nil {
			components.Shutdown(logger)
			return nil, err
		}
		components.Journal = jnl
	} else {
		components.Journal = journal.NewDisabled(logger)
	}

	// 2. Event fan-out.
	eventRouter, err := events.NewRouter(logger)
	if err != nil {
		components.Shutdown(logger)
		return nil, fmt.Errorf("failed to create event router: %w", err)
	}
	components.EventRouter = eventRouter

	// 3. Model clients, resolved lazily per provider.
	components.LLMRouter = llmclient.NewRouter(cfg.LLM, logger)

	// 4. Run manager.
	components.Manager = server.NewManager(cfg, components.LLMRouter, eventRouter, components.Journal, logger)

	return components, nil
}
