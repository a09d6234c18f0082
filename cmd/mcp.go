package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/internal/desktop"
	"github.com/xkilldash9x/operator-cli/internal/mcpserver"
	"github.com/xkilldash9x/operator-cli/internal/observability"
)

// newMCPCmd creates the `mcp` command, which exposes the desktop as MCP
// tools instead of running the built-in agent loop.
func newMCPCmd() *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the desktop as MCP tools",
		Long: `Provisions the configured desktop backend and exposes it as MCP
tools, so any MCP client can drive the desktop directly. With the stdio
transport the protocol runs over stdin/stdout and logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFromContext(cmd)
			logger := observability.GetLogger()

			transport, _ := cmd.Flags().GetString("transport")
			port, _ := cmd.Flags().GetInt("port")

			driver, err := desktop.New(ctx, cfg.Desktop, logger)
			if err != nil {
				return fmt.Errorf("failed to provision desktop: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := driver.Close(closeCtx); err != nil {
					logger.Warn("Failed to close desktop", zap.Error(err))
				}
			}()

			bridge := mcpserver.New(driver, Version, logger)
			return bridge.Serve(ctx, mcpserver.Config{
				Transport: transport,
				Port:      port,
			})
		},
	}

	mcpCmd.Flags().String("transport", mcpserver.TransportStdio, "MCP transport: stdio or streamable-http")
	mcpCmd.Flags().IntP("port", "p", 8371, "Listen port for the streamable-http transport")
	return mcpCmd
}
