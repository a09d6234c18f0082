package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/journal"
	"github.com/xkilldash9x/operator-cli/internal/observability"
	"github.com/xkilldash9x/operator-cli/internal/server"
)

// newRunCmd creates the `run` command, a one-shot agent run from the
// terminal. Events print to stdout; logs go to stderr.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [instruction...]",
		Short: "Run a single agent task and stream its events to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFromContext(cmd)
			logger := observability.GetLogger()

			instruction := strings.Join(args, " ")
			provider, _ := cmd.Flags().GetString("provider")
			jsonOut, _ := cmd.Flags().GetBool("json")

			components, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown(logger)

			// 1. Event persistence. The sink is a no-op when the journal is
			//    disabled, so the wiring is unconditional.
			sink := journal.NewSink(components.Journal, logger)
			components.EventRouter.AddSink("journal", sink.Handle)

			routerCtx, cancelRouter := context.WithCancel(context.Background())
			defer cancelRouter()
			go func() {
				if err := components.EventRouter.Run(routerCtx); err != nil {
					logger.Error("Event router stopped unexpectedly", zap.Error(err))
				}
			}()
			select {
			case <-components.EventRouter.Running():
			case <-ctx.Done():
				return ctx.Err()
			}
			defer func() {
				if err := components.EventRouter.Close(); err != nil {
					logger.Warn("Failed to close event router", zap.Error(err))
				}
			}()

			sinkCtx, cancelSink := context.WithCancel(context.Background())
			sinkDone := make(chan struct{})
			go func() {
				defer close(sinkDone)
				sink.Run(sinkCtx)
			}()
			defer func() {
				cancelSink()
				<-sinkDone
			}()

			// 2. Start the run. Ctrl+C cancels ctx, which ends the run with
			//    a clean "stopped" event rather than an abort.
			run, err := components.Manager.StartRun(ctx, server.RunRequest{
				Instruction: instruction,
				Provider:    provider,
			})
			if err != nil {
				return fmt.Errorf("failed to start run: %w", err)
			}

			// 3. Stream events until the run ends.
			out := cmd.OutOrStdout()
			var terminal schemas.Event
			for ev := range run.Events() {
				if jsonOut {
					_, _ = out.Write(ev.Frame())
				} else {
					printEvent(out, ev)
				}
				if ev.Terminal() {
					terminal = ev
				}
			}
			<-run.Done()

			if terminal.Type == schemas.EventError {
				return fmt.Errorf("run failed: %s", terminal.Content)
			}
			return nil
		},
	}

	runCmd.Flags().String("provider", "", "LLM provider for this run (e.g. 'openai', 'anthropic'). (Overrides config/env)")
	runCmd.Flags().Bool("json", false, "Emit raw event frames instead of human readable output")
	return runCmd
}

// printEvent renders one event for a terminal.
func printEvent(w io.Writer, ev schemas.Event) {
	switch ev.Type {
	case schemas.EventSandboxCreated:
		fmt.Fprintf(w, "sandbox %s ready", ev.SandboxID)
		if ev.StreamURL != "" {
			fmt.Fprintf(w, " (watch: %s)", ev.StreamURL)
		}
		fmt.Fprintln(w)
	case schemas.EventReasoning:
		fmt.Fprintf(w, "[thinking] %s\n", ev.Content)
	case schemas.EventUpdate:
		fmt.Fprintln(w, ev.Content)
	case schemas.EventAction:
		if ev.Action != nil {
			fmt.Fprintf(w, "  -> %s\n", describeAction(*ev.Action))
		}
	case schemas.EventActionCompleted:
		// The completion of an action is implied by the next line.
	case schemas.EventDone:
		fmt.Fprintf(w, "\n%s\n", ev.Content)
	case schemas.EventError:
		fmt.Fprintf(w, "\nerror: %s\n", ev.Content)
	}
}

// describeAction summarizes an action in one line.
func describeAction(a schemas.Action) string {
	switch a.Type {
	case schemas.ActionClick:
		desc := fmt.Sprintf("%s click", a.Button)
		if a.ClickCount > 1 {
			desc = fmt.Sprintf("%s x%d", desc, a.ClickCount)
		}
		if a.Coordinate != nil {
			desc = fmt.Sprintf("%s at %s", desc, a.Coordinate)
		}
		return desc
	case schemas.ActionTypeText:
		text := a.Text
		if len(text) > 40 {
			text = text[:40] + "..."
		}
		return fmt.Sprintf("type %q", text)
	case schemas.ActionKeyPress:
		return "press " + strings.Join(a.Keys, "+")
	case schemas.ActionScroll:
		return fmt.Sprintf("scroll %s by %d", a.Direction, a.Amount)
	case schemas.ActionMove:
		if a.Coordinate != nil {
			return "move cursor to " + a.Coordinate.String()
		}
		return "move cursor"
	case schemas.ActionDrag:
		if a.Start != nil && a.End != nil {
			return fmt.Sprintf("drag %s to %s", a.Start, a.End)
		}
		return "drag"
	case schemas.ActionShellCommand:
		return "shell: " + a.Command
	case schemas.ActionWait:
		return fmt.Sprintf("wait %dms", a.DurationMs)
	case schemas.ActionUnknown:
		return "unknown tool " + a.RawName
	default:
		return string(a.Type)
	}
}
