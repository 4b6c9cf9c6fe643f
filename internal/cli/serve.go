package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/kbflow/internal/adapters/webhook"
	"github.com/example/kbflow/internal/wire"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the KB workflow engine",
		Long: `Start the workflow engine: restore in-flight workflows from the
database, schedule the expiry and timeout sweeps, and listen for
case-resolved, thread-reply and approval events on the webhook surface.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := wire.Config()
			logger := wire.Logger()
			state := wire.StateService()
			orch := wire.OrchestrationService()

			if addr == "" {
				addr = cfg.ListenAddr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := state.LoadFromDatabase(ctx); err != nil {
				return fmt.Errorf("failed to restore workflows: %w", err)
			}
			state.StartSweep()
			defer state.Close()

			// The orchestrator's own sweep posts timeout notices; it runs
			// on the same cadence as the storage sweep but independently.
			sweepDone := make(chan struct{})
			ticker := time.NewTicker(cfg.SweepInterval())
			go func() {
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						orch.CleanupTimedOut(context.Background())
					case <-sweepDone:
						return
					}
				}
			}()
			defer close(sweepDone)

			server := &http.Server{
				Addr:    addr,
				Handler: webhook.NewServer(orch, wire.Conversations(), logger).Handler(),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("kbflow listening", "addr", addr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
