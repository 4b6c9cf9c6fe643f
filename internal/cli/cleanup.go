package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/kbflow/internal/wire"
)

// CleanupCmd returns the cleanup command
func CleanupCmd() *cobra.Command {
	var notify bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Reclaim timed-out gathering workflows",
		Long: `Run the expiry sweep once: gathering workflows idle longer than the
configured timeout are removed from the store. With --notify the
orchestrator sweep runs instead, which also posts a timeout notice
to each affected thread.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			state := wire.StateService()
			if err := state.LoadFromDatabase(ctx); err != nil {
				return fmt.Errorf("failed to load workflows: %w", err)
			}

			var removed int
			if notify {
				removed = wire.OrchestrationService().CleanupTimedOut(ctx)
			} else {
				removed = state.CleanupExpired(ctx)
			}
			state.Close()

			fmt.Printf("Reclaimed %d timed-out workflow(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&notify, "notify", false, "post a timeout notice to each affected thread")
	return cmd
}
