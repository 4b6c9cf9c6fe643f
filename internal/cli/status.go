package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/kbflow/internal/models"
	"github.com/example/kbflow/internal/wire"
)

// workflowStates lists every non-terminal state in display order.
var workflowStates = []string{
	models.StateAssessing,
	models.StateGathering,
	models.StateGenerating,
	models.StateAwaitingNotes,
	models.StatePendingApproval,
}

// StatusCmd returns the status command
func StatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show active KB workflows",
		Long: `Display every in-flight workflow grouped by state, with attempt
counts and idle time. Reads the persisted records, so it works
whether or not the engine is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			state := wire.StateService()
			if err := state.LoadFromDatabase(context.Background()); err != nil {
				return fmt.Errorf("failed to load workflows: %w", err)
			}

			total := 0
			now := time.Now()
			for _, st := range workflowStates {
				contexts := state.GetContextsInState(st)
				if len(contexts) == 0 {
					continue
				}
				fmt.Printf("%s (%d)\n", stateColor(st).Sprint(st), len(contexts))
				for _, wf := range contexts {
					idle := now.Sub(wf.LastUpdated).Round(time.Minute)
					line := fmt.Sprintf("  %s  thread=%s attempts=%d idle=%s", wf.CaseNumber, wf.ThreadID, wf.AttemptCount, idle)
					if wf.AssessmentScore != nil {
						line += fmt.Sprintf(" score=%.0f", *wf.AssessmentScore)
					}
					fmt.Println(line)
				}
				total += len(contexts)
			}

			if total == 0 {
				fmt.Println("No active workflows.")
			}
			return nil
		},
	}

	return cmd
}

func stateColor(state string) *color.Color {
	switch state {
	case models.StateGathering:
		return color.New(color.FgYellow)
	case models.StateGenerating:
		return color.New(color.FgHiBlue)
	case models.StatePendingApproval:
		return color.New(color.FgHiGreen)
	case models.StateAwaitingNotes:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}
