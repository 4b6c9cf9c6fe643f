package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/kbflow/internal/db"
	"github.com/example/kbflow/internal/wire"
)

// DoctorCmd returns the doctor command
func DoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check kbflow configuration and connectivity prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := wire.Config()

			pass := color.New(color.FgHiGreen).Sprint("ok")
			fail := color.New(color.FgRed).Sprint("missing")

			check := func(name, value string) {
				if value != "" {
					fmt.Printf("  %-22s %s\n", name, pass)
				} else {
					fmt.Printf("  %-22s %s\n", name, fail)
				}
			}

			fmt.Println("kbflow doctor")
			fmt.Println()

			database, err := db.Open(cfg.DatabasePath)
			if err != nil {
				fmt.Printf("  %-22s %s (%v)\n", "database", fail, err)
			} else {
				fmt.Printf("  %-22s %s (%s)\n", "database", pass, cfg.DatabasePath)
				database.Close()
			}

			check("servicenow url", cfg.ServiceNowURL)
			check("servicenow username", cfg.ServiceNowUsername)
			check("servicenow password", cfg.ServiceNowPassword)
			check("slack bot token", cfg.SlackBotToken)
			check("llm url", cfg.LLMURL)
			check("llm key", cfg.LLMKey)

			fmt.Println()
			fmt.Printf("  gathering timeout: %s, sweep interval: %s\n", cfg.GatheringTimeout(), cfg.SweepInterval())
			return nil
		},
	}

	return cmd
}
