package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/kbflow/internal/cli"
	"github.com/example/kbflow/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "kbflow",
		Short:   "kbflow - KB article workflow engine for resolved support cases",
		Version: version.String(),
		Long: `kbflow watches resolved support cases and decides whether enough
information exists to draft a knowledge-base article. When detail is
missing it gathers it interactively in the case thread, then drafts
the article and routes it for human approval.`,
	}

	// Add subcommands
	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.StatusCmd())
	rootCmd.AddCommand(cli.CleanupCmd())
	rootCmd.AddCommand(cli.DoctorCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
