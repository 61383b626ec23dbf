// RefactorGen finds the most critical issue in each source file of a
// repository, asks an LLM for a fix and keeps only fixes that pass the
// project's own tests.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "refactorgen",
	Short: "RefactorGen - test-verified refactoring",
	Long: `RefactorGen finds issues in a repository, proposes fixes with an LLM and
keeps only the fixes that pass the project's tests.

  refactorgen serve                         Start the server
  refactorgen repair owner/repo             Repair a repository via the server
  refactorgen repair --local owner/repo     Repair in-process
  refactorgen repair --path ./checkout      Repair an existing checkout in place
  refactorgen optimize solution.py          Optimize a single snippet
  refactorgen runs list                     List runs
  refactorgen runs status <id>              Show a run report
  refactorgen runs logs <id> --follow       Stream run events
  refactorgen runs cancel <id>              Cancel a run`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("REFACTORGEN_SERVER", "http://localhost:7080"), "RefactorGen server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		errorColor.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
