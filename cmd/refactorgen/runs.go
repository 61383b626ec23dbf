package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jxucoder/refactorgen/model"
)

var (
	logsFollow  bool
	statusDiffs bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and manage runs on the server",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all runs",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var runsStatusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the status and report of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var runsLogsCmd = &cobra.Command{
	Use:   "logs [run-id]",
	Short: "View run events",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel [run-id]",
	Short: "Cancel a pending or running run",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	runsLogsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow event output")
	runsStatusCmd.Flags().BoolVar(&statusDiffs, "diff", false, "Show diffs of accepted fixes")
	runsCmd.AddCommand(runsListCmd, runsStatusCmd, runsLogsCmd, runsCancelCmd)
	rootCmd.AddCommand(runsCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	var runs []model.Run
	if err := apiCall(cmd.Context(), http.MethodGet, "/api/runs", nil, &runs); err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLOCATOR\tSTATUS\tISSUES\tCREATED")
	for _, r := range runs {
		locator := r.Locator
		if len(locator) > 50 {
			locator = locator[:47] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, locator, statusIcon(r.Status), r.IssueCount,
			r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	v, err := fetchRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	run := v.Run

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Locator:  %s\n", run.Locator)
	fmt.Printf("Status:   %s\n", statusIcon(run.Status))
	fmt.Printf("Issues:   %d\n", run.IssueCount)
	fmt.Printf("Created:  %s\n", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:  %s\n", run.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	if run.Error != "" {
		fmt.Printf("Error:    %s\n", run.Error)
	}
	if run.Diagnostic != "" {
		fmt.Printf("Diagnostic:\n%s\n", run.Diagnostic)
	}
	if v.Report != nil && len(v.Report.Records) > 0 {
		fmt.Println()
		printReport(os.Stdout, v.Report, statusDiffs)
	}
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	return streamEvents(cmd.Context(), args[0], logsFollow)
}

func runCancel(cmd *cobra.Command, args []string) error {
	if err := apiCall(cmd.Context(), http.MethodPost, "/api/runs/"+args[0]+"/cancel", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for run %s\n", args[0])
	return nil
}
