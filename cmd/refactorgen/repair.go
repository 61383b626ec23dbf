package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	refactorgen "github.com/jxucoder/refactorgen"
	"github.com/jxucoder/refactorgen/engine"
	"github.com/jxucoder/refactorgen/model"
)

var (
	repairLocal   bool
	repairPath    string
	repairDiffs   bool
	repairVerbose bool
)

var repairCmd = &cobra.Command{
	Use:   "repair [locator]",
	Short: "Find and repair issues in a repository",
	Long: `Repair a repository. The locator is a git URL, a local path or owner/repo.

By default the run is submitted to the server and its events are streamed.
With --local the run happens in this process. With --path an existing
checkout is repaired in place without cloning; every file is restored
afterwards.

Example:
  refactorgen repair acme/widgets
  refactorgen repair --local https://github.com/acme/widgets.git
  refactorgen repair --path ./widgets --diff`,
	Args: func(cmd *cobra.Command, args []string) error {
		if repairPath != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runRepair,
}

func init() {
	repairCmd.Flags().BoolVar(&repairLocal, "local", false, "Run in-process instead of on the server")
	repairCmd.Flags().StringVar(&repairPath, "path", "", "Repair an existing checkout in place")
	repairCmd.Flags().BoolVar(&repairDiffs, "diff", false, "Show diffs of accepted fixes")
	repairCmd.Flags().BoolVarP(&repairVerbose, "verbose", "v", false, "Enable debug logging")
	repairCmd.MarkFlagsMutuallyExclusive("local", "path")
	rootCmd.AddCommand(repairCmd)
}

func runRepair(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if repairLocal || repairPath != "" {
		return repairInProcess(ctx, args)
	}
	return repairRemote(ctx, args[0])
}

func repairRemote(ctx context.Context, locator string) error {
	var created struct {
		ID string `json:"id"`
	}
	if err := apiCall(ctx, http.MethodPost, "/api/runs", map[string]string{"locator": locator}, &created); err != nil {
		return err
	}
	fmt.Printf("Run %s started\n", created.ID)
	fmt.Printf("Streaming events...\n\n")

	err := streamEvents(ctx, created.ID, true)
	if ctx.Err() != nil {
		// Interrupted: ask the server to stop the run too.
		_ = apiCall(context.Background(), http.MethodPost, "/api/runs/"+created.ID+"/cancel", nil, nil)
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	v, err := fetchRun(ctx, created.ID)
	if err != nil {
		return err
	}
	fmt.Println()
	printReport(os.Stdout, v.Report, repairDiffs)
	return runFailure(v.Run)
}

func repairInProcess(ctx context.Context, args []string) error {
	cfg, err := loadConfig(repairVerbose)
	if err != nil {
		return err
	}
	app, err := refactorgen.NewBuilder().WithConfig(*cfg).Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}
	defer app.Close()

	var report *model.Report
	if repairPath != "" {
		abs, aerr := filepath.Abs(repairPath)
		if aerr != nil {
			return aerr
		}
		report, err = app.Coordinator().Repair(ctx, uuid.New().String()[:8], abs)
		if err == nil {
			report.Locator = abs
		}
	} else {
		report, err = app.Coordinator().Run(ctx, args[0])
	}
	if err != nil {
		return repairError(err)
	}

	printReport(os.Stdout, report, repairDiffs)
	return nil
}

func repairError(err error) error {
	if diag := engine.DiagnosticOf(err); diag != "" {
		fmt.Fprintln(os.Stderr, diag)
	}
	if errors.Is(err, engine.ErrBaseline) {
		return fmt.Errorf("the repository's tests fail before any change; fix them first: %w", err)
	}
	return err
}

func runFailure(run *model.Run) error {
	switch run.Status {
	case model.RunComplete:
		return nil
	case model.RunError:
		if run.Diagnostic != "" {
			fmt.Fprintln(os.Stderr, run.Diagnostic)
		}
		return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
	default:
		return fmt.Errorf("run %s ended %s", run.ID, run.Status)
	}
}
