package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	refactorgen "github.com/jxucoder/refactorgen"
	"github.com/jxucoder/refactorgen/model"
)

var (
	optimizeLocal   bool
	optimizeVerbose bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize [file|-]",
	Short: "Suggest an asymptotically better version of a snippet",
	Long: `Send a single function to the oracle and print an optimized version with a
complexity analysis. Reads standard input when the file is "-" or omitted.

Example:
  refactorgen optimize two_sum.py
  pbpaste | refactorgen optimize --local`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOptimize,
}

func init() {
	optimizeCmd.Flags().BoolVar(&optimizeLocal, "local", false, "Call the oracle in-process instead of via the server")
	optimizeCmd.Flags().BoolVarP(&optimizeVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(optimizeCmd)
}

func runOptimize(cmd *cobra.Command, args []string) error {
	code, err := readSource(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	var res model.OptimizationResult
	if optimizeLocal {
		cfg, err := loadConfig(optimizeVerbose)
		if err != nil {
			return err
		}
		app, err := refactorgen.NewBuilder().WithConfig(*cfg).Build()
		if err != nil {
			return fmt.Errorf("building app: %w", err)
		}
		defer app.Close()
		out, err := app.Service().Optimize(cmd.Context(), code)
		if err != nil {
			return err
		}
		res = *out
	} else if err := apiCall(cmd.Context(), http.MethodPost, "/api/optimize", map[string]string{"code": code}, &res); err != nil {
		return err
	}

	printOptimization(cmd.OutOrStdout(), &res)
	return nil
}

func readSource(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", args[0], err)
	}
	return string(data), nil
}

func printOptimization(w io.Writer, res *model.OptimizationResult) {
	if res.OriginalComplexity != "" {
		headingColor.Fprint(w, "Original: ")
		fmt.Fprintln(w, res.OriginalComplexity)
	}
	if res.Explanation != "" {
		headingColor.Fprintln(w, "Explanation:")
		fmt.Fprintln(w, res.Explanation)
	}
	headingColor.Fprintln(w, "Optimized code:")
	okColor.Fprintln(w, res.OptimizedCode)
}
