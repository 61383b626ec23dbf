// Package validate runs a repository's own test suite as the acceptance check
// for a candidate patch.
package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jxucoder/refactorgen/model"
)

// SkippedDiagnostic is returned when no test runner is recognized.
const SkippedDiagnostic = "skipped: no recognized test runner"

const (
	// DefaultTimeout bounds one full validation.
	DefaultTimeout = 10 * time.Minute
	// DefaultMaxOutput caps the diagnostic; the tail is kept.
	DefaultMaxOutput = 16 * 1024
)

// markerFiles are the project files DetectCommands looks at.
var markerFiles = []string{
	"go.mod", "package.json", "Cargo.toml",
	"requirements.txt", "pyproject.toml", "setup.py",
	"Makefile",
	".eslintrc.js", ".eslintrc.json", "eslint.config.js", "eslint.config.mjs",
}

// Runner executes the validation procedure for a repository.
type Runner struct {
	// Command overrides detection when set. It runs through sh -c.
	Command   string
	Timeout   time.Duration
	MaxOutput int
	// Lint also runs the detected linter after the tests.
	Lint   bool
	Logger *slog.Logger
}

// NewRunner creates a Runner with default limits.
func NewRunner(command string, timeout time.Duration, maxOutput int) *Runner {
	return &Runner{Command: command, Timeout: timeout, MaxOutput: maxOutput}
}

// DetectCommands returns shell commands to run tests and, optionally,
// linting based on which project files exist.
func DetectCommands(existingFiles map[string]bool, lint bool) []string {
	var cmds []string

	// Test commands.
	switch {
	case existingFiles["go.mod"]:
		cmds = append(cmds, "go test ./... 2>&1")
	case existingFiles["package.json"]:
		cmds = append(cmds, "npm test --if-present 2>&1")
	case existingFiles["Cargo.toml"]:
		cmds = append(cmds, "cargo test 2>&1")
	case existingFiles["requirements.txt"] || existingFiles["pyproject.toml"] || existingFiles["setup.py"]:
		cmds = append(cmds, "python -m pytest 2>&1 || python -m unittest discover 2>&1")
	case existingFiles["Makefile"]:
		cmds = append(cmds, "make test 2>&1")
	}

	if !lint {
		return cmds
	}

	// Lint commands.
	switch {
	case existingFiles["go.mod"]:
		cmds = append(cmds, "go vet ./... 2>&1")
	case existingFiles[".eslintrc.js"] || existingFiles[".eslintrc.json"] || existingFiles["eslint.config.js"] || existingFiles["eslint.config.mjs"]:
		cmds = append(cmds, "npx eslint . 2>&1")
	}

	return cmds
}

// Commands returns what Validate would run for repoPath.
func (r *Runner) Commands(repoPath string) []string {
	if strings.TrimSpace(r.Command) != "" {
		return []string{r.Command}
	}
	existing := make(map[string]bool, len(markerFiles))
	for _, name := range markerFiles {
		if fi, err := os.Stat(filepath.Join(repoPath, name)); err == nil && !fi.IsDir() {
			existing[name] = true
		}
	}
	return DetectCommands(existing, r.Lint)
}

// Validate runs every command in order and stops at the first failure.
// It implements oracle.Validator.
func (r *Runner) Validate(ctx context.Context, repoPath string) (bool, string) {
	cmds := r.Commands(repoPath)
	if len(cmds) == 0 {
		r.logger().Info("No test runner detected, skipping validation", "repo", repoPath)
		return true, SkippedDiagnostic
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var all strings.Builder
	for _, c := range cmds {
		start := time.Now()
		out, err := r.run(ctx, repoPath, c)
		all.WriteString(out)

		if ctx.Err() != nil {
			r.logger().Warn("Validation timed out", "repo", repoPath, "command", c, "timeout", timeout)
			return false, r.clip(fmt.Sprintf("%s\nvalidation aborted: %v (timeout %s)", all.String(), ctx.Err(), timeout))
		}
		if err != nil {
			r.logger().Info("Validation failed", "repo", repoPath, "command", c, "duration", time.Since(start), "error", err)
			return false, r.clip(fmt.Sprintf("%s\n%s: %v", all.String(), c, err))
		}
		r.logger().Debug("Validation command passed", "repo", repoPath, "command", c, "duration", time.Since(start))
	}
	return true, r.clip(all.String())
}

func (r *Runner) run(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.WaitDelay = 5 * time.Second

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return buf.String(), fmt.Errorf("exit status %d", exitErr.ExitCode())
	}
	return buf.String(), err
}

func (r *Runner) clip(s string) string {
	limit := r.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	return model.TruncateHead(s, limit)
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
