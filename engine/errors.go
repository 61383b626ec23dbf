package engine

import (
	"errors"
	"fmt"
)

// Run-level failures. A *RunError wraps exactly one of them.
var (
	ErrAcquisition = errors.New("repository acquisition failed")
	ErrBaseline    = errors.New("baseline validation failed")
	ErrDiscovery   = errors.New("issue discovery failed")
	ErrRestore     = errors.New("workspace restore failed")
	ErrCanceled    = errors.New("run canceled")
)

// Run stages, as reported in RunError.Stage.
const (
	StageAcquire  = "acquire"
	StageBaseline = "baseline"
	StageDiscover = "discover"
	StageIssues   = "issues"
)

// RunError aborts a run before or between issues.
type RunError struct {
	Stage string
	// Diagnostic carries validation output for baseline failures.
	Diagnostic string
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// DiagnosticOf returns the diagnostic attached to err, if any.
func DiagnosticOf(err error) string {
	var re *RunError
	if errors.As(err, &re) {
		return re.Diagnostic
	}
	return ""
}

func runError(stage string, sentinel, cause error) *RunError {
	if cause == nil {
		return &RunError{Stage: stage, Err: sentinel}
	}
	return &RunError{Stage: stage, Err: fmt.Errorf("%w: %w", sentinel, cause)}
}
