// Package model defines the core domain types shared across all RefactorGen packages.
// It has zero dependencies on other RefactorGen packages.
package model

import "time"

// Issue is one candidate defect location produced by discovery.
// It is read-only once created.
type Issue struct {
	FilePath    string `json:"file_path"`
	Snippet     string `json:"code_snippet"`
	Description string `json:"description"`
	Language    string `json:"language,omitempty"`
}

// StatusKind is the terminal outcome of processing one issue.
type StatusKind string

const (
	KindSuggestionFailed        StatusKind = "suggestion_failed"
	KindVerified                StatusKind = "verified"
	KindVerifiedAfterCorrection StatusKind = "verified_after_correction"
	KindCorrectionFailed        StatusKind = "correction_failed"
	KindRejectedBothFailed      StatusKind = "rejected_both_failed"
	// KindPatchTargetAmbiguous means the anchor snippet was absent or not
	// unique in the file at patch time. Validation never runs in this case.
	KindPatchTargetAmbiguous StatusKind = "patch_target_ambiguous"
	KindIOFailed             StatusKind = "io_failed"
	// KindFaulted means the pipeline recovered from an unexpected panic.
	KindFaulted StatusKind = "faulted"
)

// Verified reports whether the kind carries an accepted attempt.
func (k StatusKind) Verified() bool {
	return k == KindVerified || k == KindVerifiedAfterCorrection
}

// Label returns a short human-readable label for the kind.
func (k StatusKind) Label() string {
	switch k {
	case KindSuggestionFailed:
		return "Suggestion Failed"
	case KindVerified:
		return "Verified & Patched"
	case KindVerifiedAfterCorrection:
		return "Verified on 2nd Attempt"
	case KindCorrectionFailed:
		return "Correction Failed"
	case KindRejectedBothFailed:
		return "Rejected: Both patches failed tests"
	case KindPatchTargetAmbiguous:
		return "Patch Target Ambiguous"
	case KindIOFailed:
		return "I/O Failed"
	case KindFaulted:
		return "Faulted"
	default:
		return string(k)
	}
}

// Attempt is one applied candidate replacement and its validation outcome.
type Attempt struct {
	Number      int    `json:"number"` // 1 = suggestion, 2 = correction
	Replacement string `json:"replacement"`
	Explanation string `json:"explanation,omitempty"`
	Passed      bool   `json:"passed"`
	Diagnostic  string `json:"diagnostic,omitempty"`
	Diff        string `json:"diff,omitempty"`
}

// StatusRecord is the terminal, immutable outcome of one issue.
type StatusRecord struct {
	Seq      int        `json:"seq"`
	ID       string     `json:"id"`
	Issue    Issue      `json:"issue"`
	Kind     StatusKind `json:"status"`
	Attempts []Attempt  `json:"attempts,omitempty"`
	// Accepted is set only when Kind is verified or verified_after_correction.
	Accepted *Attempt `json:"solution,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Report is the ordered list of status records for one run, one per input
// issue, in input order.
type Report struct {
	RunID   string         `json:"run_id"`
	Locator string         `json:"locator"`
	Records []StatusRecord `json:"records"`
}

// Counts tallies records by kind.
func (r *Report) Counts() map[StatusKind]int {
	counts := make(map[StatusKind]int)
	for _, rec := range r.Records {
		counts[rec.Kind]++
	}
	return counts
}

// RunStatus represents the current state of a repair run.
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunError    RunStatus = "error"
	RunCanceled RunStatus = "canceled"
)

// Terminal reports whether the run will not change state again.
func (s RunStatus) Terminal() bool {
	return s == RunComplete || s == RunError || s == RunCanceled
}

// Run represents a single repair run against one repository.
type Run struct {
	ID         string    `json:"id"`
	Locator    string    `json:"locator"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	IssueCount int       `json:"issue_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Event represents a single event in a run's lifecycle.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"` // "status", "state", "record", "error", "done"
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// OptimizationResult is the outcome of a single-snippet optimization request.
type OptimizationResult struct {
	OptimizedCode      string `json:"optimized_code"`
	Explanation        string `json:"explanation"`
	OriginalComplexity string `json:"original_complexity"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

// TruncateHead keeps the last maxLen bytes of s. Test runners print the
// failure summary at the end, so the tail is what matters.
func TruncateHead(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return "...\n" + s[len(s)-maxLen:]
}
