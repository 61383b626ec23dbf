// Package engine runs the repair state machine for each discovered issue and
// coordinates whole repair runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/jxucoder/refactorgen/model"
	"github.com/jxucoder/refactorgen/oracle"
	"github.com/jxucoder/refactorgen/patch"
	"github.com/jxucoder/refactorgen/snapshot"
)

// State is a step of the per-issue state machine.
type State string

const (
	StateStart       State = "start"
	StateSuggested   State = "suggested"
	StatePatched     State = "patched"
	StateValidated   State = "validated"
	StateCorrecting  State = "correcting"
	StateRePatched   State = "repatched"
	StateReValidated State = "revalidated"
	StateReverted    State = "reverted"
	StateDone        State = "done"
)

// Oracle is what the engine needs from oracle.Gateway.
type Oracle interface {
	ProposeSuggestion(ctx context.Context, snippet string) (*oracle.Suggestion, error)
	ProposeCorrection(ctx context.Context, snippet, failed, diagnostic string) (*oracle.Correction, error)
	Validate(ctx context.Context, repoPath string) oracle.ValidationResult
}

// Pipeline processes one issue at a time against a live working tree.
// The file named by the issue is always restored before Process returns.
type Pipeline struct {
	oracle  Oracle
	onState func(seq int, issue model.Issue, state State)
	logger  *slog.Logger
}

// NewPipeline creates a Pipeline. onState may be nil.
func NewPipeline(o Oracle, onState func(seq int, issue model.Issue, state State)) *Pipeline {
	return &Pipeline{oracle: o, onState: onState, logger: slog.Default()}
}

// Process drives one issue to a terminal status record. The returned error is
// non-nil only when the file could not be restored, in which case the
// workspace can no longer be trusted.
func (p *Pipeline) Process(ctx context.Context, repoPath string, seq int, issue model.Issue) (rec model.StatusRecord, err error) {
	rec = model.StatusRecord{Seq: seq, ID: ulid.Make().String(), Issue: issue}
	log := p.logger.With("seq", seq, "file", issue.FilePath)
	p.enter(seq, issue, StateStart)

	path, perr := resolvePath(repoPath, issue.FilePath)
	if perr != nil {
		rec.Kind, rec.Message = model.KindIOFailed, perr.Error()
		p.enter(seq, issue, StateDone)
		return rec, nil
	}

	captured := false
	gerr := snapshot.Guard(path, func(snap *snapshot.Snapshot) error {
		captured = true
		defer func() {
			if r := recover(); r != nil {
				log.Error("Issue pipeline panicked", "panic", r)
				rec.Kind = model.KindFaulted
				rec.Accepted = nil
				rec.Message = fmt.Sprintf("panic: %v", r)
			}
			p.enter(seq, issue, StateReverted)
		}()
		p.run(ctx, repoPath, snap, &rec)
		return nil
	})
	switch {
	case !captured:
		rec.Kind, rec.Message = model.KindIOFailed, gerr.Error()
	case gerr != nil:
		log.Error("Failed to restore file", "error", gerr)
		err = fmt.Errorf("%w: %w", ErrRestore, gerr)
	}
	p.enter(seq, issue, StateDone)
	log.Info("Issue processed", "status", rec.Kind)
	return rec, err
}

func (p *Pipeline) run(ctx context.Context, repoPath string, snap *snapshot.Snapshot, rec *model.StatusRecord) {
	issue := rec.Issue
	pristine := snap.Content()

	if err := patch.Check(pristine, issue.Snippet); err != nil {
		rec.Kind, rec.Message = model.KindPatchTargetAmbiguous, err.Error()
		return
	}

	sugg, err := p.oracle.ProposeSuggestion(ctx, issue.Snippet)
	if err != nil {
		rec.Kind, rec.Message = model.KindSuggestionFailed, err.Error()
		return
	}
	if sugg.Replacement == issue.Snippet {
		rec.Kind, rec.Message = model.KindSuggestionFailed, "suggestion is identical to the original snippet"
		return
	}
	p.enter(rec.Seq, issue, StateSuggested)

	first, err := p.attempt(ctx, repoPath, snap, rec, 1, sugg.Replacement, sugg.Explanation)
	if err != nil {
		return
	}
	if first.Passed {
		rec.Kind = model.KindVerified
		rec.Accepted = &first
		return
	}

	p.enter(rec.Seq, issue, StateCorrecting)
	corr, err := p.oracle.ProposeCorrection(ctx, issue.Snippet, sugg.Replacement, first.Diagnostic)
	if err != nil {
		rec.Kind, rec.Message = model.KindCorrectionFailed, err.Error()
		return
	}
	if corr.Replacement == issue.Snippet {
		rec.Kind, rec.Message = model.KindCorrectionFailed, "correction is identical to the original snippet"
		return
	}

	second, err := p.attempt(ctx, repoPath, snap, rec, 2, corr.Replacement, "")
	if err != nil {
		return
	}
	if second.Passed {
		rec.Kind = model.KindVerifiedAfterCorrection
		rec.Accepted = &second
		return
	}
	rec.Kind, rec.Message = model.KindRejectedBothFailed, "both attempts failed validation"
}

// attempt applies replacement to the pristine content, writes it and
// validates the whole tree. On a patch or write failure it sets the terminal
// kind on rec and returns an error.
func (p *Pipeline) attempt(ctx context.Context, repoPath string, snap *snapshot.Snapshot, rec *model.StatusRecord, n int, replacement, explanation string) (model.Attempt, error) {
	patched, validated := StatePatched, StateValidated
	if n > 1 {
		patched, validated = StateRePatched, StateReValidated
	}

	pristine := snap.Content()
	candidate, err := patch.Apply(pristine, rec.Issue.Snippet, replacement)
	if err != nil {
		rec.Kind, rec.Message = model.KindPatchTargetAmbiguous, err.Error()
		return model.Attempt{}, err
	}
	diff, err := patch.UnifiedDiff(rec.Issue.FilePath, pristine, candidate)
	if err != nil {
		p.logger.Warn("Could not render diff", "file", rec.Issue.FilePath, "error", err)
	}
	if err := snap.Write(candidate); err != nil {
		rec.Kind, rec.Message = model.KindIOFailed, err.Error()
		return model.Attempt{}, err
	}
	p.enter(rec.Seq, rec.Issue, patched)

	res := p.oracle.Validate(ctx, repoPath)
	p.enter(rec.Seq, rec.Issue, validated)

	a := model.Attempt{
		Number:      n,
		Replacement: replacement,
		Explanation: explanation,
		Passed:      res.Passed,
		Diagnostic:  res.Diagnostic,
		Diff:        diff,
	}
	rec.Attempts = append(rec.Attempts, a)
	return a, nil
}

func (p *Pipeline) enter(seq int, issue model.Issue, s State) {
	if p.onState != nil {
		p.onState(seq, issue, s)
	}
}

var errOutsideRepo = errors.New("path escapes the working tree")

// resolvePath maps an issue path to an absolute path inside repoPath.
func resolvePath(repoPath, filePath string) (string, error) {
	if strings.TrimSpace(filePath) == "" {
		return "", fmt.Errorf("issue has no file path")
	}
	root, err := filepath.Abs(repoPath)
	if err != nil {
		return "", fmt.Errorf("resolving working tree: %w", err)
	}
	full := filepath.FromSlash(filePath)
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errOutsideRepo, filePath)
	}
	return full, nil
}
