package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/refactorgen/model"
	"github.com/jxucoder/refactorgen/oracle"
)

func processOne(t *testing.T, o *fakeOracle, root string, issue model.Issue) (model.StatusRecord, []State) {
	t.Helper()
	var states []State
	p := NewPipeline(o, func(_ int, _ model.Issue, s State) { states = append(states, s) })
	rec, err := p.Process(context.Background(), root, 1, issue)
	require.NoError(t, err)
	return rec, states
}

func TestVerifiedOnFirstAttempt(t *testing.T) {
	root := writeFixture(t)
	before := treeState(t, root)
	o := newFakeOracle()
	o.suggest[issueAdd.Snippet] = step{replacement: "    return a + b\n"}

	rec, states := processOne(t, o, root, issueAdd)

	assert.Equal(t, model.KindVerified, rec.Kind)
	require.Len(t, rec.Attempts, 1)
	require.NotNil(t, rec.Accepted)
	assert.Equal(t, "    return a + b\n", rec.Accepted.Replacement)
	assert.True(t, rec.Accepted.Passed)
	assert.Contains(t, rec.Accepted.Diff, "-    return a - b")
	assert.Contains(t, rec.Accepted.Diff, "+    return a + b")
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 1, rec.Seq)

	assert.Equal(t, 1, o.validateCalls)
	assert.Equal(t, 0, o.correctCalls[issueAdd.Snippet])
	assert.Equal(t, []State{StateStart, StateSuggested, StatePatched, StateValidated, StateReverted, StateDone}, states)
	assert.Equal(t, before, treeState(t, root), "tree must be restored after a verified patch")
}

func TestSuggestionFailureWritesNothing(t *testing.T) {
	root := writeFixture(t)
	path := filepath.Join(root, "app", "calc.py")
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, old, old))

	o := newFakeOracle()
	o.suggest[issueAdd.Snippet] = step{err: &oracle.Failure{Op: oracle.OpSuggest, Message: "timed out"}}

	rec, states := processOne(t, o, root, issueAdd)

	assert.Equal(t, model.KindSuggestionFailed, rec.Kind)
	assert.Contains(t, rec.Message, "timed out")
	assert.Empty(t, rec.Attempts)
	assert.Nil(t, rec.Accepted)
	assert.Equal(t, 0, o.validateCalls)
	assert.Equal(t, []State{StateStart, StateReverted, StateDone}, states)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(old), "file must not be written when no suggestion is available")
}

func TestIdenticalSuggestionIsRejected(t *testing.T) {
	root := writeFixture(t)
	o := newFakeOracle()
	o.suggest[issueAdd.Snippet] = step{replacement: issueAdd.Snippet}

	rec, _ := processOne(t, o, root, issueAdd)
	assert.Equal(t, model.KindSuggestionFailed, rec.Kind)
	assert.Equal(t, 0, o.validateCalls)
}

func TestVerifiedAfterCorrection(t *testing.T) {
	root := writeFixture(t)
	before := treeState(t, root)
	o := newFakeOracle()
	o.suggest[issueArea.Snippet] = step{replacement: "    return BUG * r * r\n"}
	o.correct[issueArea.Snippet] = step{replacement: "    return math.pi * r * r\n"}

	rec, states := processOne(t, o, root, issueArea)

	assert.Equal(t, model.KindVerifiedAfterCorrection, rec.Kind)
	require.Len(t, rec.Attempts, 2)
	assert.False(t, rec.Attempts[0].Passed)
	assert.Equal(t, "FAILED: app/calc.py", rec.Attempts[0].Diagnostic)
	assert.True(t, rec.Attempts[1].Passed)
	require.NotNil(t, rec.Accepted)
	assert.Equal(t, 2, rec.Accepted.Number)

	// The correction is applied to the pristine file, not on top of the first attempt.
	assert.Contains(t, rec.Attempts[1].Diff, "-    return 3 * r * r")
	assert.NotContains(t, rec.Attempts[1].Diff, "BUG")

	// The correction request carries the first validation diagnostic.
	assert.Equal(t, "FAILED: app/calc.py", o.diagnostics[issueArea.Snippet])
	assert.Equal(t, 2, o.validateCalls)
	assert.Equal(t, []State{
		StateStart, StateSuggested, StatePatched, StateValidated,
		StateCorrecting, StateRePatched, StateReValidated, StateReverted, StateDone,
	}, states)
	assert.Equal(t, before, treeState(t, root))
}

func TestRejectedWhenBothAttemptsFail(t *testing.T) {
	root := writeFixture(t)
	before := treeState(t, root)
	o := newFakeOracle()
	o.suggest[issueMean.Snippet] = step{replacement: "    total = BUG(xs)\n"}
	o.correct[issueMean.Snippet] = step{replacement: "    total = sum(xs) + BUG\n"}

	rec, _ := processOne(t, o, root, issueMean)

	assert.Equal(t, model.KindRejectedBothFailed, rec.Kind)
	assert.Len(t, rec.Attempts, 2)
	assert.Nil(t, rec.Accepted)
	assert.Equal(t, 1, o.suggestCalls[issueMean.Snippet])
	assert.Equal(t, 1, o.correctCalls[issueMean.Snippet])
	assert.Equal(t, before, treeState(t, root))
}

func TestCorrectionFailure(t *testing.T) {
	root := writeFixture(t)
	before := treeState(t, root)
	o := newFakeOracle()
	o.suggest[issueAdd.Snippet] = step{replacement: "    return BUG\n"}
	o.correct[issueAdd.Snippet] = step{err: &oracle.Failure{Op: oracle.OpCorrect, Message: "malformed response"}}

	rec, states := processOne(t, o, root, issueAdd)

	assert.Equal(t, model.KindCorrectionFailed, rec.Kind)
	assert.Len(t, rec.Attempts, 1)
	assert.Nil(t, rec.Accepted)
	assert.Equal(t, 1, o.validateCalls)
	assert.Equal(t, StateCorrecting, states[4])
	assert.Equal(t, before, treeState(t, root), "first attempt must be reverted")
}

func TestCorrectionEqualToSnippetIsRejected(t *testing.T) {
	root := writeFixture(t)
	o := newFakeOracle()
	o.suggest[issueAdd.Snippet] = step{replacement: "    return BUG\n"}
	o.correct[issueAdd.Snippet] = step{replacement: issueAdd.Snippet}

	rec, _ := processOne(t, o, root, issueAdd)
	assert.Equal(t, model.KindCorrectionFailed, rec.Kind)
	assert.Equal(t, 1, o.validateCalls)
}

func TestAmbiguousPatchTarget(t *testing.T) {
	tests := []struct {
		name  string
		issue model.Issue
	}{
		{"snippet occurs twice", issueDup},
		{"snippet absent", issueGone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeFixture(t)
			before := treeState(t, root)
			o := newFakeOracle()
			o.suggest[tt.issue.Snippet] = step{replacement: "pass\n"}

			rec, _ := processOne(t, o, root, tt.issue)

			assert.Equal(t, model.KindPatchTargetAmbiguous, rec.Kind)
			assert.Equal(t, 0, o.calls(tt.issue.Snippet), "no oracle call for an unusable anchor")
			assert.Equal(t, 0, o.validateCalls)
			assert.Equal(t, before, treeState(t, root))
		})
	}
}

func TestIOFailures(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing file", "app/missing.py"},
		{"directory", "app"},
		{"escapes tree", "../outside.py"},
		{"empty path", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeFixture(t)
			o := newFakeOracle()
			rec, states := processOne(t, o, root, model.Issue{FilePath: tt.path, Snippet: "x"})

			assert.Equal(t, model.KindIOFailed, rec.Kind)
			assert.NotEmpty(t, rec.Message)
			assert.Equal(t, 0, o.calls("x"))
			assert.Equal(t, []State{StateStart, StateDone}, states)
		})
	}
}

func TestAbsolutePathInsideTree(t *testing.T) {
	root := writeFixture(t)
	o := newFakeOracle()
	o.suggest[issueAdd.Snippet] = step{replacement: "    return a + b\n"}

	issue := issueAdd
	issue.FilePath = filepath.Join(root, "app", "calc.py")
	rec, _ := processOne(t, o, root, issue)
	assert.Equal(t, model.KindVerified, rec.Kind)
}

func TestPanicIsFaultedAndRestored(t *testing.T) {
	root := writeFixture(t)
	before := treeState(t, root)
	o := newFakeOracle()
	o.suggest[issueAdd.Snippet] = step{replacement: "    return BUG\n"}
	o.correct[issueAdd.Snippet] = step{panicMsg: "oracle exploded"}

	var rec model.StatusRecord
	require.NotPanics(t, func() {
		rec, _ = processOne(t, o, root, issueAdd)
	})
	assert.Equal(t, model.KindFaulted, rec.Kind)
	assert.Contains(t, rec.Message, "oracle exploded")
	assert.Equal(t, before, treeState(t, root), "file must be restored after a panic")
}

func TestRestoreFailureIsFatal(t *testing.T) {
	root := writeFixture(t)
	path := filepath.Join(root, "app", "calc.py")
	o := newFakeOracle()
	o.suggest[issueAdd.Snippet] = step{replacement: "    return a + b\n"}
	// Replace the file with a directory so the pristine bytes cannot be written back.
	o.beforeValidate = func(string) {
		_ = os.Remove(path)
		_ = os.Mkdir(path, 0o755)
	}

	p := NewPipeline(o, nil)
	_, err := p.Process(context.Background(), root, 1, issueAdd)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRestore))
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	got, err := resolvePath(root, "a/b.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b.py"), got)

	for _, bad := range []string{"../x.py", "a/../../x.py", ".", "/etc/passwd"} {
		_, err := resolvePath(root, bad)
		assert.Error(t, err, bad)
	}

	// A sibling directory sharing the root's prefix is still outside.
	_, err = resolvePath(root, root+"-other/x.py")
	assert.Error(t, err)
}
