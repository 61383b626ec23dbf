package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/refactorgen/model"
	"github.com/jxucoder/refactorgen/oracle"
)

// scriptAll scripts one issue per scenario A, B, C, D and E.
func scriptAll(o *fakeOracle) []model.Issue {
	// A: verified on first attempt.
	o.suggest[issueAdd.Snippet] = step{replacement: "    return a + b\n"}
	// B: suggestion failure.
	o.suggest[issueArea.Snippet] = step{err: &oracle.Failure{Op: oracle.OpSuggest, Message: "rate limited"}}
	// C: verified after correction.
	o.suggest[issueMean.Snippet] = step{replacement: "    total = BUG\n"}
	o.correct[issueMean.Snippet] = step{replacement: "    total = sum(xs)\n"}
	// D: both fail.
	clamp := "    if x < lo:\n        return lo\n"
	o.suggest[clamp] = step{replacement: "    if BUG:\n        return lo\n"}
	o.correct[clamp] = step{replacement: "    if x <= lo BUG:\n        return lo\n"}
	// E: correction failure.
	ret := "    return x\n"
	o.suggest[ret] = step{replacement: "    return BUG\n"}

	return []model.Issue{
		issueAdd,
		issueArea,
		{FilePath: "app/calc.py", Snippet: issueMean.Snippet},
		{FilePath: "app/util.py", Snippet: clamp},
		{FilePath: "app/util.py", Snippet: ret},
		issueDup,
	}
}

func TestRunWithIDFullRun(t *testing.T) {
	fixture := writeFixture(t)
	o := newFakeOracle()
	issues := scriptAll(o)
	acq := &copyAcquirer{src: fixture}
	disc := &staticDiscoverer{issues: issues}
	obs := newRecordingObserver()
	workDir := t.TempDir()

	c := NewCoordinator(acq, disc, o, workDir, obs)
	report, err := c.RunWithID(context.Background(), "run1", "acme/widgets")
	require.NoError(t, err)

	assert.Equal(t, "run1", report.RunID)
	assert.Equal(t, "acme/widgets", report.Locator)
	require.Len(t, report.Records, len(issues))

	kinds := make([]model.StatusKind, len(report.Records))
	for i, rec := range report.Records {
		kinds[i] = rec.Kind
		assert.Equal(t, i+1, rec.Seq)
		assert.Equal(t, issues[i].Snippet, rec.Issue.Snippet, "records keep input order")
	}
	assert.Equal(t, []model.StatusKind{
		model.KindVerified,
		model.KindSuggestionFailed,
		model.KindVerifiedAfterCorrection,
		model.KindRejectedBothFailed,
		model.KindCorrectionFailed,
		model.KindPatchTargetAmbiguous,
	}, kinds)

	dest := filepath.Join(workDir, "run1")
	assert.Equal(t, []string{dest}, disc.seen)
	assert.Equal(t, []string{dest}, acq.released)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "working tree must be released")

	assert.Len(t, obs.records, len(issues))
	for seq, states := range obs.states {
		assert.Equal(t, StateDone, states[len(states)-1], "issue %d must end in done", seq)
	}
}

func TestAtMostTwoOracleCallsPerIssue(t *testing.T) {
	fixture := writeFixture(t)
	o := newFakeOracle()
	issues := scriptAll(o)

	c := NewCoordinator(nil, nil, o, "", nil)
	_, err := c.Process(context.Background(), "run1", fixture, issues)
	require.NoError(t, err)

	for _, issue := range issues {
		assert.LessOrEqual(t, o.calls(issue.Snippet), 2, issue.Snippet)
		assert.LessOrEqual(t, o.suggestCalls[issue.Snippet], 1)
		assert.LessOrEqual(t, o.correctCalls[issue.Snippet], 1)
	}
}

func TestRevertInvariantAndIsolation(t *testing.T) {
	root := writeFixture(t)
	pristine := treeState(t, root)
	o := newFakeOracle()
	issues := scriptAll(o)

	// Every suggestion must see a tree identical to the pristine one, so no
	// attempt from an earlier issue can leak into a later one.
	o.beforeSuggest = func(string) {
		assert.Equal(t, pristine, treeState(t, root))
	}

	obs := newRecordingObserver()
	c := NewCoordinator(nil, nil, o, "", obs)
	_, err := c.Process(context.Background(), "run1", root, issues)
	require.NoError(t, err)
	assert.Equal(t, pristine, treeState(t, root))

	// Every write of an issue happens after the restore of all earlier
	// issues and before its own restore.
	reverted := make(map[int]int)
	for i, ev := range obs.timeline {
		switch ev.state {
		case StateReverted:
			reverted[ev.seq] = i
		case StatePatched, StateRePatched:
			_, done := reverted[ev.seq]
			assert.False(t, done, "issue %d written after its restore", ev.seq)
			for seq := range ev.seq {
				if _, seen := obs.states[seq]; !seen {
					continue
				}
				at, ok := reverted[seq]
				assert.True(t, ok && at < i, "issue %d written before issue %d was restored", ev.seq, seq)
			}
		}
	}
	assert.Len(t, reverted, len(issues))
}

func TestRerunIsIdempotent(t *testing.T) {
	root := writeFixture(t)
	pristine := treeState(t, root)
	o := newFakeOracle()
	issues := scriptAll(o)
	c := NewCoordinator(nil, nil, o, "", nil)

	first, err := c.Process(context.Background(), "run1", root, issues)
	require.NoError(t, err)
	second, err := c.Process(context.Background(), "run2", root, issues)
	require.NoError(t, err)

	require.Len(t, second.Records, len(first.Records))
	for i := range first.Records {
		assert.Equal(t, first.Records[i].Kind, second.Records[i].Kind)
		assert.Equal(t, len(first.Records[i].Attempts), len(second.Records[i].Attempts))
	}
	assert.Equal(t, pristine, treeState(t, root))
}

func TestBaselineGate(t *testing.T) {
	fixture := writeFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(fixture, "broken_test.py"), []byte("assert BUG\n"), 0o644))

	o := newFakeOracle()
	issues := scriptAll(o)
	acq := &copyAcquirer{src: fixture}
	disc := &staticDiscoverer{issues: issues}

	c := NewCoordinator(acq, disc, o, t.TempDir(), nil)
	report, err := c.RunWithID(context.Background(), "run1", "acme/widgets")

	assert.Nil(t, report)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBaseline))
	assert.Equal(t, "FAILED: broken_test.py", DiagnosticOf(err))

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, StageBaseline, re.Stage)

	assert.Empty(t, disc.seen, "discovery must not run after a failed baseline")
	for _, issue := range issues {
		assert.Equal(t, 0, o.calls(issue.Snippet))
	}
	assert.Equal(t, 1, acq.releasedCount())
}

func TestAcquisitionFailure(t *testing.T) {
	acq := &copyAcquirer{err: errors.New("repository not found")}
	o := newFakeOracle()

	c := NewCoordinator(acq, &staticDiscoverer{}, o, t.TempDir(), nil)
	_, err := c.Run(context.Background(), "acme/missing")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAcquisition))
	assert.Contains(t, err.Error(), "repository not found")
	assert.Equal(t, 0, o.validateCalls)
}

func TestDiscoveryFailureReleases(t *testing.T) {
	acq := &copyAcquirer{src: writeFixture(t)}
	disc := &staticDiscoverer{err: errors.New("walk failed")}

	c := NewCoordinator(acq, disc, newFakeOracle(), t.TempDir(), nil)
	_, err := c.Run(context.Background(), "acme/widgets")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDiscovery))
	assert.Equal(t, 1, acq.releasedCount())
}

func TestDiscoveryPanicReleases(t *testing.T) {
	acq := &copyAcquirer{src: writeFixture(t)}
	disc := &staticDiscoverer{panicMsg: "scanner bug"}

	c := NewCoordinator(acq, disc, newFakeOracle(), t.TempDir(), nil)
	assert.PanicsWithValue(t, "scanner bug", func() {
		_, _ = c.Run(context.Background(), "acme/widgets")
	})
	assert.Equal(t, 1, acq.releasedCount())
}

func TestCancelBetweenIssues(t *testing.T) {
	fixture := writeFixture(t)
	o := newFakeOracle()
	issues := scriptAll(o)
	acq := &copyAcquirer{src: fixture}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := newRecordingObserver()
	obs.onDone = func(model.StatusRecord) { cancel() }

	c := NewCoordinator(acq, &staticDiscoverer{issues: issues}, o, t.TempDir(), obs)
	report, err := c.RunWithID(ctx, "run1", "acme/widgets")

	assert.Nil(t, report, "a canceled run has no partial report")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCanceled))
	assert.Len(t, obs.records, 1)
	assert.Equal(t, 0, o.calls(issues[1].Snippet))
	assert.Equal(t, 1, acq.releasedCount())
}

func TestCanceledBeforeStart(t *testing.T) {
	o := newFakeOracle()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCoordinator(nil, nil, o, "", nil)
	_, err := c.Process(ctx, "run1", writeFixture(t), []model.Issue{issueAdd})
	assert.True(t, errors.Is(err, ErrCanceled))
	assert.Equal(t, 0, o.validateCalls)
}

func TestRestoreFailureAbortsRun(t *testing.T) {
	root := writeFixture(t)
	path := filepath.Join(root, "app", "calc.py")
	o := newFakeOracle()
	o.suggest[issueAdd.Snippet] = step{replacement: "    return a + b\n"}
	o.suggest[issueArea.Snippet] = step{replacement: "    return 3.14 * r * r\n"}
	o.beforeValidate = func(string) {
		if o.validateCalls == 1 {
			_ = os.Remove(path)
			_ = os.Mkdir(path, 0o755)
		}
	}

	c := NewCoordinator(nil, nil, o, "", nil)
	report, err := c.Process(context.Background(), "run1", root, []model.Issue{issueAdd, issueArea})

	assert.Nil(t, report)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRestore))
	assert.Equal(t, 0, o.suggestCalls[issueArea.Snippet], "no issue may run on an untrusted tree")
}

func TestEmptyIssueList(t *testing.T) {
	c := NewCoordinator(nil, nil, newFakeOracle(), "", nil)
	report, err := c.Process(context.Background(), "run1", writeFixture(t), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Records)
}

func TestRepairUsesDiscovery(t *testing.T) {
	root := writeFixture(t)
	o := newFakeOracle()
	o.suggest[issueAdd.Snippet] = step{replacement: "    return a + b\n"}
	disc := &staticDiscoverer{issues: []model.Issue{issueAdd}}

	c := NewCoordinator(nil, disc, o, "", nil)
	report, err := c.Repair(context.Background(), "run1", root)
	require.NoError(t, err)
	require.Len(t, report.Records, 1)
	assert.Equal(t, model.KindVerified, report.Records[0].Kind)
	assert.Equal(t, []string{root}, disc.seen)
}

func TestCanceledDuringAcquisition(t *testing.T) {
	acq := &copyAcquirer{src: writeFixture(t), block: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCoordinator(acq, &staticDiscoverer{}, newFakeOracle(), t.TempDir(), nil)
	_, err := c.Run(ctx, "acme/widgets")
	assert.True(t, errors.Is(err, ErrCanceled))
	assert.False(t, errors.Is(err, ErrAcquisition))
}
