package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jxucoder/refactorgen/model"
	"github.com/jxucoder/refactorgen/oracle"
)

// --- fixtures ---

const calcPy = `import math


def add(a, b):
    return a - b


def area(r):
    return 3 * r * r


def mean(xs):
    total = 0
    for x in xs:
        total = total + x
    return total / len(xs)
`

const utilPy = `def clamp(x, lo, hi):
    if x < lo:
        return lo
    if x > hi:
        return hi
    return x


def dup():
    pass


def dup():
    pass
`

var (
	issueAdd  = model.Issue{FilePath: "app/calc.py", Snippet: "    return a - b\n", Description: "wrong operator", Language: "Python"}
	issueArea = model.Issue{FilePath: "app/calc.py", Snippet: "    return 3 * r * r\n", Description: "imprecise pi", Language: "Python"}
	issueMean = model.Issue{FilePath: "app/calc.py", Snippet: "    total = 0\n    for x in xs:\n        total = total + x\n", Description: "manual sum", Language: "Python"}
	issueDup  = model.Issue{FilePath: "app/util.py", Snippet: "def dup():\n    pass\n", Description: "duplicate definition", Language: "Python"}
	issueGone = model.Issue{FilePath: "app/util.py", Snippet: "def missing():\n", Description: "stale snippet", Language: "Python"}
)

// writeFixture creates a small repository and returns its root.
func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range map[string]string{
		"app/calc.py":      calcPy,
		"app/util.py":      utilPy,
		"requirements.txt": "pytest\n",
	} {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

// treeState returns every file in root keyed by relative path.
func treeState(t *testing.T, root string) map[string]string {
	t.Helper()
	state := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		state[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return state
}

// --- oracle ---

type step struct {
	replacement string
	err         error
	panicMsg    string
}

// fakeOracle scripts suggestions and corrections by snippet. Validation
// fails while any file in the tree contains "BUG".
type fakeOracle struct {
	mu sync.Mutex

	suggest map[string]step
	correct map[string]step

	// beforeSuggest runs at the start of every suggestion call.
	beforeSuggest func(snippet string)
	// beforeValidate runs at the start of every validation call.
	beforeValidate func(repoPath string)

	suggestCalls  map[string]int
	correctCalls  map[string]int
	validateCalls int
	diagnostics   map[string]string
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		suggest:      make(map[string]step),
		correct:      make(map[string]step),
		suggestCalls: make(map[string]int),
		correctCalls: make(map[string]int),
		diagnostics:  make(map[string]string),
	}
}

func (f *fakeOracle) ProposeSuggestion(_ context.Context, snippet string) (*oracle.Suggestion, error) {
	if f.beforeSuggest != nil {
		f.beforeSuggest(snippet)
	}
	f.mu.Lock()
	f.suggestCalls[snippet]++
	s, ok := f.suggest[snippet]
	f.mu.Unlock()
	if !ok {
		return nil, &oracle.Failure{Op: oracle.OpSuggest, Message: "no scripted suggestion"}
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &oracle.Suggestion{Replacement: s.replacement, Explanation: "scripted"}, nil
}

func (f *fakeOracle) ProposeCorrection(_ context.Context, snippet, _, diagnostic string) (*oracle.Correction, error) {
	f.mu.Lock()
	f.correctCalls[snippet]++
	f.diagnostics[snippet] = diagnostic
	s, ok := f.correct[snippet]
	f.mu.Unlock()
	if !ok {
		return nil, &oracle.Failure{Op: oracle.OpCorrect, Message: "no scripted correction"}
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &oracle.Correction{Replacement: s.replacement}, nil
}

func (f *fakeOracle) Validate(_ context.Context, repoPath string) oracle.ValidationResult {
	if f.beforeValidate != nil {
		f.beforeValidate(repoPath)
	}
	f.mu.Lock()
	f.validateCalls++
	f.mu.Unlock()

	var failing []string
	_ = filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err == nil && strings.Contains(string(data), "BUG") {
			rel, _ := filepath.Rel(repoPath, path)
			failing = append(failing, filepath.ToSlash(rel))
		}
		return nil
	})
	if len(failing) > 0 {
		sort.Strings(failing)
		return oracle.ValidationResult{Passed: false, Diagnostic: fmt.Sprintf("FAILED: %s", strings.Join(failing, ", "))}
	}
	return oracle.ValidationResult{Passed: true, Diagnostic: "all tests passed"}
}

func (f *fakeOracle) calls(snippet string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suggestCalls[snippet] + f.correctCalls[snippet]
}

// --- collaborators ---

// copyAcquirer "clones" by copying a fixture directory.
type copyAcquirer struct {
	mu       sync.Mutex
	src      string
	err      error
	block    chan struct{}
	acquired []string
	released []string
}

func (a *copyAcquirer) Acquire(ctx context.Context, _ string, dest string) error {
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if a.err != nil {
		return a.err
	}
	a.mu.Lock()
	a.acquired = append(a.acquired, dest)
	a.mu.Unlock()
	return filepath.WalkDir(a.src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(a.src, path)
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

func (a *copyAcquirer) Release(dest string) error {
	a.mu.Lock()
	a.released = append(a.released, dest)
	a.mu.Unlock()
	return os.RemoveAll(dest)
}

func (a *copyAcquirer) releasedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.released)
}

type staticDiscoverer struct {
	issues   []model.Issue
	err      error
	panicMsg string
	seen     []string
}

func (d *staticDiscoverer) Discover(_ context.Context, repoPath string) ([]model.Issue, error) {
	d.seen = append(d.seen, repoPath)
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	return d.issues, d.err
}

type stateEvent struct {
	seq   int
	state State
}

// recordingObserver keeps everything a run reports.
type recordingObserver struct {
	mu       sync.Mutex
	statuses []string
	states   map[int][]State
	timeline []stateEvent
	records  []model.StatusRecord
	onDone   func(rec model.StatusRecord)
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{states: make(map[int][]State)}
}

func (o *recordingObserver) RunStatus(_ string, msg string) {
	o.mu.Lock()
	o.statuses = append(o.statuses, msg)
	o.mu.Unlock()
}

func (o *recordingObserver) IssuesDiscovered(string, []model.Issue) {}

func (o *recordingObserver) IssueState(_ string, seq int, _ model.Issue, s State) {
	o.mu.Lock()
	o.states[seq] = append(o.states[seq], s)
	o.timeline = append(o.timeline, stateEvent{seq: seq, state: s})
	o.mu.Unlock()
}

func (o *recordingObserver) IssueDone(_ string, rec model.StatusRecord) {
	o.mu.Lock()
	o.records = append(o.records, rec)
	o.mu.Unlock()
	if o.onDone != nil {
		o.onDone(rec)
	}
}
