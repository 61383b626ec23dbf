package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/jxucoder/refactorgen/model"
)

// Acquirer materializes a repository for one run. workspace.Acquirer
// implements it.
type Acquirer interface {
	Acquire(ctx context.Context, locator, dest string) error
	Release(dest string) error
}

// Discoverer lists the issues to repair. discovery.Scanner implements it.
type Discoverer interface {
	Discover(ctx context.Context, repoPath string) ([]model.Issue, error)
}

// Observer receives progress from a run. All methods are called from the
// run's goroutine, in order.
type Observer interface {
	RunStatus(runID, msg string)
	IssuesDiscovered(runID string, issues []model.Issue)
	IssueState(runID string, seq int, issue model.Issue, state State)
	IssueDone(runID string, rec model.StatusRecord)
}

// NopObserver ignores all progress.
type NopObserver struct{}

func (NopObserver) RunStatus(string, string)                   {}
func (NopObserver) IssuesDiscovered(string, []model.Issue)     {}
func (NopObserver) IssueState(string, int, model.Issue, State) {}
func (NopObserver) IssueDone(string, model.StatusRecord)       {}

// Coordinator runs a whole repair: acquire, baseline gate, discovery and the
// sequential issue loop.
type Coordinator struct {
	acquirer   Acquirer
	discoverer Discoverer
	oracle     Oracle
	workDir    string
	observer   Observer
	logger     *slog.Logger
}

// NewCoordinator creates a Coordinator. Each run clones into
// workDir/<runID>. observer may be nil.
func NewCoordinator(acq Acquirer, disc Discoverer, o Oracle, workDir string, observer Observer) *Coordinator {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Coordinator{
		acquirer:   acq,
		discoverer: disc,
		oracle:     o,
		workDir:    workDir,
		observer:   observer,
		logger:     slog.Default(),
	}
}

// Run repairs the repository at locator under a fresh run ID.
func (c *Coordinator) Run(ctx context.Context, locator string) (*model.Report, error) {
	return c.RunWithID(ctx, uuid.New().String()[:8], locator)
}

// RunWithID acquires locator, repairs it and releases the working tree on
// every exit path.
func (c *Coordinator) RunWithID(ctx context.Context, runID, locator string) (*model.Report, error) {
	if c.acquirer == nil {
		return nil, runError(StageAcquire, ErrAcquisition, errors.New("no acquirer configured"))
	}
	dest := filepath.Join(c.workDir, runID)
	log := c.logger.With("run", runID)

	c.observer.RunStatus(runID, "Acquiring repository...")
	if err := c.acquirer.Acquire(ctx, locator, dest); err != nil {
		if ctx.Err() != nil {
			return nil, runError(StageAcquire, ErrCanceled, err)
		}
		log.Error("Acquisition failed", "locator", locator, "error", err)
		return nil, runError(StageAcquire, ErrAcquisition, err)
	}
	defer func() {
		if err := c.acquirer.Release(dest); err != nil {
			log.Warn("Failed to release working tree", "dest", dest, "error", err)
		}
	}()

	report, err := c.Repair(ctx, runID, dest)
	if report != nil {
		report.Locator = locator
	}
	return report, err
}

// Repair runs the baseline gate, discovery and the issue loop on an
// already-acquired tree. The tree is left as it was found.
func (c *Coordinator) Repair(ctx context.Context, runID, repoPath string) (*model.Report, error) {
	if err := c.baseline(ctx, runID, repoPath); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, runError(StageDiscover, ErrCanceled, err)
	}
	if c.discoverer == nil {
		return nil, runError(StageDiscover, ErrDiscovery, errors.New("no discoverer configured"))
	}
	c.observer.RunStatus(runID, "Discovering issues...")
	issues, err := c.discoverer.Discover(ctx, repoPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, runError(StageDiscover, ErrCanceled, err)
		}
		return nil, runError(StageDiscover, ErrDiscovery, err)
	}

	return c.loop(ctx, runID, repoPath, issues)
}

// Process runs the baseline gate and the issue loop for a given issue list on
// an already-acquired tree.
func (c *Coordinator) Process(ctx context.Context, runID, repoPath string, issues []model.Issue) (*model.Report, error) {
	if err := c.baseline(ctx, runID, repoPath); err != nil {
		return nil, err
	}
	return c.loop(ctx, runID, repoPath, issues)
}

func (c *Coordinator) baseline(ctx context.Context, runID, repoPath string) error {
	if err := ctx.Err(); err != nil {
		return runError(StageBaseline, ErrCanceled, err)
	}
	c.observer.RunStatus(runID, "Validating baseline...")
	res := c.oracle.Validate(ctx, repoPath)
	if !res.Passed {
		if ctx.Err() != nil {
			return runError(StageBaseline, ErrCanceled, ctx.Err())
		}
		c.logger.Warn("Baseline validation failed, aborting run", "run", runID)
		re := runError(StageBaseline, ErrBaseline, nil)
		re.Diagnostic = res.Diagnostic
		return re
	}
	return nil
}

func (c *Coordinator) loop(ctx context.Context, runID, repoPath string, issues []model.Issue) (*model.Report, error) {
	c.observer.IssuesDiscovered(runID, issues)
	c.observer.RunStatus(runID, fmt.Sprintf("Processing %d issues...", len(issues)))

	p := NewPipeline(c.oracle, func(seq int, issue model.Issue, s State) {
		c.observer.IssueState(runID, seq, issue, s)
	})
	p.logger = c.logger.With("run", runID)

	report := &model.Report{RunID: runID, Records: make([]model.StatusRecord, 0, len(issues))}
	for i, issue := range issues {
		if err := ctx.Err(); err != nil {
			c.logger.Info("Run canceled between issues", "run", runID, "processed", i)
			return nil, runError(StageIssues, ErrCanceled, err)
		}

		rec, err := p.Process(ctx, repoPath, i+1, issue)
		if err != nil {
			return nil, runError(StageIssues, err, nil)
		}
		report.Records = append(report.Records, rec)
		c.observer.IssueDone(runID, rec)
	}
	return report, nil
}
