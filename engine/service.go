package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jxucoder/refactorgen/eventbus"
	"github.com/jxucoder/refactorgen/model"
	"github.com/jxucoder/refactorgen/notify"
	"github.com/jxucoder/refactorgen/store"
)

// MinOptimizeLength is the shortest snippet Optimize accepts.
const MinOptimizeLength = 10

var (
	// ErrInvalidInput is returned for requests that fail basic checks.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRunNotActive is returned when canceling a run that is not running.
	ErrRunNotActive = errors.New("run is not active")
)

// Optimizer rewrites a single snippet. oracle.Gateway implements it.
type Optimizer interface {
	Optimize(ctx context.Context, code string) (*model.OptimizationResult, error)
}

// Metrics records run and issue outcomes. metrics.Metrics implements it.
type Metrics interface {
	RunStarted()
	RunFinished(status model.RunStatus)
	ObserveRecord(kind model.StatusKind)
}

// Config holds service-level settings.
type Config struct {
	// WorkspaceDir is the parent of every run's working tree.
	WorkspaceDir string
	// MaxConcurrentRuns bounds runs executing at once. Zero means 1.
	MaxConcurrentRuns int64
	// NotifyTimeout bounds a run-finished notification. Zero means 30s.
	NotifyTimeout time.Duration
}

// Service runs repairs in the background and records their progress.
type Service struct {
	config    Config
	store     store.RunStore
	bus       eventbus.Bus
	coord     *Coordinator
	optimizer Optimizer
	metrics   Metrics
	notifier  notify.Notifier
	sem       *semaphore.Weighted
	logger    *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a Service with all dependencies. metrics and notifier
// may be nil.
func NewService(
	cfg Config,
	st store.RunStore,
	bus eventbus.Bus,
	acq Acquirer,
	disc Discoverer,
	o Oracle,
	opt Optimizer,
	m Metrics,
	n notify.Notifier,
) *Service {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}
	if n == nil {
		n = notify.Nop{}
	}
	s := &Service{
		config:    cfg,
		store:     st,
		bus:       bus,
		optimizer: opt,
		metrics:   m,
		notifier:  n,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrentRuns),
		logger:    slog.Default(),
		cancels:   make(map[string]context.CancelFunc),
	}
	s.coord = NewCoordinator(acq, disc, o, cfg.WorkspaceDir, s)
	return s
}

// Start binds background runs to ctx. Call Stop to shut down.
func (s *Service) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Stop cancels every active run and waits for them to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Store returns the run store.
func (s *Service) Store() store.RunStore { return s.store }

// Bus returns the event bus.
func (s *Service) Bus() eventbus.Bus { return s.bus }

// CreateRun records a new run and starts it in the background.
func (s *Service) CreateRun(locator string) (*model.Run, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, fmt.Errorf("%w: locator is required", ErrInvalidInput)
	}

	id := uuid.New().String()[:8]
	now := time.Now().UTC()
	run := &model.Run{
		ID:        id,
		Locator:   locator,
		Status:    model.RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
			cancel()
		}()
		s.execute(ctx, run)
	}()

	created := *run
	return &created, nil
}

// CancelRun stops an active run between issues.
func (s *Service) CancelRun(id string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		if _, err := s.store.GetRun(id); err != nil {
			return err
		}
		return ErrRunNotActive
	}
	cancel()
	s.emitEvent(id, "status", "Cancellation requested")
	return nil
}

// GetReport returns a run and, once it has completed, its report. Runs that
// are still in flight or ended canceled or in error have no report.
func (s *Service) GetReport(id string) (*model.Run, *model.Report, error) {
	run, err := s.store.GetRun(id)
	if err != nil {
		return nil, nil, err
	}
	if run.Status != model.RunComplete {
		return run, nil, nil
	}
	recs, err := s.store.GetRecords(id)
	if err != nil {
		return nil, nil, fmt.Errorf("loading records: %w", err)
	}
	if recs == nil {
		recs = []model.StatusRecord{}
	}
	return run, &model.Report{RunID: run.ID, Locator: run.Locator, Records: recs}, nil
}

// Optimize rewrites a single snippet outside of any run.
func (s *Service) Optimize(ctx context.Context, code string) (*model.OptimizationResult, error) {
	if len(strings.TrimSpace(code)) < MinOptimizeLength {
		return nil, fmt.Errorf("%w: code must be at least %d characters", ErrInvalidInput, MinOptimizeLength)
	}
	if s.optimizer == nil {
		return nil, errors.New("no optimizer configured")
	}
	return s.optimizer.Optimize(ctx, code)
}

func (s *Service) execute(ctx context.Context, run *model.Run) {
	var (
		report *model.Report
		err    error
	)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Run panicked", "run", run.ID, "panic", r)
			report, err = nil, fmt.Errorf("internal error: %v", r)
		}
		s.finish(run, report, err)
	}()

	s.emitEvent(run.ID, "status", "Waiting for a free run slot...")
	if err = s.sem.Acquire(ctx, 1); err != nil {
		err = runError(StageAcquire, ErrCanceled, err)
		return
	}
	defer s.sem.Release(1)

	run.Status = model.RunRunning
	if uerr := s.store.UpdateRun(run); uerr != nil {
		s.logger.Error("Failed to update run", "run", run.ID, "error", uerr)
	}
	s.emitEvent(run.ID, "status", "Run started")
	if s.metrics != nil {
		s.metrics.RunStarted()
	}

	report, err = s.coord.RunWithID(ctx, run.ID, run.Locator)
}

func (s *Service) finish(run *model.Run, report *model.Report, err error) {
	wasRunning := run.Status == model.RunRunning
	if stored, gerr := s.store.GetRun(run.ID); gerr == nil {
		run.IssueCount = stored.IssueCount
	}
	switch {
	case err == nil:
		run.Status = model.RunComplete
		run.IssueCount = len(report.Records)
	case errors.Is(err, ErrCanceled):
		run.Status = model.RunCanceled
		run.Error = err.Error()
	default:
		run.Status = model.RunError
		run.Error = err.Error()
		run.Diagnostic = DiagnosticOf(err)
	}

	if uerr := s.store.UpdateRun(run); uerr != nil {
		s.logger.Error("Failed to update run", "run", run.ID, "error", uerr)
	}
	if s.metrics != nil {
		if !wasRunning {
			s.metrics.RunStarted()
		}
		s.metrics.RunFinished(run.Status)
	}

	if err != nil {
		s.logger.Warn("Run did not complete", "run", run.ID, "status", run.Status, "error", err)
		s.emitEvent(run.ID, "error", err.Error())
	} else {
		s.logger.Info("Run complete", "run", run.ID, "issues", run.IssueCount)
	}
	s.emitEvent(run.ID, "done", string(run.Status))

	ctx, cancel := context.WithTimeout(context.Background(), s.config.NotifyTimeout)
	defer cancel()
	if nerr := s.notifier.RunFinished(ctx, run, report); nerr != nil {
		s.logger.Warn("Run notification failed", "run", run.ID, "error", nerr)
	}
}

// --- Observer ---

func (s *Service) RunStatus(runID, msg string) {
	s.emitEvent(runID, "status", msg)
}

func (s *Service) IssuesDiscovered(runID string, issues []model.Issue) {
	run, err := s.store.GetRun(runID)
	if err != nil {
		s.logger.Error("Run not found while recording discovery", "run", runID, "error", err)
		return
	}
	run.IssueCount = len(issues)
	if err := s.store.UpdateRun(run); err != nil {
		s.logger.Error("Failed to update run", "run", runID, "error", err)
	}
	s.emitEvent(runID, "status", fmt.Sprintf("Discovered %d issues", len(issues)))
}

func (s *Service) IssueState(runID string, seq int, issue model.Issue, state State) {
	data, _ := json.Marshal(map[string]any{
		"seq":   seq,
		"file":  issue.FilePath,
		"state": state,
	})
	s.emitEvent(runID, "state", string(data))
}

func (s *Service) IssueDone(runID string, rec model.StatusRecord) {
	if err := s.store.AddRecord(runID, &rec); err != nil {
		s.logger.Error("Failed to store record", "run", runID, "seq", rec.Seq, "error", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveRecord(rec.Kind)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("Failed to encode record", "run", runID, "error", err)
		return
	}
	s.emitEvent(runID, "record", string(data))
}

func (s *Service) emitEvent(runID, eventType, data string) {
	event := &model.Event{
		RunID:     runID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AddEvent(event); err != nil {
		s.logger.Error("Error storing event", "run", runID, "error", err)
	}
	s.bus.Publish(runID, event)
}
