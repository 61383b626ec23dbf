// Package store defines the persistence interface for runs, their status
// records and their events.
package store

import (
	"errors"

	"github.com/jxucoder/refactorgen/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunStore persists runs, per-issue status records and run events.
type RunStore interface {
	CreateRun(run *model.Run) error
	GetRun(id string) (*model.Run, error)
	ListRuns() ([]*model.Run, error)
	UpdateRun(run *model.Run) error

	// AddRecord appends one terminal status record to a run's report.
	AddRecord(runID string, rec *model.StatusRecord) error
	// GetRecords returns a run's records in input order.
	GetRecords(runID string) ([]model.StatusRecord, error)

	AddEvent(event *model.Event) error
	GetEvents(runID string, afterID int64) ([]*model.Event, error)

	Close() error
}
