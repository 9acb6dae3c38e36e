package models

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Failure records a fatal error with enough context to re-run the failed piece.
type Failure struct {
	Stage      string `json:"stage"`
	Collection string `json:"collection,omitempty"`
	Table      string `json:"table,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Stage, f.Message)
}

// RunSummary is the user-visible outcome of one migration run. Methods are
// safe for concurrent use while the run is in progress.
type RunSummary struct {
	mu sync.Mutex

	ID          uuid.UUID        `json:"id"`
	Status      RunStatus        `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
	TableCounts map[string]int64 `json:"table_counts"`
	Failures    []Failure        `json:"failures"`
}

func NewRunSummary() *RunSummary {
	return &RunSummary{
		ID:          uuid.New(),
		Status:      RunStatusRunning,
		StartedAt:   time.Now().UTC(),
		TableCounts: make(map[string]int64),
		Failures:    []Failure{},
	}
}

func (s *RunSummary) AddRows(table string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TableCounts[table] += n
}

func (s *RunSummary) AddFailure(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Message == "" && f.Err != nil {
		f.Message = f.Err.Error()
	}
	s.Failures = append(s.Failures, f)
}

// Finish stamps the end time and derives the final status.
func (s *RunSummary) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.FinishedAt = &now
	switch {
	case len(s.Failures) == 0:
		s.Status = RunStatusSucceeded
	case len(s.TableCounts) > 0:
		s.Status = RunStatusPartial
	default:
		s.Status = RunStatusFailed
	}
}

// Count returns the rows recorded for table.
func (s *RunSummary) Count(table string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TableCounts[table]
}

func (s *RunSummary) CurrentStatus() RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// Finished returns the end time, or nil while the run is in progress.
func (s *RunSummary) Finished() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinishedAt
}

// FailureList returns a copy of the recorded failures.
func (s *RunSummary) FailureList() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Failure{}, s.Failures...)
}

// Tables lists counted tables in name order.
func (s *RunSummary) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.TableCounts))
	for name := range s.TableCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Err combines every recorded failure, or returns nil.
func (s *RunSummary) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result *multierror.Error
	for _, f := range s.Failures {
		result = multierror.Append(result, f)
	}
	return result.ErrorOrNil()
}
