package scheduler

import (
	"fmt"
	"sync"
	"time"
)

// RunStatus is the outcome of one scheduled cycle.
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusTimeout RunStatus = "timeout" // sensor never fired
	StatusFailed  RunStatus = "failed"
)

// Run describes one cycle.
type Run struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"` // schedule | manual | startup
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	RecordID   int64     `json:"record_id,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Duration returns how long the run took, or has taken so far.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Monitor keeps the last run for health reporting.
type Monitor struct {
	mu   sync.RWMutex
	last *Run
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) record(r Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &r
}

// LastRun returns the most recent run, if any.
func (m *Monitor) LastRun() (Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Run{}, false
	}
	return *m.last, true
}

// IsHealthy is false only when the last finished run failed. A sensor
// timeout just means the temperature held steady.
func (m *Monitor) IsHealthy() bool {
	last, ok := m.LastRun()
	if !ok {
		return true
	}
	return last.Status != StatusFailed
}

// StatusSummary returns a one-line description of the last run.
func (m *Monitor) StatusSummary() string {
	last, ok := m.LastRun()
	if !ok {
		return "no runs yet"
	}
	switch last.Status {
	case StatusSuccess:
		return fmt.Sprintf("last run %s succeeded at %s (record %d)", last.ID, last.FinishedAt.Format(time.RFC3339), last.RecordID)
	case StatusRunning:
		return fmt.Sprintf("run %s in progress since %s", last.ID, last.StartedAt.Format(time.RFC3339))
	default:
		return fmt.Sprintf("last run %s %s at %s: %s", last.ID, last.Status, last.FinishedAt.Format(time.RFC3339), last.Error)
	}
}
