package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PassKind names one of the periodic passes
type PassKind string

const (
	PassShipments PassKind = "shipments"
	PassUntracked PassKind = "untracked"
)

// PassStatus represents the result of a pass
type PassStatus string

const (
	PassStatusRunning PassStatus = "RUNNING"
	PassStatusSuccess PassStatus = "SUCCESS"
	PassStatusPartial PassStatus = "PARTIAL"
	PassStatusFailed  PassStatus = "FAILED"
)

// PassReport summarises one scheduler pass
type PassReport struct {
	ID          uuid.UUID  `json:"id"`
	Kind        PassKind   `json:"kind"`
	Status      PassStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Total     int `json:"total"`
	Applied   int `json:"applied"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Announced int `json:"announced"`
	Resynced  int `json:"resynced"`
}

func newPassReport(kind PassKind) *PassReport {
	return &PassReport{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    PassStatusRunning,
		StartedAt: time.Now(),
	}
}

// Complete closes the report, deriving the status from the counts
func (r *PassReport) Complete() {
	now := time.Now()
	r.CompletedAt = &now
	switch {
	case r.Failed == 0:
		r.Status = PassStatusSuccess
	case r.Failed < r.Total:
		r.Status = PassStatusPartial
	default:
		r.Status = PassStatusFailed
	}
}

// Fail closes the report for a pass that could not list its work
func (r *PassReport) Fail(err string) {
	now := time.Now()
	r.CompletedAt = &now
	r.Status = PassStatusFailed
	r.Error = err
}

// Duration is the wall time of a completed pass
func (r *PassReport) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// passHistory keeps the most recent reports, newest first
type passHistory struct {
	mu      sync.RWMutex
	reports []PassReport
	max     int
}

func newPassHistory(max int) *passHistory {
	if max <= 0 {
		max = 100
	}
	return &passHistory{reports: make([]PassReport, 0, max), max: max}
}

func (h *passHistory) add(r PassReport) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reports = append([]PassReport{r}, h.reports...)
	if len(h.reports) > h.max {
		h.reports = h.reports[:h.max]
	}
}

func (h *passHistory) list(limit int) []PassReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.reports) {
		limit = len(h.reports)
	}
	out := make([]PassReport, limit)
	copy(out, h.reports[:limit])
	return out
}
