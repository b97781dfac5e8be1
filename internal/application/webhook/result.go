package webhook

import "github.com/erp/fulfillment/internal/domain/fulfillment"

// ResultStatus is the per-identifier processing status
type ResultStatus string

const (
	StatusProcessed ResultStatus = "processed"
	StatusSkipped   ResultStatus = "skipped"
	StatusDuplicate ResultStatus = "duplicate"
	StatusIgnored   ResultStatus = "ignored"
	StatusFailed    ResultStatus = "failed"
)

// ProcessingResult reports what happened to one identifier of a webhook
type ProcessingResult struct {
	Source  fulfillment.EventSource `json:"source"`
	Kind    string                  `json:"kind,omitempty"`
	Key     string                  `json:"key,omitempty"`
	LeadID  int64                   `json:"lead_id,omitempty"`
	Tracker string                  `json:"tracker,omitempty"`
	Status  ResultStatus            `json:"status"`
	Outcome string                  `json:"outcome,omitempty"`
	Reason  string                  `json:"reason,omitempty"`
}

// Failed reports a per-identifier failure
func Failed(ev fulfillment.BusinessEvent, reason string) ProcessingResult {
	r := newResult(ev, StatusFailed)
	r.Reason = reason
	return r
}

func newResult(ev fulfillment.BusinessEvent, status ResultStatus) ProcessingResult {
	return ProcessingResult{
		Source:  ev.Source,
		Kind:    ev.Kind,
		LeadID:  ev.LeadID,
		Tracker: ev.Tracker,
		Status:  status,
	}
}

// Summary counts results by status
func Summary(results []ProcessingResult) map[ResultStatus]int {
	counts := make(map[ResultStatus]int)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}
