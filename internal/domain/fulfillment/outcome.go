package fulfillment

import "fmt"

// OutcomeKind classifies the result of a reconciliation step
type OutcomeKind string

const (
	OutcomeApplied   OutcomeKind = "applied"
	OutcomeUnchanged OutcomeKind = "unchanged"
	OutcomeSkipped   OutcomeKind = "skipped"
)

// SkipReason explains a skipped outcome
type SkipReason string

const (
	SkipInvalidTracker         SkipReason = "invalid_tracker"
	SkipOrderNotFound          SkipReason = "order_not_found"
	SkipRegression             SkipReason = "regression"
	SkipTrackerAlreadySet      SkipReason = "tracker_already_set"
	SkipTrackerLinkedElsewhere SkipReason = "tracker_linked_elsewhere"
)

// Outcome is what reconcile and link operations report to their callers.
// Skips are outcomes, not errors.
type Outcome struct {
	Kind   OutcomeKind
	From   Phase
	To     Phase
	Reason SkipReason
	Code   string
	Order  *Order
}

// Applied reports a status transition from one phase to another
func Applied(from, to Phase) Outcome {
	return Outcome{Kind: OutcomeApplied, From: from, To: to}
}

// Unchanged reports that nothing material changed
func Unchanged(phase Phase) Outcome {
	return Outcome{Kind: OutcomeUnchanged, From: phase, To: phase}
}

// Skipped reports a deliberate no-op
func Skipped(reason SkipReason) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

// WithOrder attaches the order the outcome refers to
func (o Outcome) WithOrder(order *Order) Outcome {
	o.Order = order
	return o
}

// WithCode attaches the observed status code
func (o Outcome) WithCode(code string) Outcome {
	o.Code = code
	return o
}

// IsApplied reports an applied transition
func (o Outcome) IsApplied() bool { return o.Kind == OutcomeApplied }

// IsSkipped reports a skip
func (o Outcome) IsSkipped() bool { return o.Kind == OutcomeSkipped }

// Succeeded is true for applied and unchanged outcomes
func (o Outcome) Succeeded() bool { return o.Kind != OutcomeSkipped }

// EnteredTransit reports the first move into IN_TRANSIT, which triggers the
// tracker announcement.
func (o Outcome) EnteredTransit() bool {
	return o.Kind == OutcomeApplied && o.To == PhaseInTransit
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeApplied:
		return fmt.Sprintf("Applied(%s, %s)", o.From, o.To)
	case OutcomeSkipped:
		return fmt.Sprintf("Skipped(%s)", o.Reason)
	default:
		return "Unchanged"
	}
}
