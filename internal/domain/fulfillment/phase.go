package fulfillment

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Phase is a coarse lifecycle bucket derived from a carrier status code.
type Phase string

const (
	PhaseCreated        Phase = "CREATED"
	PhaseInTransit      Phase = "IN_TRANSIT"
	PhaseReadyForPickup Phase = "READY_FOR_PICKUP"
	PhaseDelivered      Phase = "DELIVERED"
	// PhaseUnknown is the sentinel for codes that do not resolve. It sits
	// outside the forward order and is terminal for scheduling.
	PhaseUnknown Phase = "NOT_FOUND_OR_UNKNOWN"
)

// StatusNotFound is the code gateways report when the carrier does not know
// the tracker.
const StatusNotFound = "NOT_FOUND"

var phaseRank = map[Phase]int{
	PhaseCreated:        1,
	PhaseInTransit:      2,
	PhaseReadyForPickup: 3,
	PhaseDelivered:      4,
}

// OrderedPhases returns the non-sentinel phases in lifecycle order.
func OrderedPhases() []Phase {
	return []Phase{PhaseCreated, PhaseInTransit, PhaseReadyForPickup, PhaseDelivered}
}

// IsValid reports whether p is one of the known phases, sentinel included.
func (p Phase) IsValid() bool {
	_, ok := phaseRank[p]
	return ok || p == PhaseUnknown
}

// IsTerminal reports whether orders in this phase no longer need polling.
func (p Phase) IsTerminal() bool {
	return p == PhaseDelivered || p == PhaseUnknown
}

// TerminalPhases lists the phases excluded from the shipment poll.
func TerminalPhases() []Phase {
	return []Phase{PhaseDelivered, PhaseUnknown}
}

type codeInfo struct {
	phase Phase
	label string
}

// Carrier status vocabulary. Anything absent here classifies as PhaseUnknown.
var statusCodes = map[string]codeInfo{
	"CREATED": {PhaseCreated, "Order created"},

	"ACCEPTED":                               {PhaseInTransit, "Accepted by carrier"},
	"RECEIVED_AT_SHIPMENT_WAREHOUSE":         {PhaseInTransit, "Received at sender warehouse"},
	"READY_TO_SHIP_AT_SENDING_OFFICE":        {PhaseInTransit, "Ready to ship at sending office"},
	"READY_FOR_SHIPMENT_IN_TRANSIT_CITY":     {PhaseInTransit, "Ready for shipment in transit city"},
	"READY_FOR_SHIPMENT_IN_SENDER_CITY":      {PhaseInTransit, "Ready for shipment in sender city"},
	"TAKEN_BY_TRANSPORTER_FROM_SENDER_CITY":  {PhaseInTransit, "Handed to transporter in sender city"},
	"SENT_TO_TRANSIT_CITY":                   {PhaseInTransit, "Sent to transit city"},
	"MET_AT_TRANSIT_CITY":                    {PhaseInTransit, "Arrived at transit city"},
	"ACCEPTED_AT_TRANSIT_WAREHOUSE":          {PhaseInTransit, "Accepted at transit warehouse"},
	"READY_TO_SHIP_IN_TRANSIT_OFFICE":        {PhaseInTransit, "Ready to ship from transit office"},
	"TAKEN_BY_TRANSPORTER_FROM_TRANSIT_CITY": {PhaseInTransit, "Handed to transporter in transit city"},
	"SENT_TO_SENDER_CITY":                    {PhaseInTransit, "Sent to sender city"},
	"MET_AT_SENDER_CITY":                     {PhaseInTransit, "Arrived at sender city"},
	"SENT_TO_RECIPIENT_CITY":                 {PhaseInTransit, "Sent to recipient city"},
	"MET_AT_RECIPIENT_CITY":                  {PhaseInTransit, "Arrived at recipient city"},
	"ACCEPTED_AT_RECIPIENT_CITY_WAREHOUSE":   {PhaseInTransit, "Accepted at recipient city warehouse"},
	"TAKEN_BY_COURIER":                       {PhaseInTransit, "Out for delivery"},
	"RETURNED_TO_RECIPIENT_CITY_WAREHOUSE":   {PhaseInTransit, "Returned to recipient city warehouse"},
	"IN_CUSTOMS_INTERNATIONAL":               {PhaseInTransit, "International customs clearance"},
	"SHIPPED_TO_DESTINATION":                 {PhaseInTransit, "Shipped to destination country"},
	"PASSED_TO_TRANSIT_CARRIER":              {PhaseInTransit, "Passed to transit carrier"},
	"IN_CUSTOMS_LOCAL":                       {PhaseInTransit, "Local customs clearance"},
	"CUSTOMS_COMPLETE":                       {PhaseInTransit, "Customs clearance complete"},

	"ACCEPTED_AT_PICK_UP_POINT": {PhaseReadyForPickup, "Ready for pickup"},
	"POSTOMAT_POSTED":           {PhaseReadyForPickup, "Placed in parcel locker"},

	"DELIVERED":         {PhaseDelivered, "Delivered"},
	"POSTOMAT_RECEIVED": {PhaseDelivered, "Collected from parcel locker"},

	StatusNotFound:    {PhaseUnknown, "Not found at carrier"},
	"INVALID":         {PhaseUnknown, "Invalid order"},
	"NOT_DELIVERED":   {PhaseUnknown, "Not delivered"},
	"POSTOMAT_SEIZED": {PhaseUnknown, "Withdrawn from parcel locker"},
}

// NormalizeCode upper-cases a status code and collapses whitespace and
// dashes into single underscores.
func NormalizeCode(code string) string {
	upper := cases.Upper(language.Und).String(strings.TrimSpace(code))
	fields := strings.FieldsFunc(upper, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// Classify maps a carrier status code to its lifecycle phase. It is total:
// blank or unrecognised codes yield PhaseUnknown.
func Classify(code string) Phase {
	info, ok := statusCodes[NormalizeCode(code)]
	if !ok {
		return PhaseUnknown
	}
	return info.phase
}

// IsForwardProgress reports whether to is strictly later than from.
// Moving to the sentinel is never forward; any known phase is forward of it.
func IsForwardProgress(from, to Phase) bool {
	if to == PhaseUnknown || !to.IsValid() {
		return false
	}
	if from == PhaseUnknown || !from.IsValid() {
		return true
	}
	return phaseRank[to] > phaseRank[from]
}

// HumanLabel returns a display label for a status code. Audit use only.
func HumanLabel(code string) string {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return "No status"
	}
	if info, ok := statusCodes[normalized]; ok {
		return info.label
	}
	return "Unknown status (" + normalized + ")"
}

// KnownCodes returns every code in the vocabulary.
func KnownCodes() []string {
	codes := make([]string, 0, len(statusCodes))
	for code := range statusCodes {
		codes = append(codes, code)
	}
	return codes
}
