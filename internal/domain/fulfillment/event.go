package fulfillment

import (
	"strconv"
	"strings"
)

// EventSource identifies the system a webhook came from
type EventSource string

const (
	SourceCRM     EventSource = "crm"
	SourceCarrier EventSource = "carrier"
)

// CRM webhook event kinds
const (
	CrmEventAdd       = "add"
	CrmEventStatus    = "status"
	CrmEventChat      = "chat"
	CrmEventCallIn    = "call_in"
	CrmEventMailIn    = "mail_in"
	CrmEventSiteVisit = "site_visit"
)

// CrmEventKinds lists the event keys walked in CRM webhook payloads
func CrmEventKinds() []string {
	return []string{CrmEventAdd, CrmEventStatus, CrmEventChat, CrmEventCallIn, CrmEventMailIn, CrmEventSiteVisit}
}

// BusinessEvent is one identifier extracted from a webhook payload. It is
// never persisted.
type BusinessEvent struct {
	Source     EventSource
	Kind       string
	ID         string
	LeadID     int64
	Tracker    string
	StatusCode string
	StatusName string
	Raw        map[string]any
}

// DedupKey derives the idempotency key: source, kind, identifier and status.
func (e BusinessEvent) DedupKey() string {
	id := e.ID
	if id == "" {
		switch e.Source {
		case SourceCarrier:
			id = e.Tracker
		default:
			id = strconv.FormatInt(e.LeadID, 10)
		}
	}
	return strings.Join([]string{string(e.Source), e.Kind, id, NormalizeCode(e.StatusCode)}, ":")
}
