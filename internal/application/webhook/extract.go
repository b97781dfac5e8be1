package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"reflect"
	"strings"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/nestedform"
	"github.com/go-playground/validator/v10"
)

// CarrierEventOrderStatus is the only carrier notification type dispatched
const CarrierEventOrderStatus = "ORDER_STATUS"

// ErrUnsupportedPayload is returned for bodies that are not a JSON object or a form
var ErrUnsupportedPayload = errors.New("webhook: payload must be a JSON object or a form")

var crmIDKeys = []string{"id", "lead_id", "element_id"}

// carrierNotification is the flattened carrier status notification
type carrierNotification struct {
	Type     string `json:"type" validate:"required"`
	UUID     string `json:"uuid"`
	Tracker  string `json:"cdek_number" validate:"required,max=32"`
	Code     string `json:"code" validate:"required,max=64"`
	Name     string `json:"name"`
	DateTime string `json:"status_date_time"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Use JSON tag names for field names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// IsJSON reports whether contentType announces a JSON body
func IsJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// Decode turns a webhook body into a tree: JSON objects when the content
// type says so, nested forms otherwise.
func Decode(contentType string, body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if IsJSON(contentType) || (contentType == "" && bytes.HasPrefix(trimmed, []byte("{"))) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		tree, ok := v.(map[string]any)
		if !ok {
			return nil, ErrUnsupportedPayload
		}
		return tree, nil
	}
	return nestedform.Decode(string(body)), nil
}

// ExtractCrmEvents walks the known CRM event kinds under "leads". Items
// without a usable lead id are returned as failures.
func ExtractCrmEvents(tree map[string]any) ([]fulfillment.BusinessEvent, []ProcessingResult) {
	var events []fulfillment.BusinessEvent
	var invalid []ProcessingResult

	leads, ok := nestedform.Lookup(tree, "leads")
	if !ok {
		return nil, nil
	}
	for _, kind := range fulfillment.CrmEventKinds() {
		node, ok := nestedform.Lookup(leads, kind)
		if !ok {
			continue
		}
		for _, item := range nestedform.Items(node) {
			ev := fulfillment.BusinessEvent{Source: fulfillment.SourceCRM, Kind: kind}
			if m, ok := item.(map[string]any); ok {
				ev.Raw = m
			}
			for _, key := range crmIDKeys {
				v, _ := nestedform.Lookup(item, key)
				if id, ok := nestedform.Int64(v); ok && id > 0 {
					ev.LeadID = id
					break
				}
			}
			if ev.LeadID == 0 {
				invalid = append(invalid, Failed(ev, "missing lead id"))
				continue
			}
			status, _ := nestedform.Lookup(item, "status_id")
			ev.StatusCode = nestedform.String(status)
			events = append(events, ev)
		}
	}
	return events, invalid
}

// ExtractCarrierEvent reads the single type/attributes notification. ok is
// false when the notification is not an order status change.
func ExtractCarrierEvent(tree map[string]any) (ev fulfillment.BusinessEvent, ok bool, err error) {
	str := func(keys ...string) string {
		v, _ := nestedform.Lookup(tree, keys...)
		return strings.TrimSpace(nestedform.String(v))
	}
	n := carrierNotification{
		Type:     str("type"),
		UUID:     str("uuid"),
		Tracker:  str("attributes", "cdek_number"),
		Code:     str("attributes", "code"),
		Name:     str("attributes", "name"),
		DateTime: str("attributes", "status_date_time"),
	}
	ev = fulfillment.BusinessEvent{
		Source:     fulfillment.SourceCarrier,
		Kind:       n.Type,
		Tracker:    fulfillment.NormalizeTracker(n.Tracker),
		StatusCode: n.Code,
		StatusName: n.Name,
		Raw:        tree,
	}
	if n.Type != "" && n.Type != CarrierEventOrderStatus {
		return ev, false, nil
	}
	if err := validate.Struct(n); err != nil {
		return ev, false, describe(err)
	}
	return ev, true, nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid notification: %s", strings.Join(parts, ", "))
}
