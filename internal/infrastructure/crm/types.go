package crm

import (
	"encoding/json"
	"strings"
)

// customFieldValue is one entry of custom_fields_values
type customFieldValue struct {
	FieldID   int64  `json:"field_id"`
	FieldCode string `json:"field_code,omitempty"`
	Values    []struct {
		Value json.RawMessage `json:"value"`
	} `json:"values"`
}

// first returns the first value rendered as a string
func (f customFieldValue) first() string {
	if len(f.Values) == 0 {
		return ""
	}
	return rawString(f.Values[0].Value)
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return ""
	}
	return trimmed
}

type leadResponse struct {
	ID                 int64              `json:"id"`
	Name               string             `json:"name"`
	Price              json.Number        `json:"price"`
	StatusID           int64              `json:"status_id"`
	PipelineID         int64              `json:"pipeline_id"`
	CustomFieldsValues []customFieldValue `json:"custom_fields_values"`
	Embedded           struct {
		Contacts []struct {
			ID     int64 `json:"id"`
			IsMain bool  `json:"is_main"`
		} `json:"contacts"`
	} `json:"_embedded"`
}

type contactResponse struct {
	ID                 int64              `json:"id"`
	Name               string             `json:"name"`
	CustomFieldsValues []customFieldValue `json:"custom_fields_values"`
}

type linksResponse struct {
	Embedded struct {
		Links []struct {
			ToEntityID   int64  `json:"to_entity_id"`
			ToEntityType string `json:"to_entity_type"`
			Metadata     struct {
				Quantity  json.Number `json:"quantity"`
				CatalogID int64       `json:"catalog_id"`
			} `json:"metadata"`
		} `json:"links"`
	} `json:"_embedded"`
}

type catalogElementResponse struct {
	ID                 int64              `json:"id"`
	Name               string             `json:"name"`
	CatalogID          int64              `json:"catalog_id"`
	CustomFieldsValues []customFieldValue `json:"custom_fields_values"`
}

type fieldValue struct {
	Value any `json:"value"`
}

type fieldUpdate struct {
	FieldID int64        `json:"field_id"`
	Values  []fieldValue `json:"values"`
}

type leadPatch struct {
	StatusID           int64         `json:"status_id,omitempty"`
	PipelineID         int64         `json:"pipeline_id,omitempty"`
	CustomFieldsValues []fieldUpdate `json:"custom_fields_values,omitempty"`
}
