// Package storage archives raw webhook payloads in object storage.
package storage

import (
	"mime"
	"path"
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/google/uuid"
)

// DefaultPrefix is the key prefix used when none is configured
const DefaultPrefix = "webhooks"

// ObjectKey builds <prefix>/<source>/<yyyy>/<mm>/<dd>/<id>.<ext>
func ObjectKey(prefix string, source fulfillment.EventSource, contentType string, at time.Time, id uuid.UUID) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	at = at.UTC()
	return path.Join(
		strings.Trim(prefix, "/"),
		string(source),
		at.Format("2006"),
		at.Format("01"),
		at.Format("02"),
		id.String()+"."+extensionFor(contentType),
	)
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return "json"
	case mediaType == "application/x-www-form-urlencoded":
		return "form"
	case strings.HasPrefix(mediaType, "text/"):
		return "txt"
	default:
		return "bin"
	}
}
