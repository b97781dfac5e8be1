package storage

import (
	"context"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/google/uuid"
)

// StubPayloadArchive computes keys without storing anything. It stands in
// when archiving is disabled.
type StubPayloadArchive struct {
	Prefix string
}

// Ensure StubPayloadArchive implements PayloadArchive
var _ fulfillment.PayloadArchive = (*StubPayloadArchive)(nil)

// NewStubPayloadArchive creates a new StubPayloadArchive
func NewStubPayloadArchive() *StubPayloadArchive {
	return &StubPayloadArchive{Prefix: DefaultPrefix}
}

// Archive returns the key the payload would have been stored under
func (s *StubPayloadArchive) Archive(_ context.Context, source fulfillment.EventSource, contentType string, _ []byte) (string, error) {
	return ObjectKey(s.Prefix, source, contentType, time.Now(), uuid.New()), nil
}
