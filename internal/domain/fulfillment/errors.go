package fulfillment

import (
	"errors"

	"github.com/erp/fulfillment/internal/domain/shared"
)

// Domain errors
var (
	ErrInvalidLeadID          = shared.NewDomainError("INVALID_INPUT", "lead id must be positive")
	ErrInvalidTracker         = shared.NewDomainError("INVALID_INPUT", "tracking number is not valid")
	ErrInvalidOrderItem       = shared.NewDomainError("INVALID_INPUT", "order item requires a product name and quantity of at least 1")
	ErrTrackerAlreadySet      = shared.NewDomainError("TRACKER_ALREADY_SET", "order already has a different tracking number")
	ErrTrackerLinkedElsewhere = shared.NewDomainError("TRACKER_LINKED_ELSEWHERE", "tracking number belongs to another order")
)

// Gateway errors. Adapters wrap transport failures with these so callers can
// tell an upstream outage from a missing record.
var (
	ErrGatewayNotConfigured   = errors.New("fulfillment: gateway not configured")
	ErrGatewayUnavailable     = errors.New("fulfillment: gateway temporarily unavailable")
	ErrGatewayRequestFailed   = errors.New("fulfillment: gateway request failed")
	ErrGatewayInvalidResponse = errors.New("fulfillment: invalid gateway response")
	ErrGatewayAuthFailed      = errors.New("fulfillment: gateway authentication failed")
	ErrGatewayRateLimited     = errors.New("fulfillment: gateway rate limited")
)
