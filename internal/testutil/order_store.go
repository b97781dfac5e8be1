package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
)

// MemoryOrderStore is an in-memory fulfillment.OrderStore with the same
// version check and uniqueness rules as the GORM repository.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[int64]*fulfillment.Order
	saves  int
	// FailSave, when set, is returned by the next Save calls
	FailSave error
	// FailList, when set, is returned by every List call
	FailList error
}

// NewMemoryOrderStore creates an empty store
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[int64]*fulfillment.Order)}
}

// Put stores a copy of order without any checks
func (s *MemoryOrderStore) Put(order *fulfillment.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.LeadID] = cloneOrder(order)
}

// Get returns a copy of the stored order for leadID, or nil
func (s *MemoryOrderStore) Get(leadID int64) *fulfillment.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[leadID]; ok {
		return cloneOrder(o)
	}
	return nil
}

// Saves returns how many Save calls succeeded
func (s *MemoryOrderStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *MemoryOrderStore) FindByLeadID(_ context.Context, leadID int64) (*fulfillment.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[leadID]; ok {
		return cloneOrder(o), nil
	}
	return nil, shared.ErrNotFound
}

func (s *MemoryOrderStore) FindByTracker(_ context.Context, tracker string) (*fulfillment.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tracker == "" {
		return nil, shared.ErrNotFound
	}
	for _, o := range s.orders {
		if o.Tracker == tracker {
			return cloneOrder(o), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *MemoryOrderStore) Save(_ context.Context, order *fulfillment.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}

	if order.Tracker != "" {
		for lead, o := range s.orders {
			if lead != order.LeadID && o.Tracker == order.Tracker {
				return shared.ErrAlreadyExists
			}
		}
	}

	existing, ok := s.orders[order.LeadID]
	switch {
	case !ok:
		if order.Version < 1 {
			order.Version = 1
		}
	case existing.ID != order.ID:
		return shared.ErrAlreadyExists
	case existing.Version != order.Version:
		return shared.ErrConcurrencyConflict
	default:
		order.Version++
	}
	order.ClearItemsDirty()
	s.orders[order.LeadID] = cloneOrder(order)
	s.saves++
	return nil
}

func (s *MemoryOrderStore) ListWithTrackerNonTerminal(_ context.Context, afterLeadID int64, limit int) ([]*fulfillment.Order, error) {
	return s.list(afterLeadID, limit, func(o *fulfillment.Order) bool {
		return o.HasTracker() && !o.IsTerminal()
	})
}

func (s *MemoryOrderStore) ListWithoutTracker(_ context.Context, afterLeadID int64, limit int) ([]*fulfillment.Order, error) {
	return s.list(afterLeadID, limit, func(o *fulfillment.Order) bool {
		return !o.HasTracker()
	})
}

func (s *MemoryOrderStore) ListCrmPending(_ context.Context, afterLeadID int64, limit int) ([]*fulfillment.Order, error) {
	return s.list(afterLeadID, limit, func(o *fulfillment.Order) bool {
		return o.CrmSyncPending() ||
			(o.NeedsAnnouncement() && fulfillment.IsForwardProgress(fulfillment.PhaseCreated, o.CurrentPhase()))
	})
}

func (s *MemoryOrderStore) list(afterLeadID int64, limit int, keep func(*fulfillment.Order) bool) ([]*fulfillment.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailList != nil {
		return nil, s.FailList
	}

	out := make([]*fulfillment.Order, 0)
	for _, o := range s.orders {
		if o.LeadID > afterLeadID && keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeadID < out[j].LeadID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneOrder(o *fulfillment.Order) *fulfillment.Order {
	c := *o
	c.Items = append([]fulfillment.OrderItem(nil), o.Items...)
	c.ClearItemsDirty()
	return &c
}

var _ fulfillment.OrderStore = (*MemoryOrderStore)(nil)
