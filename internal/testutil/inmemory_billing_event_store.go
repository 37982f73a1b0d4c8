package testutil

import (
	"context"

	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/types"
)

// InMemoryBillingEventStore implements billingevent.Repository
type InMemoryBillingEventStore struct {
	*InMemoryStore[*billingevent.BillingEvent]
}

func NewInMemoryBillingEventStore() *InMemoryBillingEventStore {
	return &InMemoryBillingEventStore{
		InMemoryStore: NewInMemoryStore[*billingevent.BillingEvent](),
	}
}

func (s *InMemoryBillingEventStore) ListByAccount(ctx context.Context, accountID string) ([]*billingevent.BillingEvent, error) {
	events := s.List(ctx, func(_ context.Context, e *billingevent.BillingEvent) bool {
		return e.AccountID == accountID
	}, nil)
	billingevent.Sort(events)
	return events, nil
}

// AddEvents stores events, generating missing ids
func (s *InMemoryBillingEventStore) AddEvents(events ...*billingevent.BillingEvent) {
	for _, e := range events {
		if e.ID == "" {
			e.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BILLING_EVENT)
		}
		_ = s.Create(context.Background(), e.ID, e)
	}
}
