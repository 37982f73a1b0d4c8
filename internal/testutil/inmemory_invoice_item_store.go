package testutil

import (
	"context"
	"sync"

	"github.com/flexprice/usagebill/internal/domain/invoice"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/samber/lo"
)

// InMemoryInvoiceItemStore implements invoice.Repository
type InMemoryInvoiceItemStore struct {
	*InMemoryStore[*invoice.InvoiceItem]

	mu       sync.Mutex
	tracking map[string][]rawusage.TrackingRecordID
	// FailCreate makes CreateUsageItems fail when set
	FailCreate error
}

func NewInMemoryInvoiceItemStore() *InMemoryInvoiceItemStore {
	return &InMemoryInvoiceItemStore{
		InMemoryStore: NewInMemoryStore[*invoice.InvoiceItem](),
		tracking:      make(map[string][]rawusage.TrackingRecordID),
	}
}

func copyItem(item *invoice.InvoiceItem) *invoice.InvoiceItem {
	c := *item
	if item.ItemDetails != nil {
		c.ItemDetails = lo.ToPtr(*item.ItemDetails)
	}
	return &c
}

func (s *InMemoryInvoiceItemStore) ListUsageItems(ctx context.Context, accountID string) ([]*invoice.InvoiceItem, error) {
	items := s.List(ctx, func(_ context.Context, item *invoice.InvoiceItem) bool {
		return item.AccountID == accountID && item.Type == types.InvoiceItemTypeUsage
	}, func(i, j *invoice.InvoiceItem) bool {
		if !i.StartDate.Equal(j.StartDate) {
			return i.StartDate.Before(j.StartDate)
		}
		return i.ID < j.ID
	})
	return lo.Map(items, func(item *invoice.InvoiceItem, _ int) *invoice.InvoiceItem {
		return copyItem(item)
	}), nil
}

func (s *InMemoryInvoiceItemStore) ListTrackingIDs(ctx context.Context, accountID string) ([]rawusage.TrackingRecordID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rawusage.TrackingRecordID(nil), s.tracking[accountID]...), nil
}

func (s *InMemoryInvoiceItemStore) CreateUsageItems(ctx context.Context, items []*invoice.InvoiceItem, trackingIDs []rawusage.TrackingRecordID) error {
	if s.FailCreate != nil {
		return s.FailCreate
	}
	if len(items) == 0 && len(trackingIDs) == 0 {
		return nil
	}

	accountID := types.GetAccountID(ctx)
	for _, item := range items {
		if item.ID == "" {
			return ierr.NewError("invoice item id is required").
				Mark(ierr.ErrValidation)
		}
		if err := s.Create(ctx, item.ID, copyItem(item)); err != nil {
			return err
		}
		if accountID == "" {
			accountID = item.AccountID
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracking[accountID] = rawusage.Subtract(append(s.tracking[accountID], trackingIDs...), nil)
	return nil
}

// AddItems seeds already invoiced items
func (s *InMemoryInvoiceItemStore) AddItems(items ...*invoice.InvoiceItem) {
	for _, item := range items {
		_ = s.Create(context.Background(), item.ID, copyItem(item))
	}
}

// AddTrackingIDs seeds already billed raw usage of accountID
func (s *InMemoryInvoiceItemStore) AddTrackingIDs(accountID string, ids ...rawusage.TrackingRecordID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracking[accountID] = append(s.tracking[accountID], ids...)
}
