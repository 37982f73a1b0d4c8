package testutil

import (
	"context"
	"sync"

	"github.com/flexprice/usagebill/internal/domain/rawusage"
	"github.com/samber/lo"
)

type accountRecord struct {
	accountID string
	record    rawusage.RawUsageRecord
}

// InMemoryRawUsageStore implements rawusage.Repository
type InMemoryRawUsageStore struct {
	mu      sync.RWMutex
	records []accountRecord
	// Filters keeps every filter List was called with
	Filters []rawusage.Filter
}

func NewInMemoryRawUsageStore() *InMemoryRawUsageStore {
	return &InMemoryRawUsageStore{}
}

// AddRecords stores usage reported for accountID
func (s *InMemoryRawUsageStore) AddRecords(accountID string, records ...*rawusage.RawUsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records = append(s.records, accountRecord{accountID: accountID, record: *r})
	}
}

func (s *InMemoryRawUsageStore) List(ctx context.Context, filter *rawusage.Filter) ([]*rawusage.RawUsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Filters = append(s.Filters, *filter)

	seen := make(map[rawusage.TrackingKey]struct{})
	var result []*rawusage.RawUsageRecord
	for _, ar := range s.records {
		r := ar.record
		if ar.accountID != filter.AccountID {
			continue
		}
		if len(filter.SubscriptionIDs) > 0 && !lo.Contains(filter.SubscriptionIDs, r.SubscriptionID) {
			continue
		}
		if !filter.StartTime.IsZero() && r.RecordDate.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && r.RecordDate.After(filter.EndTime) {
			continue
		}
		key := rawusage.TrackingRecordID{
			TrackingID:     r.TrackingID,
			SubscriptionID: r.SubscriptionID,
			UnitType:       r.UnitType,
			RecordDate:     r.RecordDate,
		}.Key()
		if _, dup := seen[key]; dup && r.TrackingID != "" {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, &r)
	}
	return result, nil
}
