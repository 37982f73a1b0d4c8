// Package snapshot serves a usage computation from a JSON document holding
// the catalog, billing events, raw usage and already invoiced items of an
// account. It backs the snapshot run mode.
package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/catalog"
	"github.com/flexprice/usagebill/internal/domain/invoice"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/flexprice/usagebill/internal/validator"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is the input of a snapshot run
type Snapshot struct {
	AccountID  string    `json:"account_id" validate:"required"`
	InvoiceID  string    `json:"invoice_id"`
	TargetDate time.Time `json:"target_date" validate:"required"`

	DetailMode            types.UsageDetailMode `json:"detail_mode,omitempty"`
	InsertZeroAmountItems bool                  `json:"insert_zero_amount_items,omitempty"`
	DryRun                bool                  `json:"dry_run,omitempty"`

	Catalog             []*catalog.Version           `json:"catalog" validate:"required,min=1"`
	BillingEvents       []*billingevent.BillingEvent `json:"billing_events"`
	RawUsage            []*rawusage.RawUsageRecord   `json:"raw_usage"`
	ExistingUsageItems  []*invoice.InvoiceItem       `json:"existing_usage_items"`
	ExistingTrackingIDs []rawusage.TrackingRecordID  `json:"existing_tracking_ids"`
}

// Parse decodes a snapshot document
func Parse(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Snapshot is not valid JSON").
			Mark(ierr.ErrValidation)
	}
	if err := validator.ValidateRequest(&s); err != nil {
		return nil, err
	}
	for _, e := range s.BillingEvents {
		if e.AccountID == "" {
			e.AccountID = s.AccountID
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// Store exposes a snapshot through the repository interfaces. Items created
// during the run are kept in memory.
type Store struct {
	mu       sync.Mutex
	snapshot *Snapshot
	catalog  *catalog.StaticCatalog
	created  []*invoice.InvoiceItem
	tracking []rawusage.TrackingRecordID
}

func NewStore(s *Snapshot) (*Store, error) {
	c, err := catalog.NewStaticCatalog(s.Catalog...)
	if err != nil {
		return nil, err
	}
	return &Store{snapshot: s, catalog: c}, nil
}

func (s *Store) Catalog() catalog.Catalog {
	return s.catalog
}

func (s *Store) ListByAccount(_ context.Context, accountID string) ([]*billingevent.BillingEvent, error) {
	events := lo.Filter(s.snapshot.BillingEvents, func(e *billingevent.BillingEvent, _ int) bool {
		return e.AccountID == accountID
	})
	billingevent.Sort(events)
	return events, nil
}

func (s *Store) ListUsageItems(_ context.Context, accountID string) ([]*invoice.InvoiceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := append(append([]*invoice.InvoiceItem(nil), s.snapshot.ExistingUsageItems...), s.created...)
	return lo.Filter(items, func(i *invoice.InvoiceItem, _ int) bool {
		return (i.AccountID == "" || i.AccountID == accountID) &&
			(i.Type == "" || i.Type == types.InvoiceItemTypeUsage)
	}), nil
}

func (s *Store) ListTrackingIDs(_ context.Context, _ string) ([]rawusage.TrackingRecordID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(append([]rawusage.TrackingRecordID(nil), s.snapshot.ExistingTrackingIDs...), s.tracking...), nil
}

func (s *Store) CreateUsageItems(_ context.Context, items []*invoice.InvoiceItem, trackingIDs []rawusage.TrackingRecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, items...)
	s.tracking = append(s.tracking, trackingIDs...)
	return nil
}

// List returns the snapshot usage within the filter bounds
func (s *Store) List(_ context.Context, filter *rawusage.Filter) ([]*rawusage.RawUsageRecord, error) {
	return lo.Filter(s.snapshot.RawUsage, func(r *rawusage.RawUsageRecord, _ int) bool {
		if len(filter.SubscriptionIDs) > 0 && !lo.Contains(filter.SubscriptionIDs, r.SubscriptionID) {
			return false
		}
		if !filter.StartTime.IsZero() && r.RecordDate.Before(filter.StartTime) {
			return false
		}
		return filter.EndTime.IsZero() || !r.RecordDate.After(filter.EndTime)
	}), nil
}

var (
	_ billingevent.Repository = (*Store)(nil)
	_ invoice.Repository      = (*Store)(nil)
	_ rawusage.Repository     = (*Store)(nil)
)
