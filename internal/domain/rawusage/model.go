package rawusage

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RawUsageRecord is one usage fact reported for a subscription
type RawUsageRecord struct {
	SubscriptionID string          `json:"subscription_id" ch:"subscription_id"`
	UnitType       string          `json:"unit_type" ch:"unit_type"`
	Amount         decimal.Decimal `json:"amount" ch:"amount"`
	RecordDate     time.Time       `json:"record_date" ch:"record_date"`
	// TrackingID is the idempotency key of the record at its source
	TrackingID string `json:"tracking_id" ch:"tracking_id"`
}

// sortKey is the total order records are consumed in
type sortKey struct {
	subscriptionID string
	recordDate     time.Time
	unitType       string
	amount         decimal.Decimal
	trackingID     string
}

func (r *RawUsageRecord) key() sortKey {
	return sortKey{
		subscriptionID: r.SubscriptionID,
		recordDate:     r.RecordDate,
		unitType:       r.UnitType,
		amount:         r.Amount,
		trackingID:     r.TrackingID,
	}
}

func (k sortKey) less(o sortKey) bool {
	if k.subscriptionID != o.subscriptionID {
		return k.subscriptionID < o.subscriptionID
	}
	if !k.recordDate.Equal(o.recordDate) {
		return k.recordDate.Before(o.recordDate)
	}
	if k.unitType != o.unitType {
		return k.unitType < o.unitType
	}
	if c := k.amount.Cmp(o.amount); c != 0 {
		return c < 0
	}
	return k.trackingID < o.trackingID
}

// Sort orders records by subscription, date, unit type, amount and tracking id
func Sort(records []*RawUsageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].key().less(records[j].key())
	})
}

// FilterSorted returns the records of subscriptionID in consumption order
func FilterSorted(records []*RawUsageRecord, subscriptionID string) []*RawUsageRecord {
	var filtered []*RawUsageRecord
	for _, r := range records {
		if r.SubscriptionID == subscriptionID {
			filtered = append(filtered, r)
		}
	}
	Sort(filtered)
	return filtered
}

// TrackingRecordID records that a raw usage record was billed on an invoice
type TrackingRecordID struct {
	TrackingID     string    `db:"tracking_id" json:"tracking_id"`
	InvoiceID      string    `db:"invoice_id" json:"invoice_id"`
	SubscriptionID string    `db:"subscription_id" json:"subscription_id"`
	UnitType       string    `db:"unit_type" json:"unit_type"`
	RecordDate     time.Time `db:"record_date" json:"record_date"`
}

// TrackingKey is the identity of a tracking record, the invoice excluded
type TrackingKey struct {
	TrackingID     string
	SubscriptionID string
	UnitType       string
	RecordDate     string
}

func (t TrackingRecordID) Key() TrackingKey {
	return TrackingKey{
		TrackingID:     t.TrackingID,
		SubscriptionID: t.SubscriptionID,
		UnitType:       t.UnitType,
		RecordDate:     t.RecordDate.Format(time.DateOnly),
	}
}

// SortTrackingIDs orders ids by subscription, date, unit type, tracking id then invoice
func SortTrackingIDs(ids []TrackingRecordID) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.SubscriptionID != b.SubscriptionID {
			return a.SubscriptionID < b.SubscriptionID
		}
		if !a.RecordDate.Equal(b.RecordDate) {
			return a.RecordDate.Before(b.RecordDate)
		}
		if a.UnitType != b.UnitType {
			return a.UnitType < b.UnitType
		}
		if a.TrackingID != b.TrackingID {
			return a.TrackingID < b.TrackingID
		}
		return a.InvoiceID < b.InvoiceID
	})
}

// Subtract returns the ids of candidates absent from existing by identity,
// deduplicated and sorted
func Subtract(candidates, existing []TrackingRecordID) []TrackingRecordID {
	seen := make(map[TrackingKey]struct{}, len(existing)+len(candidates))
	for _, e := range existing {
		seen[e.Key()] = struct{}{}
	}

	result := make([]TrackingRecordID, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.Key()]; ok {
			continue
		}
		seen[c.Key()] = struct{}{}
		result = append(result, c)
	}
	SortTrackingIDs(result)
	return result
}
