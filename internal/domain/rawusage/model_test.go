package rawusage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSort_ExplicitKey(t *testing.T) {
	d1 := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	d2 := d1.Add(time.Hour)

	records := []*RawUsageRecord{
		{SubscriptionID: "b", RecordDate: d1, UnitType: "calls", Amount: decimal.NewFromInt(1), TrackingID: "t5"},
		{SubscriptionID: "a", RecordDate: d2, UnitType: "calls", Amount: decimal.NewFromInt(1), TrackingID: "t4"},
		{SubscriptionID: "a", RecordDate: d1, UnitType: "storage", Amount: decimal.NewFromInt(1), TrackingID: "t3"},
		{SubscriptionID: "a", RecordDate: d1, UnitType: "calls", Amount: decimal.NewFromInt(7), TrackingID: "t2"},
		{SubscriptionID: "a", RecordDate: d1, UnitType: "calls", Amount: decimal.NewFromInt(7), TrackingID: "t1"},
	}

	Sort(records)

	got := make([]string, 0, len(records))
	for _, r := range records {
		got = append(got, r.TrackingID)
	}
	assert.Equal(t, []string{"t1", "t2", "t3", "t4", "t5"}, got)

	filtered := FilterSorted(records, "b")
	require.Len(t, filtered, 1)
	assert.Equal(t, "t5", filtered[0].TrackingID)
}

func TestSubtract_IgnoresInvoiceID(t *testing.T) {
	day := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	existing := []TrackingRecordID{
		{TrackingID: "t1", InvoiceID: "inv_old", SubscriptionID: "sub", UnitType: "calls", RecordDate: day},
	}
	candidates := []TrackingRecordID{
		{TrackingID: "t2", InvoiceID: "inv_new", SubscriptionID: "sub", UnitType: "calls", RecordDate: day},
		{TrackingID: "t1", InvoiceID: "inv_new", SubscriptionID: "sub", UnitType: "calls", RecordDate: day},
		{TrackingID: "t2", InvoiceID: "inv_new", SubscriptionID: "sub", UnitType: "calls", RecordDate: day},
		{TrackingID: "t1", InvoiceID: "inv_new", SubscriptionID: "sub", UnitType: "storage", RecordDate: day},
	}

	got := Subtract(candidates, existing)
	require.Len(t, got, 2)
	assert.Equal(t, "t2", got[0].TrackingID)
	assert.Equal(t, "t1", got[1].TrackingID)
	assert.Equal(t, "storage", got[1].UnitType)
}
