package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/usagebill/internal/domain/invoice"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const document = `{
	"account_id": "acct_01",
	"invoice_id": "inv_01",
	"target_date": "2024-02-01T00:00:00Z",
	"catalog": [{
		"effective_date": "2024-01-01T00:00:00Z",
		"usages": [{
			"name": "api-calls",
			"usage_type": "CONSUMABLE",
			"billing_mode": "IN_ARREAR",
			"billing_period": "MONTHLY",
			"tier_block_policy": "TOP_TIER",
			"tiers": [{"blocks": [{"unit_type": "calls", "size": "100", "max": "-1", "price": {"usd": "10"}}]}]
		}]
	}],
	"billing_events": [{
		"id": "bevt_1",
		"subscription_id": "subs_01",
		"effective_date": "2024-01-01T09:00:00Z",
		"bill_cycle_day_local": 1,
		"currency": "usd",
		"time_zone": "UTC",
		"transition_type": "CREATE",
		"usages": ["api-calls"],
		"catalog_effective_date": "2024-01-01T00:00:00Z"
	}],
	"raw_usage": [
		{"subscription_id": "subs_01", "unit_type": "calls", "amount": "250", "record_date": "2024-01-15T10:00:00Z", "tracking_id": "trk_1"},
		{"subscription_id": "subs_01", "unit_type": "calls", "amount": "75", "record_date": "2024-02-03T10:00:00Z", "tracking_id": "trk_2"}
	]
}`

func TestParse(t *testing.T) {
	snap, err := Parse([]byte(document))
	require.NoError(t, err)
	assert.Equal(t, "acct_01", snap.AccountID)
	require.Len(t, snap.BillingEvents, 1)
	// events inherit the snapshot account
	assert.Equal(t, "acct_01", snap.BillingEvents[0].AccountID)
	assert.Equal(t, types.TransitionTypeCreate, snap.BillingEvents[0].TransitionType)
	require.Len(t, snap.RawUsage, 2)
	assert.True(t, snap.RawUsage[0].Amount.Equal(decimal.NewFromInt(250)))
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	_, err := Parse([]byte(`{"account_id": `))
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))

	_, err = Parse([]byte(`{"target_date": "2024-02-01T00:00:00Z", "catalog": [{"usages": []}]}`))
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
}

func TestStore(t *testing.T) {
	snap, err := Parse([]byte(document))
	require.NoError(t, err)
	store, err := NewStore(snap)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Catalog().GetUsageDefinition("api-calls", snap.TargetDate)
	require.NoError(t, err)

	events, err := store.ListByAccount(ctx, "acct_01")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	records, err := store.List(ctx, &rawusage.Filter{
		AccountID: "acct_01",
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 2, 1, 23, 59, 59, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "trk_1", records[0].TrackingID)

	item := &invoice.InvoiceItem{
		ID:        "inv_item_1",
		Type:      types.InvoiceItemTypeUsage,
		AccountID: "acct_01",
		UsageName: "api-calls",
		Amount:    decimal.NewFromInt(30),
	}
	trackingID := rawusage.TrackingRecordID{TrackingID: "trk_1", SubscriptionID: "subs_01", UnitType: "calls"}
	require.NoError(t, store.CreateUsageItems(ctx, []*invoice.InvoiceItem{item}, []rawusage.TrackingRecordID{trackingID}))

	items, err := store.ListUsageItems(ctx, "acct_01")
	require.NoError(t, err)
	assert.Equal(t, []*invoice.InvoiceItem{item}, items)

	ids, err := store.ListTrackingIDs(ctx, "acct_01")
	require.NoError(t, err)
	assert.Equal(t, []rawusage.TrackingRecordID{trackingID}, ids)
}
