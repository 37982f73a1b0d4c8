package testutil

import (
	"time"

	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/catalog"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/shopspring/decimal"
)

// CatalogDate is the effective date of TestCatalogVersion
var CatalogDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// TestCatalogVersion holds api-calls (TOP_TIER on calls), storage
// (ALL_TIERS on gb) and seats (capacity). Consumable ladders bill 5 blocks of
// 100 at $10 then $8 per 100, seats cost $50 up to 1000 then $200.
func TestCatalogVersion() *catalog.Version {
	blocks := func(unitType string) []*catalog.Tier {
		return []*catalog.Tier{
			{Blocks: []*catalog.TieredBlock{{
				UnitType: unitType,
				Size:     decimal.NewFromInt(100),
				Max:      decimal.NewFromInt(5),
				Price:    catalog.Price{"usd": decimal.NewFromInt(10)},
			}}},
			{Blocks: []*catalog.TieredBlock{{
				UnitType: unitType,
				Size:     decimal.NewFromInt(100),
				Max:      catalog.Unbounded,
				Price:    catalog.Price{"usd": decimal.NewFromInt(8)},
			}}},
		}
	}

	return &catalog.Version{
		EffectiveDate: CatalogDate,
		Usages: []*catalog.UsageDefinition{
			{
				Name:            "api-calls",
				UsageType:       types.USAGE_TYPE_CONSUMABLE,
				BillingMode:     types.BILLING_MODE_IN_ARREAR,
				BillingPeriod:   types.BILLING_PERIOD_MONTHLY,
				TierBlockPolicy: types.TIER_BLOCK_POLICY_TOP_TIER,
				Tiers:           blocks("calls"),
			},
			{
				Name:            "storage",
				UsageType:       types.USAGE_TYPE_CONSUMABLE,
				BillingMode:     types.BILLING_MODE_IN_ARREAR,
				BillingPeriod:   types.BILLING_PERIOD_MONTHLY,
				TierBlockPolicy: types.TIER_BLOCK_POLICY_ALL_TIERS,
				Tiers:           blocks("gb"),
			},
			{
				Name:          "seats",
				UsageType:     types.USAGE_TYPE_CAPACITY,
				BillingMode:   types.BILLING_MODE_IN_ARREAR,
				BillingPeriod: types.BILLING_PERIOD_MONTHLY,
				Tiers: []*catalog.Tier{
					{
						Limits:         []*catalog.Limit{{UnitType: "seats", Max: decimal.NewFromInt(1000)}},
						RecurringPrice: catalog.Price{"usd": decimal.NewFromInt(50)},
					},
					{
						Limits:         []*catalog.Limit{{UnitType: "seats", Max: catalog.Unbounded}},
						RecurringPrice: catalog.Price{"usd": decimal.NewFromInt(200)},
					},
				},
			},
		},
	}
}

// TestCatalog returns a catalog serving TestCatalogVersion
func TestCatalog() *catalog.StaticCatalog {
	c, err := catalog.NewStaticCatalog(TestCatalogVersion())
	if err != nil {
		panic(err)
	}
	return c
}

// NewCreateEvent returns the creation event of a monthly subscription
// billed on the first of the month in UTC
func NewCreateEvent(accountID, subscriptionID string, effective time.Time, usages ...string) *billingevent.BillingEvent {
	return &billingevent.BillingEvent{
		ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BILLING_EVENT),
		AccountID:            accountID,
		SubscriptionID:       subscriptionID,
		BundleID:             "bndl_" + subscriptionID,
		EffectiveDate:        effective,
		PlanName:             "pro-monthly",
		PhaseName:            "pro-monthly-evergreen",
		ProductName:          "Pro",
		BillCycleDayLocal:    1,
		Currency:             "usd",
		TimeZone:             "UTC",
		TransitionType:       types.TransitionTypeCreate,
		Usages:               usages,
		CatalogEffectiveDate: CatalogDate,
	}
}

// NewRecord returns a raw usage record
func NewRecord(subscriptionID, unitType string, when time.Time, amount int64, trackingID string) *rawusage.RawUsageRecord {
	return &rawusage.RawUsageRecord{
		SubscriptionID: subscriptionID,
		UnitType:       unitType,
		Amount:         decimal.NewFromInt(amount),
		RecordDate:     when,
		TrackingID:     trackingID,
	}
}
