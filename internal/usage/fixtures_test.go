package usage

import (
	"time"

	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/catalog"
	"github.com/flexprice/usagebill/internal/domain/invoice"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	testAccountID      = "acct_01"
	testSubscriptionID = "subs_01"
	testInvoiceID      = "inv_01"
)

var catalogDate = date(2024, 1, 1)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func at(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func usd(amount int64) catalog.Price {
	return catalog.Price{"usd": decimal.NewFromInt(amount)}
}

// blockTiers is a two tier ladder: 5 blocks of 100 at $10, then $8 per 100
func blockTiers(unitType string) []*catalog.Tier {
	return []*catalog.Tier{
		{Blocks: []*catalog.TieredBlock{{
			UnitType: unitType,
			Size:     decimal.NewFromInt(100),
			Max:      decimal.NewFromInt(5),
			Price:    usd(10),
		}}},
		{Blocks: []*catalog.TieredBlock{{
			UnitType: unitType,
			Size:     decimal.NewFromInt(100),
			Max:      catalog.Unbounded,
			Price:    usd(8),
		}}},
	}
}

func consumableUsage(name, unitType string, policy types.TierBlockPolicy, period types.BillingPeriod) *catalog.UsageDefinition {
	return &catalog.UsageDefinition{
		Name:            name,
		UsageType:       types.USAGE_TYPE_CONSUMABLE,
		BillingMode:     types.BILLING_MODE_IN_ARREAR,
		BillingPeriod:   period,
		TierBlockPolicy: policy,
		Tiers:           blockTiers(unitType),
	}
}

func capacityUsage(name, unitType string) *catalog.UsageDefinition {
	return &catalog.UsageDefinition{
		Name:          name,
		UsageType:     types.USAGE_TYPE_CAPACITY,
		BillingMode:   types.BILLING_MODE_IN_ARREAR,
		BillingPeriod: types.BILLING_PERIOD_MONTHLY,
		Tiers: []*catalog.Tier{
			{
				Limits:         []*catalog.Limit{{UnitType: unitType, Max: decimal.NewFromInt(1000)}},
				RecurringPrice: usd(50),
			},
			{
				Limits:         []*catalog.Limit{{UnitType: unitType, Max: catalog.Unbounded}},
				RecurringPrice: usd(200),
			},
		},
	}
}

func testCatalog() *catalog.StaticCatalog {
	inAdvance := consumableUsage("support", "tickets", types.TIER_BLOCK_POLICY_TOP_TIER, types.BILLING_PERIOD_MONTHLY)
	inAdvance.BillingMode = types.BILLING_MODE_IN_ADVANCE

	c, err := catalog.NewStaticCatalog(&catalog.Version{
		EffectiveDate: catalogDate,
		Usages: []*catalog.UsageDefinition{
			consumableUsage("api-calls", "calls", types.TIER_BLOCK_POLICY_TOP_TIER, types.BILLING_PERIOD_MONTHLY),
			consumableUsage("storage", "gb", types.TIER_BLOCK_POLICY_ALL_TIERS, types.BILLING_PERIOD_MONTHLY),
			consumableUsage("weekly-calls", "weekly_calls", types.TIER_BLOCK_POLICY_TOP_TIER, types.BILLING_PERIOD_WEEKLY),
			capacityUsage("seats", "seats"),
			inAdvance,
		},
	})
	if err != nil {
		panic(err)
	}
	return c
}

func billingEvent(id string, effective time.Time, transition types.TransitionType, bcd int, usages ...string) *billingevent.BillingEvent {
	return &billingevent.BillingEvent{
		ID:                   id,
		AccountID:            testAccountID,
		SubscriptionID:       testSubscriptionID,
		BundleID:             "bndl_01",
		EffectiveDate:        effective,
		PlanName:             "pro-monthly",
		PhaseName:            "pro-monthly-evergreen",
		ProductName:          "Pro",
		BillCycleDayLocal:    bcd,
		Currency:             "usd",
		TimeZone:             "UTC",
		TransitionType:       transition,
		Usages:               usages,
		CatalogEffectiveDate: catalogDate,
	}
}

func record(unitType string, when time.Time, amount int64, trackingID string) *rawusage.RawUsageRecord {
	return &rawusage.RawUsageRecord{
		SubscriptionID: testSubscriptionID,
		UnitType:       unitType,
		Amount:         decimal.NewFromInt(amount),
		RecordDate:     when,
		TrackingID:     trackingID,
	}
}

func computeRequest(events []*billingevent.BillingEvent, records []*rawusage.RawUsageRecord, target time.Time) *ComputeRequest {
	return &ComputeRequest{
		AccountID:      testAccountID,
		InvoiceID:      testInvoiceID,
		SubscriptionID: testSubscriptionID,
		BillingEvents:  events,
		RawUsage:       records,
		TargetDate:     target,
	}
}

// persisted gives computed items the ids a repository would
func persisted(items []*invoice.InvoiceItem, prefix string) []*invoice.InvoiceItem {
	return lo.Map(items, func(item *invoice.InvoiceItem, i int) *invoice.InvoiceItem {
		copied := *item
		copied.ID = prefix + "_" + string(rune('a'+i))
		return &copied
	})
}

func totalOf(items []*invoice.InvoiceItem) decimal.Decimal {
	return lo.Reduce(items, func(sum decimal.Decimal, item *invoice.InvoiceItem, _ int) decimal.Decimal {
		return sum.Add(item.Amount)
	}, decimal.Zero)
}
