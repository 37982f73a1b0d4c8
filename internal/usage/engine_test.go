package usage

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/usagebill/internal/config"
	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/invoice"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type EngineSuite struct {
	suite.Suite
	ctx    context.Context
	config *config.Configuration
	engine *Engine
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = types.SetTenantID(context.Background(), types.DefaultTenantID)
	s.config = config.GetDefaultConfig()
	s.rebuild()
}

// rebuild applies config changes made by a test
func (s *EngineSuite) rebuild() {
	s.engine = NewEngine(testCatalog(), s.config, logger.NewNopLogger())
}

func (s *EngineSuite) compute(req *ComputeRequest) *Result {
	result, err := s.engine.ComputeMissingUsage(s.ctx, req)
	s.Require().NoError(err)
	return result
}

func (s *EngineSuite) amount(want string, got decimal.Decimal) {
	s.True(decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// assertIdempotent recomputes req on top of its own result
func (s *EngineSuite) assertIdempotent(req *ComputeRequest, first *Result) {
	again := *req
	again.ExistingUsageItems = append(append([]*invoice.InvoiceItem(nil), req.ExistingUsageItems...), persisted(first.Items, "rerun")...)
	again.ExistingTrackingIDs = append(append([]rawusage.TrackingRecordID(nil), req.ExistingTrackingIDs...), first.TrackingIDs...)

	second := s.compute(&again)
	s.Empty(second.Items)
	s.Empty(second.TrackingIDs)
	s.Empty(second.Failures)
}

func (s *EngineSuite) TestTopTierBillsAllUnitsAtQualifyingTier() {
	req := computeRequest(
		[]*billingevent.BillingEvent{
			billingEvent("evt_1", at(2024, 1, 1, 9), types.TransitionTypeCreate, 1, "api-calls"),
		},
		[]*rawusage.RawUsageRecord{
			record("calls", at(2024, 1, 15, 10), 250, "trk_1"),
		},
		date(2024, 2, 1),
	)

	result := s.compute(req)
	s.Empty(result.Failures)
	s.Require().Len(result.Items, 1)

	item := result.Items[0]
	s.amount("30", item.Amount)
	s.Equal(types.InvoiceItemTypeUsage, item.Type)
	s.Equal("api-calls", item.UsageName)
	s.Equal(testInvoiceID, item.InvoiceID)
	s.Equal("pro-monthly-evergreen", item.PhaseName)
	s.Equal(date(2024, 1, 1), item.StartDate)
	s.Equal(date(2024, 2, 1), item.EndDate)
	s.Nil(item.Rate)
	s.Empty(item.ID)

	details, err := invoice.ParseItemDetails(item.ItemDetails)
	s.Require().NoError(err)
	s.Require().NotNil(details.Consumable)
	s.Require().Len(details.Consumable.Tiers, 1)
	s.Equal(1, details.Consumable.Tiers[0].Tier)
	s.Equal(int64(3), details.Consumable.Tiers[0].Quantity)

	s.Require().Len(result.TrackingIDs, 1)
	s.Equal(rawusage.TrackingRecordID{
		TrackingID:     "trk_1",
		InvoiceID:      testInvoiceID,
		SubscriptionID: testSubscriptionID,
		UnitType:       "calls",
		RecordDate:     date(2024, 1, 15),
	}, result.TrackingIDs[0])

	s.Equal(date(2024, 3, 1), result.PerUsageNextNotificationDate["api-calls"])
	s.assertIdempotent(req, result)
}

func (s *EngineSuite) TestAllTiersDetailModeEmitsOneItemPerTier() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "storage"),
	}
	records := []*rawusage.RawUsageRecord{
		record("gb", at(2024, 1, 10, 8), 400, "trk_1"),
		record("gb", at(2024, 1, 20, 8), 200, "trk_2"),
	}
	req := computeRequest(events, records, date(2024, 2, 1))
	req.DetailMode = types.USAGE_DETAIL_MODE_DETAIL

	result := s.compute(req)
	s.Require().Len(result.Items, 2)
	s.amount("50", result.Items[0].Amount)
	s.amount("10", *result.Items[0].Rate)
	s.amount("5", *result.Items[0].Quantity)
	s.amount("8", result.Items[1].Amount)
	s.amount("8", *result.Items[1].Rate)
	s.amount("1", *result.Items[1].Quantity)
	s.amount("58", totalOf(result.Items))
	s.Len(result.TrackingIDs, 2)

	s.assertIdempotent(req, result)

	// late usage is billed on top of the tiers already invoiced
	billed := persisted(result.Items, "first")
	late := computeRequest(events, append(records, record("gb", at(2024, 1, 25, 8), 100, "trk_3")), date(2024, 2, 1))
	late.DetailMode = types.USAGE_DETAIL_MODE_DETAIL
	late.ExistingUsageItems = billed
	late.ExistingTrackingIDs = result.TrackingIDs

	delta := s.compute(late)
	s.Empty(delta.Failures)
	s.Require().Len(delta.Items, 1)
	s.amount("8", delta.Items[0].Amount)
	s.amount("1", *delta.Items[0].Quantity)
	s.Require().Len(delta.TrackingIDs, 1)
	s.Equal("trk_3", delta.TrackingIDs[0].TrackingID)

	// billed plus owed equals the price of the full usage
	s.amount("66", totalOf(billed).Add(totalOf(delta.Items)))
}

func (s *EngineSuite) TestAllTiersAggregateReconcilesTierByTier() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "storage"),
	}
	first := s.compute(computeRequest(events, []*rawusage.RawUsageRecord{
		record("gb", at(2024, 1, 10, 8), 600, "trk_1"),
	}, date(2024, 2, 1)))
	s.Require().Len(first.Items, 1)
	s.amount("58", first.Items[0].Amount)

	req := computeRequest(events, []*rawusage.RawUsageRecord{
		record("gb", at(2024, 1, 10, 8), 600, "trk_1"),
		record("gb", at(2024, 1, 12, 8), 250, "trk_2"),
	}, date(2024, 2, 1))
	req.ExistingUsageItems = persisted(first.Items, "first")

	result := s.compute(req)
	s.Require().Len(result.Items, 1)
	// 850 gb is 5 blocks at $10 and 4 at $8, one of which was billed
	s.amount("24", result.Items[0].Amount)
}

func (s *EngineSuite) TestAllTiersInconsistentBreakdown() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "storage"),
	}

	// tier 2 was billed while tier 1 was not full
	details, err := (&invoice.ItemDetails{
		Version: invoice.ItemDetailsVersion,
		Consumable: &invoice.ConsumableDetails{
			Tiers: []*invoice.TierUnitDetail{
				{Tier: 1, TierUnit: "gb", TierPrice: decimal.NewFromInt(10), TierBlockSize: decimal.NewFromInt(100), Quantity: 3, Amount: decimal.NewFromInt(30)},
				{Tier: 2, TierUnit: "gb", TierPrice: decimal.NewFromInt(8), TierBlockSize: decimal.NewFromInt(100), Quantity: 1, Amount: decimal.NewFromInt(8)},
			},
			Amount: decimal.NewFromInt(38),
		},
	}).Encode()
	s.Require().NoError(err)

	req := computeRequest(events, []*rawusage.RawUsageRecord{
		record("gb", at(2024, 1, 10, 8), 850, "trk_1"),
	}, date(2024, 2, 1))
	req.ExistingUsageItems = []*invoice.InvoiceItem{{
		ID:             "inv_item_old",
		Type:           types.InvoiceItemTypeUsage,
		SubscriptionID: testSubscriptionID,
		UsageName:      "storage",
		StartDate:      date(2024, 1, 1),
		EndDate:        date(2024, 2, 1),
		Amount:         decimal.NewFromInt(38),
		Currency:       "usd",
		ItemDetails:    details,
	}}

	s.Run("strict fails the run", func() {
		result := s.compute(req)
		s.Require().Len(result.Failures, 1)
		s.Equal("storage", result.Failures[0].UsageName)
		s.True(ierr.IsInvalidState(result.Failures[0].Err))
		s.Empty(result.Items)
	})

	s.Run("dry run bills the remaining blocks", func() {
		dryRun := *req
		dryRun.DryRun = true
		result := s.compute(&dryRun)
		s.Empty(result.Failures)
		s.Require().Len(result.Items, 1)
		// 2 more blocks at $10 and 3 more at $8
		s.amount("44", result.Items[0].Amount)
	})

	s.Run("lenient configuration bills the remaining blocks", func() {
		s.config.Usage.MissingLenient = true
		s.rebuild()

		result := s.compute(req)
		s.Empty(result.Failures)
		s.Require().Len(result.Items, 1)
		s.amount("44", result.Items[0].Amount)
	})
}

func (s *EngineSuite) TestCapacityBillsFirstCompliantTier() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "seats"),
	}
	req := computeRequest(events, []*rawusage.RawUsageRecord{
		record("seats", at(2024, 1, 5, 8), 800, "trk_1"),
		record("seats", at(2024, 1, 12, 8), 1500, "trk_2"),
	}, date(2024, 2, 1))

	result := s.compute(req)
	s.Require().Len(result.Items, 1)
	s.amount("200", result.Items[0].Amount)

	details, err := invoice.ParseItemDetails(result.Items[0].ItemDetails)
	s.Require().NoError(err)
	s.Require().NotNil(details.Capacity)
	s.Equal(2, details.Capacity.Tier)
	s.amount("1500", details.Capacity.Units[0].Amount)

	s.assertIdempotent(req, result)
}

func (s *EngineSuite) TestCapacityRegressionFailsTheRun() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "seats", "api-calls"),
	}
	first := s.compute(computeRequest(events, []*rawusage.RawUsageRecord{
		record("seats", at(2024, 1, 12, 8), 1500, "trk_1"),
	}, date(2024, 2, 1)))
	s.Require().Len(first.Items, 1)

	req := computeRequest(events, []*rawusage.RawUsageRecord{
		record("seats", at(2024, 1, 5, 8), 500, "trk_2"),
		record("calls", at(2024, 1, 5, 8), 100, "trk_3"),
	}, date(2024, 2, 1))
	req.ExistingUsageItems = persisted(first.Items, "first")

	result := s.compute(req)
	s.Require().Len(result.Failures, 1)
	s.Equal("seats", result.Failures[0].UsageName)
	s.True(ierr.IsInvalidState(result.Failures[0].Err))

	// the other section is still billed
	s.Require().Len(result.Items, 1)
	s.Equal("api-calls", result.Items[0].UsageName)
	s.amount("10", result.Items[0].Amount)
}

func (s *EngineSuite) TestRecordOnCancellationDateIsBilled() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "api-calls"),
		billingEvent("evt_2", at(2024, 1, 20, 14), types.TransitionTypeCancel, 1),
	}
	req := computeRequest(events, []*rawusage.RawUsageRecord{
		record("calls", at(2024, 1, 5, 8), 30, "trk_1"),
		record("calls", at(2024, 1, 20, 9), 50, "trk_2"),
		record("calls", at(2024, 1, 25, 9), 40, "trk_3"),
	}, date(2024, 2, 1))

	result := s.compute(req)
	s.Require().Len(result.Items, 1)
	s.Equal(date(2024, 1, 1), result.Items[0].StartDate)
	s.Equal(date(2024, 1, 20), result.Items[0].EndDate)
	s.amount("10", result.Items[0].Amount)

	tracked := lo.Map(result.TrackingIDs, func(t rawusage.TrackingRecordID, _ int) string { return t.TrackingID })
	s.Equal([]string{"trk_1", "trk_2"}, tracked)
	s.Equal(date(2024, 3, 1), result.PerUsageNextNotificationDate["api-calls"])
}

func (s *EngineSuite) TestUnknownUnitTypes() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "api-calls"),
	}
	records := []*rawusage.RawUsageRecord{
		record("calls", at(2024, 1, 15, 8), 250, "trk_1"),
		record("bogus", at(2024, 1, 16, 8), 10, "trk_2"),
	}

	s.Run("lenient drops the record untracked", func() {
		result := s.compute(computeRequest(events, records, date(2024, 2, 1)))
		s.Empty(result.Failures)
		s.Require().Len(result.Items, 1)
		s.amount("30", result.Items[0].Amount)
		s.Require().Len(result.TrackingIDs, 1)
		s.Equal("trk_1", result.TrackingIDs[0].TrackingID)
	})

	s.Run("strict fails the run", func() {
		s.config.Usage.StrictUnitTypes = true
		s.rebuild()

		result := s.compute(computeRequest(events, records, date(2024, 2, 1)))
		s.Require().Len(result.Failures, 1)
		s.True(ierr.IsValidation(result.Failures[0].Err))
		s.Empty(result.Items)
		s.Empty(result.TrackingIDs)
	})

	s.Run("unit of another active section is not unknown", func() {
		s.config.Usage.StrictUnitTypes = true
		s.rebuild()

		both := []*billingevent.BillingEvent{
			billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "api-calls", "storage"),
		}
		result := s.compute(computeRequest(both, []*rawusage.RawUsageRecord{
			record("calls", at(2024, 1, 15, 8), 250, "trk_1"),
			record("gb", at(2024, 1, 16, 8), 600, "trk_2"),
		}, date(2024, 2, 1)))
		s.Empty(result.Failures)
		s.Require().Len(result.Items, 2)
		s.Equal("api-calls", result.Items[0].UsageName)
		s.Equal("storage", result.Items[1].UsageName)
		s.Len(result.TrackingIDs, 2)
	})
}

func (s *EngineSuite) TestExistingItemsOutsideThePeriod() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "api-calls"),
	}
	records := []*rawusage.RawUsageRecord{
		record("calls", at(2024, 1, 15, 8), 250, "trk_1"),
	}
	existing := func(start, end time.Time) *invoice.InvoiceItem {
		return &invoice.InvoiceItem{
			ID:             "inv_item_old",
			Type:           types.InvoiceItemTypeUsage,
			SubscriptionID: testSubscriptionID,
			UsageName:      "api-calls",
			StartDate:      start,
			EndDate:        end,
			Amount:         decimal.NewFromInt(10),
			Currency:       "usd",
		}
	}

	s.Run("partial overlap is ignored", func() {
		req := computeRequest(events, records, date(2024, 2, 1))
		req.ExistingUsageItems = []*invoice.InvoiceItem{existing(date(2023, 12, 15), date(2024, 1, 15))}

		result := s.compute(req)
		s.Require().Len(result.Items, 1)
		s.amount("30", result.Items[0].Amount)
	})

	s.Run("wider item covers the period", func() {
		req := computeRequest(events, records, date(2024, 2, 1))
		req.ExistingUsageItems = []*invoice.InvoiceItem{existing(date(2023, 12, 1), date(2024, 2, 15))}

		result := s.compute(req)
		s.Empty(result.Items)
	})
}

func (s *EngineSuite) TestUnreadableDetailsFallBackToAmounts() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "storage"),
	}
	req := computeRequest(events, []*rawusage.RawUsageRecord{
		record("gb", at(2024, 1, 10, 8), 600, "trk_1"),
	}, date(2024, 2, 1))
	req.ExistingUsageItems = []*invoice.InvoiceItem{{
		ID:             "inv_item_old",
		Type:           types.InvoiceItemTypeUsage,
		SubscriptionID: testSubscriptionID,
		UsageName:      "storage",
		StartDate:      date(2024, 1, 1),
		EndDate:        date(2024, 2, 1),
		Amount:         decimal.NewFromInt(50),
		Currency:       "usd",
		ItemDetails:    lo.ToPtr("{not json"),
	}}

	result := s.compute(req)
	s.Empty(result.Failures)
	s.Require().Len(result.Items, 1)
	s.amount("8", result.Items[0].Amount)
}

func (s *EngineSuite) TestConsumableOverbilled() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "api-calls"),
	}
	req := computeRequest(events, []*rawusage.RawUsageRecord{
		record("calls", at(2024, 1, 10, 8), 100, "trk_1"),
	}, date(2024, 2, 1))
	req.ExistingUsageItems = []*invoice.InvoiceItem{{
		ID:             "inv_item_old",
		Type:           types.InvoiceItemTypeUsage,
		SubscriptionID: testSubscriptionID,
		UsageName:      "api-calls",
		StartDate:      date(2024, 1, 1),
		EndDate:        date(2024, 2, 1),
		Amount:         decimal.NewFromInt(30),
		Currency:       "usd",
	}}

	s.Run("strict", func() {
		result := s.compute(req)
		s.Require().Len(result.Failures, 1)
		s.True(ierr.IsInvalidState(result.Failures[0].Err))
	})

	s.Run("dry run is lenient", func() {
		dryRun := *req
		dryRun.DryRun = true
		result := s.compute(&dryRun)
		s.Empty(result.Failures)
		s.Empty(result.Items)
	})
}

func (s *EngineSuite) TestCatalogFailureIsIsolated() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "api-calls", "ghost"),
	}
	result := s.compute(computeRequest(events, []*rawusage.RawUsageRecord{
		record("calls", at(2024, 1, 15, 8), 250, "trk_1"),
	}, date(2024, 2, 1)))

	s.Require().Len(result.Failures, 1)
	s.Equal("ghost", result.Failures[0].UsageName)
	s.True(ierr.IsNotFound(result.Failures[0].Err))
	s.Require().Len(result.Items, 1)
	s.amount("30", result.Items[0].Amount)
}

func (s *EngineSuite) TestZeroAmountItems() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "api-calls"),
	}

	s.Run("not emitted by default", func() {
		result := s.compute(computeRequest(events, nil, date(2024, 3, 1)))
		s.Empty(result.Items)
		s.Equal(date(2024, 4, 1), result.PerUsageNextNotificationDate["api-calls"])
	})

	s.Run("emitted for the last period when requested", func() {
		req := computeRequest(events, nil, date(2024, 3, 1))
		req.InsertZeroAmountItems = true

		result := s.compute(req)
		s.Require().Len(result.Items, 1)
		s.True(result.Items[0].Amount.IsZero())
		s.Equal(date(2024, 2, 1), result.Items[0].StartDate)
		s.Equal(date(2024, 3, 1), result.Items[0].EndDate)
		s.assertIdempotent(req, result)
	})
}

func (s *EngineSuite) TestInAdvanceSectionsAreIgnored() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "support"),
	}
	result := s.compute(computeRequest(events, []*rawusage.RawUsageRecord{
		record("tickets", at(2024, 1, 15, 8), 3, "trk_1"),
	}, date(2024, 2, 1)))

	s.Empty(result.Items)
	s.Empty(result.TrackingIDs)
	s.Empty(result.PerUsageNextNotificationDate)
}

func (s *EngineSuite) TestPlanChangeClosesTheRun() {
	events := []*billingevent.BillingEvent{
		billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "api-calls"),
		billingEvent("evt_2", at(2024, 2, 15, 0), types.TransitionTypeChange, 1, "storage"),
	}
	result := s.compute(computeRequest(events, []*rawusage.RawUsageRecord{
		record("calls", at(2024, 1, 15, 8), 250, "trk_1"),
		record("calls", at(2024, 2, 10, 8), 120, "trk_2"),
		record("gb", at(2024, 2, 20, 8), 600, "trk_3"),
	}, date(2024, 3, 1)))

	s.Empty(result.Failures)
	s.Require().Len(result.Items, 3)

	s.Equal("api-calls", result.Items[0].UsageName)
	s.Equal(date(2024, 2, 1), result.Items[0].EndDate)
	s.amount("30", result.Items[0].Amount)

	s.Equal("api-calls", result.Items[1].UsageName)
	s.Equal(date(2024, 2, 1), result.Items[1].StartDate)
	s.Equal(date(2024, 2, 15), result.Items[1].EndDate)
	s.amount("20", result.Items[1].Amount)

	s.Equal("storage", result.Items[2].UsageName)
	s.Equal(date(2024, 2, 15), result.Items[2].StartDate)
	s.Equal(date(2024, 3, 1), result.Items[2].EndDate)
	s.amount("58", result.Items[2].Amount)

	s.Equal(date(2024, 4, 1), result.PerUsageNextNotificationDate["api-calls"])
	s.Equal(date(2024, 4, 1), result.PerUsageNextNotificationDate["storage"])
}

func (s *EngineSuite) TestRequestValidation() {
	valid := billingEvent("evt_1", at(2024, 1, 1, 0), types.TransitionTypeCreate, 1, "api-calls")

	other := billingEvent("evt_2", at(2024, 1, 2, 0), types.TransitionTypeCreate, 1, "api-calls")
	other.SubscriptionID = "subs_other"

	tests := []struct {
		name string
		req  *ComputeRequest
	}{
		{
			name: "foreign subscription",
			req:  computeRequest([]*billingevent.BillingEvent{valid, other}, nil, date(2024, 2, 1)),
		},
		{
			name: "unordered events",
			req: computeRequest([]*billingevent.BillingEvent{
				billingEvent("evt_2", at(2024, 1, 5, 0), types.TransitionTypeChange, 1, "api-calls"),
				valid,
			}, nil, date(2024, 2, 1)),
		},
		{
			name: "missing target date",
			req:  computeRequest([]*billingevent.BillingEvent{valid}, nil, time.Time{}),
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.engine.ComputeMissingUsage(s.ctx, tt.req)
			s.Error(err)
			s.True(ierr.IsInvalidOperation(err))
		})
	}
}

func (s *EngineSuite) TestNoEventsYieldsEmptyResult() {
	result := s.compute(computeRequest(nil, nil, date(2024, 2, 1)))
	s.Empty(result.Items)
	s.Empty(result.Failures)
}
