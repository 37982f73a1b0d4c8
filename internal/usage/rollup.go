package usage

import (
	"time"

	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// RolledUpUnit is the aggregated quantity of one unit type over a sub period
type RolledUpUnit struct {
	UnitType string
	Amount   decimal.Decimal
}

// RolledUpUsage is the usage of a section over one billed sub period
type RolledUpUsage struct {
	SubscriptionID string
	UsageName      string
	Start          time.Time
	End            time.Time
	Units          []RolledUpUnit

	// event is the billing event in force over the period
	event *billingevent.BillingEvent
}

// Quantities returns the rolled up amount of each unit type
func (r *RolledUpUsage) Quantities() map[string]decimal.Decimal {
	return lo.SliceToMap(r.Units, func(u RolledUpUnit) (string, decimal.Decimal) {
		return u.UnitType, u.Amount
	})
}

type rollUpResult struct {
	usages []*RolledUpUsage
	// trackingIDs of the consumed records not tracked yet
	trackingIDs []rawusage.TrackingRecordID
}

// RollUp aggregates the raw usage of the run per sub period in a single pass
// over the records. Records on a period end belong to the next period, except
// on the end of a run closed by a cancellation.
func (c *ContiguousInterval) RollUp(
	records []*rawusage.RawUsageRecord,
	existing []rawusage.TrackingRecordID,
	opts runOptions,
	log *logger.Logger,
) (*rollUpResult, error) {
	result := &rollUpResult{}
	if len(c.transitions) < 2 {
		return result, nil
	}

	subscriptionID := c.SubscriptionID()
	unitTypes := c.def.UnitTypes()
	declared := lo.SliceToMap(unitTypes, func(u string) (string, struct{}) {
		return u, struct{}{}
	})

	recs := rawusage.FilterSorted(records, subscriptionID)
	dateOf := func(r *rawusage.RawUsageRecord) time.Time {
		return types.ToLocalDate(r.RecordDate, c.loc)
	}

	idx := 0
	for idx < len(recs) && dateOf(recs[idx]).Before(c.transitions[0].Date) {
		idx++
	}

	var candidates []rawusage.TrackingRecordID
	for i := 1; i < len(c.transitions); i++ {
		prev, cur := c.transitions[i-1], c.transitions[i]
		inclusive := i == len(c.transitions)-1 && c.closedByCancel

		amounts := make(map[string]decimal.Decimal)
		for ; idx < len(recs); idx++ {
			r := recs[idx]
			date := dateOf(r)
			if date.After(cur.Date) || (date.Equal(cur.Date) && !inclusive) {
				break
			}

			if _, ok := declared[r.UnitType]; !ok {
				if _, ok := c.seenUnitTypes[prev.Event][r.UnitType]; ok {
					// billed by another section of the subscription
					continue
				}
				if opts.strictUnitTypes {
					return nil, ierr.NewError("unexpected unit type").
						WithHint("Raw usage was reported for a unit type no usage section declares").
						WithReportableDetails(map[string]any{
							"subscription_id": subscriptionID,
							"usage_name":      c.def.Name,
							"unit_type":       r.UnitType,
							"record_date":     date.Format(time.DateOnly),
							"tracking_id":     r.TrackingID,
						}).
						Mark(ierr.ErrValidation)
				}
				log.Warnw("skipping raw usage of unknown unit type",
					"subscription_id", subscriptionID,
					"usage_name", c.def.Name,
					"unit_type", r.UnitType,
					"record_date", date.Format(time.DateOnly),
					"tracking_id", r.TrackingID,
				)
				continue
			}

			current := amounts[r.UnitType]
			if c.def.IsCapacity() {
				amounts[r.UnitType] = decimal.Max(current, r.Amount)
			} else {
				amounts[r.UnitType] = current.Add(r.Amount)
			}

			candidates = append(candidates, rawusage.TrackingRecordID{
				TrackingID:     r.TrackingID,
				InvoiceID:      opts.invoiceID,
				SubscriptionID: subscriptionID,
				UnitType:       r.UnitType,
				RecordDate:     date,
			})
		}

		if len(amounts) == 0 {
			continue
		}

		units := make([]RolledUpUnit, 0, len(amounts))
		for _, u := range unitTypes {
			if amount, ok := amounts[u]; ok {
				units = append(units, RolledUpUnit{UnitType: u, Amount: amount})
			}
		}
		result.usages = append(result.usages, c.rolledUp(prev, cur, units))
	}

	// periods without any usage stay visible to pricing through the last one
	if len(result.usages) == 0 {
		n := len(c.transitions)
		units := lo.Map(unitTypes, func(u string, _ int) RolledUpUnit {
			return RolledUpUnit{UnitType: u, Amount: decimal.Zero}
		})
		result.usages = append(result.usages, c.rolledUp(c.transitions[n-2], c.transitions[n-1], units))
	}

	result.trackingIDs = rawusage.Subtract(candidates, existing)
	return result, nil
}

func (c *ContiguousInterval) rolledUp(prev, cur TransitionTime, units []RolledUpUnit) *RolledUpUsage {
	return &RolledUpUsage{
		SubscriptionID: c.SubscriptionID(),
		UsageName:      c.def.Name,
		Start:          prev.Date,
		End:            cur.Date,
		Units:          units,
		event:          prev.Event,
	}
}
