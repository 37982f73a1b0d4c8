package usage

import (
	"time"

	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/catalog"
	"github.com/flexprice/usagebill/internal/domain/invoice"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/types"
)

// ContiguousInterval is a usage run: the billing boundaries of one usage
// section over the consecutive billing events it stayed active on
type ContiguousInterval struct {
	def           *catalog.UsageDefinition
	events        []*billingevent.BillingEvent
	seenUnitTypes map[*billingevent.BillingEvent]map[string]struct{}
	transitions   []TransitionTime
	loc           *time.Location
	targetDate    time.Time

	// closed runs end on their last event, ended once that event is reached
	closed         bool
	ended          bool
	closedByCancel bool
}

func (c *ContiguousInterval) UsageName() string {
	return c.def.Name
}

func (c *ContiguousInterval) SubscriptionID() string {
	return c.events[0].SubscriptionID
}

// Transitions returns the billing boundaries, strictly increasing
func (c *ContiguousInterval) Transitions() []TransitionTime {
	return c.transitions
}

func (c *ContiguousInterval) IsClosed() bool {
	return c.closed
}

// runResult is the contribution of one run to a computation
type runResult struct {
	items                []*invoice.InvoiceItem
	trackingIDs          []rawusage.TrackingRecordID
	nextNotificationDate time.Time
}

// ComputeMissingItems rolls up, prices and reconciles every sub period of
// the run against the existing items
func (c *ContiguousInterval) ComputeMissingItems(
	records []*rawusage.RawUsageRecord,
	existingItems []*invoice.InvoiceItem,
	existingTrackingIDs []rawusage.TrackingRecordID,
	opts runOptions,
	log *logger.Logger,
) (*runResult, error) {
	next, err := c.NextNotificationDate()
	if err != nil {
		return nil, err
	}
	result := &runResult{nextNotificationDate: next}
	if len(c.transitions) < 2 {
		return result, nil
	}

	rolled, err := c.RollUp(records, existingTrackingIDs, opts, log)
	if err != nil {
		return nil, err
	}

	for _, ru := range rolled.usages {
		items, err := c.reconcile(ru, existingItems, opts, log)
		if err != nil {
			return nil, err
		}
		result.items = append(result.items, items...)
	}
	result.trackingIDs = rolled.trackingIDs
	return result, nil
}

// NextNotificationDate is the next period boundary after the target date
// the run must be recomputed on. Each event pair is capped at its end, the
// last event is followed as if the run were still open.
func (c *ContiguousInterval) NextNotificationDate() (time.Time, error) {
	var result time.Time

	for i := 0; i < len(c.events)-1; i++ {
		start := types.ToLocalDate(c.events[i].EffectiveDate, c.loc)
		end := types.ToLocalDate(c.events[i+1].EffectiveDate, c.loc)

		cycle, err := types.NewBillingCycle(start, c.events[i].BillCycleDayLocal, c.def.BillingPeriod)
		if err != nil {
			return time.Time{}, err
		}
		ref := c.targetDate
		if end.Before(ref) {
			ref = end
		}
		next := cycle.NextAfter(ref)
		if next.After(end) {
			next = end
		}
		if next.After(result) {
			result = next
		}
	}

	last := c.events[len(c.events)-1]
	cycle, err := types.NewBillingCycle(types.ToLocalDate(last.EffectiveDate, c.loc), last.BillCycleDayLocal, c.def.BillingPeriod)
	if err != nil {
		return time.Time{}, err
	}
	if next := cycle.NextAfter(c.targetDate); next.After(result) {
		result = next
	}
	return result, nil
}
