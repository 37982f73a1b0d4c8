package usage

import (
	"context"
	"sort"
	"time"

	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/catalog"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/samber/lo"
)

// usageKey identifies a usage section within one catalog version
type usageKey struct {
	name                 string
	catalogEffectiveDate int64
}

func keyOf(name string, event *billingevent.BillingEvent) usageKey {
	return usageKey{name: name, catalogEffectiveDate: event.CatalogEffectiveDate.UnixNano()}
}

// subscriptionRunner splits the billing events of a subscription into usage
// runs and computes each of them
type subscriptionRunner struct {
	engine *Engine
	req    *ComputeRequest
	opts   runOptions
	log    *logger.Logger

	definitions map[usageKey]*catalog.UsageDefinition
	failures    []*RunFailure
}

func (s *subscriptionRunner) run(ctx context.Context) (*Result, error) {
	result := &Result{PerUsageNextNotificationDate: make(map[string]time.Time)}

	intervals, err := s.buildIntervals()
	if err != nil {
		return nil, err
	}

	var trackingIDs []rawusage.TrackingRecordID
	for _, interval := range intervals {
		if err := ctx.Err(); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Usage computation was cancelled").
				Mark(ierr.ErrSystem)
		}

		res, err := interval.ComputeMissingItems(s.req.RawUsage, s.req.ExistingUsageItems, s.req.ExistingTrackingIDs, s.opts, s.log)
		if err != nil {
			s.fail(interval.UsageName(), err)
			continue
		}
		s.log.Debugw("usage run computed",
			"subscription_id", s.req.SubscriptionID,
			"usage_name", interval.UsageName(),
			"closed", interval.IsClosed(),
			"items", len(res.items),
			"next_notification_date", res.nextNotificationDate,
		)

		result.Items = append(result.Items, res.items...)
		trackingIDs = append(trackingIDs, res.trackingIDs...)
		if current, ok := result.PerUsageNextNotificationDate[interval.UsageName()]; !ok || res.nextNotificationDate.After(current) {
			result.PerUsageNextNotificationDate[interval.UsageName()] = res.nextNotificationDate
		}
	}

	result.TrackingIDs = rawusage.Subtract(trackingIDs, nil)
	result.Failures = s.failures
	return result, nil
}

func (s *subscriptionRunner) fail(usageName string, err error) {
	s.log.Errorw("usage run failed",
		"subscription_id", s.req.SubscriptionID,
		"usage_name", usageName,
		"error", err,
	)
	s.failures = append(s.failures, &RunFailure{
		SubscriptionID: s.req.SubscriptionID,
		UsageName:      usageName,
		Err:            err,
	})
}

// definitionsOf returns the in-arrear sections active after event, in the
// order the event lists them
func (s *subscriptionRunner) definitionsOf(event *billingevent.BillingEvent, failed map[usageKey]bool) ([]usageKey, []string) {
	var keys []usageKey
	var unitTypes []string

	for _, name := range lo.Uniq(event.Usages) {
		key := keyOf(name, event)
		if failed[key] {
			continue
		}

		def, ok := s.definitions[key]
		if !ok {
			var err error
			def, err = s.engine.catalog.GetUsageDefinition(name, event.CatalogEffectiveDate)
			if err != nil {
				failed[key] = true
				s.fail(name, err)
				continue
			}
			s.definitions[key] = def
		}

		if !def.IsInArrear() {
			continue
		}
		keys = append(keys, key)
		unitTypes = append(unitTypes, def.UnitTypes()...)
	}
	return keys, lo.Uniq(unitTypes)
}

// buildIntervals walks the events once. A section dropped by an event, or
// moved to another catalog version, closes its run on that event.
func (s *subscriptionRunner) buildIntervals() ([]*ContiguousInterval, error) {
	s.definitions = make(map[usageKey]*catalog.UsageDefinition)
	failed := make(map[usageKey]bool)
	params := IntervalParams{
		TargetDate:        s.opts.targetDate,
		RawUsageStartDate: s.opts.rawUsageStartDate,
	}

	var intervals []*ContiguousInterval
	inFlight := make(map[usageKey]*IntervalBuilder)
	var order []usageKey

	for _, event := range s.req.BillingEvents {
		keys, unitTypes := s.definitionsOf(event, failed)
		current := lo.SliceToMap(keys, func(k usageKey) (usageKey, struct{}) {
			return k, struct{}{}
		})

		var remaining []usageKey
		for _, key := range order {
			if _, ok := current[key]; ok {
				remaining = append(remaining, key)
				continue
			}
			builder := inFlight[key]
			builder.AddEvent(event, nil)
			interval, err := builder.Build(true)
			delete(inFlight, key)
			if err != nil {
				if ierr.IsInvalidOperation(err) {
					return nil, err
				}
				s.fail(key.name, err)
				continue
			}
			intervals = append(intervals, interval)
		}
		order = remaining

		for _, key := range keys {
			builder, ok := inFlight[key]
			if !ok {
				builder = NewIntervalBuilder(s.definitions[key], params)
				inFlight[key] = builder
				order = append(order, key)
			}
			builder.AddEvent(event, unitTypes)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].name != order[j].name {
			return order[i].name < order[j].name
		}
		return order[i].catalogEffectiveDate < order[j].catalogEffectiveDate
	})
	for _, key := range order {
		interval, err := inFlight[key].Build(false)
		if err != nil {
			if ierr.IsInvalidOperation(err) {
				return nil, err
			}
			s.fail(key.name, err)
			continue
		}
		intervals = append(intervals, interval)
	}
	return intervals, nil
}
