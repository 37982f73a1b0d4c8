package usage

import (
	"time"

	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/catalog"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/types"
)

// TransitionTime is a billing boundary of a usage run together with the
// billing event in force on it
type TransitionTime struct {
	Date  time.Time
	Event *billingevent.BillingEvent
}

// IntervalParams are the dates a run is built against. Both are local dates.
type IntervalParams struct {
	TargetDate        time.Time
	RawUsageStartDate time.Time
}

// IntervalBuilder accumulates the billing events of one usage section until
// the section is dropped or the events run out
type IntervalBuilder struct {
	def    *catalog.UsageDefinition
	params IntervalParams
	events []*billingevent.BillingEvent
	// seenUnitTypes are the unit types of every in-arrear section active on an event
	seenUnitTypes map[*billingevent.BillingEvent]map[string]struct{}
}

func NewIntervalBuilder(def *catalog.UsageDefinition, params IntervalParams) *IntervalBuilder {
	return &IntervalBuilder{
		def:           def,
		params:        params,
		seenUnitTypes: make(map[*billingevent.BillingEvent]map[string]struct{}),
	}
}

// AddEvent appends the next billing event of the run. seenUnitTypes lists the
// unit types of all in-arrear sections active on the event.
func (b *IntervalBuilder) AddEvent(event *billingevent.BillingEvent, seenUnitTypes []string) {
	b.events = append(b.events, event)
	if len(seenUnitTypes) == 0 {
		return
	}
	set := make(map[string]struct{}, len(seenUnitTypes))
	for _, u := range seenUnitTypes {
		set[u] = struct{}{}
	}
	b.seenUnitTypes[event] = set
}

// Build computes the transition times of the run. A closed run ends on its
// last event, an open one on the target date.
func (b IntervalBuilder) Build(closed bool) (*ContiguousInterval, error) {
	required := 1
	if closed {
		required = 2
	}
	if len(b.events) < required {
		return nil, ierr.NewError("not enough billing events to build a usage interval").
			WithHint("A usage interval needs at least one billing event, two when closed").
			WithReportableDetails(map[string]any{
				"usage_name": b.def.Name,
				"events":     len(b.events),
				"closed":     closed,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	loc, err := b.events[0].Location()
	if err != nil {
		return nil, err
	}

	interval := &ContiguousInterval{
		def:           b.def,
		events:        b.events,
		seenUnitTypes: b.seenUnitTypes,
		loc:           loc,
		closed:        closed,
		targetDate:    b.params.TargetDate,
	}

	inForce := b.events
	end := b.params.TargetDate
	if closed {
		closing := b.events[len(b.events)-1]
		closingDate := types.ToLocalDate(closing.EffectiveDate, loc)
		// a closing event after the target is not reached yet
		if !closingDate.After(b.params.TargetDate) {
			inForce = b.events[:len(b.events)-1]
			end = closingDate
			interval.ended = true
			interval.closedByCancel = closing.TransitionType.IsCancellation()
		}
	}

	start := types.ToLocalDate(inForce[0].EffectiveDate, loc)
	if b.params.TargetDate.Before(start) {
		return interval, nil
	}

	var transitions []TransitionTime
	add := func(date time.Time, event *billingevent.BillingEvent) {
		if date.Before(b.params.RawUsageStartDate) {
			return
		}
		if n := len(transitions); n > 0 && !date.After(transitions[n-1].Date) {
			return
		}
		transitions = append(transitions, TransitionTime{Date: date, Event: event})
	}

	for i, event := range inForce {
		subStart := types.ToLocalDate(event.EffectiveDate, loc)
		if subStart.After(end) {
			break
		}
		isLast := i == len(inForce)-1
		subEnd := end
		if !isLast {
			subEnd = types.ToLocalDate(inForce[i+1].EffectiveDate, loc)
			if subEnd.After(end) {
				subEnd = end
				isLast = true
			}
		}
		if subStart.Equal(subEnd) && !isLast {
			continue
		}

		add(subStart, event)

		cycle, err := types.NewBillingCycle(subStart, event.BillCycleDayLocal, b.def.BillingPeriod)
		if err != nil {
			return nil, err
		}
		// the end of an open run is the target, a boundary on it closes a period
		for _, d := range cycle.Between(subStart, subEnd, isLast) {
			add(d, event)
		}
		if isLast {
			break
		}
	}

	if interval.ended {
		closing := b.events[len(b.events)-1]
		n := len(transitions)
		switch {
		case n > 0 && end.After(transitions[n-1].Date):
			transitions = append(transitions, TransitionTime{Date: end, Event: closing})
		case n == 1 && end.Equal(transitions[0].Date) && interval.closedByCancel:
			// cancelled on its start date, the single day is billed
			transitions = append(transitions, TransitionTime{Date: end, Event: closing})
		case n == 0 && !end.Before(b.params.RawUsageStartDate):
			transitions = append(transitions, TransitionTime{Date: end, Event: closing})
		}
	}

	interval.transitions = transitions
	return interval, nil
}
