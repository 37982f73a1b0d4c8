package types

import (
	"time"

	ierr "github.com/flexprice/usagebill/internal/errors"
)

// ToLocalDate converts an instant into the calendar date observed in loc.
// The returned value is midnight UTC of that calendar day so that local dates
// compare and print identically regardless of the account time zone.
func ToLocalDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last instant of the local date in loc
func EndOfDay(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
}

// LoadLocation resolves an IANA time zone name, defaulting to UTC when empty
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Unknown time zone").
			WithReportableDetails(map[string]any{
				"time_zone": name,
			}).
			Mark(ierr.ErrValidation)
	}
	return loc, nil
}

// NextBillingDate calculates the next billing date based on the given start time,
// billing period, and billing period unit (the frequency multiplier).
// For example:
// - If billing period is MONTHLY and unit is 2, we add two months.
// - If billing period is QUARTERLY and unit is 1, we add three months.
// - If billing period is WEEKLY and unit is 3, we add 21 days (3 weeks).
// A negative unit moves backwards with the same clamping rules.
func NextBillingDate(start time.Time, unit int, period BillingPeriod) (time.Time, error) {
	if unit == 0 {
		return start, ierr.NewError("billing period unit must not be zero").
			WithHint("Provide a non zero number of periods").
			Mark(ierr.ErrValidation)
	}

	if days := period.days(); days > 0 {
		return start.AddDate(0, 0, days*unit), nil
	}
	if months := period.months(); months > 0 {
		return AddClampedMonths(start, months*unit, start.Day()), nil
	}

	return start, ierr.NewErrorf("invalid billing period type: %s", period).
		WithHint("Billing period must be one of DAILY, WEEKLY, MONTHLY, QUARTERLY, HALF_YEARLY, ANNUAL").
		Mark(ierr.ErrValidation)
}

// RecedeByNPeriods moves date back by n periods, clamping to the end of month
func RecedeByNPeriods(date time.Time, period BillingPeriod, n int) (time.Time, error) {
	if n == 0 {
		return date, nil
	}
	return NextBillingDate(date, -n, period)
}

// AddClampedMonths adds months to t and sets the day to day, clamped to the
// last day of the resulting month. The time of day is preserved.
func AddClampedMonths(t time.Time, months int, day int) time.Time {
	y, m, _ := t.Date()
	h, min, sec := t.Clock()

	// normalise through the first of the month so time.Date never overflows the day
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}

	return time.Date(first.Year(), first.Month(), day, h, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// BillingCycle generates the period aligned dates of a subscription. Month
// based periods are aligned on the billing cycle day (clamped to short
// months), day based periods on the cycle start itself.
type BillingCycle struct {
	anchor time.Time
	bcd    int
	period BillingPeriod
}

// NewBillingCycle returns the cycle whose first aligned date is the first
// date on or after start matching bcd. A bcd <= 0 aligns on start's day.
func NewBillingCycle(start time.Time, bcd int, period BillingPeriod) (BillingCycle, error) {
	if err := period.Validate(); err != nil {
		return BillingCycle{}, err
	}
	if bcd > 31 {
		return BillingCycle{}, ierr.NewError("invalid billing cycle day").
			WithHint("Billing cycle day must be between 1 and 31").
			WithReportableDetails(map[string]any{
				"bcd": bcd,
			}).
			Mark(ierr.ErrValidation)
	}
	if bcd <= 0 {
		bcd = start.Day()
	}

	anchor := start
	if period.months() > 0 {
		anchor = AddClampedMonths(start, 0, bcd)
		if anchor.Before(start) {
			anchor = AddClampedMonths(start, 1, bcd)
		}
	}

	return BillingCycle{anchor: anchor, bcd: bcd, period: period}, nil
}

// Anchor returns the first aligned date of the cycle
func (c BillingCycle) Anchor() time.Time {
	return c.anchor
}

// DateFor returns the nth aligned date, n = 0 being the anchor. Dates are
// computed from the anchor to avoid drift from repeated clamping.
func (c BillingCycle) DateFor(n int) time.Time {
	if days := c.period.days(); days > 0 {
		return c.anchor.AddDate(0, 0, days*n)
	}
	return AddClampedMonths(c.anchor, c.period.months()*n, c.bcd)
}

// NextAfter returns the first aligned date strictly after date
func (c BillingCycle) NextAfter(date time.Time) time.Time {
	if c.anchor.After(date) {
		return c.anchor
	}

	n := c.estimate(date)
	for !c.DateFor(n).After(date) {
		n++
	}
	for n > 0 && c.DateFor(n-1).After(date) {
		n--
	}
	return c.DateFor(n)
}

// Between returns the aligned dates d with from < d < to, and d == to when
// includeEnd is set.
func (c BillingCycle) Between(from, to time.Time, includeEnd bool) []time.Time {
	var dates []time.Time
	for d := c.NextAfter(from); d.Before(to) || (includeEnd && d.Equal(to)); d = c.NextAfter(d) {
		dates = append(dates, d)
	}
	return dates
}

// estimate guesses the period index closest to date without exceeding it
func (c BillingCycle) estimate(date time.Time) int {
	if days := c.period.days(); days > 0 {
		n := int(date.Sub(c.anchor).Hours()/24) / days
		return max(n-1, 0)
	}
	ay, am, _ := c.anchor.Date()
	dy, dm, _ := date.Date()
	elapsed := (dy-ay)*12 + int(dm-am)
	return max(elapsed/c.period.months()-1, 0)
}
