package billingevent

import (
	"sort"
	"time"

	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/samber/lo"
)

// BillingEvent is a subscription transition relevant to billing. Events of
// one subscription are strictly ordered by EffectiveDate.
type BillingEvent struct {
	ID             string `db:"id" json:"id"`
	AccountID      string `db:"account_id" json:"account_id"`
	SubscriptionID string `db:"subscription_id" json:"subscription_id"`
	BundleID       string `db:"bundle_id" json:"bundle_id"`

	// EffectiveDate is the instant the transition takes effect
	EffectiveDate time.Time `db:"effective_date" json:"effective_date"`

	PlanName    string `db:"plan_name" json:"plan_name"`
	PhaseName   string `db:"phase_name" json:"phase_name"`
	ProductName string `db:"product_name" json:"product_name"`

	// BillCycleDayLocal is the day of month billing periods align on
	BillCycleDayLocal int `db:"bill_cycle_day_local" json:"bill_cycle_day_local"`

	// Currency 3 digit ISO currency code in lowercase ex usd, eur, gbp
	Currency string `db:"currency" json:"currency"`

	// TimeZone is the IANA zone of the account ex Europe/Paris
	TimeZone string `db:"time_zone" json:"time_zone"`

	TransitionType types.TransitionType `db:"transition_type" json:"transition_type"`

	// Usages are the names of the usage sections active after the transition
	Usages StringArray `db:"usages" json:"usages"`

	// CatalogEffectiveDate selects the catalog version of the usage sections
	CatalogEffectiveDate time.Time `db:"catalog_effective_date" json:"catalog_effective_date"`
}

// Location returns the account time zone
func (e *BillingEvent) Location() (*time.Location, error) {
	return types.LoadLocation(e.TimeZone)
}

// HasUsage reports whether the usage section is active after the event
func (e *BillingEvent) HasUsage(name string) bool {
	return lo.Contains(e.Usages, name)
}

func (e *BillingEvent) Validate() error {
	if e.SubscriptionID == "" {
		return ierr.NewError("subscription id is required").
			WithHint("Billing events must reference a subscription").
			WithReportableDetails(map[string]any{
				"billing_event_id": e.ID,
			}).
			Mark(ierr.ErrValidation)
	}
	if e.EffectiveDate.IsZero() {
		return ierr.NewError("effective date is required").
			WithHint("Billing events must carry an effective date").
			WithReportableDetails(map[string]any{
				"billing_event_id": e.ID,
				"subscription_id":  e.SubscriptionID,
			}).
			Mark(ierr.ErrValidation)
	}
	if _, err := e.Location(); err != nil {
		return err
	}
	return nil
}

// Sort orders events by subscription then effective date, keeping the
// input order of events sharing both.
func Sort(events []*BillingEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].SubscriptionID != events[j].SubscriptionID {
			return events[i].SubscriptionID < events[j].SubscriptionID
		}
		return events[i].EffectiveDate.Before(events[j].EffectiveDate)
	})
}

// GroupBySubscription splits events per subscription, ordered by subscription id
func GroupBySubscription(events []*BillingEvent) ([]string, map[string][]*BillingEvent) {
	sorted := append([]*BillingEvent(nil), events...)
	Sort(sorted)

	grouped := lo.GroupBy(sorted, func(e *BillingEvent) string {
		return e.SubscriptionID
	})
	ids := lo.Uniq(lo.Map(sorted, func(e *BillingEvent, _ int) string {
		return e.SubscriptionID
	}))
	return ids, grouped
}
