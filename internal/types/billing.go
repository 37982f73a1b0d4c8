package types

import (
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/samber/lo"
)

// BillingPeriod is the recurrence of a usage section ex MONTHLY, ANNUAL, WEEKLY, DAILY
type BillingPeriod string

const (
	BILLING_PERIOD_DAILY     BillingPeriod = "DAILY"
	BILLING_PERIOD_WEEKLY    BillingPeriod = "WEEKLY"
	BILLING_PERIOD_MONTHLY   BillingPeriod = "MONTHLY"
	BILLING_PERIOD_QUARTER   BillingPeriod = "QUARTERLY"
	BILLING_PERIOD_HALF_YEAR BillingPeriod = "HALF_YEARLY"
	BILLING_PERIOD_ANNUAL    BillingPeriod = "ANNUAL"
)

func (p BillingPeriod) String() string {
	return string(p)
}

func (p BillingPeriod) Validate() error {
	allowed := []BillingPeriod{
		BILLING_PERIOD_DAILY,
		BILLING_PERIOD_WEEKLY,
		BILLING_PERIOD_MONTHLY,
		BILLING_PERIOD_QUARTER,
		BILLING_PERIOD_HALF_YEAR,
		BILLING_PERIOD_ANNUAL,
	}
	if !lo.Contains(allowed, p) {
		return ierr.NewError("invalid billing period").
			WithHint("Billing period must be one of DAILY, WEEKLY, MONTHLY, QUARTERLY, HALF_YEARLY, ANNUAL").
			WithReportableDetails(map[string]any{
				"billing_period": p,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// months returns the number of calendar months in one period, or 0 for
// day based periods.
func (p BillingPeriod) months() int {
	switch p {
	case BILLING_PERIOD_MONTHLY:
		return 1
	case BILLING_PERIOD_QUARTER:
		return 3
	case BILLING_PERIOD_HALF_YEAR:
		return 6
	case BILLING_PERIOD_ANNUAL:
		return 12
	}
	return 0
}

// days returns the number of days in one period for day based periods.
func (p BillingPeriod) days() int {
	switch p {
	case BILLING_PERIOD_DAILY:
		return 1
	case BILLING_PERIOD_WEEKLY:
		return 7
	}
	return 0
}

// BillingMode tells whether a usage section is billed before or after consumption
type BillingMode string

const (
	BILLING_MODE_IN_ADVANCE BillingMode = "IN_ADVANCE"
	BILLING_MODE_IN_ARREAR  BillingMode = "IN_ARREAR"
)

// TransitionType is the subscription transition that produced a billing event
type TransitionType string

const (
	TransitionTypeCreate TransitionType = "CREATE"
	TransitionTypeChange TransitionType = "CHANGE"
	TransitionTypePhase  TransitionType = "PHASE"
	TransitionTypePause  TransitionType = "PAUSE"
	TransitionTypeResume TransitionType = "RESUME"
	TransitionTypeCancel TransitionType = "CANCEL"
)

func (t TransitionType) IsCancellation() bool {
	return t == TransitionTypeCancel
}
