package usage

import (
	"context"
	"time"

	"github.com/flexprice/usagebill/internal/config"
	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/catalog"
	"github.com/flexprice/usagebill/internal/domain/invoice"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/types"
)

// Engine computes the in-arrear usage items a subscription still owes. It
// performs no I/O and keeps no state between calls.
type Engine struct {
	catalog catalog.Catalog
	config  config.UsageConfig
	logger  *logger.Logger
}

func NewEngine(catalog catalog.Catalog, cfg *config.Configuration, logger *logger.Logger) *Engine {
	return &Engine{
		catalog: catalog,
		config:  cfg.Usage,
		logger:  logger,
	}
}

// ComputeRequest is the snapshot a computation runs on. TargetDate and
// RawUsageStartDate are local dates in the account time zone.
type ComputeRequest struct {
	AccountID      string
	InvoiceID      string
	SubscriptionID string

	// BillingEvents of the subscription ordered by effective date
	BillingEvents []*billingevent.BillingEvent
	// RawUsage may contain records of other subscriptions, they are ignored
	RawUsage            []*rawusage.RawUsageRecord
	ExistingUsageItems  []*invoice.InvoiceItem
	ExistingTrackingIDs []rawusage.TrackingRecordID

	TargetDate        time.Time
	RawUsageStartDate time.Time

	DetailMode            types.UsageDetailMode
	InsertZeroAmountItems bool
	DryRun                bool
}

func (r *ComputeRequest) Validate() error {
	if r.TargetDate.IsZero() {
		return ierr.NewError("target date is required").
			WithHint("Provide the date usage is computed up to").
			Mark(ierr.ErrInvalidOperation)
	}
	if r.DetailMode != "" {
		if err := r.DetailMode.Validate(); err != nil {
			return err
		}
	}

	for i, e := range r.BillingEvents {
		if e.SubscriptionID != r.SubscriptionID {
			return ierr.NewError("billing event of another subscription").
				WithHint("All billing events must belong to the computed subscription").
				WithReportableDetails(map[string]any{
					"subscription_id":       r.SubscriptionID,
					"event_subscription_id": e.SubscriptionID,
					"billing_event_id":      e.ID,
				}).
				Mark(ierr.ErrInvalidOperation)
		}
		if i > 0 && e.EffectiveDate.Before(r.BillingEvents[i-1].EffectiveDate) {
			return ierr.NewError("billing events are not ordered").
				WithHint("Billing events must be ordered by effective date").
				WithReportableDetails(map[string]any{
					"subscription_id":  r.SubscriptionID,
					"billing_event_id": e.ID,
				}).
				Mark(ierr.ErrInvalidOperation)
		}
	}
	return nil
}

// RunFailure is the error of one usage run. Other runs of the subscription
// are computed regardless.
type RunFailure struct {
	SubscriptionID string
	UsageName      string
	Err            error
}

func (f *RunFailure) Error() string {
	return "usage " + f.UsageName + " of subscription " + f.SubscriptionID + ": " + f.Err.Error()
}

func (f *RunFailure) Unwrap() error {
	return f.Err
}

// Result is what a computation adds on top of the existing snapshot
type Result struct {
	// Items have no ID, callers assign one when persisting
	Items       []*invoice.InvoiceItem
	TrackingIDs []rawusage.TrackingRecordID
	// PerUsageNextNotificationDate is the next date each usage must be recomputed
	PerUsageNextNotificationDate map[string]time.Time
	Failures                     []*RunFailure
}

// runOptions are the per request settings shared by every run
type runOptions struct {
	accountID             string
	invoiceID             string
	targetDate            time.Time
	rawUsageStartDate     time.Time
	detailMode            types.UsageDetailMode
	insertZeroAmountItems bool
	strictUnitTypes       bool
	// lenient tolerates billed breakdowns inconsistent with the current usage
	lenient bool
	dryRun  bool
}

func (e *Engine) options(req *ComputeRequest) runOptions {
	detailMode := req.DetailMode
	if detailMode == "" {
		detailMode = e.config.DetailMode
	}
	if detailMode == "" {
		detailMode = types.USAGE_DETAIL_MODE_AGGREGATE
	}

	return runOptions{
		accountID:             req.AccountID,
		invoiceID:             req.InvoiceID,
		targetDate:            asLocalDate(req.TargetDate),
		rawUsageStartDate:     asLocalDate(req.RawUsageStartDate),
		detailMode:            detailMode,
		insertZeroAmountItems: req.InsertZeroAmountItems || e.config.InsertZeroAmountItems,
		strictUnitTypes:       e.config.StrictUnitTypes,
		lenient:               e.config.MissingLenient || req.DryRun,
		dryRun:                req.DryRun,
	}
}

// ComputeMissingUsage returns the usage items, tracking ids and next
// notification dates of one subscription. Caller contract violations are
// returned as errors; failures of individual usage runs are reported in
// Result.Failures.
func (e *Engine) ComputeMissingUsage(ctx context.Context, req *ComputeRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	runner := &subscriptionRunner{
		engine: e,
		req:    req,
		opts:   e.options(req),
		log:    e.logger.WithContext(ctx),
	}
	return runner.run(ctx)
}

// asLocalDate drops the time of day of a date already expressed locally
func asLocalDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return types.ToLocalDate(t, t.Location())
}
