package service

import (
	"context"
	"sort"
	"time"

	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/invoice"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/flexprice/usagebill/internal/usage"
	"github.com/flexprice/usagebill/internal/validator"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

// UsageBillingService computes the in-arrear usage of whole accounts
type UsageBillingService interface {
	ComputeAccountUsage(ctx context.Context, req *ComputeAccountUsageRequest) (*ComputeAccountUsageResponse, error)
}

type ComputeAccountUsageRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	InvoiceID string `json:"invoice_id"`

	// TargetDate is the local date usage is billed up to
	TargetDate time.Time `json:"target_date" validate:"required"`

	DetailMode            types.UsageDetailMode `json:"detail_mode,omitempty" validate:"omitempty,oneof=AGGREGATE DETAIL"`
	InsertZeroAmountItems bool                  `json:"insert_zero_amount_items,omitempty"`

	// DryRun computes without persisting and tolerates billing inconsistencies
	DryRun bool `json:"dry_run,omitempty"`
}

func (r *ComputeAccountUsageRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// RunFailureResponse is a usage run that could not be computed
type RunFailureResponse struct {
	SubscriptionID string           `json:"subscription_id"`
	UsageName      string           `json:"usage_name,omitempty"`
	Error          ierr.ErrorDetail `json:"error"`
}

type ComputeAccountUsageResponse struct {
	AccountID         string                      `json:"account_id"`
	InvoiceID         string                      `json:"invoice_id,omitempty"`
	TargetDate        time.Time                   `json:"target_date"`
	RawUsageStartDate time.Time                   `json:"raw_usage_start_date"`
	Items             []*invoice.InvoiceItem      `json:"items"`
	TrackingIDs       []rawusage.TrackingRecordID `json:"tracking_ids"`

	// NextNotificationDates maps subscription id then usage name to the
	// next date usage should be billed
	NextNotificationDates map[string]map[string]time.Time `json:"next_notification_dates"`
	Failures              []*RunFailureResponse          `json:"failures,omitempty"`
	Persisted             bool                           `json:"persisted"`
}

type usageBillingService struct {
	ServiceParams
	engine *usage.Engine
	window *usage.RawUsageWindow
}

func NewUsageBillingService(params ServiceParams) UsageBillingService {
	if params.Now == nil {
		params.Now = time.Now
	}
	return &usageBillingService{
		ServiceParams: params,
		engine:        usage.NewEngine(params.Catalog, params.Config, params.Logger),
		window:        usage.NewRawUsageWindow(params.Catalog, params.Config, params.Logger).WithClock(params.Now),
	}
}

type subscriptionResult struct {
	subscriptionID string
	result         *usage.Result
}

func (s *usageBillingService) ComputeAccountUsage(ctx context.Context, req *ComputeAccountUsageRequest) (*ComputeAccountUsageResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx = types.SetAccountID(ctx, req.AccountID)
	ctx = types.SetComputationID(ctx, types.GenerateUUIDWithPrefix(types.UUID_PREFIX_COMPUTATION))
	log := s.Logger.WithContext(ctx)

	targetDate := types.ToLocalDate(req.TargetDate, time.UTC)
	resp := &ComputeAccountUsageResponse{
		AccountID:             req.AccountID,
		InvoiceID:             req.InvoiceID,
		TargetDate:            targetDate,
		Items:                 []*invoice.InvoiceItem{},
		TrackingIDs:           []rawusage.TrackingRecordID{},
		NextNotificationDates: make(map[string]map[string]time.Time),
	}

	events, err := s.BillingEventRepo.ListByAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		log.Infow("no billing events for account, nothing to bill")
		return resp, nil
	}

	existingItems, err := s.InvoiceItemRepo.ListUsageItems(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	existingTrackingIDs, err := s.InvoiceItemRepo.ListTrackingIDs(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	startDate, err := s.window.StartDate(ctx, events, existingItems, targetDate)
	if err != nil {
		return nil, err
	}
	resp.RawUsageStartDate = startDate

	loc, err := events[0].Location()
	if err != nil {
		return nil, err
	}

	subscriptionIDs, eventsBySubscription := billingevent.GroupBySubscription(events)
	records, err := s.RawUsageRepo.List(ctx, &rawusage.Filter{
		AccountID:       req.AccountID,
		SubscriptionIDs: subscriptionIDs,
		StartTime:       time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, loc),
		EndTime:         types.EndOfDay(targetDate, loc),
	})
	if err != nil {
		return nil, err
	}

	log.Infow("computing account usage",
		"subscriptions", len(subscriptionIDs),
		"raw_usage_records", len(records),
		"existing_items", len(existingItems),
		"raw_usage_start_date", startDate.Format(time.DateOnly),
		"target_date", targetDate.Format(time.DateOnly),
	)

	p := pool.NewWithResults[*subscriptionResult]().
		WithMaxGoroutines(s.Config.Worker.Concurrency).
		WithContext(ctx).
		WithCancelOnError()

	for _, subscriptionID := range subscriptionIDs {
		computeReq := &usage.ComputeRequest{
			AccountID:      req.AccountID,
			InvoiceID:      req.InvoiceID,
			SubscriptionID: subscriptionID,
			BillingEvents:  eventsBySubscription[subscriptionID],
			RawUsage:       rawusage.FilterSorted(records, subscriptionID),
			ExistingUsageItems: lo.Filter(existingItems, func(item *invoice.InvoiceItem, _ int) bool {
				return item.SubscriptionID == subscriptionID
			}),
			ExistingTrackingIDs: lo.Filter(existingTrackingIDs, func(id rawusage.TrackingRecordID, _ int) bool {
				return id.SubscriptionID == subscriptionID
			}),
			TargetDate:            targetDate,
			RawUsageStartDate:     startDate,
			DetailMode:            req.DetailMode,
			InsertZeroAmountItems: req.InsertZeroAmountItems,
			DryRun:                req.DryRun,
		}

		p.Go(func(ctx context.Context) (*subscriptionResult, error) {
			result, err := s.engine.ComputeMissingUsage(ctx, computeReq)
			if err != nil {
				return nil, err
			}
			return &subscriptionResult{subscriptionID: computeReq.SubscriptionID, result: result}, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	s.merge(resp, results)

	if req.DryRun || (len(resp.Items) == 0 && len(resp.TrackingIDs) == 0) {
		log.Infow("computed account usage",
			"items", len(resp.Items),
			"tracking_ids", len(resp.TrackingIDs),
			"failures", len(resp.Failures),
			"dry_run", req.DryRun,
		)
		return resp, nil
	}

	if err := s.InvoiceItemRepo.CreateUsageItems(ctx, resp.Items, resp.TrackingIDs); err != nil {
		return nil, err
	}
	resp.Persisted = true

	log.Infow("persisted account usage",
		"items", len(resp.Items),
		"tracking_ids", len(resp.TrackingIDs),
		"failures", len(resp.Failures),
	)
	return resp, nil
}

// merge folds subscription results in subscription id order and assigns
// item ids
func (s *usageBillingService) merge(resp *ComputeAccountUsageResponse, results []*subscriptionResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].subscriptionID < results[j].subscriptionID
	})

	now := s.Now().UTC()
	var trackingIDs []rawusage.TrackingRecordID
	for _, r := range results {
		for _, item := range r.result.Items {
			item.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_ITEM)
			item.CreatedAt = now
			resp.Items = append(resp.Items, item)
		}
		trackingIDs = append(trackingIDs, r.result.TrackingIDs...)

		if len(r.result.PerUsageNextNotificationDate) > 0 {
			resp.NextNotificationDates[r.subscriptionID] = r.result.PerUsageNextNotificationDate
		}
		for _, f := range r.result.Failures {
			resp.Failures = append(resp.Failures, &RunFailureResponse{
				SubscriptionID: f.SubscriptionID,
				UsageName:      f.UsageName,
				Error:          ierr.ToErrorDetail(f.Err),
			})
		}
	}
	resp.TrackingIDs = rawusage.Subtract(trackingIDs, nil)
}
