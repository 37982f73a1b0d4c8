package usage

import (
	"context"
	"sort"
	"time"

	"github.com/flexprice/usagebill/internal/config"
	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/catalog"
	"github.com/flexprice/usagebill/internal/domain/invoice"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/samber/lo"
)

// RawUsageWindow picks the earliest raw usage date a computation must read.
// Periods older than MaxRawUsagePreviousPeriod billing periods before the
// last billed one are considered settled.
type RawUsageWindow struct {
	catalog catalog.Catalog
	config  config.UsageConfig
	logger  *logger.Logger
	now     func() time.Time
}

func NewRawUsageWindow(catalog catalog.Catalog, cfg *config.Configuration, logger *logger.Logger) *RawUsageWindow {
	return &RawUsageWindow{
		catalog: catalog,
		config:  cfg.Usage,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the clock used to read today's date
func (w *RawUsageWindow) WithClock(now func() time.Time) *RawUsageWindow {
	w.now = now
	return w
}

// StartDate returns the local date raw usage must be read from. It is never
// before the first billing event of the account.
func (w *RawUsageWindow) StartDate(
	ctx context.Context,
	events []*billingevent.BillingEvent,
	existingItems []*invoice.InvoiceItem,
	targetDate time.Time,
) (time.Time, error) {
	if len(events) == 0 {
		return time.Time{}, ierr.NewError("no billing event to select raw usage for").
			WithHint("The raw usage window needs at least one billing event").
			Mark(ierr.ErrInvalidOperation)
	}

	loc, err := events[0].Location()
	if err != nil {
		return time.Time{}, err
	}
	first := types.ToLocalDate(events[0].EffectiveDate, loc)
	for _, e := range events[1:] {
		if d := types.ToLocalDate(e.EffectiveDate, loc); d.Before(first) {
			first = d
		}
	}

	if w.config.MaxRawUsagePreviousPeriod < 0 {
		return first, nil
	}

	usagePeriods, periods := w.knownPeriods(ctx, events)
	if len(periods) == 0 {
		return first, nil
	}

	log := w.logger.WithContext(ctx)
	resolved := make(map[types.BillingPeriod]time.Time, len(periods))
	if w.config.ZeroAmountUsageDisabled {
		// without $0 items the last billed period cannot be told from existing items
		ref := asLocalDate(targetDate)
		if today := types.ToLocalDate(w.now(), loc); today.Before(ref) {
			ref = today
		}
		for _, p := range periods {
			d, err := types.RecedeByNPeriods(ref, p, 1)
			if err != nil {
				return time.Time{}, err
			}
			resolved[p] = d
		}
	} else {
		items := make([]*invoice.InvoiceItem, 0, len(existingItems))
		for _, item := range existingItems {
			if item.Type == types.InvoiceItemTypeUsage {
				items = append(items, item)
			}
		}
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].EndDate.After(items[j].EndDate)
		})

		for _, item := range items {
			p, ok := usagePeriods[item.UsageName]
			if !ok {
				log.Warnw("usage item of unknown usage section",
					"invoice_item_id", item.ID,
					"usage_name", item.UsageName,
				)
				continue
			}
			if _, ok := resolved[p]; !ok {
				resolved[p] = item.EndDate
			}
			if len(resolved) == len(periods) {
				break
			}
		}
	}

	var start time.Time
	for _, p := range periods {
		last, ok := resolved[p]
		if !ok {
			// a period never billed needs the full history
			return first, nil
		}
		d, err := types.RecedeByNPeriods(last, p, w.config.MaxRawUsagePreviousPeriod)
		if err != nil {
			return time.Time{}, err
		}
		if start.IsZero() || d.Before(start) {
			start = d
		}
	}

	if start.Before(first) {
		return first, nil
	}
	return start, nil
}

// knownPeriods resolves the billing period of every in-arrear section of the
// events. Sections the catalog cannot resolve are left out.
func (w *RawUsageWindow) knownPeriods(ctx context.Context, events []*billingevent.BillingEvent) (map[string]types.BillingPeriod, []types.BillingPeriod) {
	usagePeriods := make(map[string]types.BillingPeriod)
	var periods []types.BillingPeriod
	seen := make(map[usageKey]struct{})

	for _, e := range events {
		for _, name := range e.Usages {
			key := keyOf(name, e)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}

			def, err := w.catalog.GetUsageDefinition(name, e.CatalogEffectiveDate)
			if err != nil {
				w.logger.WithContext(ctx).Warnw("usage section not found in catalog",
					"usage_name", name,
					"catalog_effective_date", e.CatalogEffectiveDate,
					"error", err,
				)
				continue
			}
			if !def.IsInArrear() {
				continue
			}
			if _, ok := usagePeriods[name]; !ok {
				usagePeriods[name] = def.BillingPeriod
			}
			if !lo.Contains(periods, def.BillingPeriod) {
				periods = append(periods, def.BillingPeriod)
			}
		}
	}
	return usagePeriods, periods
}
