package usage

import (
	"time"

	"github.com/flexprice/usagebill/internal/domain/invoice"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// billedUsage is what was already invoiced for one sub period
type billedUsage struct {
	items  []*invoice.InvoiceItem
	amount decimal.Decimal
	// allWithDetails is set when every billed item carries a readable breakdown
	allWithDetails bool
	tiers          previousTierUsage
}

func (b *billedUsage) previouslyBilled() bool {
	return len(b.items) > 0
}

// period is a sub period being reconciled
type period struct {
	interval *ContiguousInterval
	usage    *RolledUpUsage
	billed   *billedUsage
	opts     runOptions
	currency string
}

// usageStrategy prices and emits the items of one usage type
type usageStrategy struct {
	price func(p *period) (*priced, error)
	// incremental reports whether priced already excludes the billed amount
	incremental func(p *period) bool
	emit        func(p *period, pr *priced, amountToBill decimal.Decimal) ([]*invoice.InvoiceItem, error)
}

var usageStrategies = map[types.UsageType]usageStrategy{
	types.USAGE_TYPE_CONSUMABLE: {
		price: func(p *period) (*priced, error) {
			var previous previousTierUsage
			if p.interval.def.TierBlockPolicy == types.TIER_BLOCK_POLICY_ALL_TIERS &&
				p.billed.previouslyBilled() && p.billed.allWithDetails {
				previous = p.billed.tiers
			}
			return priceConsumable(p.interval.def, p.usage, p.currency, previous, p.opts.lenient)
		},
		incremental: consumableIncremental,
		emit:        emitConsumable,
	},
	types.USAGE_TYPE_CAPACITY: {
		price: func(p *period) (*priced, error) {
			return priceCapacity(p.interval.def, p.usage, p.currency)
		},
		incremental: func(*period) bool { return false },
		emit:        emitCapacity,
	},
}

// consumableIncremental reports whether ALL_TIERS pricing already subtracted
// the billed blocks tier by tier
func consumableIncremental(p *period) bool {
	return p.interval.def.TierBlockPolicy == types.TIER_BLOCK_POLICY_ALL_TIERS && p.billed.allWithDetails
}

// billedUsageFor collects the items billed for the sub period of ru. It
// returns false when an existing item covers a wider period, the sub period
// is then left alone.
func (c *ContiguousInterval) billedUsageFor(ru *RolledUpUsage, existing []*invoice.InvoiceItem, log *logger.Logger) (*billedUsage, bool) {
	billed := &billedUsage{amount: decimal.Zero, allWithDetails: true}

	for _, item := range existing {
		if item.Type != types.InvoiceItemTypeUsage ||
			item.UsageName != c.def.Name ||
			item.SubscriptionID != ru.SubscriptionID {
			continue
		}

		switch {
		case item.StrictlyContains(ru.Start, ru.End):
			log.Debugw("usage period already covered by a wider item",
				"subscription_id", ru.SubscriptionID,
				"usage_name", c.def.Name,
				"invoice_item_id", item.ID,
				"start_date", ru.Start.Format(time.DateOnly),
				"end_date", ru.End.Format(time.DateOnly),
			)
			return nil, false
		case item.IsWithin(ru.Start, ru.End):
			billed.items = append(billed.items, item)
			billed.amount = billed.amount.Add(item.Amount)
		case item.Overlaps(ru.Start, ru.End):
			log.Warnw("ignoring usage item partially overlapping the billed period",
				"subscription_id", ru.SubscriptionID,
				"usage_name", c.def.Name,
				"invoice_item_id", item.ID,
				"item_start_date", item.StartDate.Format(time.DateOnly),
				"item_end_date", item.EndDate.Format(time.DateOnly),
				"start_date", ru.Start.Format(time.DateOnly),
				"end_date", ru.End.Format(time.DateOnly),
			)
		}
	}

	billed.tiers = make(previousTierUsage)
	for _, item := range billed.items {
		details, err := invoice.ParseItemDetails(item.ItemDetails)
		if err != nil {
			log.Warnw("unreadable usage item details, reconciling on amounts",
				"invoice_item_id", item.ID,
				"usage_name", c.def.Name,
				"error", err,
			)
			billed.allWithDetails = false
			continue
		}
		if details == nil {
			billed.allWithDetails = false
			continue
		}
		if details.Consumable == nil {
			continue
		}
		for _, t := range details.Consumable.Tiers {
			if billed.tiers[t.TierUnit] == nil {
				billed.tiers[t.TierUnit] = make(map[int]int64)
			}
			billed.tiers[t.TierUnit][t.Tier] += t.Quantity
		}
	}
	return billed, true
}

// reconcile returns the items still owed for one sub period
func (c *ContiguousInterval) reconcile(
	ru *RolledUpUsage,
	existing []*invoice.InvoiceItem,
	opts runOptions,
	log *logger.Logger,
) ([]*invoice.InvoiceItem, error) {
	billed, ok := c.billedUsageFor(ru, existing, log)
	if !ok {
		return nil, nil
	}

	strategy, ok := usageStrategies[c.def.UsageType]
	if !ok {
		return nil, ierr.NewError("unsupported usage type").
			WithHint("Usage type must be CONSUMABLE or CAPACITY").
			WithReportableDetails(map[string]any{
				"usage_name": c.def.Name,
				"usage_type": c.def.UsageType,
			}).
			Mark(ierr.ErrInvalidState)
	}

	p := &period{
		interval: c,
		usage:    ru,
		billed:   billed,
		opts:     opts,
		currency: ru.event.Currency,
	}
	pr, err := strategy.price(p)
	if err != nil {
		return nil, err
	}

	amountToBill := pr.amount.Sub(billed.amount)
	if strategy.incremental(p) {
		amountToBill = pr.amount
	}

	if amountToBill.IsNegative() {
		if c.def.IsCapacity() || !opts.lenient {
			return nil, ierr.NewError("usage already billed exceeds the usage to bill").
				WithHint("Billed usage cannot be reduced retroactively").
				WithReportableDetails(map[string]any{
					"subscription_id": ru.SubscriptionID,
					"usage_name":      c.def.Name,
					"start_date":      ru.Start.Format(time.DateOnly),
					"end_date":        ru.End.Format(time.DateOnly),
					"billed_amount":   billed.amount.String(),
					"to_bill_amount":  pr.amount.String(),
				}).
				Mark(ierr.ErrInvalidState)
		}
		log.Warnw("skipping usage period billed above its current usage",
			"subscription_id", ru.SubscriptionID,
			"usage_name", c.def.Name,
			"start_date", ru.Start.Format(time.DateOnly),
			"end_date", ru.End.Format(time.DateOnly),
			"amount_to_bill", amountToBill.String(),
		)
		return nil, nil
	}

	if amountToBill.IsZero() && (billed.previouslyBilled() || !opts.insertZeroAmountItems) {
		return nil, nil
	}
	return strategy.emit(p, pr, amountToBill)
}

// item returns a usage item of the sub period carrying the in force event metadata
func (p *period) item(amount decimal.Decimal, details *invoice.ItemDetails) (*invoice.InvoiceItem, error) {
	encoded, err := details.Encode()
	if err != nil {
		return nil, err
	}

	event := p.usage.event
	accountID := event.AccountID
	if accountID == "" {
		accountID = p.opts.accountID
	}
	return &invoice.InvoiceItem{
		Type:                 types.InvoiceItemTypeUsage,
		InvoiceID:            p.opts.invoiceID,
		AccountID:            accountID,
		BundleID:             event.BundleID,
		SubscriptionID:       p.usage.SubscriptionID,
		ProductName:          event.ProductName,
		PlanName:             event.PlanName,
		PhaseName:            event.PhaseName,
		UsageName:            p.usage.UsageName,
		CatalogEffectiveDate: event.CatalogEffectiveDate,
		StartDate:            p.usage.Start,
		EndDate:              p.usage.End,
		Amount:               amount,
		Currency:             p.currency,
		ItemDetails:          encoded,
	}, nil
}

func emitConsumable(p *period, pr *priced, amountToBill decimal.Decimal) ([]*invoice.InvoiceItem, error) {
	// per tier items are only exact when the priced lines exclude what was billed
	perTier := p.opts.detailMode == types.USAGE_DETAIL_MODE_DETAIL &&
		(!p.billed.previouslyBilled() || consumableIncremental(p))
	if !perTier {
		item, err := p.item(amountToBill, pr.details())
		if err != nil {
			return nil, err
		}
		return []*invoice.InvoiceItem{item}, nil
	}

	lines := lo.Filter(pr.consumable, func(l *invoice.TierUnitDetail, _ int) bool {
		return l.Quantity > 0
	})
	if len(lines) == 0 && len(pr.consumable) > 0 {
		lines = pr.consumable[:1]
	}

	items := make([]*invoice.InvoiceItem, 0, len(lines))
	for _, l := range lines {
		amount := types.RoundToCurrencyPrecision(l.Amount, p.currency)
		details := &invoice.ItemDetails{
			Version: invoice.ItemDetailsVersion,
			Consumable: &invoice.ConsumableDetails{
				Tiers:  []*invoice.TierUnitDetail{l},
				Amount: amount,
			},
		}
		item, err := p.item(amount, details)
		if err != nil {
			return nil, err
		}
		rate := l.TierPrice
		quantity := decimal.NewFromInt(l.Quantity)
		item.Rate = &rate
		item.Quantity = &quantity
		items = append(items, item)
	}
	return items, nil
}

func emitCapacity(p *period, pr *priced, amountToBill decimal.Decimal) ([]*invoice.InvoiceItem, error) {
	item, err := p.item(amountToBill, pr.details())
	if err != nil {
		return nil, err
	}
	return []*invoice.InvoiceItem{item}, nil
}
