package usage

import (
	"github.com/flexprice/usagebill/internal/domain/catalog"
	"github.com/flexprice/usagebill/internal/domain/invoice"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// previousTierUsage is the number of blocks already billed per unit type and tier
type previousTierUsage map[string]map[int]int64

// priced is what a sub period costs before reconciliation
type priced struct {
	amount     decimal.Decimal
	consumable []*invoice.TierUnitDetail
	capacity   *invoice.CapacityDetails
}

func (p *priced) details() *invoice.ItemDetails {
	d := &invoice.ItemDetails{Version: invoice.ItemDetailsVersion}
	if p.capacity != nil {
		d.Capacity = p.capacity
		return d
	}
	d.Consumable = &invoice.ConsumableDetails{Tiers: p.consumable, Amount: p.amount}
	return d
}

// blocksOf is the number of blocks of size needed to hold quantity
func blocksOf(quantity, size decimal.Decimal) decimal.Decimal {
	q, r := quantity.QuoRem(size, 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q
}

// priceConsumable prices every rolled up unit against the tiered blocks of
// the section. previous is only used by ALL_TIERS.
func priceConsumable(
	def *catalog.UsageDefinition,
	ru *RolledUpUsage,
	currency string,
	previous previousTierUsage,
	lenient bool,
) (*priced, error) {
	result := &priced{amount: decimal.Zero}

	for _, unit := range ru.Units {
		blocks := def.BlocksFor(unit.UnitType)
		if len(blocks) == 0 {
			continue
		}

		var lines []*invoice.TierUnitDetail
		var err error
		if def.TierBlockPolicy == types.TIER_BLOCK_POLICY_TOP_TIER {
			lines, err = priceTopTier(blocks, unit, currency)
		} else {
			lines, err = priceAllTiers(def, ru, blocks, unit, currency, previous[unit.UnitType], lenient)
		}
		if err != nil {
			return nil, err
		}

		for _, l := range lines {
			result.amount = result.amount.Add(l.Amount)
		}
		result.consumable = append(result.consumable, lines...)
	}

	result.amount = types.RoundToCurrencyPrecision(result.amount, currency)
	return result, nil
}

// priceAllTiers fills each tier up to its max before moving to the next one.
// Blocks billed previously are subtracted per tier.
func priceAllTiers(
	def *catalog.UsageDefinition,
	ru *RolledUpUsage,
	blocks []catalog.TierBlock,
	unit RolledUpUnit,
	currency string,
	previous map[int]int64,
	lenient bool,
) ([]*invoice.TierUnitDetail, error) {
	lastPreviousTier := 0
	for tier := range previous {
		lastPreviousTier = max(lastPreviousTier, tier)
	}

	var lines []*invoice.TierUnitDetail
	remaining := unit.Amount
	for i, b := range blocks {
		nb := blocksOf(remaining, b.Size)
		var used int64
		if !b.IsUnbounded() && nb.GreaterThan(b.Max) {
			used = b.Max.IntPart()
			remaining = remaining.Sub(b.Max.Mul(b.Size))
		} else {
			used = nb.IntPart()
			remaining = decimal.Zero
		}

		if previous != nil {
			billed := previous[b.TierNumber]
			if !lenient {
				// lower tiers were full when a higher one got billed
				inconsistent := used < billed
				if b.TierNumber < lastPreviousTier {
					inconsistent = used != billed
				}
				if inconsistent {
					return nil, ierr.NewError("billed tier usage is inconsistent with the current usage").
						WithHint("Previously billed blocks cannot be reconciled with the reported usage").
						WithReportableDetails(map[string]any{
							"subscription_id": ru.SubscriptionID,
							"usage_name":      def.Name,
							"unit_type":       unit.UnitType,
							"tier":            b.TierNumber,
							"billed_blocks":   billed,
							"current_blocks":  used,
							"start_date":      ru.Start,
							"end_date":        ru.End,
						}).
						Mark(ierr.ErrInvalidState)
				}
			}
			used -= billed
		}

		// the first tier is always reported so a zero usage stays visible
		if i > 0 && used <= 0 {
			continue
		}

		price, err := b.Price.For(currency)
		if err != nil {
			return nil, err
		}
		lines = append(lines, &invoice.TierUnitDetail{
			Tier:          b.TierNumber,
			TierUnit:      unit.UnitType,
			TierPrice:     price,
			TierBlockSize: b.Size,
			Quantity:      used,
			Amount:        price.Mul(decimal.NewFromInt(used)),
		})
	}
	return lines, nil
}

// priceTopTier bills every unit at the price of the first tier able to hold
// the overflow of the tiers below it. The last tier is the default.
func priceTopTier(blocks []catalog.TierBlock, unit RolledUpUnit, currency string) ([]*invoice.TierUnitDetail, error) {
	target := blocks[len(blocks)-1]
	remaining := unit.Amount
	for _, b := range blocks {
		nb := blocksOf(remaining, b.Size)
		if b.IsUnbounded() || nb.LessThanOrEqual(b.Max) {
			target = b
			break
		}
		remaining = remaining.Sub(b.Max.Mul(b.Size))
	}

	price, err := target.Price.For(currency)
	if err != nil {
		return nil, err
	}
	nb := blocksOf(unit.Amount, target.Size).IntPart()
	return []*invoice.TierUnitDetail{{
		Tier:          target.TierNumber,
		TierUnit:      unit.UnitType,
		TierPrice:     price,
		TierBlockSize: target.Size,
		Quantity:      nb,
		Amount:        price.Mul(decimal.NewFromInt(nb)),
	}}, nil
}

// priceCapacity bills the recurring price of the first tier every unit
// complies with
func priceCapacity(def *catalog.UsageDefinition, ru *RolledUpUsage, currency string) (*priced, error) {
	units := lo.Map(ru.Units, func(u RolledUpUnit, _ int) *invoice.UnitQuantity {
		return &invoice.UnitQuantity{UnitType: u.UnitType, Amount: u.Amount}
	})

	if lo.EveryBy(ru.Units, func(u RolledUpUnit) bool { return u.Amount.IsZero() }) {
		return &priced{
			amount:   decimal.Zero,
			capacity: &invoice.CapacityDetails{Units: units, Amount: decimal.Zero},
		}, nil
	}

	for i, tier := range def.Tiers {
		complies := true
		for _, u := range ru.Units {
			limit, ok := tier.LimitFor(u.UnitType)
			if !ok {
				return nil, ierr.NewError("capacity tier has no limit for unit type").
					WithHint("Every capacity tier must declare a limit for each unit type").
					WithReportableDetails(map[string]any{
						"usage_name": def.Name,
						"tier":       i + 1,
						"unit_type":  u.UnitType,
					}).
					Mark(ierr.ErrInvalidState)
			}
			if !limit.Complies(u.Amount) {
				complies = false
				break
			}
		}
		if !complies {
			continue
		}

		price, err := tier.RecurringPrice.For(currency)
		if err != nil {
			return nil, err
		}
		amount := types.RoundToCurrencyPrecision(price, currency)
		return &priced{
			amount:   amount,
			capacity: &invoice.CapacityDetails{Tier: i + 1, Units: units, Amount: amount},
		}, nil
	}

	return nil, ierr.NewError("usage exceeds every capacity tier").
		WithHint("No capacity tier accepts the reported usage").
		WithReportableDetails(map[string]any{
			"subscription_id": ru.SubscriptionID,
			"usage_name":      def.Name,
			"start_date":      ru.Start,
			"end_date":        ru.End,
		}).
		Mark(ierr.ErrInvalidState)
}
