package catalog

import (
	"strings"
	"time"

	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Unbounded is the max value of a block or limit that accepts any quantity
var Unbounded = decimal.NewFromInt(types.UnlimitedTierMax)

// Price is a per currency amount keyed by the lower case ISO code
type Price map[string]decimal.Decimal

// For returns the amount of p in currency
func (p Price) For(currency string) (decimal.Decimal, error) {
	amount, ok := p[strings.ToLower(currency)]
	if !ok {
		return decimal.Zero, ierr.NewError("price not defined for currency").
			WithHint("The catalog has no price for the subscription currency").
			WithReportableDetails(map[string]any{
				"currency": currency,
			}).
			Mark(ierr.ErrInvalidState)
	}
	return amount, nil
}

// UsageDefinition is a usage section of a plan phase
type UsageDefinition struct {
	// Name identifies the usage section across catalog versions
	Name string `json:"name" validate:"required"`

	// UsageType is CONSUMABLE or CAPACITY
	UsageType types.UsageType `json:"usage_type" validate:"required"`

	// BillingMode is IN_ARREAR for everything the usage engine bills
	BillingMode types.BillingMode `json:"billing_mode" validate:"required"`

	// BillingPeriod is the recurrence of the billed sub periods ex MONTHLY
	BillingPeriod types.BillingPeriod `json:"billing_period" validate:"required"`

	// TierBlockPolicy is ALL_TIERS or TOP_TIER, consumable usage only
	TierBlockPolicy types.TierBlockPolicy `json:"tier_block_policy,omitempty"`

	// Tiers are ordered from the cheapest to the largest volume
	Tiers []*Tier `json:"tiers" validate:"required,min=1"`
}

// Tier is one pricing level of a usage section
type Tier struct {
	// Blocks are set for CONSUMABLE usage
	Blocks []*TieredBlock `json:"blocks,omitempty"`

	// Limits and RecurringPrice are set for CAPACITY usage
	Limits         []*Limit `json:"limits,omitempty"`
	RecurringPrice Price    `json:"recurring_price,omitempty"`
}

// TieredBlock prices a block of Size units, at most Max blocks per tier
type TieredBlock struct {
	UnitType string          `json:"unit_type"`
	Size     decimal.Decimal `json:"size"`
	Max      decimal.Decimal `json:"max"`
	Price    Price           `json:"price"`
}

// IsUnbounded reports whether the block accepts any number of blocks
func (b *TieredBlock) IsUnbounded() bool {
	return b.Max.Equal(Unbounded)
}

// Limit caps the quantity of a unit type within a capacity tier
type Limit struct {
	UnitType string          `json:"unit_type"`
	Max      decimal.Decimal `json:"max"`
}

// IsUnbounded reports whether the limit accepts any quantity
func (l *Limit) IsUnbounded() bool {
	return l.Max.Equal(Unbounded)
}

// Complies reports whether quantity fits the limit
func (l *Limit) Complies(quantity decimal.Decimal) bool {
	return l.IsUnbounded() || quantity.LessThanOrEqual(l.Max)
}

// LimitFor returns the limit of unitType in the tier
func (t *Tier) LimitFor(unitType string) (*Limit, bool) {
	return lo.Find(t.Limits, func(l *Limit) bool {
		return l.UnitType == unitType
	})
}

// TierBlock is a TieredBlock together with its 1 based tier number
type TierBlock struct {
	*TieredBlock
	TierNumber int
}

// IsInArrear reports whether the usage engine bills this section
func (u *UsageDefinition) IsInArrear() bool {
	return u.BillingMode == types.BILLING_MODE_IN_ARREAR
}

// IsCapacity reports whether the section keeps the peak quantity
func (u *UsageDefinition) IsCapacity() bool {
	return u.UsageType == types.USAGE_TYPE_CAPACITY
}

// UnitTypes returns the unit types declared by the section in tier order
func (u *UsageDefinition) UnitTypes() []string {
	var unitTypes []string
	for _, tier := range u.Tiers {
		for _, b := range tier.Blocks {
			unitTypes = append(unitTypes, b.UnitType)
		}
		for _, l := range tier.Limits {
			unitTypes = append(unitTypes, l.UnitType)
		}
	}
	return lo.Uniq(unitTypes)
}

// BlocksFor returns the blocks of unitType across tiers, in tier order
func (u *UsageDefinition) BlocksFor(unitType string) []TierBlock {
	var blocks []TierBlock
	for i, tier := range u.Tiers {
		for _, b := range tier.Blocks {
			if b.UnitType == unitType {
				blocks = append(blocks, TierBlock{TieredBlock: b, TierNumber: i + 1})
			}
		}
	}
	return blocks
}

// Validate checks the structural consistency of the section
func (u *UsageDefinition) Validate() error {
	details := map[string]any{"usage_name": u.Name}

	if u.Name == "" {
		return ierr.NewError("usage name is required").
			WithHint("Every usage section needs a name").
			Mark(ierr.ErrValidation)
	}
	if err := u.UsageType.Validate(); err != nil {
		return err
	}
	if err := u.BillingPeriod.Validate(); err != nil {
		return err
	}
	if len(u.Tiers) == 0 {
		return ierr.NewError("usage section has no tier").
			WithHint("Declare at least one tier").
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	}

	if u.IsCapacity() {
		for i, tier := range u.Tiers {
			if len(tier.Limits) == 0 || len(tier.RecurringPrice) == 0 {
				return ierr.NewError("capacity tier needs limits and a recurring price").
					WithHint("Declare limits and a recurring price on every capacity tier").
					WithReportableDetails(lo.Assign(details, map[string]any{"tier": i + 1})).
					Mark(ierr.ErrValidation)
			}
			for _, l := range tier.Limits {
				if !validMax(l.Max) {
					return ierr.NewError("invalid limit max").
						WithHint("Limits must be at least 1, or -1 when unbounded").
						WithReportableDetails(lo.Assign(details, map[string]any{
							"tier":      i + 1,
							"unit_type": l.UnitType,
							"max":       l.Max,
						})).
						Mark(ierr.ErrValidation)
				}
			}
		}
		return nil
	}

	if err := u.TierBlockPolicy.Validate(); err != nil {
		return err
	}
	for i, tier := range u.Tiers {
		if len(tier.Blocks) == 0 {
			return ierr.NewError("consumable tier needs blocks").
				WithHint("Declare at least one block on every consumable tier").
				WithReportableDetails(lo.Assign(details, map[string]any{"tier": i + 1})).
				Mark(ierr.ErrValidation)
		}
		for _, b := range tier.Blocks {
			if !b.Size.IsPositive() {
				return ierr.NewError("block size must be positive").
					WithHint("Block sizes must be greater than zero").
					WithReportableDetails(lo.Assign(details, map[string]any{
						"tier":      i + 1,
						"unit_type": b.UnitType,
					})).
					Mark(ierr.ErrValidation)
			}
			if !validMax(b.Max) {
				return ierr.NewError("invalid block max").
					WithHint("Block max must be at least 1, or -1 when unbounded").
					WithReportableDetails(lo.Assign(details, map[string]any{
						"tier":      i + 1,
						"unit_type": b.UnitType,
						"max":       b.Max,
					})).
					Mark(ierr.ErrValidation)
			}
		}
	}
	return nil
}

// validMax accepts a positive max or the unbounded marker
func validMax(m decimal.Decimal) bool {
	return m.Equal(Unbounded) || m.GreaterThanOrEqual(decimal.NewFromInt(1))
}

// Version is the set of usage sections effective from EffectiveDate
type Version struct {
	EffectiveDate time.Time          `json:"effective_date"`
	Usages        []*UsageDefinition `json:"usages"`
}
