package types

import (
	ierr "github.com/flexprice/usagebill/internal/errors"
)

// UsageType is the aggregation semantics of a usage section
type UsageType string

const (
	// USAGE_TYPE_CONSUMABLE sums every reported quantity in a period ex api calls
	USAGE_TYPE_CONSUMABLE UsageType = "CONSUMABLE"
	// USAGE_TYPE_CAPACITY keeps the peak reported quantity in a period ex seats
	USAGE_TYPE_CAPACITY UsageType = "CAPACITY"
)

func (u UsageType) Validate() error {
	switch u {
	case USAGE_TYPE_CONSUMABLE, USAGE_TYPE_CAPACITY:
		return nil
	}
	return ierr.NewError("invalid usage type").
		WithHint("Usage type must be CONSUMABLE or CAPACITY").
		WithReportableDetails(map[string]any{
			"usage_type": u,
		}).
		Mark(ierr.ErrValidation)
}

// TierBlockPolicy decides how consumable usage spreads over tiered blocks
type TierBlockPolicy string

const (
	// TIER_BLOCK_POLICY_ALL_TIERS fills tiers progressively, each at its own price
	TIER_BLOCK_POLICY_ALL_TIERS TierBlockPolicy = "ALL_TIERS"
	// TIER_BLOCK_POLICY_TOP_TIER bills every unit at the first tier able to hold them
	TIER_BLOCK_POLICY_TOP_TIER TierBlockPolicy = "TOP_TIER"
)

func (p TierBlockPolicy) Validate() error {
	switch p {
	case TIER_BLOCK_POLICY_ALL_TIERS, TIER_BLOCK_POLICY_TOP_TIER:
		return nil
	}
	return ierr.NewError("invalid tier block policy").
		WithHint("Tier block policy must be ALL_TIERS or TOP_TIER").
		WithReportableDetails(map[string]any{
			"tier_block_policy": p,
		}).
		Mark(ierr.ErrValidation)
}

// UsageDetailMode controls the granularity of emitted usage items
type UsageDetailMode string

const (
	// USAGE_DETAIL_MODE_AGGREGATE emits one item per period
	USAGE_DETAIL_MODE_AGGREGATE UsageDetailMode = "AGGREGATE"
	// USAGE_DETAIL_MODE_DETAIL emits one item per tier and unit type
	USAGE_DETAIL_MODE_DETAIL UsageDetailMode = "DETAIL"
)

func (m UsageDetailMode) Validate() error {
	switch m {
	case USAGE_DETAIL_MODE_AGGREGATE, USAGE_DETAIL_MODE_DETAIL:
		return nil
	}
	return ierr.NewError("invalid usage detail mode").
		WithHint("Usage detail mode must be AGGREGATE or DETAIL").
		WithReportableDetails(map[string]any{
			"detail_mode": m,
		}).
		Mark(ierr.ErrValidation)
}

// InvoiceItemType is the kind of an invoice item
type InvoiceItemType string

const (
	InvoiceItemTypeUsage     InvoiceItemType = "USAGE"
	InvoiceItemTypeRecurring InvoiceItemType = "RECURRING"
	InvoiceItemTypeFixed     InvoiceItemType = "FIXED"
)

// UnlimitedTierMax marks a tier block or limit without upper bound
const UnlimitedTierMax = -1
