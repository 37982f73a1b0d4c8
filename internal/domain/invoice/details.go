package invoice

import (
	ierr "github.com/flexprice/usagebill/internal/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ItemDetailsVersion is the schema version written on new items
const ItemDetailsVersion = 1

// ItemDetails is the breakdown stored on usage items. Exactly one of
// Consumable and Capacity is set.
type ItemDetails struct {
	Version    int                `json:"version"`
	Consumable *ConsumableDetails `json:"consumable,omitempty"`
	Capacity   *CapacityDetails   `json:"capacity,omitempty"`
}

type ConsumableDetails struct {
	Tiers  []*TierUnitDetail `json:"tiers"`
	Amount decimal.Decimal   `json:"amount"`
}

// TierUnitDetail is the billing of one unit type within one tier
type TierUnitDetail struct {
	Tier          int             `json:"tier"`
	TierUnit      string          `json:"tier_unit"`
	TierPrice     decimal.Decimal `json:"tier_price"`
	TierBlockSize decimal.Decimal `json:"tier_block_size"`
	// Quantity is a number of blocks
	Quantity int64           `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

type CapacityDetails struct {
	Tier   int             `json:"tier"`
	Units  []*UnitQuantity `json:"units"`
	Amount decimal.Decimal `json:"amount"`
}

type UnitQuantity struct {
	UnitType string          `json:"unit_type"`
	Amount   decimal.Decimal `json:"amount"`
}

// Encode serialises the details
func (d *ItemDetails) Encode() (*string, error) {
	if d == nil {
		return nil, nil
	}
	raw, err := json.MarshalToString(d)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode item details").
			Mark(ierr.ErrSystem)
	}
	return &raw, nil
}

// ParseItemDetails decodes a stored breakdown. A nil or empty blob yields
// nil details. Unknown versions are rejected.
func ParseItemDetails(raw *string) (*ItemDetails, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}

	var d ItemDetails
	if err := json.UnmarshalFromString(*raw, &d); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Item details are not valid JSON").
			Mark(ierr.ErrValidation)
	}
	if d.Version != ItemDetailsVersion {
		return nil, ierr.NewError("unsupported item details version").
			WithHint("Item details were written with an unknown schema").
			WithReportableDetails(map[string]any{
				"version": d.Version,
			}).
			Mark(ierr.ErrValidation)
	}
	return &d, nil
}
