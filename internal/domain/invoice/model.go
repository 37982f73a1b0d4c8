package invoice

import (
	"time"

	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/shopspring/decimal"
)

// InvoiceItem is a persisted or computed USAGE invoice item
type InvoiceItem struct {
	ID             string                `db:"id" json:"id"`
	Type           types.InvoiceItemType `db:"type" json:"type"`
	InvoiceID      string                `db:"invoice_id" json:"invoice_id"`
	AccountID      string                `db:"account_id" json:"account_id"`
	BundleID       string                `db:"bundle_id" json:"bundle_id"`
	SubscriptionID string                `db:"subscription_id" json:"subscription_id"`
	ProductName    string                `db:"product_name" json:"product_name"`
	PlanName       string                `db:"plan_name" json:"plan_name"`
	PhaseName      string                `db:"phase_name" json:"phase_name"`
	UsageName      string                `db:"usage_name" json:"usage_name"`

	// CatalogEffectiveDate is the catalog version the item was priced with
	CatalogEffectiveDate time.Time `db:"catalog_effective_date" json:"catalog_effective_date"`

	// StartDate and EndDate are local dates bounding the billed sub period
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`

	// Amount stored in main currency units (e.g., dollars, not cents)
	Amount decimal.Decimal `db:"amount" json:"amount"`

	// Rate and Quantity are set on DETAIL items, one per tier
	Rate     *decimal.Decimal `db:"rate" json:"rate,omitempty"`
	Quantity *decimal.Decimal `db:"quantity" json:"quantity,omitempty"`

	// Currency 3 digit ISO currency code in lowercase ex usd, eur, gbp
	Currency string `db:"currency" json:"currency"`

	// ItemDetails is the versioned JSON breakdown, see ItemDetails
	ItemDetails *string `db:"item_details" json:"item_details,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsWithin reports whether the item period lies inside [start, end]
func (i *InvoiceItem) IsWithin(start, end time.Time) bool {
	return !i.StartDate.Before(start) && !i.EndDate.After(end)
}

// StrictlyContains reports whether the item period is wider than [start, end]
func (i *InvoiceItem) StrictlyContains(start, end time.Time) bool {
	return !i.StartDate.After(start) && !i.EndDate.Before(end) &&
		(i.StartDate.Before(start) || i.EndDate.After(end))
}

// Overlaps reports whether the item period intersects [start, end)
func (i *InvoiceItem) Overlaps(start, end time.Time) bool {
	return i.StartDate.Before(end) && i.EndDate.After(start)
}

// Validate validates the invoice item
func (i *InvoiceItem) Validate() error {
	if i.Amount.IsNegative() {
		return ierr.NewError("invoice item validation failed").
			WithHint("amount must be non negative").
			Mark(ierr.ErrValidation)
	}
	if i.EndDate.Before(i.StartDate) {
		return ierr.NewError("invoice item validation failed").
			WithHint("end date must not precede start date").
			WithReportableDetails(map[string]any{
				"start_date": i.StartDate,
				"end_date":   i.EndDate,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
