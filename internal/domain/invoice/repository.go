package invoice

import (
	"context"

	"github.com/flexprice/usagebill/internal/domain/rawusage"
)

type Repository interface {
	// ListUsageItems returns every USAGE item of the account
	ListUsageItems(ctx context.Context, accountID string) ([]*InvoiceItem, error)

	// ListTrackingIDs returns the raw usage already billed for the account
	ListTrackingIDs(ctx context.Context, accountID string) ([]rawusage.TrackingRecordID, error)

	// CreateUsageItems persists computed items with the tracking ids they consumed
	CreateUsageItems(ctx context.Context, items []*InvoiceItem, trackingIDs []rawusage.TrackingRecordID) error
}
