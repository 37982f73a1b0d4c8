package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/flexprice/usagebill/internal/domain/invoice"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/postgres"
	"github.com/flexprice/usagebill/internal/types"
)

const invoiceItemColumns = `id, type, invoice_id, account_id, bundle_id, subscription_id,
			product_name, plan_name, phase_name, usage_name, catalog_effective_date,
			start_date, end_date, amount, rate, quantity, currency, item_details, created_at`

type invoiceItemRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewInvoiceItemRepository(db *postgres.DB, logger *logger.Logger) invoice.Repository {
	return &invoiceItemRepository{db: db, logger: logger}
}

// invoiceItemRow is an item as stored, scoped to a tenant
type invoiceItemRow struct {
	invoice.InvoiceItem
	TenantID string `db:"tenant_id"`
}

// trackingRow is a tracking record as stored, scoped to a tenant and account
type trackingRow struct {
	rawusage.TrackingRecordID
	TenantID  string `db:"tenant_id"`
	AccountID string `db:"account_id"`
}

func (r *invoiceItemRepository) ListUsageItems(ctx context.Context, accountID string) ([]*invoice.InvoiceItem, error) {
	query := `
		SELECT ` + invoiceItemColumns + `
		FROM invoice_items
		WHERE tenant_id = :tenant_id
		AND account_id = :account_id
		AND type = :type
		ORDER BY start_date, created_at, id`

	params := map[string]interface{}{
		"tenant_id":  types.GetTenantID(ctx),
		"account_id": accountID,
		"type":       types.InvoiceItemTypeUsage,
	}

	r.logger.Debugw("listing usage items",
		"tenant_id", params["tenant_id"],
		"account_id", accountID,
	)

	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage items: %w", err)
	}
	defer rows.Close()

	var items []*invoice.InvoiceItem
	for rows.Next() {
		var item invoice.InvoiceItem
		if err := rows.StructScan(&item); err != nil {
			return nil, fmt.Errorf("failed to scan usage item: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage items: %w", err)
	}
	return items, nil
}

func (r *invoiceItemRepository) ListTrackingIDs(ctx context.Context, accountID string) ([]rawusage.TrackingRecordID, error) {
	query := `
		SELECT tracking_id, invoice_id, subscription_id, unit_type, record_date
		FROM rolled_up_usage_tracking
		WHERE tenant_id = :tenant_id
		AND account_id = :account_id
		ORDER BY subscription_id, record_date, unit_type, tracking_id`

	rows, err := r.db.NamedQueryContext(ctx, query, map[string]interface{}{
		"tenant_id":  types.GetTenantID(ctx),
		"account_id": accountID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tracking ids: %w", err)
	}
	defer rows.Close()

	var ids []rawusage.TrackingRecordID
	for rows.Next() {
		var id rawusage.TrackingRecordID
		if err := rows.StructScan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tracking id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracking ids: %w", err)
	}
	return ids, nil
}

// CreateUsageItems inserts items and tracking ids in one transaction. Tracking
// ids already stored are left untouched.
func (r *invoiceItemRepository) CreateUsageItems(ctx context.Context, items []*invoice.InvoiceItem, trackingIDs []rawusage.TrackingRecordID) error {
	if len(items) == 0 && len(trackingIDs) == 0 {
		return nil
	}

	tenantID := types.GetTenantID(ctx)
	now := time.Now().UTC()

	itemRows := make([]invoiceItemRow, 0, len(items))
	accountID := ""
	for _, item := range items {
		row := invoiceItemRow{InvoiceItem: *item, TenantID: tenantID}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		accountID = item.AccountID
		itemRows = append(itemRows, row)
	}
	if accountID == "" {
		accountID = types.GetAccountID(ctx)
	}

	trackingRows := make([]trackingRow, 0, len(trackingIDs))
	for _, id := range trackingIDs {
		trackingRows = append(trackingRows, trackingRow{TrackingRecordID: id, TenantID: tenantID, AccountID: accountID})
	}

	r.logger.Debugw("creating usage items",
		"tenant_id", tenantID,
		"account_id", accountID,
		"items", len(itemRows),
		"tracking_ids", len(trackingRows),
	)

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		if len(itemRows) > 0 {
			query := `
				INSERT INTO invoice_items (
					tenant_id, ` + invoiceItemColumns + `
				) VALUES (
					:tenant_id, :id, :type, :invoice_id, :account_id, :bundle_id, :subscription_id,
					:product_name, :plan_name, :phase_name, :usage_name, :catalog_effective_date,
					:start_date, :end_date, :amount, :rate, :quantity, :currency, :item_details, :created_at
				)`
			if _, err := r.db.NamedExecContext(ctx, query, itemRows); err != nil {
				return fmt.Errorf("failed to insert usage items: %w", err)
			}
		}

		if len(trackingRows) > 0 {
			query := `
				INSERT INTO rolled_up_usage_tracking (
					tenant_id, account_id, tracking_id, invoice_id, subscription_id, unit_type, record_date
				) VALUES (
					:tenant_id, :account_id, :tracking_id, :invoice_id, :subscription_id, :unit_type, :record_date
				)
				ON CONFLICT (tenant_id, tracking_id, subscription_id, unit_type, record_date) DO NOTHING`
			if _, err := r.db.NamedExecContext(ctx, query, trackingRows); err != nil {
				return fmt.Errorf("failed to insert tracking ids: %w", err)
			}
		}
		return nil
	})
}
