package postgres

import (
	"context"
	"fmt"

	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/postgres"
	"github.com/flexprice/usagebill/internal/types"
)

type billingEventRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewBillingEventRepository(db *postgres.DB, logger *logger.Logger) billingevent.Repository {
	return &billingEventRepository{db: db, logger: logger}
}

func (r *billingEventRepository) ListByAccount(ctx context.Context, accountID string) ([]*billingevent.BillingEvent, error) {
	query := `
		SELECT id, account_id, subscription_id, bundle_id, effective_date, plan_name, phase_name,
			product_name, bill_cycle_day_local, currency, time_zone, transition_type, usages,
			catalog_effective_date
		FROM billing_events
		WHERE tenant_id = $1
		AND account_id = $2
		ORDER BY subscription_id, effective_date, id`

	r.logger.Debugw("listing billing events",
		"tenant_id", types.GetTenantID(ctx),
		"account_id", accountID,
	)

	var events []*billingevent.BillingEvent
	if err := r.db.SelectContext(ctx, &events, query, types.GetTenantID(ctx), accountID); err != nil {
		return nil, fmt.Errorf("failed to list billing events: %w", err)
	}
	return events, nil
}
