package clickhouse

import (
	"context"
	"strings"

	"github.com/flexprice/usagebill/internal/clickhouse"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/types"
)

type RawUsageRepository struct {
	store  *clickhouse.ClickHouseStore
	logger *logger.Logger
}

func NewRawUsageRepository(store *clickhouse.ClickHouseStore, logger *logger.Logger) rawusage.Repository {
	return &RawUsageRepository{store: store, logger: logger}
}

// List reads raw usage through FINAL so rows replaced by a later ingestion
// of the same tracking id are collapsed.
func (r *RawUsageRepository) List(ctx context.Context, filter *rawusage.Filter) ([]*rawusage.RawUsageRecord, error) {
	if filter == nil || filter.AccountID == "" {
		return nil, ierr.NewError("account id is required").
			WithHint("Raw usage can only be listed for an account").
			Mark(ierr.ErrValidation)
	}

	query, args := buildRawUsageQuery(types.GetTenantID(ctx), filter)

	var rows []rawusage.RawUsageRecord
	if err := r.store.GetConn().Select(ctx, &rows, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list raw usage").
			WithReportableDetails(map[string]any{
				"account_id":    filter.AccountID,
				"subscriptions": len(filter.SubscriptionIDs),
			}).
			Mark(ierr.ErrDatabase)
	}

	records := make([]*rawusage.RawUsageRecord, len(rows))
	for i := range rows {
		records[i] = &rows[i]
	}

	r.logger.WithContext(ctx).Debugw("listed raw usage",
		"account_id", filter.AccountID,
		"count", len(records),
	)
	return records, nil
}

func buildRawUsageQuery(tenantID string, filter *rawusage.Filter) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT subscription_id, unit_type, amount, record_date, tracking_id
		FROM raw_usage FINAL
		WHERE tenant_id = ? AND account_id = ?`)
	args := []interface{}{tenantID, filter.AccountID}

	if len(filter.SubscriptionIDs) > 0 {
		sb.WriteString(" AND subscription_id IN ?")
		args = append(args, filter.SubscriptionIDs)
	}
	if !filter.StartTime.IsZero() {
		sb.WriteString(" AND record_date >= ?")
		args = append(args, filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		sb.WriteString(" AND record_date <= ?")
		args = append(args, filter.EndTime)
	}
	sb.WriteString(" ORDER BY subscription_id, record_date, unit_type, tracking_id")
	return sb.String(), args
}
