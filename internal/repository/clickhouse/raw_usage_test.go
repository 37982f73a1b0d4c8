package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/flexprice/usagebill/internal/clickhouse"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn answers Select with canned rows. Any other call panics.
type fakeConn struct {
	driver.Conn
	rows  []rawusage.RawUsageRecord
	err   error
	query string
	args  []any
}

func (f *fakeConn) Select(_ context.Context, dest any, query string, args ...any) error {
	f.query = query
	f.args = args
	if f.err != nil {
		return f.err
	}
	*(dest.(*[]rawusage.RawUsageRecord)) = append([]rawusage.RawUsageRecord(nil), f.rows...)
	return nil
}

func newTestRepo(conn *fakeConn) rawusage.Repository {
	log := logger.NewNopLogger()
	return NewRawUsageRepository(clickhouse.NewClickHouseStoreFromConn(conn, log), log)
}

func TestRawUsageRepository_List(t *testing.T) {
	day := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	conn := &fakeConn{rows: []rawusage.RawUsageRecord{
		{SubscriptionID: "sub_1", UnitType: "calls", Amount: decimal.NewFromInt(10), RecordDate: day, TrackingID: "t1"},
		{SubscriptionID: "sub_1", UnitType: "calls", Amount: decimal.NewFromInt(5), RecordDate: day, TrackingID: "t2"},
	}}
	repo := newTestRepo(conn)

	ctx := types.SetTenantID(context.Background(), "tenant_1")
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	records, err := repo.List(ctx, &rawusage.Filter{
		AccountID:       "acct_1",
		SubscriptionIDs: []string{"sub_1"},
		StartTime:       start,
		EndTime:         end,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "t1", records[0].TrackingID)
	assert.True(t, records[1].Amount.Equal(decimal.NewFromInt(5)))

	assert.Contains(t, conn.query, "FROM raw_usage FINAL")
	assert.Contains(t, conn.query, "subscription_id IN ?")
	assert.Equal(t, []any{"tenant_1", "acct_1", []string{"sub_1"}, start, end}, conn.args)
}

func TestRawUsageRepository_ListOptionalFilters(t *testing.T) {
	conn := &fakeConn{}
	repo := newTestRepo(conn)

	records, err := repo.List(context.Background(), &rawusage.Filter{AccountID: "acct_1"})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotContains(t, conn.query, "IN ?")
	assert.NotContains(t, conn.query, "record_date >=")
	assert.Len(t, conn.args, 2)
}

func TestRawUsageRepository_ListErrors(t *testing.T) {
	repo := newTestRepo(&fakeConn{err: errors.New("connection reset")})

	_, err := repo.List(context.Background(), &rawusage.Filter{AccountID: "acct_1"})
	require.Error(t, err)
	assert.True(t, ierr.IsDatabase(err))

	_, err = repo.List(context.Background(), &rawusage.Filter{})
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
}
