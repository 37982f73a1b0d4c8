package repository

import (
	"github.com/flexprice/usagebill/internal/clickhouse"
	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/invoice"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/postgres"
	clickhouseRepo "github.com/flexprice/usagebill/internal/repository/clickhouse"
	postgresRepo "github.com/flexprice/usagebill/internal/repository/postgres"
)

func NewInvoiceItemRepository(db *postgres.DB, logger *logger.Logger) invoice.Repository {
	return postgresRepo.NewInvoiceItemRepository(db, logger)
}

func NewBillingEventRepository(db *postgres.DB, logger *logger.Logger) billingevent.Repository {
	return postgresRepo.NewBillingEventRepository(db, logger)
}

func NewRawUsageRepository(store *clickhouse.ClickHouseStore, logger *logger.Logger) rawusage.Repository {
	return clickhouseRepo.NewRawUsageRepository(store, logger)
}
