package service

import (
	"time"

	"github.com/flexprice/usagebill/internal/config"
	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/catalog"
	"github.com/flexprice/usagebill/internal/domain/invoice"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	"github.com/flexprice/usagebill/internal/logger"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger  *logger.Logger
	Config  *config.Configuration
	Catalog catalog.Catalog

	// Repositories
	BillingEventRepo billingevent.Repository
	InvoiceItemRepo  invoice.Repository
	RawUsageRepo     rawusage.Repository

	// Now is the wall clock, overridden in tests
	Now func() time.Time
}

// Common service params
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	catalog catalog.Catalog,
	billingEventRepo billingevent.Repository,
	invoiceItemRepo invoice.Repository,
	rawUsageRepo rawusage.Repository,
) ServiceParams {
	return ServiceParams{
		Logger:           logger,
		Config:           config,
		Catalog:          catalog,
		BillingEventRepo: billingEventRepo,
		InvoiceItemRepo:  invoiceItemRepo,
		RawUsageRepo:     rawUsageRepo,
		Now:              time.Now,
	}
}
