package testutil

import (
	"context"
	"time"

	"github.com/flexprice/usagebill/internal/config"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/stretchr/testify/suite"
)

// Stores holds the in-memory repositories of a test
type Stores struct {
	BillingEventRepo *InMemoryBillingEventStore
	InvoiceItemRepo  *InMemoryInvoiceItemStore
	RawUsageRepo     *InMemoryRawUsageStore
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx    context.Context
	stores Stores
	logger *logger.Logger
	config *config.Configuration
	now    time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelInfo

	var err error
	s.logger, err = logger.NewLogger(cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.config = config.GetDefaultConfig()
	s.stores = Stores{
		BillingEventRepo: NewInMemoryBillingEventStore(),
		InvoiceItemRepo:  NewInMemoryInvoiceItemStore(),
		RawUsageRepo:     NewInMemoryRawUsageStore(),
	}
	s.now = time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration, fresh for every test
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetNow returns the frozen test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now
}
