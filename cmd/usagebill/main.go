package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/flexprice/usagebill/internal/clickhouse"
	"github.com/flexprice/usagebill/internal/config"
	"github.com/flexprice/usagebill/internal/domain/billingevent"
	"github.com/flexprice/usagebill/internal/domain/catalog"
	"github.com/flexprice/usagebill/internal/domain/invoice"
	"github.com/flexprice/usagebill/internal/domain/rawusage"
	ierr "github.com/flexprice/usagebill/internal/errors"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/postgres"
	"github.com/flexprice/usagebill/internal/repository"
	"github.com/flexprice/usagebill/internal/service"
	"github.com/flexprice/usagebill/internal/snapshot"
	"github.com/flexprice/usagebill/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// runFlags are the command line arguments of a computation
type runFlags struct {
	Mode         string
	SnapshotPath string
	CatalogPath  string
	AccountID    string
	InvoiceID    string
	TargetDate   string
	DetailMode   string
	DryRun       bool
}

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	flags := &runFlags{}
	flag.StringVar(&flags.Mode, "mode", "", "Run mode, snapshot or store. Defaults to deployment.mode")
	flag.StringVar(&flags.SnapshotPath, "snapshot", "", "Path of the JSON snapshot to compute (snapshot mode)")
	flag.StringVar(&flags.CatalogPath, "catalog", "", "Path of the JSON catalog versions (store mode)")
	flag.StringVar(&flags.AccountID, "account", "", "Account to compute (store mode)")
	flag.StringVar(&flags.InvoiceID, "invoice", "", "Invoice the computed items are attached to")
	flag.StringVar(&flags.TargetDate, "target", "", "Local date usage is billed up to, YYYY-MM-DD")
	flag.StringVar(&flags.DetailMode, "detail", "", "Item granularity, AGGREGATE or DETAIL")
	flag.BoolVar(&flags.DryRun, "dry-run", false, "Compute without persisting")
	flag.Parse()

	// .env is optional, the environment always wins
	_ = godotenv.Load()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if flags.Mode != "" {
		cfg.Deployment.Mode = types.RunMode(flags.Mode)
	}

	var opts []fx.Option
	opts = append(opts,
		fx.Supply(cfg, flags),
		fx.Provide(
			// Logger
			logger.NewLogger,
		),
	)

	switch cfg.Deployment.Mode {
	case types.ModeSnapshot:
		opts = append(opts, snapshotModule)
	case types.ModeStore:
		opts = append(opts, storeModule)
	default:
		log.Fatalf("Unknown run mode %q", cfg.Deployment.Mode)
	}

	// Service layer
	opts = append(opts,
		fx.Provide(
			service.NewServiceParams,
			service.NewUsageBillingService,
		),
		fx.Invoke(startComputation),
	)

	app := fx.New(opts...)
	app.Run()
}

// snapshotModule serves every repository from a single JSON document
var snapshotModule = fx.Module("snapshot",
	fx.Provide(
		provideSnapshotStore,
		func(s *snapshot.Store) catalog.Catalog { return s.Catalog() },
		func(s *snapshot.Store) billingevent.Repository { return s },
		func(s *snapshot.Store) invoice.Repository { return s },
		func(s *snapshot.Store) rawusage.Repository { return s },
		provideSnapshotRequest,
	),
)

// storeModule reads billing data from postgres and raw usage from clickhouse
var storeModule = fx.Module("store",
	fx.Provide(
		providePostgres,
		provideClickHouse,
		provideCatalog,

		// Repositories
		repository.NewBillingEventRepository,
		repository.NewInvoiceItemRepository,
		repository.NewRawUsageRepository,

		provideStoreRequest,
	),
)

func provideSnapshotStore(flags *runFlags) (*snapshot.Store, *snapshot.Snapshot, error) {
	if flags.SnapshotPath == "" {
		return nil, nil, ierr.NewError("snapshot path is required").
			WithHint("Pass -snapshot with the path of the JSON snapshot").
			Mark(ierr.ErrValidation)
	}
	data, err := os.ReadFile(flags.SnapshotPath)
	if err != nil {
		return nil, nil, ierr.WithError(err).
			WithHintf("Failed to read snapshot %s", flags.SnapshotPath).
			Mark(ierr.ErrSystem)
	}
	snap, err := snapshot.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	store, err := snapshot.NewStore(snap)
	if err != nil {
		return nil, nil, err
	}
	return store, snap, nil
}

func provideSnapshotRequest(snap *snapshot.Snapshot, flags *runFlags) (*service.ComputeAccountUsageRequest, error) {
	req := &service.ComputeAccountUsageRequest{
		AccountID:             snap.AccountID,
		InvoiceID:             snap.InvoiceID,
		TargetDate:            snap.TargetDate,
		DetailMode:            snap.DetailMode,
		InsertZeroAmountItems: snap.InsertZeroAmountItems,
		DryRun:                snap.DryRun || flags.DryRun,
	}
	return req, applyFlags(req, flags)
}

func provideStoreRequest(flags *runFlags) (*service.ComputeAccountUsageRequest, error) {
	req := &service.ComputeAccountUsageRequest{
		AccountID: flags.AccountID,
		DryRun:    flags.DryRun,
	}
	return req, applyFlags(req, flags)
}

// applyFlags lets command line arguments override the request
func applyFlags(req *service.ComputeAccountUsageRequest, flags *runFlags) error {
	if flags.InvoiceID != "" {
		req.InvoiceID = flags.InvoiceID
	}
	if flags.DetailMode != "" {
		req.DetailMode = types.UsageDetailMode(flags.DetailMode)
	}
	if flags.TargetDate != "" {
		target, err := time.Parse(time.DateOnly, flags.TargetDate)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Target date must be formatted YYYY-MM-DD").
				Mark(ierr.ErrValidation)
		}
		req.TargetDate = target
	}
	return req.Validate()
}

func providePostgres(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (*postgres.DB, error) {
	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			db.Close()
			return nil
		},
	})
	return db, nil
}

func provideClickHouse(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (*clickhouse.ClickHouseStore, error) {
	store, err := clickhouse.NewClickHouseStore(cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

func provideCatalog(flags *runFlags) (catalog.Catalog, error) {
	if flags.CatalogPath == "" {
		return nil, ierr.NewError("catalog path is required").
			WithHint("Pass -catalog with the path of the JSON catalog versions").
			Mark(ierr.ErrValidation)
	}
	data, err := os.ReadFile(flags.CatalogPath)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Failed to read catalog %s", flags.CatalogPath).
			Mark(ierr.ErrSystem)
	}
	return catalog.ParseStaticCatalog(data)
}

// startComputation runs the computation once the graph is built, prints the
// result as JSON and stops the application
func startComputation(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	svc service.UsageBillingService,
	req *service.ComputeAccountUsageRequest,
	log *logger.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ctx := types.SetTenantID(context.Background(), types.DefaultTenantID)
				ctx = types.SetRequestID(ctx, types.GenerateUUID())

				resp, err := svc.ComputeAccountUsage(ctx, req)
				if err != nil {
					log.Errorw("usage computation failed",
						"account_id", req.AccountID,
						"error", ierr.ToErrorDetail(err),
					)
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}

				out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(resp, "", "  ")
				if err != nil {
					log.Errorw("failed to encode result", "error", err)
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				_, _ = os.Stdout.Write(append(out, '\n'))

				code := 0
				if len(resp.Failures) > 0 {
					code = 2
				}
				_ = shutdowner.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
	})
}
