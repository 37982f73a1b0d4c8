package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/flexprice/usagebill/internal/clickhouse"
	"github.com/flexprice/usagebill/internal/config"
	"github.com/flexprice/usagebill/internal/logger"
	"github.com/flexprice/usagebill/internal/postgres"
	"github.com/flexprice/usagebill/migrations"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	// Parse command line flags
	dryRun := flag.Bool("dry-run", false, "Print migration SQL without executing it")
	target := flag.String("target", "all", "Store to migrate: postgres, clickhouse or all")
	flag.Parse()

	// .env is optional, the environment always wins
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *target == "all" || *target == "postgres" {
		scripts, err := migrations.Postgres()
		if err != nil {
			logger.Fatalw("Failed to read postgres migrations", "error", err)
		}

		if *dryRun {
			logger.Info("Dry run mode - printing postgres migration SQL without executing")
			printScripts(scripts)
		} else {
			logger.Infow("Connecting to postgres", "host", cfg.Postgres.Host)
			db, err := postgres.NewDB(cfg, logger)
			if err != nil {
				logger.Fatalw("Failed to connect to postgres", "error", err)
			}
			for _, script := range scripts {
				if _, err := db.ExecContext(ctx, script); err != nil {
					logger.Fatalw("Failed to apply postgres migration", "error", err)
				}
			}
			db.Close()
			logger.Infow("Postgres migration completed", "scripts", len(scripts))
		}
	}

	if *target == "all" || *target == "clickhouse" {
		scripts, err := migrations.ClickHouse()
		if err != nil {
			logger.Fatalw("Failed to read clickhouse migrations", "error", err)
		}

		if *dryRun {
			logger.Info("Dry run mode - printing clickhouse migration SQL without executing")
			printScripts(scripts)
		} else {
			logger.Infow("Connecting to clickhouse", "address", cfg.ClickHouse.Address)
			store, err := clickhouse.NewClickHouseStore(cfg, logger)
			if err != nil {
				logger.Fatalw("Failed to connect to clickhouse", "error", err)
			}
			// clickhouse accepts a single statement per query
			for _, script := range scripts {
				if err := store.GetConn().Exec(ctx, script); err != nil {
					logger.Fatalw("Failed to apply clickhouse migration", "error", err)
				}
			}
			_ = store.Close()
			logger.Infow("ClickHouse migration completed", "scripts", len(scripts))
		}
	}

	fmt.Println("Migration process completed")
}

func printScripts(scripts []string) {
	for _, script := range scripts {
		fmt.Println(script)
	}
}
