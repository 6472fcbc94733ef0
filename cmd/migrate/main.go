package main

import (
	"flag"
	"log"

	"github.com/Tom-Standen/MomentumTrading/internal/app"
	"github.com/Tom-Standen/MomentumTrading/internal/config"
	"github.com/Tom-Standen/MomentumTrading/internal/infrastructure"
	"github.com/Tom-Standen/MomentumTrading/internal/ledger"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", ".", "directory containing app.env")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infrastructure.NewLogger(cfg.LogLevel, "")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, err := app.OpenSQL(cfg.DB_DSN)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Verify connection
	if err := db.Ping(); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

	logger.Info("running database migrations...")
	if err := ledger.Migrate(db); err != nil {
		logger.Fatal("goose migration failed", zap.Error(err))
	}
	logger.Info("migrations completed successfully")
}
