package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tom-Standen/MomentumTrading/internal/app"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", ".", "directory containing app.env")
	flag.Parse()

	application, err := app.NewApp(*configPath)
	if err != nil {
		log.Printf("failed to create application: %v", err)
		os.Exit(app.ExitSetup)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if err := application.Init(ctx); err != nil {
		application.Logger.Error("failed to initialize application", zap.Error(err))
		stop()
		os.Exit(app.ExitSetup)
	}

	code := application.Trade(ctx)
	stop()
	application.Close()
	os.Exit(code)
}
