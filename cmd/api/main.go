package main

import (
	"context"
	"flag"
	"log"

	"github.com/Tom-Standen/MomentumTrading/internal/app"
)

func main() {
	configPath := flag.String("config", ".", "directory containing app.env")
	flag.Parse()

	// Create application instance
	application, err := app.NewApp(*configPath)
	if err != nil {
		log.Fatalf("failed to create application: %v", err)
	}

	// Initialize application (ledger, exchange client, NATS)
	if err := application.Init(context.Background()); err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Serve(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
