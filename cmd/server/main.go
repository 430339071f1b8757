package main

import (
	"context"
	"log"
	"net/http"

	"github.com/mesa-pos/api/internal/cart"
	"github.com/mesa-pos/api/internal/config"
	"github.com/mesa-pos/api/internal/coordinator"
	"github.com/mesa-pos/api/internal/database"
	"github.com/mesa-pos/api/internal/events"
	"github.com/mesa-pos/api/internal/ledger"
	"github.com/mesa-pos/api/internal/printing"
	"github.com/mesa-pos/api/internal/router"
	"github.com/mesa-pos/api/internal/session"
	"github.com/mesa-pos/api/internal/ws"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	queries := database.New(pool)

	// Session registry: lazy order creation with race-safe bindings.
	registry := session.NewRegistry(pool, queries, func(db database.DBTX) session.RegistryStore {
		return database.New(db)
	})

	// Print routing with per-restaurant settings.
	printer := printing.NewClient(queries, cfg.DefaultPrinterAddress, cfg.DefaultGatewayAddress)

	// WebSocket hub: one room per order.
	hub := ws.NewHub()
	go hub.Run()

	sinks := []ledger.Sink{hub}
	if cfg.AMQPURL != "" {
		publisher, err := events.Connect(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("failed to connect to AMQP: %v", err)
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	led := ledger.NewLedger(pool, queries, func(db database.DBTX) ledger.LedgerStore {
		return database.New(db)
	}, printer, sinks...)

	carts := cart.NewManager(cfg.CartSnapshotDir)
	coord := coordinator.New(registry, led, carts)

	r := router.New(cfg, queries, led, coord, hub)

	log.Printf("Starting server on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
