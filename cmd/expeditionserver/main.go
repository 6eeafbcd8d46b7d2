// Package main provides the expedition server binary: the websocket gateway
// over the room registry, combat engine, and reward settlement.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/driftsea/expedition/internal/config"
	"github.com/driftsea/expedition/internal/game/area"
	"github.com/driftsea/expedition/internal/game/battle"
	"github.com/driftsea/expedition/internal/game/bestiary"
	"github.com/driftsea/expedition/internal/game/companion"
	"github.com/driftsea/expedition/internal/game/reward"
	"github.com/driftsea/expedition/internal/game/rng"
	"github.com/driftsea/expedition/internal/game/room"
	"github.com/driftsea/expedition/internal/game/roster"
	"github.com/driftsea/expedition/internal/gateway"
	"github.com/driftsea/expedition/internal/observability"
	"github.com/driftsea/expedition/internal/server"
	"github.com/driftsea/expedition/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	src := rng.NewCryptoSource()

	logger.Info("starting expedition server",
		zap.String("gateway_addr", cfg.Gateway.Addr()),
	)

	// Load content catalogs.
	contentStart := time.Now()
	areas, err := area.LoadCatalog(cfg.Content.Areas)
	if err != nil {
		logger.Fatal("loading area catalog", zap.Error(err))
	}
	species, err := bestiary.LoadSpeciesCatalog(cfg.Content.Species)
	if err != nil {
		logger.Fatal("loading species catalog", zap.Error(err))
	}
	prefixes, err := bestiary.LoadPrefixTable(cfg.Content.Prefixes)
	if err != nil {
		logger.Fatal("loading prefix table", zap.Error(err))
	}
	companions, err := companion.LoadCatalog(cfg.Content.Companions)
	if err != nil {
		logger.Fatal("loading companion catalog", zap.Error(err))
	}
	logger.Info("content loaded",
		zap.Int("areas", areas.Len()),
		zap.Int("species", species.Len()),
		zap.Int("companions", companions.Len()),
		zap.Duration("elapsed", time.Since(contentStart)),
	)

	// Connect to PostgreSQL for tickets, claims, and companion progress.
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	tickets := postgres.NewTicketStore(pool.DB())
	ledger := postgres.NewClaimLedger(pool.DB())
	companionStore := postgres.NewCompanionStore(pool.DB())
	inventory := postgres.NewInventoryStore(pool.DB(), postgres.DefaultInventorySlots)

	// Wire the engine: hub first so the registry's sinks have somewhere to
	// publish, then registry, settlement, and the command surface.
	hub := gateway.NewHub(observability.ComponentLogger(logger, "hub"))
	notifier := gateway.NewNotifier(hub)

	registry := room.NewRegistry(room.Config{
		MaxPlayers:  cfg.Battle.MaxPlayers,
		PlayerSpeed: cfg.Battle.PlayerSpeed,
		Battle: battle.Config{
			BaseTick:    cfg.Battle.BaseTick,
			MoraleStart: cfg.Battle.MoraleStart,
			MoraleGain:  cfg.Battle.MoraleGain,
		},
	}, areas, bestiary.NewGenerator(species, prefixes, src),
		tickets, notifier, notifier, src,
		observability.ComponentLogger(logger, "registry"))

	settlement := reward.NewSettlement(ledger, inventory, companionStore, src,
		observability.ComponentLogger(logger, "settlement"))

	stats := roster.NewSource(roster.DefaultConfig(), companions, companionStore)

	handler := gateway.NewHandler(registry, settlement, stats, hub,
		observability.ComponentLogger(logger, "handler"))
	ws := gateway.NewServer(hub, handler, cfg.Gateway.WriteTimeout,
		observability.ComponentLogger(logger, "gateway"))

	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Health(r.Context(), 5*time.Second); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:    cfg.Gateway.Addr(),
		Handler: mux,
	}

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("gateway", &server.FuncService{
		StartFn: func(runCtx context.Context) error {
			// Encounters run under the lifecycle context so shutdown stops
			// mid-combat rooms without settling them.
			handler.Bind(runCtx)
			lis, err := net.Listen("tcp", cfg.Gateway.Addr())
			if err != nil {
				return fmt.Errorf("listening on %s: %w", cfg.Gateway.Addr(), err)
			}
			logger.Info("gateway listening", zap.String("addr", lis.Addr().String()))
			return httpServer.Serve(lis)
		},
		StopFn: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		},
	})

	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func(runCtx context.Context) error {
			for {
				select {
				case <-runCtx.Done():
					return runCtx.Err()
				case <-time.After(30 * time.Second):
					if err := pool.Health(runCtx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		},
		StopFn: func() {
			pool.Close()
		},
	})

	logger.Info("expedition server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
