package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/auction"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/clients"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/config"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/coordinator"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/db"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/gateway"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/handlers"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/repository"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/router"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/scheduler"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/watcher"
)

func main() {
	log.Println("🚀 Starting cross-chain swap relayer...")

	if err := config.LoadConfig(os.Getenv("CONFIG_PATH")); err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	cfg := config.AppConfig

	db.InitDB()

	ledger := repository.NewIdempotencyLedger(db.DB)
	orders := repository.NewSwapOrderRepository(db.DB)
	fills := repository.NewPartialFillLedger(db.DB)

	// NATS is optional; the durable ledger is authoritative either way
	var natsClient *clients.NATSClient
	if cfg.NATS.Enabled && cfg.NATS.URL != "" {
		var err error
		natsClient, err = clients.NewNATSClient(cfg.NATS.URL, cfg.NATS.StreamName, cfg.NATS.SubjectPrefix)
		if err != nil {
			log.Fatalf("❌ Failed to connect to NATS: %v", err)
		}
		defer natsClient.Close()
	} else {
		log.Println("⚠️  NATS disabled, lifecycle events will not be published")
	}

	curve, err := auction.CurveFromConfig(&cfg.Auction)
	if err != nil {
		log.Fatalf("❌ Invalid auction configuration: %v", err)
	}

	gateways := map[string]gateway.EscrowGateway{}
	params := map[string]coordinator.ChainParams{}

	var evmGw *gateway.EVMGateway
	var nearGw *gateway.NEARGateway

	if cfg.Chains.EVM.Enabled {
		evmGw, err = gateway.NewEVMGateway(&cfg.Chains.EVM, cfg.Relayer.SearchCandidates)
		if err != nil {
			log.Fatalf("❌ Failed to initialize EVM gateway: %v", err)
		}
		safetyDeposit := new(big.Int)
		if cfg.Chains.EVM.SafetyDeposit != "" {
			if _, ok := safetyDeposit.SetString(cfg.Chains.EVM.SafetyDeposit, 10); !ok {
				log.Fatalf("❌ Invalid EVM safety deposit %q", cfg.Chains.EVM.SafetyDeposit)
			}
		}
		gateways[evmGw.ChainID()] = evmGw
		params[evmGw.ChainID()] = coordinator.ChainParams{
			Decimals:       cfg.Chains.EVM.TokenDecimals,
			TimelockOffset: cfg.Chains.EVM.TimelockOffset,
			SafetyDeposit:  safetyDeposit,
		}
	}

	if cfg.Chains.NEAR.Enabled {
		nearGw, err = gateway.NewNEARGateway(&cfg.Chains.NEAR)
		if err != nil {
			log.Fatalf("❌ Failed to initialize NEAR gateway: %v", err)
		}
		gateways[nearGw.ChainID()] = nearGw
		params[nearGw.ChainID()] = coordinator.ChainParams{
			Decimals:       cfg.Chains.NEAR.TokenDecimals,
			TimelockOffset: cfg.Chains.NEAR.TimelockOffset,
		}
	}

	if len(gateways) < 2 {
		log.Fatalf("❌ Both chains must be enabled to relay swaps (got %d)", len(gateways))
	}

	var coordPublisher coordinator.Publisher
	var watchPublisher watcher.Publisher
	if natsClient != nil {
		coordPublisher = natsClient
		watchPublisher = natsClient
	}

	coord := coordinator.NewCoordinator(
		orders, fills, gateways, params, curve, coordPublisher,
		cfg.Relayer.MaxRetries,
		time.Duration(cfg.Relayer.RetryDelay)*time.Second,
	)

	// one watcher per chain, each feeding the shared coordinator
	var watchers []*watcher.Watcher
	evmSource, err := watcher.NewEVMSource(evmGw.Client(), evmGw.ChainID(), nearGw.ChainID(), cfg.Chains.EVM.EscrowFactory)
	if err != nil {
		log.Fatalf("❌ Failed to build EVM watcher: %v", err)
	}
	watchers = append(watchers,
		watcher.NewWatcher(evmSource, ledger, orders, coord, watchPublisher, cfg.Relayer.BatchMaxBlocks))

	nearSource := watcher.NewNEARSource(nearGw.RPC(), cfg.Chains.NEAR.EscrowAccount, nearGw.ChainID(), evmGw.ChainID())
	watchers = append(watchers,
		watcher.NewWatcher(nearSource, ledger, orders, coord, watchPublisher, cfg.Relayer.BatchMaxBlocks))

	pollInterval := time.Duration(cfg.Relayer.PollInterval) * time.Second
	sweepInterval := time.Duration(cfg.Relayer.SweepInterval) * time.Second

	var handles []*scheduler.CancelHandle
	for _, w := range watchers {
		w := w
		handles = append(handles,
			scheduler.RunPeriodically("poll-"+w.ChainID(), pollInterval, 2*time.Minute, w.PollOnce))
		handles = append(handles,
			scheduler.RunPeriodically("prune-"+w.ChainID(), time.Hour, 5*time.Minute, func(ctx context.Context) (bool, error) {
				return false, w.PruneLedger(ctx, cfg.Relayer.EvictionDepth)
			}))
	}
	handles = append(handles,
		scheduler.RunPeriodically("sweep-expired", sweepInterval, 5*time.Minute, coord.SweepExpired))
	handles = append(handles,
		scheduler.RunPeriodically("pump-retries", pollInterval, 5*time.Minute, coord.PumpRetries))

	// HTTP API
	chainIDs := []string{evmGw.ChainID(), nearGw.ChainID()}
	handler := handlers.NewHandler(db.DB, orders, fills, ledger,
		coordinator.NewDirectSubmission(coord),
		coordinator.NewMetaOrderSubmission(coord),
		chainIDs)
	engine := router.SetupRouter(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Printf("🌐 API listening on %s", addr)
		if err := engine.Run(addr); err != nil {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down...")
	for _, h := range handles {
		h.Stop()
	}
	log.Println("✅ Relayer stopped")
}
