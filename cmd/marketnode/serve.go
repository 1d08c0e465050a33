package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/nft-marketplace/marketnode/internal/config"
	"github.com/nft-marketplace/marketnode/internal/eth/ethdb"
	"github.com/nft-marketplace/marketnode/internal/market"
	"github.com/nft-marketplace/marketnode/internal/rpc"
	"github.com/nft-marketplace/marketnode/internal/rpc/handlers"
	"github.com/nft-marketplace/marketnode/pkg/marketindex"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Get()
	zap.L().Info("Starting marketnode...",
		zap.String("Version", Version),
		zap.String("eventSource", cfg.EventSource))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.EventSource == config.EventSourceLocal {
		listener, err := marketindex.NewMarketplaceListenerFromConfig(a.client, a.sqlDB, a.kv)
		if err != nil {
			return err
		}
		zap.L().Info("Indexing marketplace events until chain tip...")
		start := time.Now()
		if err := marketindex.BlockUntilOnTipAndKeepListeningAsync(ctx, listener); err != nil {
			return fmt.Errorf("marketplace indexer: %w", err)
		}
		zap.L().Info("Marketplace index on tip", zap.Duration("took", time.Since(start)))
	}

	registry := market.NewRegistry(ctx, a.reconciler, cfg.RefreshInterval(), cfg.SubscriptionIdleTimeout(), cfg.MaxSubscriptions)
	go registry.Run(ctx)

	routes := (&handlers.MarketHandlers{
		Registry:  registry,
		Addresses: a.reconciler,
		Fees:      a.fees,
		Renderer:  a.renderer,
		DB:        a.sqlDB,
		Events:    ethdb.NewMarketplaceEventDb(),
		Source:    cfg.EventSource,
	}).Routes()
	closeRpcServer := rpc.StartRPCServer(cfg.RPCPort, routes, ctx)

	<-ctx.Done()
	// A second signal terminates immediately.
	stop()
	zap.L().Info("Received shutdown signal, initiating graceful shutdown...")

	closeRpcServer()
	registry.Close()

	zap.L().Info("Shutdown complete")
	_ = zap.L().Sync()
	return nil
}
