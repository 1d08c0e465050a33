package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/nft-marketplace/marketnode/internal/config"
	"github.com/nft-marketplace/marketnode/internal/db"
	"github.com/nft-marketplace/marketnode/internal/eth"
	"github.com/nft-marketplace/marketnode/internal/eth/ethdb"
	"github.com/nft-marketplace/marketnode/internal/httpclient"
	"github.com/nft-marketplace/marketnode/internal/market"
	"github.com/nft-marketplace/marketnode/internal/metadata"
	"github.com/nft-marketplace/marketnode/internal/rpc/handlers"
	"github.com/nft-marketplace/marketnode/internal/subgraph"
	"go.uber.org/zap"
)

const subgraphTimeout = 30 * time.Second

// app holds the long-lived resources shared by the commands.
type app struct {
	sqlDB      *sql.DB
	kv         *badger.DB
	client     eth.EthClient
	reconciler *market.Reconciler
	renderer   *metadata.Renderer
	fees       handlers.ListingFeeReader
}

func openApp(cfg config.Config) (*app, error) {
	a := &app{}
	opened := false
	defer func() {
		if !opened {
			a.Close()
		}
	}()

	var err error
	if a.sqlDB, err = db.OpenSqlite(cfg.SqlitePath); err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if a.kv, err = db.OpenBadger(cfg.BadgerPath); err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	if a.client, err = eth.CreateEthClient(); err != nil {
		return nil, err
	}

	source, err := newEventSource(cfg, a.sqlDB)
	if err != nil {
		return nil, err
	}
	a.reconciler = market.NewReconciler(source, eth.NewCollectionCaller(a.client), cfg.EnrichConcurrency)

	fetcher := metadata.NewFetcher(httpclient.New(cfg.MetadataTimeout()), a.kv, cfg.IpfsGateway, cfg.MetadataTimeout())
	a.renderer = metadata.NewRenderer(fetcher, cfg.MetadataWorkers)

	if cfg.MarketplaceContract != "" {
		a.fees = eth.NewMarketplaceCaller(a.client, cfg.MarketplaceContract)
	}
	opened = true
	return a, nil
}

func newEventSource(cfg config.Config, sqlDB *sql.DB) (market.EventSource, error) {
	switch cfg.EventSource {
	case config.EventSourceSubgraph:
		if cfg.SubgraphUrl == "" {
			return nil, fmt.Errorf("SUBGRAPH_URL is required for the %s event source", config.EventSourceSubgraph)
		}
		return subgraph.NewClient(cfg.SubgraphUrl, httpclient.New(subgraphTimeout)), nil
	case config.EventSourceLocal:
		return ethdb.NewLocalEventSource(sqlDB, ethdb.NewMarketplaceEventDb()), nil
	default:
		return nil, fmt.Errorf("unknown EVENT_SOURCE %q", cfg.EventSource)
	}
}

func (a *app) Close() {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			zap.L().Warn("Error closing badger", zap.Error(err))
		}
	}
	if a.sqlDB != nil {
		if err := a.sqlDB.Close(); err != nil {
			zap.L().Warn("Error closing sqlite", zap.Error(err))
		}
	}
}
