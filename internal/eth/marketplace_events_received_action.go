package eth

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/nft-marketplace/marketnode/internal/db"
	"github.com/nft-marketplace/marketnode/internal/eth/ethdb"
	"github.com/nft-marketplace/marketnode/internal/metrics"
	"go.uber.org/zap"
)

// TokenStateReader is the subset of collection reads needed to snapshot a
// token when its marketplace event is indexed.
type TokenStateReader interface {
	OwnerOf(ctx context.Context, collection string, tokenID *big.Int) (string, error)
	TokenURI(ctx context.Context, collection string, tokenID *big.Int) (string, error)
}

type MarketplaceEventsReceivedAction interface {
	Handle(ctx context.Context, events []ethdb.MarketplaceEvent) error
	Revert(ctx context.Context, fromBlock uint64) error
	Progress(blockNumber uint64) error
}

type DefaultMarketplaceEventsReceivedAction struct {
	db       *sql.DB
	store    ethdb.MarketplaceEventDb
	reader   TokenStateReader
	progress ProgressDb
}

func NewDefaultMarketplaceEventsReceivedAction(
	sqlDB *sql.DB,
	store ethdb.MarketplaceEventDb,
	reader TokenStateReader,
	progress ProgressDb,
) *DefaultMarketplaceEventsReceivedAction {
	return &DefaultMarketplaceEventsReceivedAction{
		db:       sqlDB,
		store:    store,
		reader:   reader,
		progress: progress,
	}
}

// Handle snapshots owner and token URI for token events, then stores the
// whole block atomically.
func (a *DefaultMarketplaceEventsReceivedAction) Handle(ctx context.Context, events []ethdb.MarketplaceEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].HasToken() {
			a.snapshotToken(ctx, &events[i])
		}
	}

	inserted, err := db.TxRunner(ctx, a.db, func(tx *sql.Tx) (int, error) {
		return a.store.StoreEvents(tx, events)
	})
	if err != nil {
		return fmt.Errorf("store events of block %d: %w", events[0].BlockNumber, err)
	}
	for _, ev := range events {
		metrics.WatcherEventsStored.WithLabelValues(string(ev.Kind)).Inc()
		zap.L().Debug("Marketplace event",
			zap.String("id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.String("collection", ev.NftAddress),
			zap.String("tokenId", ev.TokenID),
		)
	}
	zap.L().Debug("Stored marketplace events",
		zap.Uint64("block", events[0].BlockNumber),
		zap.Int("received", len(events)),
		zap.Int("inserted", inserted),
	)
	return nil
}

// snapshotToken reads state as of now. A token burned since the event is
// kept with an empty owner.
func (a *DefaultMarketplaceEventsReceivedAction) snapshotToken(ctx context.Context, ev *ethdb.MarketplaceEvent) {
	tokenID, ok := new(big.Int).SetString(ev.TokenID, 10)
	if !ok {
		zap.L().Warn("Unparseable token id", zap.String("id", ev.ID), zap.String("tokenId", ev.TokenID))
		return
	}
	owner, err := a.reader.OwnerOf(ctx, ev.NftAddress, tokenID)
	if err != nil {
		zap.L().Warn("Could not read token owner", zap.String("id", ev.ID), zap.Error(err))
	} else {
		ev.Owner = owner
	}
	uri, err := a.reader.TokenURI(ctx, ev.NftAddress, tokenID)
	if err != nil {
		zap.L().Warn("Could not read token uri", zap.String("id", ev.ID), zap.Error(err))
	} else {
		ev.TokenURI = uri
	}
}

// Revert drops stored events at and above fromBlock and rewinds progress.
func (a *DefaultMarketplaceEventsReceivedAction) Revert(ctx context.Context, fromBlock uint64) error {
	removed, err := db.TxRunner(ctx, a.db, func(tx *sql.Tx) (int64, error) {
		return a.store.RevertFromBlock(tx, fromBlock)
	})
	if err != nil {
		return fmt.Errorf("revert from block %d: %w", fromBlock, err)
	}
	zap.L().Warn("Reverted marketplace events", zap.Uint64("fromBlock", fromBlock), zap.Int64("removed", removed))

	current, err := a.progress.GetProgress()
	if err != nil {
		return err
	}
	if fromBlock > 0 && current >= fromBlock {
		return a.progress.SetProgress(fromBlock - 1)
	}
	return nil
}

func (a *DefaultMarketplaceEventsReceivedAction) Progress(blockNumber uint64) error {
	return a.progress.SetProgress(blockNumber)
}
