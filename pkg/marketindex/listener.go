package marketindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/nft-marketplace/marketnode/internal/config"
	"github.com/nft-marketplace/marketnode/internal/eth"
	"github.com/nft-marketplace/marketnode/internal/eth/ethdb"
	"go.uber.org/zap"
)

// Blocks re-read on restart, so a reorg that happened while the node was
// down is still caught by the block hash check.
const progressSafetyMargin = 50

type MarketplaceListener struct {
	contract   string
	epochBlock uint64
	watcher    eth.MarketplaceEventsWatcher
	action     eth.MarketplaceEventsReceivedAction
	progress   eth.ProgressDb
}

func NewMarketplaceListener(
	contract string,
	epochBlock uint64,
	watcher eth.MarketplaceEventsWatcher,
	action eth.MarketplaceEventsReceivedAction,
	progress eth.ProgressDb,
) *MarketplaceListener {
	return &MarketplaceListener{
		contract:   contract,
		epochBlock: epochBlock,
		watcher:    watcher,
		action:     action,
		progress:   progress,
	}
}

// NewMarketplaceListenerFromConfig wires the watcher, the event store and
// the token snapshot reader around one eth client.
func NewMarketplaceListenerFromConfig(client eth.EthClient, sqlDB *sql.DB, kv *badger.DB) (*MarketplaceListener, error) {
	cfg := config.Get()
	if cfg.MarketplaceContract == "" {
		return nil, errors.New("MARKETPLACE_CONTRACT is not set")
	}
	progress := eth.NewProgressDb(kv)
	watcher := eth.NewMarketplaceEventsWatcher(client, eth.NewBlockHashDb(kv), cfg.WatcherMaxChunkSize)
	action := eth.NewDefaultMarketplaceEventsReceivedAction(
		sqlDB,
		ethdb.NewMarketplaceEventDb(),
		eth.NewCollectionCaller(client),
		progress,
	)
	return NewMarketplaceListener(cfg.MarketplaceContract, cfg.MarketplaceStartBlock, watcher, action, progress), nil
}

func (l *MarketplaceListener) startBlock() (uint64, error) {
	startBlock, err := l.progress.GetProgress()
	if err != nil {
		return 0, err
	}
	if startBlock >= progressSafetyMargin {
		startBlock -= progressSafetyMargin
	} else {
		startBlock = 0
	}
	if startBlock < l.epochBlock {
		startBlock = l.epochBlock
	}
	return startBlock, nil
}

// Listen indexes marketplace events until ctx is done, the watcher fails or
// a batch cannot be stored.
func (l *MarketplaceListener) Listen(ctx context.Context, tipReachedChan chan<- bool) error {
	startBlock, err := l.startBlock()
	if err != nil {
		return fmt.Errorf("read watcher progress: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eventsChan := make(chan []ethdb.MarketplaceEvent)
	latestBlockChan := make(chan uint64)
	reorgChan := make(chan uint64)

	var handleErr error
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		if err := l.consume(ctx, eventsChan, latestBlockChan, reorgChan); err != nil {
			handleErr = err
			cancel()
		}
	}()

	watchErr := l.watcher.WatchEvents(ctx, l.contract, startBlock, eth.WatchChannels{
		Events:      eventsChan,
		LatestBlock: latestBlockChan,
		Reorg:       reorgChan,
		TipReached:  tipReachedChan,
	})
	cancel()
	<-consumed

	if handleErr != nil {
		return handleErr
	}
	return watchErr
}

func (l *MarketplaceListener) consume(
	ctx context.Context,
	eventsChan <-chan []ethdb.MarketplaceEvent,
	latestBlockChan <-chan uint64,
	reorgChan <-chan uint64,
) error {
	for {
		select {
		case events := <-eventsChan:
			if err := l.action.Handle(ctx, events); err != nil {
				zap.L().Error("Error handling marketplace events", zap.Error(err))
				return err
			}
		case block := <-latestBlockChan:
			if err := l.action.Progress(block); err != nil {
				zap.L().Error("Error saving watcher progress", zap.Uint64("block", block), zap.Error(err))
				return err
			}
		case fromBlock := <-reorgChan:
			if err := l.action.Revert(ctx, fromBlock); err != nil {
				zap.L().Error("Error reverting marketplace events", zap.Uint64("fromBlock", fromBlock), zap.Error(err))
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// BlockUntilOnTipAndKeepListeningAsync returns once the backfill reached the
// chain tip and leaves the listener running in the background.
func BlockUntilOnTipAndKeepListeningAsync(ctx context.Context, listener *MarketplaceListener) error {
	fatalErrors := make(chan error, 1)
	tipReachedChan := make(chan bool, 1)
	go func() {
		if err := listener.Listen(ctx, tipReachedChan); err != nil && ctx.Err() == nil {
			fatalErrors <- err
		}
	}()

	select {
	case <-tipReachedChan:
		go func() {
			select {
			case err := <-fatalErrors:
				zap.L().Fatal("Fatal error listening on marketplace contract", zap.Error(err))
			case <-ctx.Done():
			}
		}()
		return nil
	case err := <-fatalErrors:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
