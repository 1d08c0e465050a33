package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/nft-marketplace/marketnode/internal/eth/ethdb"
	"github.com/nft-marketplace/marketnode/internal/metrics"
	"go.uber.org/zap"
)

var ErrReorgDetected = errors.New("reorg detected")

const maxReorgDepth = 12

// ReorgError reports the first block that is no longer canonical. Stored
// state at and above FromBlock must be discarded.
type ReorgError struct {
	FromBlock uint64
}

func (e *ReorgError) Error() string {
	return fmt.Sprintf("reorg detected from block %d", e.FromBlock)
}

func (e *ReorgError) Unwrap() error {
	return ErrReorgDetected
}

// WatchChannels carries watcher output. All sends happen from a single
// goroutine, so a consumer reading every channel in one select loop sees
// them in the order they were produced.
type WatchChannels struct {
	// Events of one block, in log order.
	Events chan<- []ethdb.MarketplaceEvent
	// Last block fully scanned.
	LatestBlock chan<- uint64
	// First block of a reorged range.
	Reorg chan<- uint64
	// Signalled once the initial backfill reaches the chain tip.
	TipReached chan<- bool
}

type MarketplaceEventsWatcher interface {
	WatchEvents(ctx context.Context, contract string, startBlock uint64, out WatchChannels) error
}

type DefaultMarketplaceEventsWatcher struct {
	client       EthClient
	decoder      MarketplaceLogsDecoder
	blockTracker BlockHashDb
	maxChunkSize uint64
	pollInterval time.Duration
	retryDelay   time.Duration
}

func NewMarketplaceEventsWatcher(client EthClient, blockTracker BlockHashDb, maxChunkSize uint64) *DefaultMarketplaceEventsWatcher {
	if maxChunkSize == 0 {
		maxChunkSize = 5000
	}
	return &DefaultMarketplaceEventsWatcher{
		client:       client,
		decoder:      NewDefaultMarketplaceLogsDecoder(client),
		blockTracker: blockTracker,
		maxChunkSize: maxChunkSize,
		pollInterval: 2 * time.Second,
		retryDelay:   time.Second,
	}
}

func (w *DefaultMarketplaceEventsWatcher) WatchEvents(ctx context.Context, contract string, startBlock uint64, out WatchChannels) error {
	if !common.IsHexAddress(contract) {
		return fmt.Errorf("invalid marketplace contract address %q", contract)
	}
	contractAddrs := []common.Address{common.HexToAddress(contract)}

	zap.L().Info("Starting watch on marketplace events",
		zap.String("contract", contract),
		zap.Uint64("startBlock", startBlock),
	)

	currentBlock := startBlock
	for {
		if ctx.Err() != nil {
			return nil
		}
		tipBlock, err := latestBlockNumber(ctx, w.client)
		if err != nil {
			if sleepInterrupted(ctx, w.retryDelay) {
				return nil
			}
			continue
		}

		if currentBlock <= tipBlock {
			next, err := w.scanUpTo(ctx, contractAddrs, currentBlock, tipBlock, out)
			currentBlock = next
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				zap.L().Warn("Failed processing blocks range", zap.Error(err))
				if sleepInterrupted(ctx, w.retryDelay) {
					return nil
				}
			}
			continue
		}

		zap.L().Info("Marketplace watcher reached the chain tip", zap.Uint64("block", tipBlock))
		if out.TipReached != nil {
			select {
			case out.TipReached <- true:
			default:
			}
		}

		newHeads := make(chan *types.Header, 16)
		sub, err := w.client.SubscribeNewHead(ctx, newHeads)
		if err != nil {
			zap.L().Warn("Falling back to polling", zap.Error(err))
			return w.pollForNewBlocks(ctx, contractAddrs, currentBlock, out)
		}
		return w.subscribeAndProcessHeads(ctx, sub, newHeads, contractAddrs, currentBlock, out)
	}
}

// scanUpTo processes [from, to] in chunks and returns the next block to scan.
// A reorg rewinds the returned block to the fork point without an error.
func (w *DefaultMarketplaceEventsWatcher) scanUpTo(
	ctx context.Context,
	contractAddrs []common.Address,
	from, to uint64,
	out WatchChannels,
) (uint64, error) {
	current := from
	for current <= to {
		endBlock := current + w.maxChunkSize - 1
		if endBlock > to {
			endBlock = to
		}
		err := w.processRange(ctx, contractAddrs, current, endBlock, out)
		if err != nil {
			var reorg *ReorgError
			if errors.As(err, &reorg) {
				current = reorg.FromBlock
				continue
			}
			return current, err
		}
		current = endBlock + 1
	}
	return current, nil
}

func (w *DefaultMarketplaceEventsWatcher) pollForNewBlocks(
	ctx context.Context,
	contractAddrs []common.Address,
	currentBlock uint64,
	out WatchChannels,
) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		tipBlock, err := latestBlockNumber(ctx, w.client)
		if err != nil {
			if sleepInterrupted(ctx, w.retryDelay) {
				return nil
			}
			continue
		}

		if currentBlock <= tipBlock {
			next, err := w.scanUpTo(ctx, contractAddrs, currentBlock, tipBlock, out)
			currentBlock = next
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				zap.L().Error("Failed processing blocks range (polling)", zap.Error(err))
				if sleepInterrupted(ctx, w.retryDelay) {
					return nil
				}
			}
			continue
		}

		zap.L().Debug("No new block yet (polling)",
			zap.Uint64("current", currentBlock),
			zap.Uint64("tip", tipBlock),
		)
		if sleepInterrupted(ctx, w.pollInterval) {
			return nil
		}
	}
}

func (w *DefaultMarketplaceEventsWatcher) subscribeAndProcessHeads(
	ctx context.Context,
	sub ethereum.Subscription,
	newHeads <-chan *types.Header,
	contractAddrs []common.Address,
	currentBlock uint64,
	out WatchChannels,
) error {
	defer sub.Unsubscribe()

	for {
		select {
		case err := <-sub.Err():
			return err

		case header := <-newHeads:
			if header == nil {
				return nil
			}
			blockNum := header.Number.Uint64()
			if blockNum < currentBlock {
				continue
			}
			next, err := w.scanUpTo(ctx, contractAddrs, currentBlock, blockNum, out)
			currentBlock = next
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				zap.L().Error("Failed processing blocks range (subscription)", zap.Error(err))
				return err
			}

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *DefaultMarketplaceEventsWatcher) processRange(
	ctx context.Context,
	contractAddrs []common.Address,
	startBlock, endBlock uint64,
	out WatchChannels,
) error {
	if err := w.checkAndHandleReorg(ctx, startBlock, out); err != nil {
		return err
	}

	logs, err := fetchLogsInRange(ctx, w.client, contractAddrs, startBlock, endBlock)
	if err != nil {
		zap.L().Error("Failed fetching logs",
			zap.Uint64("start", startBlock),
			zap.Uint64("end", endBlock),
			zap.Error(err),
		)
		return err
	}

	events, err := w.decoder.Decode(ctx, logs)
	if err != nil {
		return err
	}
	blockGroups := groupEventsByBlock(events)

	blocks := make([]uint64, 0, len(blockGroups))
	for b := range blockGroups {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	for _, b := range blocks {
		if err := w.trackBlock(ctx, b, out); err != nil {
			return err
		}

		inBlock := blockGroups[b]
		sort.Slice(inBlock, func(i, j int) bool { return inBlock[i].LogIndex < inBlock[j].LogIndex })

		select {
		case out.Events <- inBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// The range end anchors the next reorg check even when it had no logs.
	if err := w.trackBlock(ctx, endBlock, out); err != nil {
		return err
	}
	metrics.WatcherBlocksScanned.Add(float64(endBlock - startBlock + 1))

	select {
	case out.LatestBlock <- endBlock:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// trackBlock records the canonical hash of a block, or reports a reorg when
// a different hash was recorded earlier.
func (w *DefaultMarketplaceEventsWatcher) trackBlock(ctx context.Context, blockNum uint64, out WatchChannels) error {
	header, err := w.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNum))
	if err != nil {
		zap.L().Error("Could not fetch block header", zap.Uint64("block", blockNum), zap.Error(err))
		return err
	}
	chainHash := header.Hash()
	recordedHash, found := w.blockTracker.GetHash(blockNum)
	if found && recordedHash != chainHash {
		zap.L().Warn("Reorg detected",
			zap.Uint64("block", blockNum),
			zap.String("oldHash", recordedHash.Hex()),
			zap.String("newHash", chainHash.Hex()),
		)
		return w.revert(ctx, blockNum, out)
	}
	if !found {
		if err := w.blockTracker.SetHash(blockNum, chainHash); err != nil {
			zap.L().Error("Could not set block hash", zap.Uint64("block", blockNum), zap.Error(err))
			return err
		}
	}
	return nil
}

// checkAndHandleReorg walks back over recorded blocks below startBlock and
// finds the lowest one, within maxReorgDepth, whose hash changed.
func (w *DefaultMarketplaceEventsWatcher) checkAndHandleReorg(ctx context.Context, startBlock uint64, out WatchChannels) error {
	var reorgStart uint64
	forked := false

	below := startBlock
	for depth := 0; depth < maxReorgDepth; depth++ {
		blockNum, recordedHash, found, err := w.blockTracker.LatestBefore(below)
		if err != nil {
			zap.L().Error("Could not read recorded block hashes (reorg check)",
				zap.Uint64("below", below),
				zap.Error(err),
			)
			return err
		}
		if !found {
			break
		}
		header, err := w.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNum))
		if err != nil {
			zap.L().Error("Could not fetch block header (reorg check)",
				zap.Uint64("block", blockNum),
				zap.Error(err),
			)
			return err
		}
		if header.Hash() == recordedHash {
			break
		}
		reorgStart = blockNum
		forked = true
		below = blockNum
	}

	if !forked {
		return nil
	}
	zap.L().Warn("Deep reorg detected", zap.Uint64("reorgStartBlock", reorgStart))
	return w.revert(ctx, reorgStart, out)
}

func (w *DefaultMarketplaceEventsWatcher) revert(ctx context.Context, fromBlock uint64, out WatchChannels) error {
	if err := w.blockTracker.RevertFromBlock(fromBlock); err != nil {
		zap.L().Error("Could not revert block hashes", zap.Uint64("block", fromBlock), zap.Error(err))
		return err
	}
	metrics.WatcherReorgs.Inc()
	if out.Reorg != nil {
		select {
		case out.Reorg <- fromBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return &ReorgError{FromBlock: fromBlock}
}

func latestBlockNumber(ctx context.Context, client EthClient) (uint64, error) {
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		zap.L().Error("Could not get latest block header", zap.Error(err))
		return 0, err
	}
	return header.Number.Uint64(), nil
}

func fetchLogsInRange(
	ctx context.Context,
	client EthClient,
	addresses []common.Address,
	startBlock, endBlock uint64,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(startBlock),
		ToBlock:   new(big.Int).SetUint64(endBlock),
		Addresses: addresses,
	}
	return client.FilterLogs(ctx, query)
}

func groupEventsByBlock(events []ethdb.MarketplaceEvent) map[uint64][]ethdb.MarketplaceEvent {
	groups := make(map[uint64][]ethdb.MarketplaceEvent)
	for _, ev := range events {
		groups[ev.BlockNumber] = append(groups[ev.BlockNumber], ev)
	}
	return groups
}

func sleepInterrupted(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
