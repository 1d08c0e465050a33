package eth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/nft-marketplace/marketnode/internal/eth/ethdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const watchTimeout = 5 * time.Second

// watchRecorder drains every watcher channel from one goroutine and keeps
// what it saw in arrival order.
type watchRecorder struct {
	events   chan []ethdb.MarketplaceEvent
	latest   chan uint64
	reorg    chan uint64
	tip      chan bool
	log      []string
	batches  [][]ethdb.MarketplaceEvent
	reorgs   []uint64
	onLatest func(block uint64) bool
	done     chan struct{}
}

func newWatchRecorder(onLatest func(block uint64) bool) *watchRecorder {
	return &watchRecorder{
		events:   make(chan []ethdb.MarketplaceEvent),
		latest:   make(chan uint64),
		reorg:    make(chan uint64),
		tip:      make(chan bool, 1),
		onLatest: onLatest,
		done:     make(chan struct{}),
	}
}

func (r *watchRecorder) channels() WatchChannels {
	return WatchChannels{Events: r.events, LatestBlock: r.latest, Reorg: r.reorg, TipReached: r.tip}
}

func (r *watchRecorder) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case batch := <-r.events:
			r.batches = append(r.batches, batch)
			r.log = append(r.log, "events")
		case b := <-r.latest:
			r.log = append(r.log, "latest")
			if r.onLatest(b) {
				return
			}
		case b := <-r.reorg:
			r.reorgs = append(r.reorgs, b)
			r.log = append(r.log, "reorg")
		case <-ctx.Done():
			return
		}
	}
}

func newTestWatcher(t *testing.T, client EthClient, chunk uint64) *DefaultMarketplaceEventsWatcher {
	w := NewMarketplaceEventsWatcher(client, NewBlockHashDb(newTestBadger(t)), chunk)
	w.pollInterval = 5 * time.Millisecond
	w.retryDelay = 5 * time.Millisecond
	return w
}

func runWatcher(t *testing.T, w *DefaultMarketplaceEventsWatcher, startBlock uint64, rec *watchRecorder) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go rec.run(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.WatchEvents(ctx, marketplaceAddr.Hex(), startBlock, rec.channels())
	}()

	select {
	case <-rec.done:
	case <-time.After(watchTimeout):
		t.Fatal("watcher did not produce the expected output in time")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(watchTimeout):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestMarketplaceEventsWatcher_BackfillInChunks(t *testing.T) {
	chain := newFakeChain(30, []types.Log{
		collectionAddedLog(10, 0, 0x01, sellerAddr, collectionAddr),
		listedLog(12, 3, 0x02, sellerAddr, collectionAddr, 1, 100),
		listedLog(12, 1, 0x03, sellerAddr, collectionAddr, 2, 200),
		boughtLog(27, 0, 0x04, buyerAddr, collectionAddr, 1, 100),
	})
	w := newTestWatcher(t, chain, 10)

	var latest []uint64
	rec := newWatchRecorder(func(b uint64) bool {
		latest = append(latest, b)
		return b == 30
	})
	runWatcher(t, w, 10, rec)

	assert.Equal(t, []uint64{19, 29, 30}, latest)
	require.Len(t, rec.batches, 3)
	assert.Equal(t, ethdb.KindCollectionAdded, rec.batches[0][0].Kind)

	require.Len(t, rec.batches[1], 2)
	assert.Equal(t, uint64(1), rec.batches[1][0].LogIndex, "events of a block are ordered by log index")
	assert.Equal(t, uint64(3), rec.batches[1][1].LogIndex)

	assert.Equal(t, ethdb.KindItemBought, rec.batches[2][0].Kind)
	assert.Equal(t, []string{"events", "events", "latest", "events", "latest", "latest"}, rec.log)
	assert.Empty(t, rec.reorgs)
}

func TestMarketplaceEventsWatcher_TipThenPolling(t *testing.T) {
	chain := newFakeChain(12, []types.Log{
		listedLog(12, 0, 0x01, sellerAddr, collectionAddr, 1, 100),
	})
	w := newTestWatcher(t, chain, 100)

	rec := newWatchRecorder(func(b uint64) bool { return b == 14 })

	tipSeen := make(chan struct{})
	go func() {
		select {
		case <-rec.tip:
			close(tipSeen)
			chain.fork(1000, 14, []types.Log{
				listedLog(12, 0, 0x01, sellerAddr, collectionAddr, 1, 100),
				canceledLog(14, 0, 0x05, sellerAddr, collectionAddr, 1),
			})
		case <-time.After(watchTimeout):
		}
	}()
	runWatcher(t, w, 10, rec)

	select {
	case <-tipSeen:
	default:
		t.Fatal("tip was never signalled")
	}
	require.Len(t, rec.batches, 2)
	assert.Equal(t, ethdb.KindItemCanceled, rec.batches[1][0].Kind)
	assert.Empty(t, rec.reorgs)
}

func TestMarketplaceEventsWatcher_ReorgRewindsAndRescans(t *testing.T) {
	chain := newFakeChain(20, []types.Log{
		listedLog(15, 0, 0x01, sellerAddr, collectionAddr, 1, 100),
	})
	w := newTestWatcher(t, chain, 100)

	rec := newWatchRecorder(func(b uint64) bool {
		if b == 20 {
			chain.fork(15, 21, []types.Log{
				listedLog(15, 0, 0x09, sellerAddr, collectionAddr, 1, 150),
			})
			return false
		}
		return b == 21
	})
	runWatcher(t, w, 10, rec)

	assert.Equal(t, []uint64{15}, rec.reorgs)
	require.Len(t, rec.batches, 2)
	assert.Equal(t, "100", rec.batches[0][0].Price.String())
	assert.Equal(t, "150", rec.batches[1][0].Price.String())
	assert.Equal(t, []string{"events", "latest", "reorg", "events", "latest"}, rec.log)

	hash, ok := w.blockTracker.GetHash(15)
	require.True(t, ok)
	assert.Equal(t, chain.header(15).Hash(), hash)
}

func TestMarketplaceEventsWatcher_InvalidContract(t *testing.T) {
	w := newTestWatcher(t, newFakeChain(1, nil), 10)
	err := w.WatchEvents(context.Background(), "nope", 0, newWatchRecorder(nil).channels())
	assert.Error(t, err)
}

func TestMarketplaceEventsWatcher_SubscriptionErrorEndsWatch(t *testing.T) {
	chain := newFakeChain(5, nil)
	sub := &testSubscription{errCh: make(chan error, 1)}
	subErr := errors.New("connection lost")
	sub.errCh <- subErr
	client := &subscribingChain{fakeChain: chain, sub: sub}

	w := newTestWatcher(t, client, 10)
	rec := newWatchRecorder(func(uint64) bool { return false })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rec.run(ctx)

	err := w.WatchEvents(ctx, marketplaceAddr.Hex(), 0, rec.channels())
	assert.ErrorIs(t, err, subErr)
	assert.True(t, sub.unsubscribed)
}

type testSubscription struct {
	errCh        chan error
	unsubscribed bool
}

func (s *testSubscription) Unsubscribe()      { s.unsubscribed = true }
func (s *testSubscription) Err() <-chan error { return s.errCh }

type subscribingChain struct {
	*fakeChain
	sub *testSubscription
}

func (c *subscribingChain) SubscribeNewHead(context.Context, chan<- *types.Header) (ethereum.Subscription, error) {
	return c.sub, nil
}

type unreadableHashes struct {
	BlockHashDb
	err error
}

func (u unreadableHashes) LatestBefore(uint64) (uint64, common.Hash, bool, error) {
	return 0, common.Hash{}, false, u.err
}

func TestMarketplaceEventsWatcher_ReorgCheckSurfacesReadError(t *testing.T) {
	chain := newFakeChain(30, nil)
	readErr := errors.New("value log truncated")
	w := NewMarketplaceEventsWatcher(chain, unreadableHashes{BlockHashDb: NewBlockHashDb(newTestBadger(t)), err: readErr}, 10)

	err := w.checkAndHandleReorg(context.Background(), 20, WatchChannels{})
	require.ErrorIs(t, err, readErr)

	chain.mu.Lock()
	defer chain.mu.Unlock()
	assert.Empty(t, chain.headerCalls)
}
