package marketindex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nft-marketplace/marketnode/internal/eth"
	"github.com/nft-marketplace/marketnode/internal/eth/ethdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	contract   = "0x00000000000000000000000000000000000000aa"
	epochBlock = uint64(1000)
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockWatcher struct {
	mock.Mock
}

func (m *mockWatcher) WatchEvents(ctx context.Context, contract string, startBlock uint64, out eth.WatchChannels) error {
	args := m.Called(ctx, contract, startBlock, out)
	return args.Error(0)
}

type mockAction struct {
	mock.Mock
}

func (m *mockAction) Handle(ctx context.Context, events []ethdb.MarketplaceEvent) error {
	return m.Called(ctx, events).Error(0)
}

func (m *mockAction) Revert(ctx context.Context, fromBlock uint64) error {
	return m.Called(ctx, fromBlock).Error(0)
}

func (m *mockAction) Progress(blockNumber uint64) error {
	return m.Called(blockNumber).Error(0)
}

type mockProgress struct {
	mock.Mock
}

func (m *mockProgress) GetProgress() (uint64, error) {
	args := m.Called()
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockProgress) SetProgress(blockNumber uint64) error {
	return m.Called(blockNumber).Error(0)
}

func TestMarketplaceListener_StartBlock(t *testing.T) {
	cases := []struct {
		name     string
		progress uint64
		want     uint64
	}{
		{"fresh node starts at epoch", 0, epochBlock},
		{"progress inside safety margin", epochBlock + 20, epochBlock},
		{"progress rewinds by safety margin", epochBlock + 500, epochBlock + 450},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			progress := &mockProgress{}
			progress.On("GetProgress").Return(tc.progress, nil).Once()

			l := NewMarketplaceListener(contract, epochBlock, &mockWatcher{}, &mockAction{}, progress)
			got, err := l.startBlock()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMarketplaceListener_ListenDispatchesInOrder(t *testing.T) {
	progress := &mockProgress{}
	progress.On("GetProgress").Return(uint64(0), nil).Once()

	batch := []ethdb.MarketplaceEvent{{ID: "0x01-0", Kind: ethdb.KindItemListed, BlockNumber: 1001}}

	var calls []string
	action := &mockAction{}
	action.On("Handle", mock.Anything, batch).Return(nil).Run(func(mock.Arguments) { calls = append(calls, "handle") }).Once()
	action.On("Revert", mock.Anything, uint64(1001)).Return(nil).Run(func(mock.Arguments) { calls = append(calls, "revert") }).Once()
	action.On("Progress", uint64(1005)).Return(nil).Run(func(mock.Arguments) { calls = append(calls, "progress") }).Once()

	watcher := &mockWatcher{}
	watcher.On("WatchEvents", mock.Anything, contract, epochBlock, mock.Anything).
		Return(nil).
		Run(func(args mock.Arguments) {
			out := args.Get(3).(eth.WatchChannels)
			out.Events <- batch
			out.Reorg <- 1001
			out.LatestBlock <- 1005
			out.TipReached <- true
		}).Once()

	l := NewMarketplaceListener(contract, epochBlock, watcher, action, progress)
	tip := make(chan bool, 1)
	require.NoError(t, l.Listen(context.Background(), tip))

	assert.True(t, <-tip)
	assert.Equal(t, []string{"handle", "revert", "progress"}, calls)
	watcher.AssertExpectations(t)
	action.AssertExpectations(t)
	progress.AssertExpectations(t)
}

func TestMarketplaceListener_HandleErrorStopsWatcher(t *testing.T) {
	progress := &mockProgress{}
	progress.On("GetProgress").Return(uint64(0), nil).Once()

	storeErr := errors.New("database is locked")
	action := &mockAction{}
	action.On("Handle", mock.Anything, mock.Anything).Return(storeErr).Once()

	watcher := &mockWatcher{}
	watcher.On("WatchEvents", mock.Anything, contract, epochBlock, mock.Anything).
		Return(nil).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			out := args.Get(3).(eth.WatchChannels)
			out.Events <- []ethdb.MarketplaceEvent{{ID: "0x01-0"}}
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
				t.Error("watcher context was not cancelled")
			}
		}).Once()

	l := NewMarketplaceListener(contract, epochBlock, watcher, action, progress)
	err := l.Listen(context.Background(), make(chan bool, 1))
	assert.ErrorIs(t, err, storeErr)
}

func TestMarketplaceListener_ProgressError(t *testing.T) {
	progress := &mockProgress{}
	progress.On("GetProgress").Return(uint64(0), errors.New("failed to get progress")).Once()

	watcher := &mockWatcher{}
	l := NewMarketplaceListener(contract, epochBlock, watcher, &mockAction{}, progress)
	err := l.Listen(context.Background(), make(chan bool, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get progress")
	watcher.AssertNotCalled(t, "WatchEvents", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBlockUntilOnTipAndKeepListeningAsync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	progress := &mockProgress{}
	progress.On("GetProgress").Return(uint64(0), nil).Once()

	watcher := &mockWatcher{}
	watcher.On("WatchEvents", mock.Anything, contract, epochBlock, mock.Anything).
		Return(nil).
		Run(func(args mock.Arguments) {
			wctx := args.Get(0).(context.Context)
			args.Get(3).(eth.WatchChannels).TipReached <- true
			<-wctx.Done()
		}).Once()

	l := NewMarketplaceListener(contract, epochBlock, watcher, &mockAction{}, progress)
	assert.NoError(t, BlockUntilOnTipAndKeepListeningAsync(ctx, l))
}

func TestBlockUntilOnTip_WatcherFailsBeforeTip(t *testing.T) {
	progress := &mockProgress{}
	progress.On("GetProgress").Return(uint64(0), nil).Once()

	watchErr := errors.New("invalid marketplace contract address")
	watcher := &mockWatcher{}
	watcher.On("WatchEvents", mock.Anything, contract, epochBlock, mock.Anything).Return(watchErr).Once()

	l := NewMarketplaceListener(contract, epochBlock, watcher, &mockAction{}, progress)
	assert.ErrorIs(t, BlockUntilOnTipAndKeepListeningAsync(context.Background(), l), watchErr)
}
