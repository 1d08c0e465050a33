package eth

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

type mockEthClient struct {
	mock.Mock
}

func (m *mockEthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(ctx, msg, blockNumber)
	var out []byte
	if b := args.Get(0); b != nil {
		out = b.([]byte)
	}
	return out, args.Error(1)
}

func (m *mockEthClient) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	args := m.Called(ctx, ch)
	var sub ethereum.Subscription
	if s := args.Get(0); s != nil {
		sub = s.(ethereum.Subscription)
	}
	return sub, args.Error(1)
}

func (m *mockEthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	args := m.Called(ctx, number)
	var h *types.Header
	if v := args.Get(0); v != nil {
		h = v.(*types.Header)
	}
	return h, args.Error(1)
}

func (m *mockEthClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	args := m.Called(ctx, q)
	var logs []types.Log
	if v := args.Get(0); v != nil {
		logs = v.([]types.Log)
	}
	return logs, args.Error(1)
}

func (m *mockEthClient) Close() {
	m.Called()
}

// fakeChain is a deterministic in-memory chain. Headers above forkFrom carry
// forkSalt in Extra so their hashes change after fork is called.
type fakeChain struct {
	mu           sync.Mutex
	tip          uint64
	logs         []types.Log
	forkFrom     uint64
	forkSalt     []byte
	subscribeErr error
	headerCalls  map[uint64]int
}

func newFakeChain(tip uint64, logs []types.Log) *fakeChain {
	return &fakeChain{
		tip:          tip,
		logs:         logs,
		subscribeErr: errors.New("no websocket support"),
		headerCalls:  make(map[uint64]int),
	}
}

func (c *fakeChain) header(n uint64) *types.Header {
	h := &types.Header{
		Number:   new(big.Int).SetUint64(n),
		Time:     1_700_000_000 + n*12,
		GasLimit: 30_000_000,
		Extra:    []byte("test block"),
	}
	if c.forkSalt != nil && n >= c.forkFrom {
		h.Extra = c.forkSalt
	}
	return h
}

func (c *fakeChain) fork(from, newTip uint64, logs []types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forkFrom = from
	c.forkSalt = []byte("forked block")
	c.tip = newTip
	c.logs = logs
}

func (c *fakeChain) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("not supported")
}

func (c *fakeChain) SubscribeNewHead(context.Context, chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, c.subscribeErr
}

func (c *fakeChain) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number == nil {
		return c.header(c.tip), nil
	}
	n := number.Uint64()
	if n > c.tip {
		return nil, ethereum.NotFound
	}
	c.headerCalls[n]++
	return c.header(n), nil
}

func (c *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []types.Log
	for _, lg := range c.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (c *fakeChain) Close() {}

func (c *fakeChain) headerCallsFor(n uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headerCalls[n]
}

var marketplaceAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func marketplaceLog(event string, block uint64, index uint, tx byte, data []byte, topics ...common.Hash) types.Log {
	ev := marketplaceABI.Events[event]
	var txHash common.Hash
	txHash[31] = tx
	return types.Log{
		Address:     marketplaceAddr,
		Topics:      append([]common.Hash{ev.ID}, topics...),
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash,
		Index:       index,
	}
}

func addrTopic(addr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(addr).Bytes())
}

func listedLog(block uint64, index uint, tx byte, seller, nft string, tokenID, price int64) types.Log {
	data, err := marketplaceABI.Events[EventItemListed].Inputs.NonIndexed().Pack(big.NewInt(price))
	if err != nil {
		panic(err)
	}
	return marketplaceLog(EventItemListed, block, index, tx, data,
		addrTopic(seller), addrTopic(nft), common.BigToHash(big.NewInt(tokenID)))
}

func boughtLog(block uint64, index uint, tx byte, buyer, nft string, tokenID, price int64) types.Log {
	data, err := marketplaceABI.Events[EventItemBought].Inputs.NonIndexed().Pack(big.NewInt(price))
	if err != nil {
		panic(err)
	}
	return marketplaceLog(EventItemBought, block, index, tx, data,
		addrTopic(buyer), addrTopic(nft), common.BigToHash(big.NewInt(tokenID)))
}

func canceledLog(block uint64, index uint, tx byte, seller, nft string, tokenID int64) types.Log {
	return marketplaceLog(EventItemCanceled, block, index, tx, nil,
		addrTopic(seller), addrTopic(nft), common.BigToHash(big.NewInt(tokenID)))
}

func collectionAddedLog(block uint64, index uint, tx byte, deployer, nft string) types.Log {
	return marketplaceLog(EventCollectionAdded, block, index, tx, nil, addrTopic(deployer), addrTopic(nft))
}
