package eth

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/nft-marketplace/marketnode/internal/eth/ethdb"
	"go.uber.org/zap"
)

type MarketplaceLogsDecoder interface {
	Decode(ctx context.Context, logs []types.Log) ([]ethdb.MarketplaceEvent, error)
}

type DefaultMarketplaceLogsDecoder struct {
	client EthClient
}

func NewDefaultMarketplaceLogsDecoder(client EthClient) *DefaultMarketplaceLogsDecoder {
	return &DefaultMarketplaceLogsDecoder{client: client}
}

var eventKinds = map[string]ethdb.EventKind{
	EventItemListed:      ethdb.KindItemListed,
	EventItemBought:      ethdb.KindItemBought,
	EventItemCanceled:    ethdb.KindItemCanceled,
	EventCollectionAdded: ethdb.KindCollectionAdded,
}

// Decode turns raw marketplace logs into events stamped with their block
// time. Removed logs and unknown topics are skipped; a log that matches a
// known topic but fails to unpack is skipped with a warning.
func (d *DefaultMarketplaceLogsDecoder) Decode(ctx context.Context, logs []types.Log) ([]ethdb.MarketplaceEvent, error) {
	blockTimes := make(map[uint64]uint64)
	var events []ethdb.MarketplaceEvent

	for _, lg := range logs {
		if lg.Removed || len(lg.Topics) == 0 {
			continue
		}
		abiEvent, err := marketplaceABI.EventByID(lg.Topics[0])
		if err != nil {
			continue
		}

		ev, err := decodeMarketplaceLog(*abiEvent, lg)
		if err != nil {
			zap.L().Warn("Could not decode marketplace log",
				zap.String("event", abiEvent.Name),
				zap.String("tx", lg.TxHash.Hex()),
				zap.Uint("logIndex", lg.Index),
				zap.Error(err))
			continue
		}

		blockTime, ok := blockTimes[lg.BlockNumber]
		if !ok {
			header, err := d.client.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("header of block %d: %w", lg.BlockNumber, err)
			}
			blockTime = header.Time
			blockTimes[lg.BlockNumber] = blockTime
		}
		ev.BlockTime = blockTime
		events = append(events, ev)
	}
	return events, nil
}

func decodeMarketplaceLog(event abi.Event, lg types.Log) (ethdb.MarketplaceEvent, error) {
	fields := make(map[string]interface{})

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(lg.Topics)-1 != len(indexed) {
		return ethdb.MarketplaceEvent{}, fmt.Errorf("expected %d indexed topics, got %d", len(indexed), len(lg.Topics)-1)
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
		return ethdb.MarketplaceEvent{}, fmt.Errorf("parse topics: %w", err)
	}
	if len(lg.Data) > 0 {
		if err := marketplaceABI.UnpackIntoMap(fields, event.Name, lg.Data); err != nil {
			return ethdb.MarketplaceEvent{}, fmt.Errorf("unpack data: %w", err)
		}
	}

	txHash := strings.ToLower(lg.TxHash.Hex())
	ev := ethdb.MarketplaceEvent{
		ID:          ethdb.EventID(txHash, uint64(lg.Index)),
		Kind:        eventKinds[event.Name],
		BlockNumber: lg.BlockNumber,
		TxHash:      txHash,
		LogIndex:    uint64(lg.Index),
		NftAddress:  addressField(fields, "nftAddress"),
		Price:       big.NewInt(0),
	}

	switch event.Name {
	case EventItemListed, EventItemCanceled:
		ev.Account = addressField(fields, "seller")
	case EventItemBought:
		ev.Account = addressField(fields, "buyer")
	case EventCollectionAdded:
		ev.Account = addressField(fields, "deployer")
	}
	if id, ok := fields["tokenId"].(*big.Int); ok {
		ev.TokenID = id.String()
	}
	if price, ok := fields["price"].(*big.Int); ok {
		ev.Price = price
	}
	return ev, nil
}

func addressField(fields map[string]interface{}, name string) string {
	if a, ok := fields[name].(common.Address); ok {
		return strings.ToLower(a.Hex())
	}
	return ""
}
