package eth

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	EventItemListed      = "ItemListed"
	EventItemBought      = "ItemBought"
	EventItemCanceled    = "ItemCanceled"
	EventCollectionAdded = "CollectionAdded"
)

var marketplaceABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(`[
		{
			"anonymous": false,
			"inputs": [
				{"indexed": true,  "name": "seller",     "type": "address"},
				{"indexed": true,  "name": "nftAddress", "type": "address"},
				{"indexed": true,  "name": "tokenId",    "type": "uint256"},
				{"indexed": false, "name": "price",      "type": "uint256"}
			],
			"name": "ItemListed",
			"type": "event"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": true,  "name": "buyer",      "type": "address"},
				{"indexed": true,  "name": "nftAddress", "type": "address"},
				{"indexed": true,  "name": "tokenId",    "type": "uint256"},
				{"indexed": false, "name": "price",      "type": "uint256"}
			],
			"name": "ItemBought",
			"type": "event"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "seller",     "type": "address"},
				{"indexed": true, "name": "nftAddress", "type": "address"},
				{"indexed": true, "name": "tokenId",    "type": "uint256"}
			],
			"name": "ItemCanceled",
			"type": "event"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "deployer",   "type": "address"},
				{"indexed": true, "name": "nftAddress", "type": "address"}
			],
			"name": "CollectionAdded",
			"type": "event"
		},
		{"inputs":[],"name":"listingFee","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
	]`))
	if err != nil {
		panic("failed to parse marketplace ABI")
	}
	marketplaceABI = parsed
}

// MarketplaceCaller reads marketplace contract state. Transactions are sent
// by wallets, never by this node.
type MarketplaceCaller struct {
	client  EthClient
	address string
}

func NewMarketplaceCaller(client EthClient, address string) *MarketplaceCaller {
	return &MarketplaceCaller{client: client, address: address}
}

func (m *MarketplaceCaller) Address() string {
	return strings.ToLower(m.address)
}

// ListingFee returns the fee in wei charged for listing an item.
func (m *MarketplaceCaller) ListingFee(ctx context.Context) (*big.Int, error) {
	var fee *big.Int
	if err := callContract(ctx, m.client, marketplaceABI, m.address, &fee, "listingFee"); err != nil {
		return nil, err
	}
	return fee, nil
}
