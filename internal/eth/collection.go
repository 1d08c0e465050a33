package eth

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var collectionABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(`[
		{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
		{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"tokenURI","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
		{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"name":"tokenOfOwnerByIndex","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
		{"constant":true,"inputs":[],"name":"owner","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
	]`))
	if err != nil {
		panic("failed to parse collection ABI")
	}
	collectionABI = parsed
}

// CollectionCaller reads ERC721 enumerable collections deployed through the
// marketplace. Addresses are returned lower-cased.
type CollectionCaller struct {
	client EthClient
}

func NewCollectionCaller(client EthClient) *CollectionCaller {
	return &CollectionCaller{client: client}
}

func (c *CollectionCaller) OwnerOf(ctx context.Context, collection string, tokenID *big.Int) (string, error) {
	var owner common.Address
	if err := c.call(ctx, collection, &owner, "ownerOf", tokenID); err != nil {
		return "", err
	}
	return strings.ToLower(owner.Hex()), nil
}

func (c *CollectionCaller) TokenURI(ctx context.Context, collection string, tokenID *big.Int) (string, error) {
	var uri string
	if err := c.call(ctx, collection, &uri, "tokenURI", tokenID); err != nil {
		return "", err
	}
	return uri, nil
}

func (c *CollectionCaller) BalanceOf(ctx context.Context, collection string, owner string) (*big.Int, error) {
	var balance *big.Int
	if err := c.call(ctx, collection, &balance, "balanceOf", common.HexToAddress(owner)); err != nil {
		return nil, err
	}
	return balance, nil
}

func (c *CollectionCaller) TokenOfOwnerByIndex(ctx context.Context, collection string, owner string, index *big.Int) (*big.Int, error) {
	var tokenID *big.Int
	if err := c.call(ctx, collection, &tokenID, "tokenOfOwnerByIndex", common.HexToAddress(owner), index); err != nil {
		return nil, err
	}
	return tokenID, nil
}

func (c *CollectionCaller) Name(ctx context.Context, collection string) (string, error) {
	var name string
	if err := c.call(ctx, collection, &name, "name"); err != nil {
		return "", err
	}
	return name, nil
}

func (c *CollectionCaller) Owner(ctx context.Context, collection string) (string, error) {
	var owner common.Address
	if err := c.call(ctx, collection, &owner, "owner"); err != nil {
		return "", err
	}
	return strings.ToLower(owner.Hex()), nil
}

func (c *CollectionCaller) call(ctx context.Context, collection string, out interface{}, method string, args ...interface{}) error {
	return callContract(ctx, c.client, collectionABI, collection, out, method, args...)
}

func callContract(ctx context.Context, client EthClient, contractABI abi.ABI, address string, out interface{}, method string, args ...interface{}) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%s: invalid contract address %q", method, address)
	}
	to := common.HexToAddress(address)

	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}

	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("call %s on %s: %w", method, address, err)
	}
	if len(result) == 0 {
		return fmt.Errorf("call %s on %s: empty result", method, address)
	}

	if err := contractABI.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	return nil
}
