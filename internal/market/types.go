package market

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/nft-marketplace/marketnode/pkg/stringtools"
)

type EventKind string

func (k EventKind) String() string {
	return string(k)
}

const (
	KindListed   EventKind = "listed"
	KindBought   EventKind = "bought"
	KindCanceled EventKind = "canceled"
	KindMinted   EventKind = "minted"
)

// RawEvent is one indexed marketplace record as returned by an EventSource.
// Account is the seller for Listed/Canceled and the buyer for Bought.
// Owner is the token owner captured by the indexer at event time, if any.
// BlockNumber and LogIndex are zero when the source does not expose them.
type RawEvent struct {
	ID                string
	Account           string
	CollectionAddress string
	TokenID           string
	TokenURI          string
	Price             *big.Int
	Owner             string
	Timestamp         uint64
	BlockNumber       uint64
	LogIndex          uint64
}

type CollectionAdded struct {
	ID                string
	Deployer          string
	CollectionAddress string
	Timestamp         uint64
}

// EventBatch holds the four named arrays served by the indexing service.
type EventBatch struct {
	Listed      []RawEvent
	Bought      []RawEvent
	Canceled    []RawEvent
	Collections []CollectionAdded
}

func (b EventBatch) Len() int {
	return len(b.Listed) + len(b.Bought) + len(b.Canceled) + len(b.Collections)
}

// EventFilter narrows a fetch. Deployer applies to CollectionAdded records only.
type EventFilter struct {
	Deployer string
}

type EventSource interface {
	Fetch(ctx context.Context, filter EventFilter) (EventBatch, error)
}

// CollectionReader is the read-only capability set of an NFT collection contract.
type CollectionReader interface {
	OwnerOf(ctx context.Context, collection string, tokenID *big.Int) (string, error)
	TokenURI(ctx context.Context, collection string, tokenID *big.Int) (string, error)
	BalanceOf(ctx context.Context, collection string, owner string) (*big.Int, error)
	TokenOfOwnerByIndex(ctx context.Context, collection string, owner string, index *big.Int) (*big.Int, error)
	Name(ctx context.Context, collection string) (string, error)
	Owner(ctx context.Context, collection string) (string, error)
}

type TokenKey struct {
	Collection string
	TokenID    string
}

func NewTokenKey(collection, tokenID string) TokenKey {
	return TokenKey{
		Collection: stringtools.NormalizeAddress(collection),
		TokenID:    canonicalTokenID(tokenID),
	}
}

func canonicalTokenID(tokenID string) string {
	id := strings.TrimSpace(tokenID)
	if n, ok := parseTokenID(id); ok {
		return n.String()
	}
	return id
}

func parseTokenID(id string) (*big.Int, bool) {
	if strings.HasPrefix(id, "0x") || strings.HasPrefix(id, "0X") {
		return new(big.Int).SetString(id[2:], 16)
	}
	return new(big.Int).SetString(id, 10)
}

type TokenEvent struct {
	CollectionAddress string
	TokenID           string
	TokenURI          string
	Price             *big.Int
	Kind              EventKind
	Timestamp         uint64
	BlockNumber       uint64
	LogIndex          uint64
}

func (e TokenEvent) Key() TokenKey {
	return NewTokenKey(e.CollectionAddress, e.TokenID)
}

// PriceString returns the price in wei, or "" when the price is undefined.
func (e TokenEvent) PriceString() string {
	if e.Price == nil {
		return ""
	}
	return e.Price.String()
}

type ReconciledItem struct {
	TokenEvent
	Owner           string
	CurrentlyListed bool
}

// IsPlaceholder reports an empty-collection entry with only the address set.
func (i ReconciledItem) IsPlaceholder() bool {
	return i.TokenID == "" && i.Kind == ""
}

type reconciledItemJSON struct {
	CollectionAddress string `json:"collection_address"`
	TokenID           string `json:"token_id,omitempty"`
	TokenURI          string `json:"token_uri,omitempty"`
	Price             string `json:"price,omitempty"`
	Kind              string `json:"type,omitempty"`
	Timestamp         uint64 `json:"timestamp,omitempty"`
	Owner             string `json:"owner,omitempty"`
	CurrentlyListed   bool   `json:"currently_listed"`
}

func (i ReconciledItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(reconciledItemJSON{
		CollectionAddress: i.CollectionAddress,
		TokenID:           i.TokenID,
		TokenURI:          i.TokenURI,
		Price:             i.PriceString(),
		Kind:              i.Kind.String(),
		Timestamp:         i.Timestamp,
		Owner:             i.Owner,
		CurrentlyListed:   i.CurrentlyListed,
	})
}

type CollectionGroup struct {
	CollectionAddress string           `json:"collection_address"`
	CollectionName    string           `json:"collection_name"`
	CollectionOwner   string           `json:"collection_owner"`
	IsViewerOwner     bool             `json:"is_viewer_owner"`
	Items             []ReconciledItem `json:"items"`
}

// Params identify one subscription. Target is the address whose tokens are
// shown, Viewer is the connected account.
type Params struct {
	Target     string
	Viewer     string
	ListedOnly bool
}

func (p Params) normalized() Params {
	return Params{
		Target:     stringtools.NormalizeAddress(p.Target),
		Viewer:     stringtools.NormalizeAddress(p.Viewer),
		ListedOnly: p.ListedOnly,
	}
}
