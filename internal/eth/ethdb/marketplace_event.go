package ethdb

import (
	"fmt"
	"math/big"
	"strings"
)

type EventKind string

const (
	KindItemListed      EventKind = "listed"
	KindItemBought      EventKind = "bought"
	KindItemCanceled    EventKind = "canceled"
	KindCollectionAdded EventKind = "collection_added"
)

// MarketplaceEvent is one decoded marketplace log. Account is the seller,
// buyer or deployer depending on Kind. Owner and TokenURI are read from the
// collection contract when the event is indexed.
type MarketplaceEvent struct {
	ID          string
	Kind        EventKind
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Account     string
	NftAddress  string
	TokenID     string
	Price       *big.Int
	TokenURI    string
	Owner       string
	BlockTime   uint64
}

func (e MarketplaceEvent) HasToken() bool {
	return e.Kind != KindCollectionAdded
}

func EventID(txHash string, logIndex uint64) string {
	return fmt.Sprintf("%s-%d", strings.ToLower(txHash), logIndex)
}
