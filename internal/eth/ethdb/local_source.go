package ethdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nft-marketplace/marketnode/internal/db"
	"github.com/nft-marketplace/marketnode/internal/market"
)

// LocalEventSource serves the marketplace history indexed by this node.
type LocalEventSource struct {
	db    *sql.DB
	store MarketplaceEventDb
}

func NewLocalEventSource(sqlDB *sql.DB, store MarketplaceEventDb) *LocalEventSource {
	return &LocalEventSource{db: sqlDB, store: store}
}

// Fetch reads all four event kinds in one read transaction so the batch is a
// consistent cut even while the watcher is writing.
func (s *LocalEventSource) Fetch(ctx context.Context, filter market.EventFilter) (market.EventBatch, error) {
	deployer := strings.ToLower(strings.TrimSpace(filter.Deployer))

	return db.TxRunner(ctx, s.db, func(tx *sql.Tx) (market.EventBatch, error) {
		var batch market.EventBatch

		for _, kind := range []EventKind{KindItemListed, KindItemBought, KindItemCanceled} {
			events, err := s.store.GetEvents(tx, kind, "")
			if err != nil {
				return batch, fmt.Errorf("read %s events: %w", kind, err)
			}
			raws := make([]market.RawEvent, len(events))
			for i, ev := range events {
				raws[i] = toRawEvent(ev)
			}
			switch kind {
			case KindItemListed:
				batch.Listed = raws
			case KindItemBought:
				batch.Bought = raws
			case KindItemCanceled:
				batch.Canceled = raws
			}
		}

		added, err := s.store.GetEvents(tx, KindCollectionAdded, deployer)
		if err != nil {
			return batch, fmt.Errorf("read collection events: %w", err)
		}
		for _, ev := range added {
			batch.Collections = append(batch.Collections, market.CollectionAdded{
				ID:                ev.ID,
				Deployer:          ev.Account,
				CollectionAddress: ev.NftAddress,
				Timestamp:         ev.BlockTime,
			})
		}
		return batch, nil
	})
}

func toRawEvent(ev MarketplaceEvent) market.RawEvent {
	return market.RawEvent{
		ID:                ev.ID,
		Account:           ev.Account,
		CollectionAddress: ev.NftAddress,
		TokenID:           ev.TokenID,
		TokenURI:          ev.TokenURI,
		Price:             ev.Price,
		Owner:             ev.Owner,
		Timestamp:         ev.BlockTime,
		BlockNumber:       ev.BlockNumber,
		LogIndex:          ev.LogIndex,
	}
}
