package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/nft-marketplace/marketnode/pkg/stringtools"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultEnrichConcurrency = 4

// Enricher resolves on-chain state for deduplicated events through a
// CollectionReader.
type Enricher struct {
	reader      CollectionReader
	concurrency int
}

func NewEnricher(reader CollectionReader, concurrency int) *Enricher {
	if concurrency <= 0 {
		concurrency = defaultEnrichConcurrency
	}
	return &Enricher{reader: reader, concurrency: concurrency}
}

// ResolveOwners reads the current owner of every event's token. Output order
// matches input order. Any failed read fails the whole call.
func (e *Enricher) ResolveOwners(ctx context.Context, events []TokenEvent) ([]ReconciledItem, error) {
	items := make([]ReconciledItem, len(events))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, ev := range events {
		i, ev := i, ev
		g.Go(func() error {
			tokenID, ok := parseTokenID(ev.TokenID)
			if !ok {
				return fmt.Errorf("invalid token id %q in collection %s", ev.TokenID, ev.CollectionAddress)
			}
			owner, err := e.reader.OwnerOf(gctx, ev.CollectionAddress, tokenID)
			if err != nil {
				return fmt.Errorf("ownerOf %s #%s: %w", ev.CollectionAddress, ev.TokenID, err)
			}
			items[i] = ReconciledItem{
				TokenEvent:      ev,
				Owner:           owner,
				CurrentlyListed: ev.Kind == KindListed,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// EnrichMinted walks every collection deployed by target and emits one
// minted item per token target holds that is not already present in existing.
// A deployed collection with zero balance yields a single placeholder so the
// collection is still visible. Results follow the collections' input order;
// reads inside one collection are sequential.
func (e *Enricher) EnrichMinted(ctx context.Context, target string, collections []CollectionAdded, existing []ReconciledItem) ([]ReconciledItem, error) {
	if target == "" {
		return nil, nil
	}

	present := make(map[TokenKey]struct{}, len(existing))
	for _, it := range existing {
		if it.IsPlaceholder() {
			continue
		}
		present[it.Key()] = struct{}{}
	}

	var deployed []string
	seen := make(map[string]struct{})
	for _, c := range collections {
		if !stringtools.AddressesMatch(c.Deployer, target) {
			continue
		}
		addr := stringtools.NormalizeAddress(c.CollectionAddress)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		deployed = append(deployed, c.CollectionAddress)
	}

	perCollection := make([][]ReconciledItem, len(deployed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, collection := range deployed {
		i, collection := i, collection
		g.Go(func() error {
			minted, err := e.mintedIn(gctx, target, collection, present)
			if err != nil {
				return err
			}
			perCollection[i] = minted
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []ReconciledItem
	for _, items := range perCollection {
		out = append(out, items...)
	}
	return out, nil
}

// present is only read here, so sharing it across goroutines is safe.
func (e *Enricher) mintedIn(ctx context.Context, target, collection string, present map[TokenKey]struct{}) ([]ReconciledItem, error) {
	balance, err := e.reader.BalanceOf(ctx, collection, target)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", collection, err)
	}
	if balance == nil || balance.Sign() == 0 {
		return []ReconciledItem{{TokenEvent: TokenEvent{CollectionAddress: collection}}}, nil
	}
	if !balance.IsInt64() {
		return nil, fmt.Errorf("balanceOf %s: balance %s out of range", collection, balance)
	}

	var out []ReconciledItem
	n := balance.Int64()
	for idx := int64(0); idx < n; idx++ {
		tokenID, err := e.reader.TokenOfOwnerByIndex(ctx, collection, target, big.NewInt(idx))
		if err != nil {
			return nil, fmt.Errorf("tokenOfOwnerByIndex %s[%d]: %w", collection, idx, err)
		}
		if _, ok := present[NewTokenKey(collection, tokenID.String())]; ok {
			continue
		}
		uri, err := e.reader.TokenURI(ctx, collection, tokenID)
		if err != nil {
			return nil, fmt.Errorf("tokenURI %s #%s: %w", collection, tokenID, err)
		}
		out = append(out, ReconciledItem{
			TokenEvent: TokenEvent{
				CollectionAddress: collection,
				TokenID:           tokenID.String(),
				TokenURI:          uri,
				Price:             big.NewInt(0),
				Kind:              KindMinted,
			},
			Owner: target,
		})
	}
	zap.L().Debug("Minted tokens resolved",
		zap.String("collection", collection),
		zap.Int64("balance", n),
		zap.Int("new", len(out)))
	return out, nil
}
