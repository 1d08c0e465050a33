package market

import (
	"context"
	"fmt"
	"sort"

	"github.com/nft-marketplace/marketnode/pkg/stringtools"
)

// AddressView is the per-account marketplace summary.
type AddressView struct {
	Account                 string            `json:"account"`
	AllListed               []CollectionGroup `json:"all_listed_items"`
	ListedByOthers          []CollectionGroup `json:"listed_items_by_others"`
	UserItems               []CollectionGroup `json:"user_items"`
	UserMintableCollections []CollectionAdded `json:"user_mintable_collections"`
	UserCollections         []string          `json:"user_all_collections"`
}

// AddressView builds the account summary from the indexed owner snapshots
// plus on-chain reads for tokens the account minted but never listed.
func (r *Reconciler) AddressView(ctx context.Context, account string) (AddressView, error) {
	account = stringtools.NormalizeAddress(account)
	if account == "" {
		return AddressView{}, fmt.Errorf("account is required")
	}

	batch, err := r.source.Fetch(ctx, EventFilter{})
	if err != nil {
		return AddressView{}, fmt.Errorf("fetch events: %w", err)
	}
	return r.buildAddressView(ctx, batch, account)
}

func (r *Reconciler) buildAddressView(ctx context.Context, batch EventBatch, account string) (AddressView, error) {
	listed := CurrentlyListed(batch)

	var byOthers []ReconciledItem
	for _, it := range listed {
		if !stringtools.AddressesMatch(it.Owner, account) {
			byOthers = append(byOthers, it)
		}
	}

	latest := latestWithOwner(batch)
	var userItems []ReconciledItem
	for _, it := range latest {
		if stringtools.AddressesMatch(it.Owner, account) {
			userItems = append(userItems, it)
		}
	}

	var mintable []CollectionAdded
	for _, c := range batch.Collections {
		if stringtools.AddressesMatch(c.Deployer, account) {
			mintable = append(mintable, c)
		}
	}

	minted, err := r.enricher.EnrichMinted(ctx, account, mintable, latest)
	if err != nil {
		return AddressView{}, fmt.Errorf("enrich minted: %w", err)
	}
	for _, it := range minted {
		if !it.IsPlaceholder() {
			userItems = append(userItems, it)
		}
	}

	listedKeys := make(map[TokenKey]struct{}, len(listed))
	for _, it := range listed {
		listedKeys[it.Key()] = struct{}{}
	}
	for i := range userItems {
		_, ok := listedKeys[userItems[i].Key()]
		userItems[i].CurrentlyListed = ok
	}

	var addrs []string
	seen := make(map[string]struct{})
	add := func(a string) {
		n := stringtools.NormalizeAddress(a)
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		addrs = append(addrs, n)
	}
	for _, c := range mintable {
		add(c.CollectionAddress)
	}
	for _, it := range userItems {
		add(it.CollectionAddress)
	}

	return AddressView{
		Account:                 account,
		AllListed:               Partition(listed),
		ListedByOthers:          Partition(byOthers),
		UserItems:               Partition(userItems),
		UserMintableCollections: mintable,
		UserCollections:         addrs,
	}, nil
}

// CurrentlyListed returns listings not superseded by a later purchase or
// cancellation of the same token, one per token, newest first. Owners are
// the ones captured when the listing was indexed.
func CurrentlyListed(batch EventBatch) []ReconciledItem {
	closedAt := make(map[TokenKey]uint64)
	for _, evs := range [][]RawEvent{batch.Bought, batch.Canceled} {
		for _, ev := range evs {
			k := NewTokenKey(ev.CollectionAddress, ev.TokenID)
			if ev.Timestamp > closedAt[k] {
				closedAt[k] = ev.Timestamp
			}
		}
	}

	var open []ReconciledItem
	for _, ev := range batch.Listed {
		k := NewTokenKey(ev.CollectionAddress, ev.TokenID)
		if ts, ok := closedAt[k]; ok && ts > ev.Timestamp {
			continue
		}
		open = append(open, ReconciledItem{
			TokenEvent:      toTokenEvent(ev, KindListed, clonePrice(ev.Price)),
			Owner:           ev.Owner,
			CurrentlyListed: true,
		})
	}
	return dedupItems(sortItems(open))
}

func latestWithOwner(batch EventBatch) []ReconciledItem {
	var items []ReconciledItem
	for _, ev := range batch.Listed {
		items = append(items, ReconciledItem{TokenEvent: toTokenEvent(ev, KindListed, clonePrice(ev.Price)), Owner: ev.Owner})
	}
	for _, ev := range batch.Bought {
		items = append(items, ReconciledItem{TokenEvent: toTokenEvent(ev, KindBought, clonePrice(ev.Price)), Owner: ev.Owner})
	}
	for _, ev := range batch.Canceled {
		items = append(items, ReconciledItem{TokenEvent: toTokenEvent(ev, KindCanceled, clonePrice(ev.Price)), Owner: ev.Owner})
	}
	return dedupItems(sortItems(items))
}

func sortItems(items []ReconciledItem) []ReconciledItem {
	out := make([]ReconciledItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

func dedupItems(items []ReconciledItem) []ReconciledItem {
	seen := make(map[TokenKey]struct{}, len(items))
	out := make([]ReconciledItem, 0, len(items))
	for _, it := range items {
		k := it.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}

// FilterListedByOthers keeps items for sale by someone other than viewer:
// a known owner that is not the viewer and a non-zero price.
func FilterListedByOthers(groups []CollectionGroup, viewer string) []CollectionGroup {
	return filterGroups(groups, func(it ReconciledItem) bool {
		return it.Owner != "" &&
			!stringtools.AddressesMatch(it.Owner, viewer) &&
			it.Price != nil && it.Price.Sign() != 0
	})
}

// FilterOwnedBy keeps items currently owned by addr.
func FilterOwnedBy(groups []CollectionGroup, addr string) []CollectionGroup {
	return filterGroups(groups, func(it ReconciledItem) bool {
		return it.Owner != "" && stringtools.AddressesMatch(it.Owner, addr)
	})
}

func filterGroups(groups []CollectionGroup, keep func(ReconciledItem) bool) []CollectionGroup {
	var out []CollectionGroup
	for _, g := range groups {
		var items []ReconciledItem
		for _, it := range g.Items {
			if keep(it) {
				items = append(items, it)
			}
		}
		if len(items) == 0 {
			continue
		}
		g.Items = items
		out = append(out, g)
	}
	return out
}
