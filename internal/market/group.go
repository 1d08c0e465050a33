package market

import (
	"context"
	"fmt"

	"github.com/nft-marketplace/marketnode/pkg/stringtools"
)

// Partition splits items by collection address. Groups appear in the order
// their address is first seen; item order inside a group is preserved.
func Partition(items []ReconciledItem) []CollectionGroup {
	index := make(map[string]int)
	var groups []CollectionGroup
	for _, it := range items {
		addr := stringtools.NormalizeAddress(it.CollectionAddress)
		i, ok := index[addr]
		if !ok {
			i = len(groups)
			index[addr] = i
			groups = append(groups, CollectionGroup{CollectionAddress: it.CollectionAddress})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}

type Grouper struct {
	reader CollectionReader
}

func NewGrouper(reader CollectionReader) *Grouper {
	return &Grouper{reader: reader}
}

// Group partitions items and attaches name and owner read from each
// collection contract.
func (g *Grouper) Group(ctx context.Context, items []ReconciledItem, viewer string) ([]CollectionGroup, error) {
	groups := Partition(items)
	for i := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		addr := groups[i].CollectionAddress
		name, err := g.reader.Name(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("name of %s: %w", addr, err)
		}
		owner, err := g.reader.Owner(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("owner of %s: %w", addr, err)
		}
		groups[i].CollectionName = name
		groups[i].CollectionOwner = owner
		groups[i].IsViewerOwner = viewer != "" && stringtools.AddressesMatch(owner, viewer)
	}
	return groups, nil
}
