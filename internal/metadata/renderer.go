package metadata

import (
	"context"

	"github.com/alitto/pond/v2"
	"github.com/nft-marketplace/marketnode/internal/market"
	"github.com/nft-marketplace/marketnode/pkg/stringtools"
	"go.uber.org/zap"
)

type Card struct {
	Item        market.ReconciledItem `json:"item"`
	Name        string                `json:"name"`
	Image       string                `json:"image"`
	Description string                `json:"description,omitempty"`
	PriceEther  string                `json:"price_ether"`
	ShortOwner  string                `json:"short_owner"`
}

type CollectionView struct {
	CollectionAddress string `json:"collection_address"`
	CollectionName    string `json:"collection_name"`
	CollectionOwner   string `json:"collection_owner"`
	IsViewerOwner     bool   `json:"is_viewer_owner"`
	Cards             []Card `json:"cards"`
}

type MetadataFetcher interface {
	Fetch(ctx context.Context, uri string) (Metadata, error)
}

// Renderer turns reconciled groups into display cards. Metadata fetches run
// on a bounded worker pool shared by all renders.
type Renderer struct {
	fetcher MetadataFetcher
	pool    pond.ResultPool[*Card]
}

func NewRenderer(fetcher MetadataFetcher, workers int) *Renderer {
	if workers <= 0 {
		workers = 8
	}
	return &Renderer{
		fetcher: fetcher,
		pool:    pond.NewResultPool[*Card](workers),
	}
}

func (r *Renderer) Render(ctx context.Context, snap market.Snapshot) []CollectionView {
	return r.RenderGroups(ctx, snap.Groups)
}

// RenderGroups keeps group order and item order. Cards whose metadata
// cannot be fetched are logged and left out.
func (r *Renderer) RenderGroups(ctx context.Context, groups []market.CollectionGroup) []CollectionView {
	type pending struct {
		view  int
		task  pond.Result[*Card]
		token string
	}

	views := make([]CollectionView, len(groups))
	var tasks []pending
	for gi, group := range groups {
		views[gi] = CollectionView{
			CollectionAddress: group.CollectionAddress,
			CollectionName:    group.CollectionName,
			CollectionOwner:   group.CollectionOwner,
			IsViewerOwner:     group.IsViewerOwner,
			Cards:             []Card{},
		}
		for _, item := range group.Items {
			item := item
			if item.IsPlaceholder() {
				continue
			}
			task := r.pool.SubmitErr(func() (*Card, error) {
				return r.card(ctx, item)
			})
			tasks = append(tasks, pending{view: gi, task: task, token: item.TokenID})
		}
	}

	for _, p := range tasks {
		card, err := p.task.Wait()
		if err != nil {
			zap.L().Warn("Skipping card without metadata",
				zap.String("collection", views[p.view].CollectionAddress),
				zap.String("tokenId", p.token),
				zap.Error(err),
			)
			continue
		}
		views[p.view].Cards = append(views[p.view].Cards, *card)
	}
	return views
}

func (r *Renderer) card(ctx context.Context, item market.ReconciledItem) (*Card, error) {
	md, err := r.fetcher.Fetch(ctx, item.TokenURI)
	if err != nil {
		return nil, err
	}
	card := &Card{
		Item:        item,
		Name:        md.Name,
		Image:       md.Image,
		Description: md.Description,
		PriceEther:  market.FormatEther(item.Price),
	}
	if item.Owner != "" {
		card.ShortOwner = stringtools.ShortenHex(item.Owner, 4)
	}
	return card, nil
}

func (r *Renderer) Close() {
	r.pool.StopAndWait()
}
