package market

import (
	"context"
	"fmt"
	"time"

	"github.com/nft-marketplace/marketnode/internal/metrics"
	"go.uber.org/zap"
)

// Result is the output of one reconciliation pass.
type Result struct {
	Groups      []CollectionGroup
	Items       []ReconciledItem
	Collections []CollectionAdded
	// DataLength is the number of raw records the source returned.
	DataLength int
}

type Reconciler struct {
	source   EventSource
	enricher *Enricher
	grouper  *Grouper
}

func NewReconciler(source EventSource, reader CollectionReader, concurrency int) *Reconciler {
	return &Reconciler{
		source:   source,
		enricher: NewEnricher(reader, concurrency),
		grouper:  NewGrouper(reader),
	}
}

// Reconcile fetches the event history and runs it through the full pipeline.
func (r *Reconciler) Reconcile(ctx context.Context, params Params) (Result, error) {
	params = params.normalized()

	start := time.Now()
	batch, err := r.source.Fetch(ctx, EventFilter{Deployer: params.Target})
	if err != nil {
		return Result{}, fmt.Errorf("fetch events: %w", err)
	}
	metrics.SourceFetchDuration.Observe(time.Since(start).Seconds())

	items, err := r.Items(ctx, batch, params)
	if err != nil {
		return Result{}, err
	}

	groups, err := r.grouper.Group(ctx, items, params.Viewer)
	if err != nil {
		return Result{}, fmt.Errorf("group: %w", err)
	}

	zap.L().Debug("Reconciled marketplace state",
		zap.String("target", params.Target),
		zap.Bool("listedOnly", params.ListedOnly),
		zap.Int("events", batch.Len()),
		zap.Int("items", len(items)),
		zap.Int("groups", len(groups)))

	return Result{
		Groups:      groups,
		Items:       items,
		Collections: batch.Collections,
		DataLength:  batch.Len(),
	}, nil
}

// Items runs normalize, merge, dedup and enrichment over an already fetched
// batch. Minted enrichment only runs in all-tokens mode for a known target.
func (r *Reconciler) Items(ctx context.Context, batch EventBatch, params Params) ([]ReconciledItem, error) {
	events := LatestPerToken(Normalize(batch.Listed, batch.Bought, batch.Canceled))

	start := time.Now()
	items, err := r.enricher.ResolveOwners(ctx, events)
	if err != nil {
		metrics.EnrichmentFailures.Inc()
		return nil, fmt.Errorf("resolve owners: %w", err)
	}

	if !params.ListedOnly && params.Target != "" {
		minted, err := r.enricher.EnrichMinted(ctx, params.Target, batch.Collections, items)
		if err != nil {
			metrics.EnrichmentFailures.Inc()
			return nil, fmt.Errorf("enrich minted: %w", err)
		}
		items = append(items, minted...)
	}
	metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())

	return items, nil
}
