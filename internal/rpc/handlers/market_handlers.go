package handlers

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nft-marketplace/marketnode/internal/db"
	"github.com/nft-marketplace/marketnode/internal/eth/ethdb"
	"github.com/nft-marketplace/marketnode/internal/market"
	"github.com/nft-marketplace/marketnode/internal/metadata"
)

const defaultSettleTimeout = 3 * time.Second

type SubscriptionRegistry interface {
	Get(params market.Params) (*market.Poller, error)
	Len() int
}

type AddressViewer interface {
	AddressView(ctx context.Context, account string) (market.AddressView, error)
}

type ListingFeeReader interface {
	Address() string
	ListingFee(ctx context.Context) (*big.Int, error)
}

type CollectionRenderer interface {
	RenderGroups(ctx context.Context, groups []market.CollectionGroup) []metadata.CollectionView
}

// MarketHandlers serves the reconciled marketplace state. Fees, Renderer and
// DB are optional; their endpoints answer 404 when unset.
type MarketHandlers struct {
	Registry  SubscriptionRegistry
	Addresses AddressViewer
	Fees      ListingFeeReader
	Renderer  CollectionRenderer
	DB        *sql.DB
	Events    ethdb.MarketplaceEventDb
	Source    string
	// SettleTimeout bounds how long a request waits for the first result
	// of a freshly started subscription.
	SettleTimeout time.Duration
}

func (h *MarketHandlers) Routes() MethodHandlers {
	return MethodHandlers{
		CreateApiV1Path("status"): {
			HTTP_GET: func(r *http.Request) (any, error) {
				return StatusGetHandler(r, h)
			},
		},
		CreateApiV1Path("collections"): {
			HTTP_GET: func(r *http.Request) (any, error) {
				return h.CollectionsGetHandler(r)
			},
		},
		CreateApiV1Path("listings"): {
			HTTP_GET: func(r *http.Request) (any, error) {
				return h.ListingsGetHandler(r)
			},
		},
		CreateApiV1Path("addresses/"): {
			HTTP_GET: func(r *http.Request) (any, error) {
				return h.AddressGetHandler(r)
			},
		},
		CreateApiV1Path("listing-fee"): {
			HTTP_GET: func(r *http.Request) (any, error) {
				return h.ListingFeeGetHandler(r)
			},
		},
		CreateApiV1Path("events"): {
			HTTP_GET: func(r *http.Request) (any, error) {
				return h.EventsGetHandler(r)
			},
		},
		CreateApiV1Path("subscriptions/refresh"): {
			HTTP_POST: func(r *http.Request) (any, error) {
				return h.RefreshPostHandler(r)
			},
		},
	}
}

func (h *MarketHandlers) EventSource() string {
	return h.Source
}

func (h *MarketHandlers) Subscriptions() int {
	if h.Registry == nil {
		return 0
	}
	return h.Registry.Len()
}

type CollectionsResponse struct {
	State       market.State              `json:"state"`
	Generation  uint64                    `json:"generation"`
	Error       string                    `json:"error,omitempty"`
	DataLength  int                       `json:"data_length"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	Collections []market.CollectionGroup  `json:"collections"`
	Views       []metadata.CollectionView `json:"views,omitempty"`
}

// CollectionsGetHandler serves /api/v1/collections?address=&viewer=&listed_only=&owned_only=&render=
func (h *MarketHandlers) CollectionsGetHandler(r *http.Request) (CollectionsResponse, error) {
	target, err := addressParam(r, "address", true)
	if err != nil {
		return CollectionsResponse{}, err
	}
	viewer, err := addressParam(r, "viewer", false)
	if err != nil {
		return CollectionsResponse{}, err
	}
	listedOnly, err := boolParam(r, "listed_only")
	if err != nil {
		return CollectionsResponse{}, err
	}
	ownedOnly, err := boolParam(r, "owned_only")
	if err != nil {
		return CollectionsResponse{}, err
	}
	render, err := boolParam(r, "render")
	if err != nil {
		return CollectionsResponse{}, err
	}

	poller, err := h.subscribe(market.Params{Target: target, Viewer: viewer, ListedOnly: listedOnly})
	if err != nil {
		return CollectionsResponse{}, err
	}
	snap := h.settledSnapshot(r.Context(), poller)

	groups := snap.Groups
	if ownedOnly {
		groups = market.FilterOwnedBy(groups, target)
	}
	return h.collectionsResponse(r.Context(), snap, groups, render), nil
}

// ListingsGetHandler serves /api/v1/listings?viewer=&render=, the items
// on sale by anyone other than the viewer across every collection.
func (h *MarketHandlers) ListingsGetHandler(r *http.Request) (CollectionsResponse, error) {
	viewer, err := addressParam(r, "viewer", false)
	if err != nil {
		return CollectionsResponse{}, err
	}
	render, err := boolParam(r, "render")
	if err != nil {
		return CollectionsResponse{}, err
	}

	poller, err := h.subscribe(market.Params{Viewer: viewer, ListedOnly: true})
	if err != nil {
		return CollectionsResponse{}, err
	}
	snap := h.settledSnapshot(r.Context(), poller)

	return h.collectionsResponse(r.Context(), snap, market.FilterListedByOthers(snap.Groups, viewer), render), nil
}

func (h *MarketHandlers) collectionsResponse(ctx context.Context, snap market.Snapshot, groups []market.CollectionGroup, render bool) CollectionsResponse {
	resp := CollectionsResponse{
		State:       snap.State,
		Generation:  snap.Generation,
		DataLength:  snap.DataLength,
		UpdatedAt:   snap.UpdatedAt,
		Collections: groups,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	if resp.Collections == nil {
		resp.Collections = []market.CollectionGroup{}
	}
	if render && h.Renderer != nil {
		resp.Views = h.Renderer.RenderGroups(ctx, resp.Collections)
	}
	return resp
}

func (h *MarketHandlers) subscribe(params market.Params) (*market.Poller, error) {
	p, err := h.Registry.Get(params)
	if errors.Is(err, market.ErrTooManySubscriptions) {
		return nil, &HTTPError{Status: http.StatusTooManyRequests, Message: err.Error()}
	}
	return p, err
}

// settledSnapshot waits for a freshly started subscription to finish its
// first cycle. A snapshot that already carries data is returned as is.
func (h *MarketHandlers) settledSnapshot(ctx context.Context, p *market.Poller) market.Snapshot {
	updates, unsubscribe := p.Subscribe()
	defer unsubscribe()

	snap := p.Snapshot()
	timeout := h.SettleTimeout
	if timeout == 0 {
		timeout = defaultSettleTimeout
	}
	if settled(snap) || timeout < 0 {
		return snap
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case s, ok := <-updates:
			if !ok {
				return snap
			}
			snap = s
			if settled(s) {
				return s
			}
		case <-timer.C:
			return snap
		case <-ctx.Done():
			return snap
		}
	}
}

func settled(s market.Snapshot) bool {
	switch s.State {
	case market.StateSuccess, market.StateError:
		return true
	case market.StateFetching:
		return s.Groups != nil
	}
	return false
}

// AddressGetHandler serves /api/v1/addresses/{address}.
func (h *MarketHandlers) AddressGetHandler(r *http.Request) (market.AddressView, error) {
	// /api/v1/addresses/0xabc => ["api","v1","addresses","0xabc"]
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[3] == "" {
		return market.AddressView{}, NotFound("expected /api/v1/addresses/{address}")
	}
	if !common.IsHexAddress(parts[3]) {
		return market.AddressView{}, BadRequest("invalid address %q", parts[3])
	}
	if h.Addresses == nil {
		return market.AddressView{}, NotFound("address view is not available")
	}
	return h.Addresses.AddressView(r.Context(), parts[3])
}

type ListingFeeResponse struct {
	Contract string `json:"contract"`
	Wei      string `json:"wei"`
	Ether    string `json:"ether"`
}

func (h *MarketHandlers) ListingFeeGetHandler(r *http.Request) (ListingFeeResponse, error) {
	if h.Fees == nil {
		return ListingFeeResponse{}, NotFound("marketplace contract is not configured")
	}
	fee, err := h.Fees.ListingFee(r.Context())
	if err != nil {
		return ListingFeeResponse{}, err
	}
	return ListingFeeResponse{
		Contract: h.Fees.Address(),
		Wei:      fee.String(),
		Ether:    market.FormatEther(fee),
	}, nil
}

type EventView struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Account     string `json:"account"`
	NftAddress  string `json:"nft_address"`
	TokenID     string `json:"token_id,omitempty"`
	Price       string `json:"price,omitempty"`
	TokenURI    string `json:"token_uri,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Timestamp   uint64 `json:"timestamp"`
}

type EventsResponse struct {
	PaginatedResponse
	Data []EventView `json:"data"`
}

// EventsGetHandler serves /api/v1/events?kind=&page=&page_size=, newest first.
func (h *MarketHandlers) EventsGetHandler(r *http.Request) (EventsResponse, error) {
	if h.DB == nil || h.Events == nil {
		return EventsResponse{}, NotFound("no local event store")
	}

	kind := ethdb.EventKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", ethdb.KindItemListed, ethdb.KindItemBought, ethdb.KindItemCanceled, ethdb.KindCollectionAdded:
	default:
		return EventsResponse{}, BadRequest("unknown event kind %q", kind)
	}

	page, pageSize, _ := ExtractPagination(r)
	total, events, err := h.Events.GetPaginated(h.DB, db.QueryOptions{Page: page, PageSize: pageSize}, kind)
	if err != nil {
		return EventsResponse{}, err
	}

	resp := EventsResponse{
		PaginatedResponse: PaginatedResponse{Page: page, PageSize: pageSize},
		Data:              make([]EventView, len(events)),
	}
	for i, ev := range events {
		resp.Data[i] = toEventView(ev)
	}
	resp.ReturnPaginatedData(r, total)
	return resp, nil
}

func toEventView(ev ethdb.MarketplaceEvent) EventView {
	view := EventView{
		ID:          ev.ID,
		Kind:        string(ev.Kind),
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		Account:     ev.Account,
		NftAddress:  ev.NftAddress,
		TokenID:     ev.TokenID,
		TokenURI:    ev.TokenURI,
		Owner:       ev.Owner,
		Timestamp:   ev.BlockTime,
	}
	if ev.HasToken() && ev.Price != nil {
		view.Price = ev.Price.String()
	}
	return view
}

type RefreshResponse struct {
	Refreshed bool `json:"refreshed"`
}

// RefreshPostHandler serves POST /api/v1/subscriptions/refresh?address=&viewer=&listed_only=
// and triggers an immediate cycle, the manual refetch the pages expose.
func (h *MarketHandlers) RefreshPostHandler(r *http.Request) (RefreshResponse, error) {
	target, err := addressParam(r, "address", false)
	if err != nil {
		return RefreshResponse{}, err
	}
	viewer, err := addressParam(r, "viewer", false)
	if err != nil {
		return RefreshResponse{}, err
	}
	listedOnly, err := boolParam(r, "listed_only")
	if err != nil {
		return RefreshResponse{}, err
	}
	poller, err := h.subscribe(market.Params{Target: target, Viewer: viewer, ListedOnly: listedOnly})
	if err != nil {
		return RefreshResponse{}, err
	}
	poller.Refresh()
	return RefreshResponse{Refreshed: true}, nil
}

func addressParam(r *http.Request, name string, required bool) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		if required {
			return "", BadRequest("%s is required", name)
		}
		return "", nil
	}
	if !common.IsHexAddress(v) {
		return "", BadRequest("invalid %s %q", name, v)
	}
	return strings.ToLower(common.HexToAddress(v).Hex()), nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, BadRequest("invalid %s %q", name, v)
	}
	return b, nil
}
