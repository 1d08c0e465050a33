package subgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/nft-marketplace/marketnode/internal/market"
	"go.uber.org/zap"
)

const eventFields = `
      id
      nftAddress
      tokenId
      timestamp
      tokenUri
      owner`

var marketplaceQuery = `
  query getUserCollections%s {
    itemListeds(orderBy: timestamp, orderDirection: desc) {` + eventFields + `
      seller
      price
    }
    itemCanceleds(orderBy: timestamp, orderDirection: desc) {` + eventFields + `
      seller
    }
    itemBoughts(orderBy: timestamp, orderDirection: desc) {` + eventFields + `
      buyer
      price
    }
    collectionAddeds(%s orderBy: timestamp, orderDirection: desc) {
      id
      deployer
      nftAddress
      timestamp
    }
  }`

// HTTPPoster sends a request body and returns the response body.
type HTTPPoster interface {
	Post(ctx context.Context, url string, contentType string, body []byte) ([]byte, error)
}

// Client reads marketplace events from the hosted indexing service.
type Client struct {
	url  string
	http HTTPPoster
}

func NewClient(url string, httpClient HTTPPoster) *Client {
	return &Client{url: url, http: httpClient}
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type eventRecord struct {
	ID         string `json:"id"`
	Seller     string `json:"seller"`
	Buyer      string `json:"buyer"`
	NftAddress string `json:"nftAddress"`
	TokenID    string `json:"tokenId"`
	Price      string `json:"price"`
	Timestamp  string `json:"timestamp"`
	TokenURI   string `json:"tokenUri"`
	Owner      string `json:"owner"`
}

type collectionRecord struct {
	ID         string `json:"id"`
	Deployer   string `json:"deployer"`
	NftAddress string `json:"nftAddress"`
	Timestamp  string `json:"timestamp"`
}

type graphqlResponse struct {
	Data *struct {
		ItemListeds      []eventRecord      `json:"itemListeds"`
		ItemCanceleds    []eventRecord      `json:"itemCanceleds"`
		ItemBoughts      []eventRecord      `json:"itemBoughts"`
		CollectionAddeds []collectionRecord `json:"collectionAddeds"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

func buildRequest(filter market.EventFilter) graphqlRequest {
	deployer := strings.ToLower(strings.TrimSpace(filter.Deployer))
	if deployer == "" {
		return graphqlRequest{Query: fmt.Sprintf(marketplaceQuery, "", "")}
	}
	return graphqlRequest{
		Query:     fmt.Sprintf(marketplaceQuery, "($address: Bytes)", "where: { deployer: $address },"),
		Variables: map[string]interface{}{"address": deployer},
	}
}

// Fetch implements market.EventSource.
func (c *Client) Fetch(ctx context.Context, filter market.EventFilter) (market.EventBatch, error) {
	payload, err := json.Marshal(buildRequest(filter))
	if err != nil {
		return market.EventBatch{}, err
	}

	body, err := c.http.Post(ctx, c.url, "application/json", payload)
	if err != nil {
		return market.EventBatch{}, fmt.Errorf("subgraph query: %w", err)
	}

	var resp graphqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return market.EventBatch{}, fmt.Errorf("decode subgraph response: %w", err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return market.EventBatch{}, fmt.Errorf("subgraph errors: %s", strings.Join(msgs, "; "))
	}
	if resp.Data == nil {
		return market.EventBatch{}, errors.New("subgraph response has no data")
	}

	var batch market.EventBatch
	if batch.Listed, err = toRawEvents(resp.Data.ItemListeds, func(r eventRecord) string { return r.Seller }); err != nil {
		return market.EventBatch{}, fmt.Errorf("itemListeds: %w", err)
	}
	if batch.Bought, err = toRawEvents(resp.Data.ItemBoughts, func(r eventRecord) string { return r.Buyer }); err != nil {
		return market.EventBatch{}, fmt.Errorf("itemBoughts: %w", err)
	}
	if batch.Canceled, err = toRawEvents(resp.Data.ItemCanceleds, func(r eventRecord) string { return r.Seller }); err != nil {
		return market.EventBatch{}, fmt.Errorf("itemCanceleds: %w", err)
	}
	for _, r := range resp.Data.CollectionAddeds {
		ts, err := parseTimestamp(r.Timestamp)
		if err != nil {
			return market.EventBatch{}, fmt.Errorf("collectionAddeds %s: %w", r.ID, err)
		}
		batch.Collections = append(batch.Collections, market.CollectionAdded{
			ID:                r.ID,
			Deployer:          r.Deployer,
			CollectionAddress: r.NftAddress,
			Timestamp:         ts,
		})
	}

	zap.L().Debug("Fetched subgraph events",
		zap.Int("listed", len(batch.Listed)),
		zap.Int("bought", len(batch.Bought)),
		zap.Int("canceled", len(batch.Canceled)),
		zap.Int("collections", len(batch.Collections)),
	)
	return batch, nil
}

func toRawEvents(records []eventRecord, account func(eventRecord) string) ([]market.RawEvent, error) {
	out := make([]market.RawEvent, 0, len(records))
	for _, r := range records {
		ts, err := parseTimestamp(r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.ID, err)
		}
		var price *big.Int
		if r.Price != "" {
			p, ok := new(big.Int).SetString(r.Price, 10)
			if !ok {
				return nil, fmt.Errorf("%s: invalid price %q", r.ID, r.Price)
			}
			price = p
		}
		out = append(out, market.RawEvent{
			ID:                r.ID,
			Account:           account(r),
			CollectionAddress: r.NftAddress,
			TokenID:           r.TokenID,
			TokenURI:          r.TokenURI,
			Price:             price,
			Owner:             r.Owner,
			Timestamp:         ts,
		})
	}
	return out, nil
}

// parseTimestamp accepts BigInt and BigDecimal encodings of a unix time.
func parseTimestamp(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	ts, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	return ts, nil
}
