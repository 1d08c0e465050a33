package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/nft-marketplace/marketnode/internal/metrics"
	"go.uber.org/zap"
)

var ErrNotJSON = errors.New("token metadata is not JSON")

const (
	ipfsScheme  = "ipfs://"
	cachePrefix = "marketnode:metadata:"
)

type Metadata struct {
	Name        string `json:"name"`
	Image       string `json:"image"`
	Description string `json:"description,omitempty"`
}

// Collections minted through the marketplace write tokenName/tokenImage,
// everything else follows the ERC721 metadata schema.
type rawMetadata struct {
	TokenName   string `json:"tokenName"`
	TokenImage  string `json:"tokenImage"`
	Name        string `json:"name"`
	Image       string `json:"image"`
	Description string `json:"description"`
}

type HTTPGetter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

type Fetcher struct {
	http    HTTPGetter
	cache   *badger.DB
	gateway string
	timeout time.Duration
}

// NewFetcher builds a fetcher. cache may be nil.
func NewFetcher(httpClient HTTPGetter, cache *badger.DB, gateway string, timeout time.Duration) *Fetcher {
	if gateway != "" && !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return &Fetcher{http: httpClient, cache: cache, gateway: gateway, timeout: timeout}
}

// ResolveURI rewrites ipfs:// URIs onto the configured gateway.
func (f *Fetcher) ResolveURI(uri string) string {
	uri = strings.TrimSpace(uri)
	if strings.HasPrefix(uri, ipfsScheme) && f.gateway != "" {
		return f.gateway + strings.TrimPrefix(strings.TrimPrefix(uri, ipfsScheme), "ipfs/")
	}
	return uri
}

func (f *Fetcher) Fetch(ctx context.Context, uri string) (Metadata, error) {
	if uri == "" {
		return Metadata{}, errors.New("empty token uri")
	}
	if md, ok := f.cached(uri); ok {
		metrics.MetadataFetches.WithLabelValues("cache_hit").Inc()
		return md, nil
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	body, err := f.http.Get(ctx, f.ResolveURI(uri))
	if err != nil {
		metrics.MetadataFetches.WithLabelValues("error").Inc()
		return Metadata{}, fmt.Errorf("fetch metadata %s: %w", uri, err)
	}

	var raw rawMetadata
	if err := json.Unmarshal(body, &raw); err != nil {
		metrics.MetadataFetches.WithLabelValues("not_json").Inc()
		return Metadata{}, fmt.Errorf("%s: %w", uri, ErrNotJSON)
	}

	md := Metadata{
		Name:        firstNonEmpty(raw.TokenName, raw.Name),
		Image:       f.ResolveURI(firstNonEmpty(raw.TokenImage, raw.Image)),
		Description: raw.Description,
	}
	metrics.MetadataFetches.WithLabelValues("ok").Inc()
	f.store(uri, md)
	return md, nil
}

func (f *Fetcher) cached(uri string) (Metadata, bool) {
	if f.cache == nil {
		return Metadata{}, false
	}
	var md Metadata
	err := f.cache.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cachePrefix + uri))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &md)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			zap.L().Warn("Could not read metadata cache", zap.String("uri", uri), zap.Error(err))
		}
		return Metadata{}, false
	}
	return md, true
}

func (f *Fetcher) store(uri string, md Metadata) {
	if f.cache == nil {
		return
	}
	val, err := json.Marshal(md)
	if err != nil {
		return
	}
	if err := f.cache.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cachePrefix+uri), val)
	}); err != nil {
		zap.L().Warn("Could not write metadata cache", zap.String("uri", uri), zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
