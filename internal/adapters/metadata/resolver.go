package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

const (
	// resolvedTTL is the external-cache lifetime of resolved metadata.
	resolvedTTL = 24 * time.Hour
	// unknownTTL keeps unresolved mints short-lived: new tokens are
	// frequently unindexed at first sight and resolve minutes later.
	unknownTTL = 5 * time.Minute

	lruSize      = 4096
	batchLimit   = 100
	callTimeout  = 10 * time.Second
	cacheKeyBase = "meta:"
)

// Resolver resolves token display metadata behind a two-tier cache: a
// bounded in-process LRU, then the external cache, then a batch lookup
// against the indexer.
type Resolver struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	local      *lru.Cache[string, domain.TokenMetadata]
	cache      domain.Cache
	log        *logrus.Logger
}

var _ domain.MetadataService = (*Resolver)(nil)

// NewResolver creates a metadata resolver.
func NewResolver(apiURL, apiKey string, cache domain.Cache, log *logrus.Logger) (*Resolver, error) {
	local, err := lru.New[string, domain.TokenMetadata](lruSize)
	if err != nil {
		return nil, fmt.Errorf("creating metadata LRU: %w", err)
	}
	return &Resolver{
		apiURL:     apiURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: callTimeout},
		local:      local,
		cache:      cache,
		log:        log,
	}, nil
}

// Resolve returns metadata for every requested mint. Unresolvable mints
// come back with Unknown set rather than being omitted, and are cached
// with a short TTL so they can be re-resolved later.
func (r *Resolver) Resolve(ctx context.Context, mints []string) (map[string]domain.TokenMetadata, error) {
	out := make(map[string]domain.TokenMetadata, len(mints))

	var missLocal []string
	for _, mint := range mints {
		if meta, ok := r.local.Get(mint); ok {
			out[mint] = meta
			continue
		}
		missLocal = append(missLocal, mint)
	}

	missRemote := r.fromExternalCache(ctx, missLocal, out)

	if len(missRemote) > 0 {
		fetched, err := r.lookup(ctx, missRemote)
		if err != nil {
			// Degrade: mark the batch unknown for this run, short TTL.
			r.log.WithError(err).Warn("metadata lookup failed, marking batch unknown")
			fetched = map[string]domain.TokenMetadata{}
		}
		for _, mint := range missRemote {
			meta, ok := fetched[mint]
			if !ok {
				meta = domain.TokenMetadata{Mint: mint, Unknown: true}
			}
			out[mint] = meta
			r.store(ctx, meta)
		}
	}

	return out, nil
}

// RefreshUnknown retries the given mints bypassing both cache tiers. Mints
// that resolve this time replace their cached unknown entries.
func (r *Resolver) RefreshUnknown(ctx context.Context, mints []string) map[string]domain.TokenMetadata {
	fetched, err := r.lookup(ctx, mints)
	if err != nil {
		r.log.WithError(err).Debug("bypass-cache metadata retry failed")
		return nil
	}
	recovered := make(map[string]domain.TokenMetadata, len(fetched))
	for mint, meta := range fetched {
		if meta.Unknown {
			continue
		}
		recovered[mint] = meta
		r.store(ctx, meta)
	}
	return recovered
}

// fromExternalCache fills out from the external tier and returns the mints
// still missing.
func (r *Resolver) fromExternalCache(ctx context.Context, mints []string, out map[string]domain.TokenMetadata) []string {
	if len(mints) == 0 {
		return nil
	}
	keys := make([]string, len(mints))
	for i, mint := range mints {
		keys[i] = cacheKeyBase + mint
	}
	hits := r.cache.MGet(ctx, keys)

	var misses []string
	for i, mint := range mints {
		raw, ok := hits[keys[i]]
		if !ok {
			misses = append(misses, mint)
			continue
		}
		var meta domain.TokenMetadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			misses = append(misses, mint)
			continue
		}
		out[mint] = meta
		r.local.Add(mint, meta)
	}
	return misses
}

// store writes meta to both tiers, with a short TTL for unknowns.
func (r *Resolver) store(ctx context.Context, meta domain.TokenMetadata) {
	r.local.Add(meta.Mint, meta)
	ttl := resolvedTTL
	if meta.Unknown {
		ttl = unknownTTL
	}
	if data, err := json.Marshal(meta); err == nil {
		_ = r.cache.Set(ctx, cacheKeyBase+meta.Mint, string(data), ttl)
	}
}

// lookup performs the batch metadata call against the indexer.
func (r *Resolver) lookup(ctx context.Context, mints []string) (map[string]domain.TokenMetadata, error) {
	out := make(map[string]domain.TokenMetadata)
	for _, chunk := range chunkStrings(mints, batchLimit) {
		endpoint := fmt.Sprintf("%s/v0/token-metadata?api-key=%s", r.apiURL, r.apiKey)
		payload, err := json.Marshal(map[string]any{"mintAccounts": chunk})
		if err != nil {
			return nil, fmt.Errorf("encoding metadata request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("creating metadata request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing metadata request: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("metadata endpoint returned status %d: %s", resp.StatusCode, string(snippet))
		}

		var entries []struct {
			Account         string `json:"account"`
			OnChainMetadata *struct {
				Metadata struct {
					Data struct {
						Symbol string `json:"symbol"`
						Name   string `json:"name"`
					} `json:"data"`
				} `json:"metadata"`
			} `json:"onChainMetadata"`
			LegacyMetadata *struct {
				Symbol   string `json:"symbol"`
				Name     string `json:"name"`
				Decimals int    `json:"decimals"`
			} `json:"legacyMetadata"`
		}
		err = json.NewDecoder(resp.Body).Decode(&entries)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding metadata response: %w", err)
		}

		for _, e := range entries {
			meta := domain.TokenMetadata{Mint: e.Account}
			switch {
			case e.LegacyMetadata != nil && e.LegacyMetadata.Symbol != "":
				meta.Symbol = e.LegacyMetadata.Symbol
				meta.Name = e.LegacyMetadata.Name
				meta.Decimals = e.LegacyMetadata.Decimals
			case e.OnChainMetadata != nil && e.OnChainMetadata.Metadata.Data.Symbol != "":
				meta.Symbol = e.OnChainMetadata.Metadata.Data.Symbol
				meta.Name = e.OnChainMetadata.Metadata.Data.Name
			default:
				meta.Unknown = true
			}
			out[e.Account] = meta
		}
	}
	return out, nil
}

func chunkStrings(items []string, size int) [][]string {
	var chunks [][]string
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		chunks = append(chunks, items[:n])
		items = items[n:]
	}
	return chunks
}
