package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

const (
	nativeMint  = "So11111111111111111111111111111111111111112"
	priceTTL    = time.Minute
	callTimeout = 5 * time.Second
)

// source is one upstream price provider in the waterfall.
type source interface {
	Name() string
	Price(ctx context.Context, mint string) (float64, error)
}

// Resolver resolves USD prices through an ordered waterfall of independent
// sources. The first success wins and is cached briefly. A miss is reported
// as ok=false, never as a zero price: callers must not mistake "unknown"
// for a real measurement.
type Resolver struct {
	sources []source
	cache   domain.Cache
	log     *logrus.Logger
}

var _ domain.PriceService = (*Resolver)(nil)

// NewResolver creates the production waterfall: Jupiter, then DexScreener,
// then CoinGecko. All three are free, no-key sources.
func NewResolver(cache domain.Cache, log *logrus.Logger) *Resolver {
	client := &http.Client{Timeout: callTimeout}
	return &Resolver{
		sources: []source{
			&jupiterSource{client: client},
			&dexScreenerSource{client: client},
			&coinGeckoSource{client: client},
		},
		cache: cache,
		log:   log,
	}
}

// TokenPrice resolves the current USD price of a mint.
func (r *Resolver) TokenPrice(ctx context.Context, mint string) (float64, bool) {
	key := "price:" + mint
	if raw, ok := r.cache.Get(ctx, key); ok {
		if price, err := strconv.ParseFloat(raw, 64); err == nil {
			return price, true
		}
	}

	for _, src := range r.sources {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		price, err := src.Price(callCtx, mint)
		cancel()
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"source": src.Name(),
				"mint":   mint,
				"err":    err.Error(),
			}).Debug("price source miss")
			continue
		}
		if price > 0 {
			_ = r.cache.Set(ctx, key, strconv.FormatFloat(price, 'f', -1, 64), priceTTL)
			return price, true
		}
	}
	return 0, false
}

// NativePrice resolves the USD price of SOL. Batch consumers call this once
// and reuse the value.
func (r *Resolver) NativePrice(ctx context.Context) (float64, bool) {
	return r.TokenPrice(ctx, nativeMint)
}

// jupiterSource queries the Jupiter price API.
type jupiterSource struct {
	client *http.Client
}

func (*jupiterSource) Name() string { return "jupiter" }

func (s *jupiterSource) Price(ctx context.Context, mint string) (float64, error) {
	endpoint := fmt.Sprintf("https://lite-api.jup.ag/price/v2?ids=%s", mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result struct {
		Data map[string]struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	entry, ok := result.Data[mint]
	if !ok {
		return 0, fmt.Errorf("mint not listed")
	}
	return strconv.ParseFloat(entry.Price, 64)
}

// dexScreenerSource queries the DexScreener token endpoint.
type dexScreenerSource struct {
	client *http.Client
}

func (*dexScreenerSource) Name() string { return "dexscreener" }

func (s *dexScreenerSource) Price(ctx context.Context, mint string) (float64, error) {
	endpoint := fmt.Sprintf("https://api.dexscreener.com/latest/dex/tokens/%s", mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result struct {
		Pairs []struct {
			PriceUsd  string  `json:"priceUsd"`
			Liquidity struct {
				USD float64 `json:"usd"`
			} `json:"liquidity"`
		} `json:"pairs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	if len(result.Pairs) == 0 {
		return 0, fmt.Errorf("no pairs")
	}

	// Take the deepest pool; thin pools quote junk prices.
	best := result.Pairs[0]
	for _, p := range result.Pairs[1:] {
		if p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	return strconv.ParseFloat(best.PriceUsd, 64)
}

// coinGeckoSource queries CoinGecko. It only knows the native coin and a
// handful of majors but needs no key, making it a reliable last resort for
// the reference price.
type coinGeckoSource struct {
	client *http.Client
}

func (*coinGeckoSource) Name() string { return "coingecko" }

func (s *coinGeckoSource) Price(ctx context.Context, mint string) (float64, error) {
	if mint != nativeMint {
		return 0, fmt.Errorf("only native coin supported")
	}
	endpoint := "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result struct {
		Solana struct {
			USD float64 `json:"usd"`
		} `json:"solana"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	if result.Solana.USD == 0 {
		return 0, fmt.Errorf("empty price")
	}
	return result.Solana.USD, nil
}
