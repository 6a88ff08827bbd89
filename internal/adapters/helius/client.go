package helius

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

// PermitPool gates every outbound call. The pool is shared across all
// concurrent analyses so the aggregate request rate stays under the
// upstream limit.
type PermitPool interface {
	Acquire(ctx context.Context) error
	Release()
}

// Config tunes the ingestion client.
type Config struct {
	APIKey  string
	BaseURL string // enhanced transactions API
	RPCURL  string // signature listing RPC

	PageSize        int           // signatures per page
	BatchSize       int           // transactions per enrichment call
	ParallelBatches int           // enrichment calls in flight per run
	MaxRetries      int           // attempts per call
	MaxSignatures   int           // hard cap, rejects bot-like wallets
	Lookback        time.Duration // activity window
	RequestsPerSec  float64       // request pacing for this process
}

// DefaultConfig returns production ingestion settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://api.helius.xyz",
		RPCURL:          "https://mainnet.helius-rpc.com",
		PageSize:        1000,
		BatchSize:       100,
		ParallelBatches: 5,
		MaxRetries:      3,
		MaxSignatures:   5000,
		Lookback:        365 * 24 * time.Hour,
		RequestsPerSec:  10,
	}
}

// Client retrieves a wallet's history from the Helius API in two phases:
// backwards cursor pagination over signatures, then parallel batched
// enrichment of the signatures found.
type Client struct {
	cfg        Config
	httpClient *http.Client
	permits    PermitPool
	limiter    *rate.Limiter
	log        *logrus.Logger
}

// NewClient creates an ingestion client. All calls acquire from permits
// before going out and are paced by an internal per-second limiter.
func NewClient(cfg Config, permits PermitPool, log *logrus.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RPCURL == "" {
		cfg.RPCURL = def.RPCURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ParallelBatches <= 0 {
		cfg.ParallelBatches = def.ParallelBatches
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MaxSignatures <= 0 {
		cfg.MaxSignatures = def.MaxSignatures
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = def.RequestsPerSec
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		permits:    permits,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), int(cfg.RequestsPerSec)),
		log:        log,
	}
}

// FetchSignatures pages backwards through the wallet's signature history.
// Collection stops at the first record older than the lookback window or
// when a page comes back short. Wallets exceeding the signature cap are
// rejected outright rather than silently truncated.
func (c *Client) FetchSignatures(ctx context.Context, wallet string) ([]domain.SignatureInfo, error) {
	cutoff := time.Now().Add(-c.cfg.Lookback).Unix()

	var all []domain.SignatureInfo
	var before string

	for {
		page, err := c.signaturePage(ctx, wallet, before)
		if err != nil {
			return nil, fmt.Errorf("listing signatures for %s: %w", wallet, err)
		}
		if len(page) == 0 {
			break
		}

		reachedCutoff := false
		for _, sig := range page {
			if sig.BlockTime > 0 && sig.BlockTime < cutoff {
				reachedCutoff = true
				break
			}
			if sig.Err != nil {
				continue
			}
			all = append(all, sig)
		}

		if len(all) > c.cfg.MaxSignatures {
			return nil, fmt.Errorf("%w: %d found, cap is %d",
				domain.ErrTooManySignatures, len(all), c.cfg.MaxSignatures)
		}
		if reachedCutoff || len(page) < c.cfg.PageSize {
			break
		}
		before = page[len(page)-1].Signature
	}

	c.log.WithFields(logrus.Fields{
		"wallet":     wallet,
		"signatures": len(all),
	}).Info("signature collection complete")
	return all, nil
}

// FetchTransactions resolves signatures into enriched bodies in fixed-size
// batches fetched in parallel groups. A batch that still fails after all
// retries fails the whole fetch; partial results are never silently
// returned as complete.
func (c *Client) FetchTransactions(ctx context.Context, signatures []string, onProgress domain.ProgressFunc) ([]domain.RawTransaction, error) {
	if len(signatures) == 0 {
		return nil, nil
	}

	chunks := chunkStrings(signatures, c.cfg.BatchSize)
	results := make([][]domain.RawTransaction, len(chunks))

	var mu sync.Mutex
	fetched := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ParallelBatches)

	for i, chunk := range chunks {
		g.Go(func() error {
			txs, err := c.transactionBatch(gctx, chunk)
			if err != nil {
				return fmt.Errorf("batch %d/%d: %w", i+1, len(chunks), err)
			}
			results[i] = txs

			mu.Lock()
			fetched += len(chunk)
			n := fetched
			mu.Unlock()
			if onProgress != nil {
				onProgress(n, len(signatures))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []domain.RawTransaction
	for _, txs := range results {
		all = append(all, txs...)
	}
	c.log.WithField("transactions", len(all)).Info("enrichment complete")
	return all, nil
}

// signaturePage fetches one page of getSignaturesForAddress.
func (c *Client) signaturePage(ctx context.Context, wallet, before string) ([]domain.SignatureInfo, error) {
	opts := map[string]any{"limit": c.cfg.PageSize}
	if before != "" {
		opts["before"] = before
	}
	body := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "getSignaturesForAddress",
		"params":  []any{wallet, opts},
	}

	endpoint := c.cfg.RPCURL
	if c.cfg.APIKey != "" {
		endpoint += "/?api-key=" + url.QueryEscape(c.cfg.APIKey)
	}

	var rpcResp struct {
		Result []domain.SignatureInfo `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := c.doJSON(ctx, endpoint, body, c.cfg.PageSize, &rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// transactionBatch fetches enriched bodies for one signature chunk.
func (c *Client) transactionBatch(ctx context.Context, signatures []string) ([]domain.RawTransaction, error) {
	endpoint := fmt.Sprintf("%s/v0/transactions", c.cfg.BaseURL)
	if c.cfg.APIKey != "" {
		endpoint += "?api-key=" + url.QueryEscape(c.cfg.APIKey)
	}
	body := map[string]any{"transactions": signatures}

	var txs []domain.RawTransaction
	if err := c.doJSON(ctx, endpoint, body, len(signatures), &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// doJSON posts body to endpoint and decodes the response into out, retrying
// transient failures with exponential backoff. HTTP 429 honors a
// Retry-After hint when present. The call timeout scales with batch size.
func (c *Client) doJSON(ctx context.Context, endpoint string, body any, batchSize int, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	timeout := adaptiveTimeout(batchSize)
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.permits.Acquire(ctx); err != nil {
			return err
		}
		err := func() error {
			defer c.permits.Release()
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			return c.once(ctx, endpoint, payload, timeout, out)
		}()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		wait := backoff
		var rl *rateLimitError
		if errors.As(err, &rl) && rl.retryAfter > 0 {
			wait = rl.retryAfter
		}
		c.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
			"err":     err.Error(),
		}).Warn("upstream call failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return fmt.Errorf("after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

// once performs a single HTTP round trip.
func (c *Client) once(ctx context.Context, endpoint string, payload []byte, timeout time.Duration, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &rateLimitError{retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// adaptiveTimeout scales the per-call deadline with batch size so large
// enrichment batches are not killed by a flat timeout.
func adaptiveTimeout(batchSize int) time.Duration {
	timeout := 10*time.Second + time.Duration(batchSize)*200*time.Millisecond
	if timeout > 60*time.Second {
		timeout = 60 * time.Second
	}
	return timeout
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

type rateLimitError struct {
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.retryAfter)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
