package domain

import (
	"context"
	"time"
)

// ProgressFunc receives incremental counts during a long-running fetch.
type ProgressFunc func(fetched, total int)

// ActivitySource retrieves a wallet's historical activity from the upstream
// indexer.
type ActivitySource interface {
	// FetchSignatures pages backwards through the wallet's signature history
	// and returns every signature inside the lookback window, newest first.
	FetchSignatures(ctx context.Context, wallet string) ([]SignatureInfo, error)

	// FetchTransactions resolves signatures into enriched transaction bodies.
	// Results may arrive out of order; callers must sort before accounting.
	FetchTransactions(ctx context.Context, signatures []string, onProgress ProgressFunc) ([]RawTransaction, error)
}

// MetadataService resolves token display metadata.
type MetadataService interface {
	// Resolve returns metadata for each mint, consulting caches first.
	// Unresolvable mints are returned with Unknown set, never omitted.
	Resolve(ctx context.Context, mints []string) (map[string]TokenMetadata, error)

	// RefreshUnknown retries the given mints bypassing caches. Mints that
	// resolve this time are returned; the rest are absent.
	RefreshUnknown(ctx context.Context, mints []string) map[string]TokenMetadata
}

// PriceService resolves current prices in USD. The boolean result is the
// only signal that a price was actually observed; a false return must not
// be treated as a zero price.
type PriceService interface {
	TokenPrice(ctx context.Context, mint string) (float64, bool)
	NativePrice(ctx context.Context) (float64, bool)
}

// Cache is the external cache tier used for metadata, prices and in-flight
// progress snapshots.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	MGet(ctx context.Context, keys []string) map[string]string
	DeletePattern(ctx context.Context, pattern string) error
	Close() error
}

// Store persists analysis output. All writes are idempotent upserts so a
// cancelled-then-restarted run overwrites its own stale partial data.
type Store interface {
	SaveEvents(ctx context.Context, wallet string, events []NormalizedEvent) error
	SavePositions(ctx context.Context, wallet string, positions map[string]*Position) error
	SaveDailyPNL(ctx context.Context, wallet string, daily []DailyPNL) error
	SaveRunStatus(ctx context.Context, wallet string, status RunStatus, reason string) error
	LoadPositions(ctx context.Context, wallet string) (map[string]*Position, error)
	Close() error
}

// ProgressSink receives progress checkpoints and terminal notifications for
// a run. Implementations must be safe for concurrent use across runs.
type ProgressSink interface {
	Publish(ctx context.Context, wallet string, p Progress)
	Complete(ctx context.Context, wallet string, summary Summary)
	Fail(ctx context.Context, wallet string, reason, message string)
}
