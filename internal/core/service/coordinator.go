package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

// runState tracks one live analysis run.
type runState struct {
	ID        string
	Wallet    string
	Status    domain.RunStatus
	StartedAt time.Time
	cancel    context.CancelFunc
}

// Coordinator owns the two pieces of shared mutable state in the pipeline:
// the active-run table and the global request permit pool. Both are
// process-local; running multiple replicas requires an external coordinator
// and is out of scope. Inject one Coordinator per process, never a global.
type Coordinator struct {
	mu   sync.RWMutex
	runs map[string]*runState
	// permits bounds outbound upstream requests across ALL concurrent runs
	// so the aggregate rate never exceeds the upstream limit no matter how
	// many wallets are analyzed at once.
	permits *semaphore.Weighted
}

// NewCoordinator creates a coordinator whose permit pool is sized to the
// upstream's allowed concurrent request rate.
func NewCoordinator(maxConcurrentRequests int64) *Coordinator {
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = 10
	}
	return &Coordinator{
		runs:    make(map[string]*runState),
		permits: semaphore.NewWeighted(maxConcurrentRequests),
	}
}

// Register installs a run for the wallet. At most one live run per wallet is
// permitted; a second request is rejected, not queued.
func (c *Coordinator) Register(wallet, runID string, cancel context.CancelFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.runs[wallet]; ok && !existing.Status.Terminal() {
		return domain.ErrRunActive
	}
	c.runs[wallet] = &runState{
		ID:        runID,
		Wallet:    wallet,
		Status:    domain.RunPending,
		StartedAt: time.Now().UTC(),
		cancel:    cancel,
	}
	return nil
}

// SetStatus updates a run's status. Terminal statuses remove the wallet from
// the table, releasing it for a future run.
func (c *Coordinator) SetStatus(wallet string, status domain.RunStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.runs[wallet]
	if !ok {
		return
	}
	run.Status = status
	if status.Terminal() {
		delete(c.runs, wallet)
	}
}

// Cancel requests cooperative cancellation of the wallet's run. It returns
// false when no live run exists. In-flight network calls are not aborted;
// their results are discarded at the next checkpoint. The status check and
// the cancel func capture happen under the lock: a concurrent SetStatus must
// never race with the liveness decision.
func (c *Coordinator) Cancel(wallet string) bool {
	c.mu.RLock()
	var cancel context.CancelFunc
	if run, ok := c.runs[wallet]; ok && !run.Status.Terminal() {
		cancel = run.cancel
	}
	c.mu.RUnlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// ActiveCount returns the number of live runs.
func (c *Coordinator) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.runs)
}

// ActiveWallets returns the wallets with a live run.
func (c *Coordinator) ActiveWallets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wallets := make([]string, 0, len(c.runs))
	for w := range c.runs {
		wallets = append(wallets, w)
	}
	return wallets
}

// Acquire takes one permit from the global pool, blocking until one is free
// or ctx is done. Every outbound upstream call must hold a permit.
func (c *Coordinator) Acquire(ctx context.Context) error {
	return c.permits.Acquire(ctx, 1)
}

// Release returns a permit to the pool.
func (c *Coordinator) Release() {
	c.permits.Release(1)
}
