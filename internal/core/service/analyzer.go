package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

// Stage labels reported alongside progress percentages. External observers
// get consistent semantics regardless of how long any one stage takes.
const (
	StageConnect   = "connect"
	StageScan      = "scan"
	StageParse     = "parse"
	StageCalculate = "calculate"
	StageSave      = "save"
	StageFinalize  = "finalize"
)

// Fixed percentage ranges per stage.
var stageRanges = map[string][2]int{
	StageConnect:   {0, 5},
	StageScan:      {5, 35},
	StageParse:     {35, 55},
	StageCalculate: {55, 75},
	StageSave:      {75, 90},
	StageFinalize:  {90, 100},
}

// progressCacheTTL bounds how long a stale in-flight snapshot survives.
const progressCacheTTL = 10 * time.Minute

// RunHandle identifies one started analysis run. Done is closed when the
// run reaches a terminal state; Result and Err are valid only after that.
type RunHandle struct {
	ID        string
	Wallet    string
	StartedAt time.Time

	done   chan struct{}
	result *domain.AnalysisResult
	err    error
}

// Done returns a channel closed when the run terminates.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Result returns the analysis output, nil unless the run completed.
func (h *RunHandle) Result() *domain.AnalysisResult { return h.result }

// Err returns the terminal error: nil on completion, domain.ErrCancelled on
// cancellation, the stage failure otherwise.
func (h *RunHandle) Err() error { return h.err }

// Analyzer drives the full pipeline per wallet and multiplexes many
// concurrent runs over one shared Coordinator.
type Analyzer struct {
	source     domain.ActivitySource
	classifier *Classifier
	engine     *Engine
	insights   *Insights
	metadata   domain.MetadataService
	store      domain.Store
	cache      domain.Cache
	sink       domain.ProgressSink
	coord      *Coordinator
	log        *logrus.Logger
}

// AnalyzerDeps bundles the collaborators of an Analyzer.
type AnalyzerDeps struct {
	Source     domain.ActivitySource
	Classifier *Classifier
	Engine     *Engine
	Insights   *Insights
	Metadata   domain.MetadataService
	Store      domain.Store
	Cache      domain.Cache
	Sink       domain.ProgressSink
	Coord      *Coordinator
	Log        *logrus.Logger
}

// NewAnalyzer wires the pipeline.
func NewAnalyzer(deps AnalyzerDeps) *Analyzer {
	return &Analyzer{
		source:     deps.Source,
		classifier: deps.Classifier,
		engine:     deps.Engine,
		insights:   deps.Insights,
		metadata:   deps.Metadata,
		store:      deps.Store,
		cache:      deps.Cache,
		sink:       deps.Sink,
		coord:      deps.Coord,
		log:        deps.Log,
	}
}

// StartRun validates the wallet, registers it with the coordinator and
// launches the pipeline in the background. A second request for a wallet
// with a live run returns domain.ErrRunActive.
func (a *Analyzer) StartRun(wallet string) (*RunHandle, error) {
	if err := validateWallet(wallet); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := &RunHandle{
		ID:        uuid.NewString(),
		Wallet:    wallet,
		StartedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}

	if err := a.coord.Register(wallet, handle.ID, cancel); err != nil {
		cancel()
		return nil, err
	}

	go a.run(ctx, wallet, handle)
	return handle, nil
}

// CancelRun requests cooperative cancellation. It returns false when the
// wallet has no live run.
func (a *Analyzer) CancelRun(wallet string) bool {
	return a.coord.Cancel(wallet)
}

// ActiveCount returns the number of live runs.
func (a *Analyzer) ActiveCount() int { return a.coord.ActiveCount() }

// ActiveWallets returns the wallets with a live run.
func (a *Analyzer) ActiveWallets() []string { return a.coord.ActiveWallets() }

// run executes the staged pipeline. Cancellation is checked at every stage
// boundary and before every progress emission; once observed, no further
// stage work starts. In-flight calls complete and their results are
// discarded.
func (a *Analyzer) run(ctx context.Context, wallet string, handle *RunHandle) {
	log := a.log.WithFields(logrus.Fields{"wallet": wallet, "run_id": handle.ID})

	defer func() {
		// The in-flight snapshot is meaningless once the run terminates.
		if a.cache != nil {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = a.cache.DeletePattern(cleanupCtx, "progress:"+wallet)
			cancel()
		}
		close(handle.done)
	}()

	a.coord.SetStatus(wallet, domain.RunRunning)
	a.saveStatus(wallet, domain.RunRunning, "")
	a.publish(ctx, wallet, StageConnect, 1.0, "Connecting to indexer", 0, 0, 0)

	result, err := a.execute(ctx, wallet, log)
	switch {
	case err == nil:
		a.coord.SetStatus(wallet, domain.RunCompleted)
		a.saveStatus(wallet, domain.RunCompleted, "")
		handle.result = result
		a.sink.Complete(context.Background(), wallet, result.Summary)
		log.WithFields(logrus.Fields{
			"events":    result.Summary.EventCount,
			"positions": len(result.Positions),
			"total_pnl": result.Summary.TotalPnL,
		}).Info("analysis completed")

	case isCancellation(err):
		a.coord.SetStatus(wallet, domain.RunCancelled)
		a.saveStatus(wallet, domain.RunCancelled, "cancelled")
		handle.err = domain.ErrCancelled
		// Cancellation is a distinct terminal state, never a failure.
		a.sink.Publish(context.Background(), wallet, domain.Progress{
			Percent: 0, Stage: "cancelled", Message: "Analysis cancelled",
		})
		log.Info("analysis cancelled")

	default:
		a.coord.SetStatus(wallet, domain.RunFailed)
		reason := domain.ReasonForError(err)
		a.saveStatus(wallet, domain.RunFailed, reason)
		handle.err = err
		a.sink.Fail(context.Background(), wallet, reason, userMessage(err))
		log.WithError(err).Error("analysis failed")
	}
}

// execute runs the stages in order and returns the analysis result.
func (a *Analyzer) execute(ctx context.Context, wallet string, log *logrus.Entry) (*domain.AnalysisResult, error) {
	// Stage: scan, signature collection.
	sigs, err := a.source.FetchSignatures(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, domain.ErrNoActivity
	}
	log.WithField("signatures", len(sigs)).Info("signature scan complete")
	a.publish(ctx, wallet, StageScan, 0.2, fmt.Sprintf("Found %d transactions", len(sigs)), 0, len(sigs), 0)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Stage: scan, enrichment with incremental progress.
	signatures := make([]string, len(sigs))
	for i, s := range sigs {
		signatures[i] = s.Signature
	}
	txs, err := a.source.FetchTransactions(ctx, signatures, func(fetched, total int) {
		frac := 0.2 + 0.8*float64(fetched)/float64(max(total, 1))
		a.publish(ctx, wallet, StageScan, frac,
			fmt.Sprintf("Fetched %d of %d transactions", fetched, total), fetched, total, 0)
	})
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Stage: parse, classification.
	events := make([]domain.NormalizedEvent, 0, len(txs))
	for i, tx := range txs {
		if ev, ok := a.classifier.Classify(tx, wallet); ok {
			events = append(events, *ev)
		}
		if (i+1)%200 == 0 {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.publish(ctx, wallet, StageParse, float64(i+1)/float64(len(txs)),
				"Classifying transactions", len(txs), len(txs), i+1)
		}
	}
	log.WithFields(logrus.Fields{"transactions": len(txs), "events": len(events)}).Info("classification complete")
	a.publish(ctx, wallet, StageParse, 1.0, fmt.Sprintf("Classified %d trading events", len(events)), len(txs), len(txs), len(txs))

	a.resolveSymbols(ctx, events)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Stage: calculate, the FIFO ledger.
	a.publish(ctx, wallet, StageCalculate, 0.1, "Calculating cost basis", 0, 0, 0)
	result, err := a.engine.Calculate(ctx, events, wallet)
	if err != nil {
		return nil, err
	}
	a.publish(ctx, wallet, StageCalculate, 1.0, "Cost basis complete", 0, 0, len(events))

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Stage: save. Idempotent upserts; a cancelled-then-restarted run
	// simply overwrites stale partial data.
	a.publish(ctx, wallet, StageSave, 0.1, "Saving results", 0, 0, 0)
	if err := a.store.SaveEvents(ctx, wallet, collectEvents(result)); err != nil {
		return nil, fmt.Errorf("saving events: %w", err)
	}
	if err := a.store.SavePositions(ctx, wallet, result.Positions); err != nil {
		return nil, fmt.Errorf("saving positions: %w", err)
	}
	if err := a.store.SaveDailyPNL(ctx, wallet, result.Daily); err != nil {
		return nil, fmt.Errorf("saving daily aggregates: %w", err)
	}
	a.publish(ctx, wallet, StageSave, 1.0, "Results saved", 0, 0, 0)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Stage: finalize, insights.
	a.publish(ctx, wallet, StageFinalize, 0.5, "Generating insights", 0, 0, 0)
	result.Insights = a.insights.Generate(ctx, result)
	a.publish(ctx, wallet, StageFinalize, 1.0, "Analysis complete", 0, 0, 0)

	return result, nil
}

// resolveSymbols fills display symbols on events via the metadata resolver.
// Resolution failures degrade to bare mints, never abort the run.
func (a *Analyzer) resolveSymbols(ctx context.Context, events []domain.NormalizedEvent) {
	mintSet := make(map[string]bool)
	for _, ev := range events {
		mintSet[ev.Mint] = true
	}
	mints := make([]string, 0, len(mintSet))
	for m := range mintSet {
		mints = append(mints, m)
	}
	if len(mints) == 0 {
		return
	}
	meta, err := a.metadata.Resolve(ctx, mints)
	if err != nil {
		a.log.WithError(err).Warn("metadata resolution failed, continuing with bare mints")
		return
	}
	for i := range events {
		if m, ok := meta[events[i].Mint]; ok && !m.Unknown {
			events[i].Symbol = m.Symbol
		}
	}
}

// publish maps a stage-local fraction onto the stage's fixed percentage
// range, emits it to the sink and mirrors a snapshot into the cache for
// pull-style observers. Nothing is emitted after cancellation.
func (a *Analyzer) publish(ctx context.Context, wallet, stage string, frac float64, message string, fetched, total, processed int) {
	if ctx.Err() != nil {
		return
	}
	r := stageRanges[stage]
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	p := domain.Progress{
		Percent:   r[0] + int(frac*float64(r[1]-r[0])),
		Stage:     stage,
		Message:   message,
		Fetched:   fetched,
		Total:     total,
		Processed: processed,
	}
	a.sink.Publish(ctx, wallet, p)

	if a.cache != nil {
		if data, err := json.Marshal(p); err == nil {
			_ = a.cache.Set(ctx, "progress:"+wallet, string(data), progressCacheTTL)
		}
	}
}

func (a *Analyzer) saveStatus(wallet string, status domain.RunStatus, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.SaveRunStatus(ctx, wallet, status, reason); err != nil {
		a.log.WithError(err).WithField("wallet", wallet).Warn("failed to persist run status")
	}
}

func collectEvents(result *domain.AnalysisResult) []domain.NormalizedEvent {
	var events []domain.NormalizedEvent
	for _, pos := range result.Positions {
		events = append(events, pos.Events...)
	}
	return events
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrCancelled)
}

// userMessage maps an error to the human-readable message exposed past the
// core boundary. Internal detail stays in the logs.
func userMessage(err error) string {
	switch domain.ReasonForError(err) {
	case "too_many_signatures":
		return "This wallet has too much activity to analyze (bot-like volume)."
	case "no_activity":
		return "No trading activity found for this wallet in the lookback window."
	case "invalid_wallet":
		return "That does not look like a valid wallet address."
	default:
		return "Analysis failed due to an internal error. Please try again."
	}
}

// validateWallet checks the address is plausible base58.
func validateWallet(wallet string) error {
	if len(wallet) < 32 || len(wallet) > 44 {
		return domain.ErrInvalidWallet
	}
	const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	for _, c := range wallet {
		if !strings.ContainsRune(base58Alphabet, c) {
			return domain.ErrInvalidWallet
		}
	}
	return nil
}
