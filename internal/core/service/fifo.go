package service

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

const (
	// lotEpsilon is the residual below which a lot counts as fully consumed.
	lotEpsilon = 1e-9
	// balanceEpsilon is the threshold above which a position counts as open.
	balanceEpsilon = 1e-6
)

// Engine maintains the per-token FIFO cost-basis ledger for one wallet.
// Processing order is the single most important correctness property here:
// events are deduplicated by signature and sorted ascending by timestamp
// before any lot is touched.
type Engine struct {
	price domain.PriceService
	log   *logrus.Logger
}

// NewEngine creates a FIFO cost-basis engine.
func NewEngine(price domain.PriceService, log *logrus.Logger) *Engine {
	return &Engine{price: price, log: log}
}

// Calculate consumes the event stream and produces positions, daily
// aggregates and the summary. The input slice is not mutated.
func (e *Engine) Calculate(ctx context.Context, events []domain.NormalizedEvent, wallet string) (*domain.AnalysisResult, error) {
	ordered := dedupAndSort(events)

	positions := make(map[string]*domain.Position)
	dailyMap := make(map[string]*dailyAccumulator)

	for _, ev := range ordered {
		pos := positions[ev.Mint]
		if pos == nil {
			pos = &domain.Position{
				Mint:         ev.Mint,
				Symbol:       ev.Symbol,
				FirstTradeAt: ev.Timestamp,
			}
			positions[ev.Mint] = pos
		}
		realized := e.apply(pos, ev)

		day := ev.Timestamp.UTC().Format("2006-01-02")
		acc := dailyMap[day]
		if acc == nil {
			acc = &dailyAccumulator{tokens: make(map[string]bool)}
			dailyMap[day] = acc
		}
		acc.realized += realized
		acc.events++
		acc.tokens[ev.Mint] = true
	}

	e.markUnrealized(ctx, positions)

	result := &domain.AnalysisResult{
		Wallet:      wallet,
		Positions:   positions,
		Daily:       flattenDaily(dailyMap),
		Summary:     summarize(positions, len(ordered)),
		GeneratedAt: time.Now().UTC(),
	}
	return result, nil
}

// apply mutates pos with one event and returns the realized P&L delta.
func (e *Engine) apply(pos *domain.Position, ev domain.NormalizedEvent) float64 {
	pos.Events = append(pos.Events, ev)
	if ev.Timestamp.Before(pos.FirstTradeAt) {
		pos.FirstTradeAt = ev.Timestamp
	}
	if ev.Timestamp.After(pos.LastTradeAt) {
		pos.LastTradeAt = ev.Timestamp
	}
	if ev.Kind == domain.EventTransferIn || ev.Kind == domain.EventTransferOut {
		pos.TransferCount++
		if ev.Estimated {
			pos.EstimatedTransfers = true
		}
	}

	var realized float64
	switch {
	case ev.Kind.IsAcquisition():
		e.acquire(pos, ev)
	case ev.Kind.IsDisposal():
		realized = e.dispose(pos, ev)
	}

	// Balance stays the raw acquired-minus-disposed difference. It can go
	// negative on inconsistent upstream history; the position is flagged
	// suspicious by dispose and counts as inactive.
	pos.CurrentBalance = pos.TokensBought - pos.TokensSold
	pos.Active = pos.CurrentBalance > balanceEpsilon

	if pos.TokensBought > 0 {
		pos.AvgBuyPrice = pos.SolSpent / pos.TokensBought
	}
	if pos.TokensSold > 0 {
		pos.AvgSellPrice = pos.SolReceived / pos.TokensSold
	}
	return realized
}

// acquire appends a lot with the fee folded into its cost basis.
func (e *Engine) acquire(pos *domain.Position, ev domain.NormalizedEvent) {
	if ev.TokenAmount <= 0 {
		return
	}
	costBasis := ev.SolAmount + ev.FeeSol
	pos.TokensBought += ev.TokenAmount
	pos.SolSpent += costBasis
	pos.Lots = append(pos.Lots, domain.BuyLot{
		TokenAmount:  ev.TokenAmount,
		CostBasisSol: costBasis,
		CostPerToken: costBasis / ev.TokenAmount,
		AcquiredAt:   ev.Timestamp,
	})
}

// dispose consumes lots oldest-first. A partially consumed lot keeps its
// cost per token: amount and basis shrink proportionally. When the disposal
// exceeds all tracked supply the shortfall is costed at the event's own
// observed unit price and the position is flagged, so the run still
// produces a number instead of aborting on inconsistent upstream data.
func (e *Engine) dispose(pos *domain.Position, ev domain.NormalizedEvent) float64 {
	if ev.TokenAmount <= 0 {
		return 0
	}
	pos.TokensSold += ev.TokenAmount
	pos.SolReceived += ev.SolAmount

	remaining := ev.TokenAmount
	var consumedBasis float64

	for remaining > lotEpsilon && len(pos.Lots) > 0 {
		lot := &pos.Lots[0]
		take := lot.TokenAmount
		if take > remaining {
			take = remaining
		}
		basis := take * lot.CostPerToken
		lot.TokenAmount -= take
		lot.CostBasisSol -= basis
		consumedBasis += basis
		remaining -= take
		if lot.TokenAmount <= lotEpsilon {
			pos.Lots = pos.Lots[1:]
		}
	}

	if remaining > lotEpsilon {
		consumedBasis += remaining * ev.PricePerToken
		pos.Suspicious = true
		e.log.WithFields(logrus.Fields{
			"mint":      pos.Mint,
			"signature": ev.Signature,
			"shortfall": remaining,
		}).Warn("disposal exceeds tracked lots, costing shortfall at observed price")
	}

	realized := (ev.SolAmount - ev.FeeSol) - consumedBasis
	pos.RealizedPnL += realized
	return realized
}

// markUnrealized recomputes unrealized P&L for every open position in one
// batched pass. The native price is fetched once and reused. An unknown
// price leaves the position's unrealized P&L at zero rather than inventing
// a zero market price.
func (e *Engine) markUnrealized(ctx context.Context, positions map[string]*domain.Position) {
	nativeUSD, ok := e.price.NativePrice(ctx)
	if !ok || nativeUSD <= 0 {
		e.log.Warn("native price unavailable, skipping unrealized P&L")
		return
	}

	for mint, pos := range positions {
		pos.UnrealizedPnL = 0
		pos.CurrentValueSol = 0
		pos.CurrentPriceSol = 0
		if !pos.Active {
			continue
		}
		tokenUSD, ok := e.price.TokenPrice(ctx, mint)
		if !ok {
			e.log.WithField("mint", mint).Debug("no price for open position")
			continue
		}
		priceSol := tokenUSD / nativeUSD
		pos.CurrentPriceSol = priceSol
		pos.CurrentValueSol = pos.CurrentBalance * priceSol
		pos.UnrealizedPnL = pos.CurrentValueSol - pos.RemainingCostBasis()
	}
}

type dailyAccumulator struct {
	realized float64
	events   int
	tokens   map[string]bool
}

func flattenDaily(dailyMap map[string]*dailyAccumulator) []domain.DailyPNL {
	daily := make([]domain.DailyPNL, 0, len(dailyMap))
	for date, acc := range dailyMap {
		daily = append(daily, domain.DailyPNL{
			Date:        date,
			RealizedSol: acc.realized,
			EventCount:  acc.events,
			TokenCount:  len(acc.tokens),
		})
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date < daily[j].Date })
	return daily
}

// summarize folds all positions into the run summary. Win rate is zero when
// no position has closed; there is never a division by zero.
func summarize(positions map[string]*domain.Position, eventCount int) domain.Summary {
	var s domain.Summary
	s.EventCount = eventCount
	for _, pos := range positions {
		s.TotalRealizedPnL += pos.RealizedPnL
		s.TotalUnrealizedPnL += pos.UnrealizedPnL
		if pos.Active {
			s.ActivePositions++
			continue
		}
		if pos.TokensSold > 0 {
			s.ClosedPositions++
			if pos.RealizedPnL > 0 {
				s.ProfitableClosed++
			}
		}
	}
	s.TotalPnL = s.TotalRealizedPnL + s.TotalUnrealizedPnL
	if s.ClosedPositions > 0 {
		s.WinRate = float64(s.ProfitableClosed) / float64(s.ClosedPositions) * 100
	}
	return s
}

// dedupAndSort returns a defensive copy with duplicate signatures dropped
// (first occurrence wins) and events in ascending timestamp order. Retried
// fetches can legitimately yield the same record twice; it must affect the
// ledger exactly once.
func dedupAndSort(events []domain.NormalizedEvent) []domain.NormalizedEvent {
	seen := make(map[string]bool, len(events))
	out := make([]domain.NormalizedEvent, 0, len(events))
	for _, ev := range events {
		if ev.Signature != "" && seen[ev.Signature] {
			continue
		}
		seen[ev.Signature] = true
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
