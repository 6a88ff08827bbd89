package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

// topUnknownRetries bounds the bypass-cache metadata retry to the positions
// that will actually headline the insights.
const topUnknownRetries = 5

// Insights turns a finished analysis into a small set of ranked highlights.
type Insights struct {
	metadata domain.MetadataService
}

// NewInsights creates an insights generator.
func NewInsights(metadata domain.MetadataService) *Insights {
	return &Insights{metadata: metadata}
}

// Generate produces highlights ordered by P&L magnitude. Before formatting,
// the top positions still showing an unknown symbol get one bypass-cache
// metadata retry; new tokens are frequently unindexed on first sight and
// often resolve by the time a run finishes.
func (g *Insights) Generate(ctx context.Context, result *domain.AnalysisResult) []domain.Insight {
	positions := rankByMagnitude(result.Positions)
	g.recoverSymbols(ctx, positions)

	var insights []domain.Insight

	if best := biggestRealized(positions, true); best != nil {
		insights = append(insights, domain.Insight{
			Kind:   "biggest_win",
			Title:  fmt.Sprintf("Best trade: %s", displaySymbol(best)),
			Detail: fmt.Sprintf("+%.4f SOL realized on %s", best.RealizedPnL, displaySymbol(best)),
			Value:  best.RealizedPnL,
		})
	}
	if worst := biggestRealized(positions, false); worst != nil {
		insights = append(insights, domain.Insight{
			Kind:   "biggest_loss",
			Title:  fmt.Sprintf("Worst trade: %s", displaySymbol(worst)),
			Detail: fmt.Sprintf("%.4f SOL realized on %s", worst.RealizedPnL, displaySymbol(worst)),
			Value:  worst.RealizedPnL,
		})
	}
	if open := largestOpen(positions); open != nil {
		insights = append(insights, domain.Insight{
			Kind:   "largest_position",
			Title:  fmt.Sprintf("Largest holding: %s", displaySymbol(open)),
			Detail: fmt.Sprintf("%.4f SOL at current price", open.CurrentValueSol),
			Value:  open.CurrentValueSol,
		})
	}
	if result.Summary.ClosedPositions > 0 {
		insights = append(insights, domain.Insight{
			Kind:  "win_rate",
			Title: fmt.Sprintf("Win rate: %.0f%%", result.Summary.WinRate),
			Detail: fmt.Sprintf("%d of %d closed positions in profit",
				result.Summary.ProfitableClosed, result.Summary.ClosedPositions),
			Value: result.Summary.WinRate,
		})
	}

	return insights
}

// recoverSymbols retries unresolved symbols among the top positions.
func (g *Insights) recoverSymbols(ctx context.Context, positions []*domain.Position) {
	var unknown []string
	for _, pos := range positions {
		if pos.Symbol != "" {
			continue
		}
		unknown = append(unknown, pos.Mint)
		if len(unknown) == topUnknownRetries {
			break
		}
	}
	if len(unknown) == 0 || g.metadata == nil {
		return
	}
	recovered := g.metadata.RefreshUnknown(ctx, unknown)
	for _, pos := range positions {
		if meta, ok := recovered[pos.Mint]; ok && !meta.Unknown {
			pos.Symbol = meta.Symbol
		}
	}
}

func rankByMagnitude(positions map[string]*domain.Position) []*domain.Position {
	ranked := make([]*domain.Position, 0, len(positions))
	for _, pos := range positions {
		ranked = append(ranked, pos)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].RealizedPnL+ranked[i].UnrealizedPnL) >
			math.Abs(ranked[j].RealizedPnL+ranked[j].UnrealizedPnL)
	})
	return ranked
}

func biggestRealized(positions []*domain.Position, win bool) *domain.Position {
	var best *domain.Position
	for _, pos := range positions {
		if win && pos.RealizedPnL <= 0 {
			continue
		}
		if !win && pos.RealizedPnL >= 0 {
			continue
		}
		if best == nil || math.Abs(pos.RealizedPnL) > math.Abs(best.RealizedPnL) {
			best = pos
		}
	}
	return best
}

func largestOpen(positions []*domain.Position) *domain.Position {
	var best *domain.Position
	for _, pos := range positions {
		if !pos.Active || pos.CurrentValueSol <= 0 {
			continue
		}
		if best == nil || pos.CurrentValueSol > best.CurrentValueSol {
			best = pos
		}
	}
	return best
}

func displaySymbol(pos *domain.Position) string {
	if pos.Symbol != "" {
		return pos.Symbol
	}
	if len(pos.Mint) > 8 {
		return pos.Mint[:4] + "…" + pos.Mint[len(pos.Mint)-4:]
	}
	return pos.Mint
}
