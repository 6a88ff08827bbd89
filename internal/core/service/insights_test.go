package service

import (
	"context"
	"testing"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

// recoveringMeta resolves previously unknown symbols on the retry path.
type recoveringMeta struct {
	fakeMeta
	recovered map[string]string
	asked     []string
}

func (m *recoveringMeta) RefreshUnknown(_ context.Context, mints []string) map[string]domain.TokenMetadata {
	m.asked = append(m.asked, mints...)
	out := make(map[string]domain.TokenMetadata)
	for _, mint := range mints {
		if sym, ok := m.recovered[mint]; ok {
			out[mint] = domain.TokenMetadata{Mint: mint, Symbol: sym}
		}
	}
	return out
}

func insightsResult() *domain.AnalysisResult {
	return &domain.AnalysisResult{
		Wallet: testWallet,
		Positions: map[string]*domain.Position{
			"winner": {Mint: "winner", Symbol: "WIN", RealizedPnL: 12},
			"loser":  {Mint: "loser", Symbol: "LOSE", RealizedPnL: -4},
			"bag":    {Mint: "bag", Symbol: "BAG", Active: true, CurrentValueSol: 30, UnrealizedPnL: 8},
		},
		Summary: domain.Summary{
			ClosedPositions:  2,
			ProfitableClosed: 1,
			WinRate:          50,
		},
	}
}

func kinds(insights []domain.Insight) []string {
	out := make([]string, len(insights))
	for i, in := range insights {
		out[i] = in.Kind
	}
	return out
}

func TestInsights_Generate(t *testing.T) {
	gen := NewInsights(&fakeMeta{})
	insights := gen.Generate(context.Background(), insightsResult())

	want := []string{"biggest_win", "biggest_loss", "largest_position", "win_rate"}
	got := kinds(insights)
	if len(got) != len(want) {
		t.Fatalf("insight kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("insight kinds = %v, want %v", got, want)
		}
	}

	if insights[0].Value != 12 {
		t.Errorf("biggest win value = %v, want 12", insights[0].Value)
	}
	if insights[1].Value != -4 {
		t.Errorf("biggest loss value = %v, want -4", insights[1].Value)
	}
	if insights[2].Value != 30 {
		t.Errorf("largest position value = %v, want 30", insights[2].Value)
	}
}

func TestInsights_SkipsAbsentCategories(t *testing.T) {
	result := &domain.AnalysisResult{
		Positions: map[string]*domain.Position{
			"winner": {Mint: "winner", RealizedPnL: 2},
		},
		Summary: domain.Summary{},
	}
	insights := NewInsights(&fakeMeta{}).Generate(context.Background(), result)

	got := kinds(insights)
	if len(got) != 1 || got[0] != "biggest_win" {
		t.Fatalf("insight kinds = %v, want [biggest_win] only", got)
	}
}

func TestInsights_RecoversUnknownSymbols(t *testing.T) {
	meta := &recoveringMeta{recovered: map[string]string{
		"UnindexedMintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA": "FRESH",
	}}
	result := &domain.AnalysisResult{
		Positions: map[string]*domain.Position{
			"UnindexedMintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA": {
				Mint:        "UnindexedMintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
				RealizedPnL: 5,
			},
		},
	}

	insights := NewInsights(meta).Generate(context.Background(), result)
	if len(meta.asked) != 1 {
		t.Fatalf("refresh asked for %v, want the one unknown mint", meta.asked)
	}
	if len(insights) == 0 {
		t.Fatal("no insights generated")
	}
	if insights[0].Title != "Best trade: FRESH" {
		t.Errorf("Title = %q, want recovered symbol in headline", insights[0].Title)
	}
}

func TestDisplaySymbol_TruncatesBareMint(t *testing.T) {
	pos := &domain.Position{Mint: "UnindexedMintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"}
	got := displaySymbol(pos)
	if got != "Unin…AAAA" {
		t.Errorf("displaySymbol() = %q, want truncated mint", got)
	}

	pos.Symbol = "SYM"
	if displaySymbol(pos) != "SYM" {
		t.Error("symbol must win over mint")
	}
}
