package domain

import "time"

// EventKind distinguishes the four economic actions a wallet can take on a token.
type EventKind string

const (
	EventBuy         EventKind = "buy"
	EventSell        EventKind = "sell"
	EventTransferIn  EventKind = "transfer_in"
	EventTransferOut EventKind = "transfer_out"
)

// IsDisposal reports whether the event reduces the wallet's token balance.
func (k EventKind) IsDisposal() bool {
	return k == EventSell || k == EventTransferOut
}

// IsAcquisition reports whether the event increases the wallet's token balance.
func (k EventKind) IsAcquisition() bool {
	return k == EventBuy || k == EventTransferIn
}

// NormalizedEvent is one classified trading action for the analyzed wallet,
// denominated in SOL. Events are deduplicated by Signature and immutable
// once created.
type NormalizedEvent struct {
	Signature     string    `json:"signature"`
	Timestamp     time.Time `json:"timestamp"`
	Kind          EventKind `json:"kind"`
	Mint          string    `json:"mint"`
	Symbol        string    `json:"symbol"`
	TokenAmount   float64   `json:"token_amount"`
	SolAmount     float64   `json:"sol_amount"`
	PricePerToken float64   `json:"price_per_token"`
	FeeSol        float64   `json:"fee_sol"`
	// Estimated marks transfers whose SOL value could not be derived from
	// balance changes and was left at zero.
	Estimated bool `json:"estimated"`
}

// BuyLot is a FIFO-ordered, partially consumable acquisition. CostPerToken is
// fixed at creation; TokenAmount and CostBasisSol shrink proportionally as
// the lot is consumed by disposals.
type BuyLot struct {
	TokenAmount  float64   `json:"token_amount"`
	CostBasisSol float64   `json:"cost_basis_sol"`
	CostPerToken float64   `json:"cost_per_token"`
	AcquiredAt   time.Time `json:"acquired_at"`
}

// Position is the per-token ledger for the analyzed wallet. It is created
// lazily on the first event touching the mint and never removed for the
// lifetime of an analysis run.
type Position struct {
	Mint   string `json:"mint"`
	Symbol string `json:"symbol"`

	SolSpent     float64 `json:"sol_spent"`
	SolReceived  float64 `json:"sol_received"`
	TokensBought float64 `json:"tokens_bought"`
	TokensSold   float64 `json:"tokens_sold"`

	CurrentBalance  float64 `json:"current_balance"`
	RealizedPnL     float64 `json:"realized_pnl"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	CurrentValueSol float64 `json:"current_value_sol"`
	CurrentPriceSol float64 `json:"current_price_sol"`
	AvgBuyPrice     float64 `json:"avg_buy_price"`
	AvgSellPrice    float64 `json:"avg_sell_price"`

	Lots []BuyLot `json:"-"`

	FirstTradeAt time.Time `json:"first_trade_at"`
	LastTradeAt  time.Time `json:"last_trade_at"`
	Active       bool      `json:"active"`

	Events []NormalizedEvent `json:"-"`

	EstimatedTransfers bool `json:"estimated_transfers"`
	TransferCount      int  `json:"transfer_count"`
	// Suspicious is set when a disposal exceeded the tracked lot supply,
	// usually a sign of transfers-in the upstream never surfaced.
	Suspicious bool `json:"suspicious"`
}

// RemainingCostBasis sums the cost basis of all unconsumed lots.
func (p *Position) RemainingCostBasis() float64 {
	var total float64
	for _, lot := range p.Lots {
		total += lot.CostBasisSol
	}
	return total
}

// DailyPNL is the realized P&L aggregate for one UTC calendar day. It is
// derived from events and recomputable; the Position ledger stays
// authoritative.
type DailyPNL struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	RealizedSol float64 `json:"realized_sol"`
	EventCount  int     `json:"event_count"`
	TokenCount  int     `json:"token_count"`
}

// Summary aggregates all positions of one analysis run.
type Summary struct {
	TotalRealizedPnL   float64 `json:"total_realized_pnl"`
	TotalUnrealizedPnL float64 `json:"total_unrealized_pnl"`
	TotalPnL           float64 `json:"total_pnl"`
	ActivePositions    int     `json:"active_positions"`
	ClosedPositions    int     `json:"closed_positions"`
	ProfitableClosed   int     `json:"profitable_closed"`
	WinRate            float64 `json:"win_rate"`
	EventCount         int     `json:"event_count"`
}

// AnalysisResult is the full output of one pipeline run for a wallet.
type AnalysisResult struct {
	Wallet      string               `json:"wallet"`
	Positions   map[string]*Position `json:"positions"`
	Daily       []DailyPNL           `json:"daily"`
	Summary     Summary              `json:"summary"`
	Insights    []Insight            `json:"insights,omitempty"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// RunStatus is the lifecycle state of an analysis run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status releases the wallet for a future run.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Progress is one progress checkpoint pushed to external observers.
type Progress struct {
	Percent   int    `json:"percent"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Fetched   int    `json:"fetched,omitempty"`
	Total     int    `json:"total,omitempty"`
	Processed int    `json:"processed,omitempty"`
}

// Insight is a single ranked, human-readable highlight derived from a
// finished analysis.
type Insight struct {
	Kind   string  `json:"kind"`
	Title  string  `json:"title"`
	Detail string  `json:"detail"`
	Value  float64 `json:"value"`
}

// TokenMetadata holds display info for a mint. Unknown metadata is cached
// with a short TTL so newly indexed tokens can be re-resolved later.
type TokenMetadata struct {
	Mint     string `json:"mint"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	Unknown  bool   `json:"unknown"`
}
