package service

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

const lamportsPerSOL = 1_000_000_000.0

// wrappedSOLMint is the wSOL mint. Wrapped transfers are only ever a
// fallback valuation source: summing them together with native transfers
// double-counts a single economic movement when a swap wraps/unwraps SOL.
const wrappedSOLMint = "So11111111111111111111111111111111111111112"

// DefaultStableMints are treated as trading-pair currency, not positions.
func DefaultStableMints() map[string]bool {
	return map[string]bool{
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": true, // USDC
		"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": true, // USDT
	}
}

// DefaultSwapSources are upstream source tags that mark a record as a swap.
func DefaultSwapSources() map[string]bool {
	return map[string]bool{
		"JUPITER":  true,
		"RAYDIUM":  true,
		"ORCA":     true,
		"METEORA":  true,
		"PUMP_FUN": true,
	}
}

// DefaultSwapPrograms are DEX program ids whose presence in the instruction
// list marks a record as a swap.
func DefaultSwapPrograms() map[string]bool {
	return map[string]bool{
		"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4":  true, // Jupiter v6
		"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8": true, // Raydium AMM
		"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc":  true, // Orca Whirlpool
		"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P":  true, // pump.fun
	}
}

// ClassifierConfig tunes the classification heuristics.
type ClassifierConfig struct {
	StableMints  map[string]bool
	SwapSources  map[string]bool
	SwapPrograms map[string]bool
	// ImplausibleSolAmount flags (but does not correct) reference amounts
	// that exceed any plausible single trade, surfacing upstream parsing
	// anomalies.
	ImplausibleSolAmount float64
}

// DefaultClassifierConfig returns the production heuristics.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		StableMints:          DefaultStableMints(),
		SwapSources:          DefaultSwapSources(),
		SwapPrograms:         DefaultSwapPrograms(),
		ImplausibleSolAmount: 100_000,
	}
}

// Classifier maps one raw enriched transaction to at most one normalized
// event for the analyzed wallet.
type Classifier struct {
	cfg ClassifierConfig
	log *logrus.Logger
}

// NewClassifier creates a classifier with the given heuristics.
func NewClassifier(log *logrus.Logger, cfg ClassifierConfig) *Classifier {
	if cfg.StableMints == nil {
		cfg.StableMints = DefaultStableMints()
	}
	if cfg.SwapSources == nil {
		cfg.SwapSources = DefaultSwapSources()
	}
	if cfg.SwapPrograms == nil {
		cfg.SwapPrograms = DefaultSwapPrograms()
	}
	if cfg.ImplausibleSolAmount <= 0 {
		cfg.ImplausibleSolAmount = 100_000
	}
	return &Classifier{cfg: cfg, log: log}
}

// SwapSignals is the explicit feature set behind the trade-vs-transfer
// decision, kept as data so the heuristic can be tested exhaustively.
type SwapSignals struct {
	TaggedSwap   bool // upstream tagged the record as a swap
	SwapProgram  bool // a known DEX program appears in the instruction list
	OppositeFlow bool // wallet moved SOL opposite to the token direction
}

// IsTrade reports whether the signals identify a trade rather than a plain
// transfer.
func (s SwapSignals) IsTrade() bool {
	return s.TaggedSwap || s.SwapProgram || s.OppositeFlow
}

// Classify returns the normalized event for tx, or ok=false when the record
// carries no P&L signal for this wallet. A record that panics during parsing
// is dropped with a warning; it never aborts the batch.
func (c *Classifier) Classify(tx domain.RawTransaction, wallet string) (ev *domain.NormalizedEvent, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{
				"signature": tx.Signature,
				"panic":     r,
			}).Warn("dropping unparseable transaction")
			ev, ok = nil, false
		}
	}()

	if tx.TransactionError != nil {
		return nil, false
	}

	// Native-only movement carries no P&L signal.
	transfers := tokenTransfersExcluding(tx.TokenTransfers, wrappedSOLMint)
	if len(transfers) == 0 {
		return nil, false
	}

	// A record whose every token leg is a stable/quote asset is the currency
	// side of a swap, not a position.
	if c.allStable(transfers) {
		return nil, false
	}

	// Pick the transfer that involves the analyzed wallet specifically.
	// Multi-party records (airdrops, batch distributions) carry transfers
	// between other parties that must be ignored.
	transfer, found := walletTransfer(transfers, wallet, c.cfg.StableMints)
	if !found {
		return nil, false
	}

	incoming := transfer.ToUserAccount == wallet

	feeSol := 0.0
	if tx.FeePayer == wallet {
		feeSol = float64(tx.Fee) / lamportsPerSOL
	}

	signals := SwapSignals{
		TaggedSwap:   tx.Type == "SWAP" || c.cfg.SwapSources[tx.Source],
		SwapProgram:  c.hasSwapProgram(tx.Instructions),
		OppositeFlow: c.oppositeNativeFlow(tx, wallet, incoming),
	}

	event := &domain.NormalizedEvent{
		Signature:   tx.Signature,
		Timestamp:   timestampOf(tx),
		Mint:        transfer.Mint,
		TokenAmount: transfer.TokenAmount,
		FeeSol:      feeSol,
	}

	if signals.IsTrade() {
		if incoming {
			event.Kind = domain.EventBuy
		} else {
			event.Kind = domain.EventSell
		}
		event.SolAmount = c.tradeSolAmount(tx, wallet, incoming, feeSol)
	} else {
		if incoming {
			event.Kind = domain.EventTransferIn
		} else {
			event.Kind = domain.EventTransferOut
		}
		// A transfer with an opposite-direction balance change is a swap the
		// upstream failed to tag; its net change is still the best value.
		sol, derived := c.transferSolAmount(tx, wallet, incoming, feeSol)
		event.SolAmount = sol
		event.Estimated = !derived
	}

	if event.TokenAmount > 0 {
		event.PricePerToken = event.SolAmount / event.TokenAmount
	}

	if event.SolAmount > c.cfg.ImplausibleSolAmount {
		c.log.WithFields(logrus.Fields{
			"signature":  tx.Signature,
			"sol_amount": event.SolAmount,
			"mint":       event.Mint,
		}).Warn("implausible SOL amount, likely upstream parsing anomaly")
	}

	return event, true
}

// tradeSolAmount resolves the SOL side of a trade from the most
// authoritative source available. The per-wallet net balance change is
// canonical for aggregator swaps and avoids double counting when SOL is
// wrapped or unwrapped mid-route; native transfers come next, and wrapped
// transfers only when nothing else exists.
func (c *Classifier) tradeSolAmount(tx domain.RawTransaction, wallet string, incoming bool, feeSol float64) float64 {
	if delta, found := nativeBalanceChange(tx, wallet); found && delta != 0 {
		sol := float64(-delta) / lamportsPerSOL // spent is positive
		if incoming {
			// Balance change includes the fee the wallet paid.
			sol -= feeSol
		} else {
			sol = -sol + feeSol
		}
		if sol > 0 {
			return sol
		}
	}

	if sol := sumNativeTransfers(tx.NativeTransfers, wallet, incoming); sol > 0 {
		return sol
	}

	return sumWrappedTransfers(tx.TokenTransfers, wallet, incoming)
}

// transferSolAmount values a plain transfer. Only a significant
// opposite-direction net balance change counts; otherwise the value is
// unknown and the caller marks the event estimated.
func (c *Classifier) transferSolAmount(tx domain.RawTransaction, wallet string, incoming bool, feeSol float64) (float64, bool) {
	delta, found := nativeBalanceChange(tx, wallet)
	if !found {
		return 0, false
	}
	sol := float64(-delta) / lamportsPerSOL
	if incoming {
		sol -= feeSol
	} else {
		sol = -sol + feeSol
	}
	// Anything at dust level is rent or fee noise, not a payment.
	if sol > 0.001 {
		return sol, true
	}
	return 0, false
}

func (c *Classifier) allStable(transfers []domain.TokenTransfer) bool {
	for _, t := range transfers {
		if !c.cfg.StableMints[t.Mint] {
			return false
		}
	}
	return true
}

func (c *Classifier) hasSwapProgram(instructions []domain.RawInstruction) bool {
	for _, ins := range instructions {
		if c.cfg.SwapPrograms[ins.ProgramID] {
			return true
		}
	}
	return false
}

// oppositeNativeFlow reports whether the wallet's SOL moved against the
// token direction: SOL out while tokens came in, or SOL in while tokens
// left. That shape is a trade even without upstream tagging.
func (c *Classifier) oppositeNativeFlow(tx domain.RawTransaction, wallet string, incoming bool) bool {
	delta, found := nativeBalanceChange(tx, wallet)
	if !found {
		return false
	}
	const dust = int64(0.001 * lamportsPerSOL)
	if incoming {
		return delta < -int64(tx.Fee)-dust
	}
	return delta > dust
}

func tokenTransfersExcluding(transfers []domain.TokenTransfer, mint string) []domain.TokenTransfer {
	var out []domain.TokenTransfer
	for _, t := range transfers {
		if t.Mint == mint || t.TokenAmount == 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

// walletTransfer picks the non-stable token transfer whose counterparties
// include the wallet. Stable legs are never the position side of a trade.
func walletTransfer(transfers []domain.TokenTransfer, wallet string, stable map[string]bool) (domain.TokenTransfer, bool) {
	for _, t := range transfers {
		if stable[t.Mint] {
			continue
		}
		if t.FromUserAccount == wallet || t.ToUserAccount == wallet {
			return t, true
		}
	}
	return domain.TokenTransfer{}, false
}

func timestampOf(tx domain.RawTransaction) time.Time {
	return time.Unix(tx.Timestamp, 0).UTC()
}

func nativeBalanceChange(tx domain.RawTransaction, wallet string) (int64, bool) {
	for _, ad := range tx.AccountData {
		if ad.Account == wallet {
			return ad.NativeBalanceChange, true
		}
	}
	return 0, false
}

func sumNativeTransfers(transfers []domain.NativeTransfer, wallet string, incoming bool) float64 {
	var lamports int64
	for _, t := range transfers {
		if incoming && t.FromUserAccount == wallet {
			lamports += t.Amount
		}
		if !incoming && t.ToUserAccount == wallet {
			lamports += t.Amount
		}
	}
	return float64(lamports) / lamportsPerSOL
}

func sumWrappedTransfers(transfers []domain.TokenTransfer, wallet string, incoming bool) float64 {
	var sol float64
	for _, t := range transfers {
		if t.Mint != wrappedSOLMint {
			continue
		}
		if incoming && t.FromUserAccount == wallet {
			sol += t.TokenAmount
		}
		if !incoming && t.ToUserAccount == wallet {
			sol += t.TokenAmount
		}
	}
	return sol
}
