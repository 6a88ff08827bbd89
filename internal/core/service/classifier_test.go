package service

import (
	"math"
	"testing"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

const (
	testWallet = "WaLLetAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	otherA     = "OtherPartyAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	otherB     = "OtherPartyBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	memeMint   = "MemeMintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	usdcMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func newTestClassifier() *Classifier {
	return NewClassifier(testLogger(), DefaultClassifierConfig())
}

func sol(amount float64) int64 {
	return int64(amount * lamportsPerSOL)
}

func TestClassify_SkipsFailedTransaction(t *testing.T) {
	tx := domain.RawTransaction{
		Signature:        "sig",
		TransactionError: &domain.TxError{Error: "InstructionError"},
		TokenTransfers: []domain.TokenTransfer{
			{ToUserAccount: testWallet, Mint: memeMint, TokenAmount: 10},
		},
	}
	if _, ok := newTestClassifier().Classify(tx, testWallet); ok {
		t.Error("failed transaction produced an event")
	}
}

func TestClassify_SkipsNativeOnly(t *testing.T) {
	cases := []struct {
		name string
		tx   domain.RawTransaction
	}{
		{
			name: "no token transfers",
			tx: domain.RawTransaction{
				Signature: "sig",
				NativeTransfers: []domain.NativeTransfer{
					{FromUserAccount: testWallet, ToUserAccount: otherA, Amount: sol(1)},
				},
			},
		},
		{
			name: "only wrapped SOL legs",
			tx: domain.RawTransaction{
				Signature: "sig",
				TokenTransfers: []domain.TokenTransfer{
					{FromUserAccount: testWallet, ToUserAccount: otherA, Mint: wrappedSOLMint, TokenAmount: 2},
				},
			},
		},
		{
			name: "only zero-amount legs",
			tx: domain.RawTransaction{
				Signature: "sig",
				TokenTransfers: []domain.TokenTransfer{
					{FromUserAccount: testWallet, ToUserAccount: otherA, Mint: memeMint, TokenAmount: 0},
				},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := newTestClassifier().Classify(tc.tx, testWallet); ok {
				t.Error("native-only record produced an event")
			}
		})
	}
}

func TestClassify_SkipsAllStable(t *testing.T) {
	tx := domain.RawTransaction{
		Signature: "sig",
		Type:      "SWAP",
		TokenTransfers: []domain.TokenTransfer{
			{FromUserAccount: otherA, ToUserAccount: testWallet, Mint: usdcMint, TokenAmount: 100},
		},
	}
	if _, ok := newTestClassifier().Classify(tx, testWallet); ok {
		t.Error("all-stable record produced an event")
	}
}

func TestClassify_MultiPartySelectsWalletTransfer(t *testing.T) {
	// Batch distribution: several transfers, only one touches the wallet.
	tx := domain.RawTransaction{
		Signature: "sig",
		TokenTransfers: []domain.TokenTransfer{
			{FromUserAccount: otherA, ToUserAccount: otherB, Mint: memeMint, TokenAmount: 99},
			{FromUserAccount: otherA, ToUserAccount: testWallet, Mint: memeMint, TokenAmount: 7},
		},
	}
	ev, ok := newTestClassifier().Classify(tx, testWallet)
	if !ok {
		t.Fatal("no event produced")
	}
	if ev.TokenAmount != 7 {
		t.Errorf("TokenAmount = %v, want the wallet leg 7", ev.TokenAmount)
	}
	if ev.Kind != domain.EventTransferIn {
		t.Errorf("Kind = %v, want transfer_in", ev.Kind)
	}
}

func TestClassify_NoWalletLegSkipped(t *testing.T) {
	tx := domain.RawTransaction{
		Signature: "sig",
		TokenTransfers: []domain.TokenTransfer{
			{FromUserAccount: otherA, ToUserAccount: otherB, Mint: memeMint, TokenAmount: 5},
		},
	}
	if _, ok := newTestClassifier().Classify(tx, testWallet); ok {
		t.Error("record without a wallet leg produced an event")
	}
}

func TestClassify_TaggedSwapBuy(t *testing.T) {
	tx := domain.RawTransaction{
		Signature: "sig",
		Type:      "SWAP",
		Source:    "JUPITER",
		Fee:       5_000,
		FeePayer:  testWallet,
		Timestamp: 1_700_000_000,
		TokenTransfers: []domain.TokenTransfer{
			{FromUserAccount: otherA, ToUserAccount: testWallet, Mint: memeMint, TokenAmount: 1000},
		},
		AccountData: []domain.AccountData{
			{Account: testWallet, NativeBalanceChange: -sol(2) - 5_000},
		},
	}
	ev, ok := newTestClassifier().Classify(tx, testWallet)
	if !ok {
		t.Fatal("no event produced")
	}
	if ev.Kind != domain.EventBuy {
		t.Fatalf("Kind = %v, want buy", ev.Kind)
	}
	// Net change is -(2 SOL + fee); spend after removing the fee is 2 SOL.
	if math.Abs(ev.SolAmount-2.0) > 1e-9 {
		t.Errorf("SolAmount = %v, want 2.0", ev.SolAmount)
	}
	if math.Abs(ev.FeeSol-0.000005) > 1e-12 {
		t.Errorf("FeeSol = %v, want 0.000005", ev.FeeSol)
	}
	if math.Abs(ev.PricePerToken-0.002) > 1e-9 {
		t.Errorf("PricePerToken = %v, want 0.002", ev.PricePerToken)
	}
	if ev.Estimated {
		t.Error("trade marked estimated")
	}
}

func TestClassify_SwapProgramSell(t *testing.T) {
	// Untagged record, but a known DEX program appears in the instructions.
	tx := domain.RawTransaction{
		Signature: "sig",
		Type:      "UNKNOWN",
		Fee:       5_000,
		FeePayer:  testWallet,
		Instructions: []domain.RawInstruction{
			{ProgramID: "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"},
		},
		TokenTransfers: []domain.TokenTransfer{
			{FromUserAccount: testWallet, ToUserAccount: otherA, Mint: memeMint, TokenAmount: 500},
		},
		AccountData: []domain.AccountData{
			{Account: testWallet, NativeBalanceChange: sol(1.5) - 5_000},
		},
	}
	ev, ok := newTestClassifier().Classify(tx, testWallet)
	if !ok {
		t.Fatal("no event produced")
	}
	if ev.Kind != domain.EventSell {
		t.Fatalf("Kind = %v, want sell", ev.Kind)
	}
	// Proceeds before the fee was deducted: 1.5 SOL.
	if math.Abs(ev.SolAmount-1.5) > 1e-9 {
		t.Errorf("SolAmount = %v, want 1.5", ev.SolAmount)
	}
}

func TestClassify_OppositeFlowIsTrade(t *testing.T) {
	// No tag, no known program; SOL left while tokens arrived.
	tx := domain.RawTransaction{
		Signature: "sig",
		Type:      "TRANSFER",
		Fee:       5_000,
		FeePayer:  testWallet,
		TokenTransfers: []domain.TokenTransfer{
			{FromUserAccount: otherA, ToUserAccount: testWallet, Mint: memeMint, TokenAmount: 100},
		},
		AccountData: []domain.AccountData{
			{Account: testWallet, NativeBalanceChange: -sol(0.5) - 5_000},
		},
	}
	ev, ok := newTestClassifier().Classify(tx, testWallet)
	if !ok {
		t.Fatal("no event produced")
	}
	if ev.Kind != domain.EventBuy {
		t.Errorf("Kind = %v, want buy via opposite-flow signal", ev.Kind)
	}
}

func TestClassify_NativeTransferFallback(t *testing.T) {
	// No usable balance change entry for the wallet; native transfers carry
	// the SOL side instead.
	tx := domain.RawTransaction{
		Signature: "sig",
		Type:      "SWAP",
		TokenTransfers: []domain.TokenTransfer{
			{FromUserAccount: otherA, ToUserAccount: testWallet, Mint: memeMint, TokenAmount: 100},
		},
		NativeTransfers: []domain.NativeTransfer{
			{FromUserAccount: testWallet, ToUserAccount: otherA, Amount: sol(3)},
		},
	}
	ev, ok := newTestClassifier().Classify(tx, testWallet)
	if !ok {
		t.Fatal("no event produced")
	}
	if math.Abs(ev.SolAmount-3.0) > 1e-9 {
		t.Errorf("SolAmount = %v, want 3.0 from native transfers", ev.SolAmount)
	}
}

func TestClassify_WrappedFallbackNotAddedToNative(t *testing.T) {
	// Both native transfers and wSOL legs exist. Summing both would double
	// count; native wins and the wrapped legs are ignored.
	tx := domain.RawTransaction{
		Signature: "sig",
		Type:      "SWAP",
		TokenTransfers: []domain.TokenTransfer{
			{FromUserAccount: otherA, ToUserAccount: testWallet, Mint: memeMint, TokenAmount: 100},
			{FromUserAccount: testWallet, ToUserAccount: otherA, Mint: wrappedSOLMint, TokenAmount: 2},
		},
		NativeTransfers: []domain.NativeTransfer{
			{FromUserAccount: testWallet, ToUserAccount: otherA, Amount: sol(2)},
		},
	}
	ev, ok := newTestClassifier().Classify(tx, testWallet)
	if !ok {
		t.Fatal("no event produced")
	}
	if math.Abs(ev.SolAmount-2.0) > 1e-9 {
		t.Errorf("SolAmount = %v, want 2.0 (native only, not 4.0)", ev.SolAmount)
	}
}

func TestClassify_WrappedOnlyFallback(t *testing.T) {
	tx := domain.RawTransaction{
		Signature: "sig",
		Type:      "SWAP",
		TokenTransfers: []domain.TokenTransfer{
			{FromUserAccount: otherA, ToUserAccount: testWallet, Mint: memeMint, TokenAmount: 100},
			{FromUserAccount: testWallet, ToUserAccount: otherA, Mint: wrappedSOLMint, TokenAmount: 1.25},
		},
	}
	ev, ok := newTestClassifier().Classify(tx, testWallet)
	if !ok {
		t.Fatal("no event produced")
	}
	if math.Abs(ev.SolAmount-1.25) > 1e-9 {
		t.Errorf("SolAmount = %v, want 1.25 from wrapped legs", ev.SolAmount)
	}
}

func TestClassify_PlainTransferOut(t *testing.T) {
	tx := domain.RawTransaction{
		Signature: "sig",
		Type:      "TRANSFER",
		Fee:       5_000,
		FeePayer:  testWallet,
		TokenTransfers: []domain.TokenTransfer{
			{FromUserAccount: testWallet, ToUserAccount: otherA, Mint: memeMint, TokenAmount: 50},
		},
		AccountData: []domain.AccountData{
			{Account: testWallet, NativeBalanceChange: -5_000}, // fee only
		},
	}
	ev, ok := newTestClassifier().Classify(tx, testWallet)
	if !ok {
		t.Fatal("no event produced")
	}
	if ev.Kind != domain.EventTransferOut {
		t.Fatalf("Kind = %v, want transfer_out", ev.Kind)
	}
	if !ev.Estimated {
		t.Error("unvalued transfer not marked estimated")
	}
	if ev.SolAmount != 0 {
		t.Errorf("SolAmount = %v, want 0 for unvalued transfer", ev.SolAmount)
	}
}

func TestClassify_ReceivedPaymentValuesTransfer(t *testing.T) {
	// Wallet sent tokens and received SOL well above dust, but nothing marks
	// the record as a swap beyond the opposite flow; opposite flow makes it a
	// sell.
	tx := domain.RawTransaction{
		Signature: "sig",
		Type:      "TRANSFER",
		TokenTransfers: []domain.TokenTransfer{
			{FromUserAccount: testWallet, ToUserAccount: otherA, Mint: memeMint, TokenAmount: 50},
		},
		AccountData: []domain.AccountData{
			{Account: testWallet, NativeBalanceChange: sol(0.8)},
		},
	}
	ev, ok := newTestClassifier().Classify(tx, testWallet)
	if !ok {
		t.Fatal("no event produced")
	}
	if ev.Kind != domain.EventSell {
		t.Fatalf("Kind = %v, want sell (OTC shape)", ev.Kind)
	}
	if math.Abs(ev.SolAmount-0.8) > 1e-9 {
		t.Errorf("SolAmount = %v, want 0.8", ev.SolAmount)
	}
}

func TestClassify_FeeOnlyWhenWalletIsPayer(t *testing.T) {
	tx := domain.RawTransaction{
		Signature: "sig",
		Type:      "SWAP",
		Fee:       5_000,
		FeePayer:  otherA,
		TokenTransfers: []domain.TokenTransfer{
			{FromUserAccount: otherA, ToUserAccount: testWallet, Mint: memeMint, TokenAmount: 10},
		},
		NativeTransfers: []domain.NativeTransfer{
			{FromUserAccount: testWallet, ToUserAccount: otherA, Amount: sol(1)},
		},
	}
	ev, ok := newTestClassifier().Classify(tx, testWallet)
	if !ok {
		t.Fatal("no event produced")
	}
	if ev.FeeSol != 0 {
		t.Errorf("FeeSol = %v, want 0 when another account paid", ev.FeeSol)
	}
}

func TestSwapSignals_IsTrade(t *testing.T) {
	cases := []struct {
		name    string
		signals SwapSignals
		want    bool
	}{
		{"none", SwapSignals{}, false},
		{"tagged", SwapSignals{TaggedSwap: true}, true},
		{"program", SwapSignals{SwapProgram: true}, true},
		{"opposite flow", SwapSignals{OppositeFlow: true}, true},
		{"all", SwapSignals{TaggedSwap: true, SwapProgram: true, OppositeFlow: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.signals.IsTrade(); got != tc.want {
				t.Errorf("IsTrade() = %v, want %v", got, tc.want)
			}
		})
	}
}
