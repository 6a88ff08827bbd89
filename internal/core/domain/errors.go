package domain

import "errors"

var (
	// ErrRunActive is returned when a run is requested for a wallet that
	// already has a live run. Duplicate requests are rejected, not queued.
	ErrRunActive = errors.New("analysis already running for this wallet")

	// ErrTooManySignatures rejects bot-like wallets whose history exceeds
	// the configured signature cap.
	ErrTooManySignatures = errors.New("wallet activity exceeds signature cap")

	// ErrNoActivity is returned before any expensive work when the wallet
	// has no signatures inside the lookback window.
	ErrNoActivity = errors.New("no activity found for wallet")

	// ErrInvalidWallet is returned for addresses that fail base58 validation.
	ErrInvalidWallet = errors.New("invalid wallet address")

	// ErrCancelled marks a cooperatively cancelled run. It is a distinct
	// terminal state, never reported as a failure.
	ErrCancelled = errors.New("analysis cancelled")
)

// ReasonForError maps an error to the stable machine-readable reason code
// reported through the progress sink. Stack-level detail never crosses the
// core boundary.
func ReasonForError(err error) string {
	switch {
	case errors.Is(err, ErrRunActive):
		return "run_active"
	case errors.Is(err, ErrTooManySignatures):
		return "too_many_signatures"
	case errors.Is(err, ErrNoActivity):
		return "no_activity"
	case errors.Is(err, ErrInvalidWallet):
		return "invalid_wallet"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "internal_error"
	}
}
