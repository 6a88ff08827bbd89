package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    signature     TEXT PRIMARY KEY,
    wallet        TEXT NOT NULL,
    ts            DATETIME NOT NULL,
    kind          TEXT NOT NULL,
    mint          TEXT NOT NULL,
    symbol        TEXT,
    token_amount  REAL NOT NULL,
    sol_amount    REAL NOT NULL,
    fee_sol       REAL NOT NULL DEFAULT 0,
    estimated     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS positions (
    wallet          TEXT NOT NULL,
    mint            TEXT NOT NULL,
    symbol          TEXT,
    sol_spent       REAL NOT NULL DEFAULT 0,
    sol_received    REAL NOT NULL DEFAULT 0,
    tokens_bought   REAL NOT NULL DEFAULT 0,
    tokens_sold     REAL NOT NULL DEFAULT 0,
    balance         REAL NOT NULL DEFAULT 0,
    realized_pnl    REAL NOT NULL DEFAULT 0,
    unrealized_pnl  REAL NOT NULL DEFAULT 0,
    current_value   REAL NOT NULL DEFAULT 0,
    active          INTEGER NOT NULL DEFAULT 0,
    suspicious      INTEGER NOT NULL DEFAULT 0,
    transfer_count  INTEGER NOT NULL DEFAULT 0,
    first_trade_at  DATETIME,
    last_trade_at   DATETIME,
    updated_at      DATETIME NOT NULL,
    PRIMARY KEY (wallet, mint)
);

CREATE TABLE IF NOT EXISTS daily_pnl (
    wallet       TEXT NOT NULL,
    date         TEXT NOT NULL,
    realized_sol REAL NOT NULL DEFAULT 0,
    event_count  INTEGER NOT NULL DEFAULT 0,
    token_count  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (wallet, date)
);

CREATE TABLE IF NOT EXISTS runs (
    wallet     TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    reason     TEXT,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_wallet ON events(wallet, ts);
CREATE INDEX IF NOT EXISTS idx_positions_pnl ON positions(wallet, realized_pnl DESC);
`

// SQLiteStore implements domain.Store on SQLite (pure Go, no CGo). Every
// write is an upsert keyed by (wallet, entity key) so re-running an
// analysis overwrites stale rows instead of duplicating them.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveEvents upserts normalized events keyed by signature.
func (s *SQLiteStore) SaveEvents(ctx context.Context, wallet string, events []domain.NormalizedEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (signature, wallet, ts, kind, mint, symbol, token_amount, sol_amount, fee_sol, estimated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET
		    symbol = excluded.symbol,
		    token_amount = excluded.token_amount,
		    sol_amount = excluded.sol_amount,
		    fee_sol = excluded.fee_sol,
		    estimated = excluded.estimated`)
	if err != nil {
		return fmt.Errorf("preparing event upsert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err := stmt.ExecContext(ctx, ev.Signature, wallet, ev.Timestamp.UTC(), string(ev.Kind),
			ev.Mint, ev.Symbol, ev.TokenAmount, ev.SolAmount, ev.FeeSol, boolToInt(ev.Estimated))
		if err != nil {
			return fmt.Errorf("upserting event %s: %w", ev.Signature, err)
		}
	}
	return tx.Commit()
}

// SavePositions batch-upserts the position ledger in one transaction.
func (s *SQLiteStore) SavePositions(ctx context.Context, wallet string, positions map[string]*domain.Position) error {
	if len(positions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO positions (wallet, mint, symbol, sol_spent, sol_received, tokens_bought, tokens_sold,
		    balance, realized_pnl, unrealized_pnl, current_value, active, suspicious, transfer_count,
		    first_trade_at, last_trade_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(wallet, mint) DO UPDATE SET
		    symbol = excluded.symbol,
		    sol_spent = excluded.sol_spent,
		    sol_received = excluded.sol_received,
		    tokens_bought = excluded.tokens_bought,
		    tokens_sold = excluded.tokens_sold,
		    balance = excluded.balance,
		    realized_pnl = excluded.realized_pnl,
		    unrealized_pnl = excluded.unrealized_pnl,
		    current_value = excluded.current_value,
		    active = excluded.active,
		    suspicious = excluded.suspicious,
		    transfer_count = excluded.transfer_count,
		    first_trade_at = excluded.first_trade_at,
		    last_trade_at = excluded.last_trade_at,
		    updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing position upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, pos := range positions {
		_, err := stmt.ExecContext(ctx, wallet, pos.Mint, pos.Symbol, pos.SolSpent, pos.SolReceived,
			pos.TokensBought, pos.TokensSold, pos.CurrentBalance, pos.RealizedPnL, pos.UnrealizedPnL,
			pos.CurrentValueSol, boolToInt(pos.Active), boolToInt(pos.Suspicious), pos.TransferCount,
			pos.FirstTradeAt.UTC(), pos.LastTradeAt.UTC(), now)
		if err != nil {
			return fmt.Errorf("upserting position %s: %w", pos.Mint, err)
		}
	}
	return tx.Commit()
}

// SaveDailyPNL batch-upserts daily aggregates.
func (s *SQLiteStore) SaveDailyPNL(ctx context.Context, wallet string, daily []domain.DailyPNL) error {
	if len(daily) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_pnl (wallet, date, realized_sol, event_count, token_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(wallet, date) DO UPDATE SET
		    realized_sol = excluded.realized_sol,
		    event_count = excluded.event_count,
		    token_count = excluded.token_count`)
	if err != nil {
		return fmt.Errorf("preparing daily upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range daily {
		if _, err := stmt.ExecContext(ctx, wallet, d.Date, d.RealizedSol, d.EventCount, d.TokenCount); err != nil {
			return fmt.Errorf("upserting daily %s: %w", d.Date, err)
		}
	}
	return tx.Commit()
}

// SaveRunStatus upserts the run's lifecycle state for external dashboards.
func (s *SQLiteStore) SaveRunStatus(ctx context.Context, wallet string, status domain.RunStatus, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (wallet, status, reason, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(wallet) DO UPDATE SET
		    status = excluded.status,
		    reason = excluded.reason,
		    updated_at = excluded.updated_at`,
		wallet, string(status), reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting run status: %w", err)
	}
	return nil
}

// LoadPositions reads back the persisted ledger for a wallet.
func (s *SQLiteStore) LoadPositions(ctx context.Context, wallet string) (map[string]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mint, symbol, sol_spent, sol_received, tokens_bought, tokens_sold, balance,
		       realized_pnl, unrealized_pnl, current_value, active, suspicious, transfer_count,
		       first_trade_at, last_trade_at
		FROM positions WHERE wallet = ?`, wallet)
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	defer rows.Close()

	positions := make(map[string]*domain.Position)
	for rows.Next() {
		var pos domain.Position
		var active, suspicious int
		err := rows.Scan(&pos.Mint, &pos.Symbol, &pos.SolSpent, &pos.SolReceived, &pos.TokensBought,
			&pos.TokensSold, &pos.CurrentBalance, &pos.RealizedPnL, &pos.UnrealizedPnL,
			&pos.CurrentValueSol, &active, &suspicious, &pos.TransferCount,
			&pos.FirstTradeAt, &pos.LastTradeAt)
		if err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		pos.Active = active == 1
		pos.Suspicious = suspicious == 1
		positions[pos.Mint] = &pos
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
