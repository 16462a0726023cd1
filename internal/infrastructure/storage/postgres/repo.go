package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS signals (
  id BIGSERIAL PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  symbol TEXT NOT NULL,
  direction TEXT NOT NULL,
  alignment TEXT NOT NULL,
  combined_score DOUBLE PRECISION NOT NULL,
  confidence DOUBLE PRECISION NOT NULL,
  price DOUBLE PRECISION NOT NULL,
  payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(ts_ms);
CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol);

CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  position_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  entry_price DOUBLE PRECISION NOT NULL,
  exit_price DOUBLE PRECISION NOT NULL,
  size DOUBLE PRECISION NOT NULL,
  leverage DOUBLE PRECISION NOT NULL,
  fees DOUBLE PRECISION NOT NULL,
  realized_pnl DOUBLE PRECISION NOT NULL,
  realized_roi DOUBLE PRECISION NOT NULL,
  reason TEXT NOT NULL,
  opened_at BIGINT NOT NULL,
  closed_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_closed ON trades(closed_at);

CREATE TABLE IF NOT EXISTS universe_snapshots (
  id BIGSERIAL PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  instruments INTEGER NOT NULL,
  payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_universe_ts ON universe_snapshots(ts_ms);
`)
	return err
}

func (r *Repo) SaveSignal(ctx context.Context, ev model.SignalEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s := ev.Signal
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO signals(ts_ms, symbol, direction, alignment, combined_score, confidence, price, payload)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.Timestamp, ev.Symbol, string(s.Direction), string(s.Alignment), s.CombinedScore, s.Confidence, ev.Price, string(payload))
	return err
}

func (r *Repo) SaveTrade(ctx context.Context, t model.Trade) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trades(
			id, position_id, symbol, side, entry_price, exit_price, size, leverage,
			fees, realized_pnl, realized_roi, reason, opened_at, closed_at
		) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT(id) DO NOTHING
	`, t.ID, t.PositionID, t.Symbol, string(t.Side), t.EntryPrice, t.ExitPrice, t.Size, t.Leverage,
		t.Fees, t.RealizedPnL, t.RealizedROI, string(t.Reason), t.OpenedAt, t.ClosedAt)
	return err
}

func (r *Repo) SaveUniverse(ctx context.Context, u *model.Universe) error {
	if u == nil {
		return nil
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO universe_snapshots(ts_ms, instruments, payload) VALUES($1, $2, $3)`,
		u.UpdatedAt.UnixMilli(), u.Len(), string(payload))
	return err
}

var _ port.SignalRepository = (*Repo)(nil)
