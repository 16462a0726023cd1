package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) DB() *sql.DB { return r.db }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS signals (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts_ms INTEGER NOT NULL,
  symbol TEXT NOT NULL,
  direction TEXT NOT NULL,
  alignment TEXT NOT NULL,
  combined_score REAL NOT NULL,
  adjusted_score REAL NOT NULL,
  confidence REAL NOT NULL,
  price REAL NOT NULL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(ts_ms);
CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol);

CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  position_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  entry_price REAL NOT NULL,
  exit_price REAL NOT NULL,
  size REAL NOT NULL,
  leverage REAL NOT NULL,
  fees REAL NOT NULL,
  realized_pnl REAL NOT NULL,
  realized_roi REAL NOT NULL,
  reason TEXT NOT NULL,
  opened_at INTEGER NOT NULL,
  closed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_closed ON trades(closed_at);

CREATE TABLE IF NOT EXISTS universe_snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts_ms INTEGER NOT NULL,
  instruments INTEGER NOT NULL,
  payload TEXT NOT NULL
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
		INSERT INTO signals(ts_ms, symbol, direction, alignment, combined_score, adjusted_score, confidence, price, payload)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.Timestamp, ev.Symbol, string(s.Direction), string(s.Alignment),
		s.CombinedScore, s.AdjustedScore, s.Confidence, ev.Price, string(payload))
	return err
}

// LatestSignal 某品种最近一条信号，不存在时返回 sql.ErrNoRows
func (r *Repo) LatestSignal(ctx context.Context, symbol string) (*model.SignalEvent, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `
		SELECT payload FROM signals
		WHERE symbol = ?
		ORDER BY ts_ms DESC, id DESC
		LIMIT 1
	`, symbol).Scan(&payload)
	if err != nil {
		return nil, err
	}
	var ev model.SignalEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, fmt.Errorf("decode signal payload: %w", err)
	}
	return &ev, nil
}

// CountSignals since 之后（含）的信号数
func (r *Repo) CountSignals(ctx context.Context, sinceMs int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals WHERE ts_ms >= ?`, sinceMs).Scan(&n)
	return n, err
}

func (r *Repo) SaveUniverse(ctx context.Context, u *model.Universe) error {
	if u == nil {
		return nil
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO universe_snapshots(ts_ms, instruments, payload) VALUES(?, ?, ?)`,
		u.UpdatedAt.UnixMilli(), u.Len(), string(payload))
	return err
}

// LatestUniverse 最近一份品种快照
func (r *Repo) LatestUniverse(ctx context.Context) (*model.Universe, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM universe_snapshots ORDER BY ts_ms DESC, id DESC LIMIT 1`).
		Scan(&payload)
	if err != nil {
		return nil, err
	}
	var u model.Universe
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		return nil, fmt.Errorf("decode universe payload: %w", err)
	}
	return model.NewUniverse(u.Instruments, u.UpdatedAt), nil
}

var _ port.SignalRepository = (*Repo)(nil)
