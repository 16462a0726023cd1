package sqlite

import (
	"context"

	"xsig/internal/domain/model"
)

// SaveTrade 保存已平仓交易，重复 id 覆盖
func (r *Repo) SaveTrade(ctx context.Context, t model.Trade) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trades(
			id, position_id, symbol, side, entry_price, exit_price, size, leverage,
			fees, realized_pnl, realized_roi, reason, opened_at, closed_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exit_price=excluded.exit_price, fees=excluded.fees, realized_pnl=excluded.realized_pnl,
			realized_roi=excluded.realized_roi, reason=excluded.reason, closed_at=excluded.closed_at
	`, t.ID, t.PositionID, t.Symbol, string(t.Side), t.EntryPrice, t.ExitPrice, t.Size, t.Leverage,
		t.Fees, t.RealizedPnL, t.RealizedROI, string(t.Reason), t.OpenedAt, t.ClosedAt)
	return err
}

// GetTrade 按 id 查询
func (r *Repo) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, position_id, symbol, side, entry_price, exit_price, size, leverage,
		       fees, realized_pnl, realized_roi, reason, opened_at, closed_at
		FROM trades
		WHERE id = ?
	`, id)
	return scanTrade(row)
}

// ListTrades 按平仓时间倒序；symbol 为空时返回全部
func (r *Repo) ListTrades(ctx context.Context, symbol string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, position_id, symbol, side, entry_price, exit_price, size, leverage,
		       fees, realized_pnl, realized_roi, reason, opened_at, closed_at
		FROM trades
		WHERE ? = '' OR symbol = ?
		ORDER BY closed_at DESC
		LIMIT ?
	`, symbol, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// RealizedPnL 累计已实现盈亏
func (r *Repo) RealizedPnL(ctx context.Context) (float64, error) {
	var pnl float64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(realized_pnl), 0) FROM trades`).Scan(&pnl)
	return pnl, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (*model.Trade, error) {
	var t model.Trade
	var side, reason string
	err := s.Scan(&t.ID, &t.PositionID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice, &t.Size, &t.Leverage,
		&t.Fees, &t.RealizedPnL, &t.RealizedROI, &reason, &t.OpenedAt, &t.ClosedAt)
	if err != nil {
		return nil, err
	}
	t.Side = model.Side(side)
	t.Reason = model.ExitReason(reason)
	return &t, nil
}
