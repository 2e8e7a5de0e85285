package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"basis-arb-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pingTimeout = 5 * time.Second

type Postgres struct {
	db *sql.DB
}

func NewPostgres(cfg config.StoreConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store dsn is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS open_trades (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			market_type VARCHAR(10) NOT NULL,
			side VARCHAR(10) NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			timestamp_open TIMESTAMPTZ NOT NULL,
			close_price DOUBLE PRECISION,
			timestamp_close TIMESTAMPTZ,
			profit_usdt DOUBLE PRECISION NOT NULL DEFAULT 0,
			closed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS open_trades_symbol_open_idx ON open_trades (symbol) WHERE NOT closed`,
		`CREATE TABLE IF NOT EXISTS arbitrage_opportunities (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			symbol VARCHAR(20) NOT NULL UNIQUE,
			spot_price DOUBLE PRECISION NOT NULL,
			futures_price DOUBLE PRECISION NOT NULL,
			spread_percent DOUBLE PRECISION NOT NULL,
			action VARCHAR(20) NOT NULL,
			trade_executed BOOLEAN NOT NULL DEFAULT FALSE,
			open_trade_id BIGINT REFERENCES open_trades(id)
		)`,
		`CREATE TABLE IF NOT EXISTS profit_tracking (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			current_balance DOUBLE PRECISION NOT NULL,
			profit_usdt DOUBLE PRECISION NOT NULL,
			profit_percent DOUBLE PRECISION NOT NULL,
			daily_profit DOUBLE PRECISION NOT NULL,
			weekly_profit DOUBLE PRECISION NOT NULL,
			monthly_profit DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS profit_tracking_ts_idx ON profit_tracking (timestamp)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) UpsertOpportunity(ctx context.Context, opp Opportunity) error {
	var tradeID sql.NullInt64
	if opp.OpenTradeID != 0 {
		tradeID = sql.NullInt64{Int64: opp.OpenTradeID, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO arbitrage_opportunities
		(timestamp, symbol, spot_price, futures_price, spread_percent, action, trade_executed, open_trade_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (symbol) DO UPDATE SET
			timestamp = EXCLUDED.timestamp,
			spot_price = EXCLUDED.spot_price,
			futures_price = EXCLUDED.futures_price,
			spread_percent = EXCLUDED.spread_percent,
			action = EXCLUDED.action,
			trade_executed = EXCLUDED.trade_executed,
			open_trade_id = EXCLUDED.open_trade_id`,
		opp.Timestamp, opp.Symbol, opp.SpotPrice, opp.FuturesPrice,
		opp.SpreadPercent, opp.Action, opp.TradeExecuted, tradeID,
	)
	return err
}

func (p *Postgres) HasOpenTrade(ctx context.Context, symbol string) (bool, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`SELECT id FROM open_trades WHERE symbol = $1 AND NOT closed LIMIT 1`, symbol,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Postgres) InsertOpenTrade(ctx context.Context, trade OpenTrade) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `INSERT INTO open_trades
		(symbol, market_type, side, entry_price, quantity, timestamp_open)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		trade.Symbol, trade.MarketType, trade.Side, trade.EntryPrice, trade.Quantity, trade.TimestampOpen,
	).Scan(&id)
	return id, err
}

func (p *Postgres) OpenTrades(ctx context.Context) ([]OpenTrade, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, symbol, market_type, side, entry_price, quantity, timestamp_open
		FROM open_trades WHERE NOT closed ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var trades []OpenTrade
	for rows.Next() {
		var trade OpenTrade
		if err := rows.Scan(&trade.ID, &trade.Symbol, &trade.MarketType, &trade.Side,
			&trade.EntryPrice, &trade.Quantity, &trade.TimestampOpen); err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

func (p *Postgres) CloseTrade(ctx context.Context, id int64, closePrice float64, closedAt time.Time, profit float64) error {
	res, err := p.db.ExecContext(ctx, `UPDATE open_trades
		SET close_price = $1, timestamp_close = $2, profit_usdt = $3, closed = TRUE
		WHERE id = $4 AND NOT closed`,
		closePrice, closedAt, profit, id,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTradeAlreadyClosed
	}
	return nil
}

func (p *Postgres) LatestSnapshot(ctx context.Context) (ProfitSnapshot, bool, error) {
	var snap ProfitSnapshot
	err := p.db.QueryRowContext(ctx, `SELECT id, timestamp, current_balance, profit_usdt, profit_percent,
		daily_profit, weekly_profit, monthly_profit
		FROM profit_tracking ORDER BY id DESC LIMIT 1`,
	).Scan(&snap.ID, &snap.Timestamp, &snap.CurrentBalance, &snap.ProfitUSDT, &snap.ProfitPercent,
		&snap.DailyProfit, &snap.WeeklyProfit, &snap.MonthlyProfit)
	if errors.Is(err, sql.ErrNoRows) {
		return ProfitSnapshot{}, false, nil
	}
	if err != nil {
		return ProfitSnapshot{}, false, err
	}
	return snap, true, nil
}

func (p *Postgres) EarliestSnapshotSince(ctx context.Context, cutoff time.Time) (ProfitSnapshot, bool, error) {
	var snap ProfitSnapshot
	err := p.db.QueryRowContext(ctx, `SELECT id, timestamp, current_balance, profit_usdt, profit_percent,
		daily_profit, weekly_profit, monthly_profit
		FROM profit_tracking WHERE timestamp >= $1 ORDER BY id ASC LIMIT 1`, cutoff,
	).Scan(&snap.ID, &snap.Timestamp, &snap.CurrentBalance, &snap.ProfitUSDT, &snap.ProfitPercent,
		&snap.DailyProfit, &snap.WeeklyProfit, &snap.MonthlyProfit)
	if errors.Is(err, sql.ErrNoRows) {
		return ProfitSnapshot{}, false, nil
	}
	if err != nil {
		return ProfitSnapshot{}, false, err
	}
	return snap, true, nil
}

func (p *Postgres) AppendSnapshot(ctx context.Context, snap ProfitSnapshot) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO profit_tracking
		(timestamp, current_balance, profit_usdt, profit_percent, daily_profit, weekly_profit, monthly_profit)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		snap.Timestamp, snap.CurrentBalance, snap.ProfitUSDT, snap.ProfitPercent,
		snap.DailyProfit, snap.WeeklyProfit, snap.MonthlyProfit,
	)
	return err
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// ErrTradeAlreadyClosed guards the close-once invariant: the single UPDATE
// is conditional on closed = FALSE.
var ErrTradeAlreadyClosed = errors.New("trade already closed")
