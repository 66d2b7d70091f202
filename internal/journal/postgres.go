// postgres.go is the real Trade Journal backend: a pgxpool-pooled
// Postgres store with idempotent upserts and a NOTIFY on every write so
// external subscribers (Listener, below) learn of changes without
// polling.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/optioncore/supertrend-engine/internal/instrument"
)

// ChangedChannel is the NOTIFY channel name writes are published on.
const ChangedChannel = "trade_journal_changed"

// PostgresStore implements Store using a pooled pgx connection.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool to connStr and verifies it with a
// ping before returning.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("journal: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *PostgresStore) Close()                         { s.pool.Close() }

// WriteOpen inserts the open half of a trade. ON CONFLICT (trade_id) DO
// NOTHING makes a retried write after a dropped connection a no-op
// rather than a duplicate row or an error (SPEC_FULL §4.8).
func (s *PostgresStore) WriteOpen(ctx context.Context, rec TradeRecord) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO trades (
			trade_id, strategy_instance_id, root, strike, expiry_date, side,
			broker_security_id, qty, entry_time, entry_price, initial_stop,
			broker_order_id, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,'OPEN')
		ON CONFLICT (trade_id) DO NOTHING`,
		rec.TradeID, rec.StrategyInstanceID, string(rec.Root), rec.OptionRef.Strike,
		rec.OptionRef.ExpiryDate, string(rec.Side), rec.OptionRef.BrokerSecurityID,
		rec.Qty, rec.EntryTime, rec.EntryPrice, rec.InitialStop, rec.BrokerOrderID,
	)
	if err != nil {
		return fmt.Errorf("journal: write open %s: %w", rec.TradeID, err)
	}
	if tag.RowsAffected() > 0 {
		if err := s.notifyChanged(ctx, "open", rec.TradeID); err != nil {
			return err
		}
	}
	return nil
}

// WriteClose is idempotent by tradeId: a replay after the row is
// already CLOSED affects zero rows and is treated as success, never a
// duplicate close or an error (SPEC_FULL §4.8).
func (s *PostgresStore) WriteClose(ctx context.Context, tradeID string, closeAt time.Time, exitPrice, realizedPnl float64, exitReason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades
		SET exit_time=$2, exit_price=$3, realized_pnl=$4, exit_reason=$5, status='CLOSED'
		WHERE trade_id=$1 AND status='OPEN'`,
		tradeID, closeAt, exitPrice, realizedPnl, exitReason,
	)
	if err != nil {
		return fmt.Errorf("journal: write close %s: %w", tradeID, err)
	}
	if tag.RowsAffected() > 0 {
		if err := s.notifyChanged(ctx, "close", tradeID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) notifyChanged(ctx context.Context, kind, tradeID string) error {
	_, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, ChangedChannel, kind+":"+tradeID)
	if err != nil {
		return fmt.Errorf("journal: notify %s: %w", ChangedChannel, err)
	}
	return nil
}

func (s *PostgresStore) OpenTrades(ctx context.Context) ([]TradeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, strategy_instance_id, root, strike, expiry_date, side,
		       broker_security_id, qty, entry_time, entry_price, initial_stop, broker_order_id
		FROM trades WHERE status = 'OPEN'`)
	if err != nil {
		return nil, fmt.Errorf("journal: open trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var rec TradeRecord
		var root, side string
		if err := rows.Scan(
			&rec.TradeID, &rec.StrategyInstanceID, &root, &rec.OptionRef.Strike,
			&rec.OptionRef.ExpiryDate, &side, &rec.OptionRef.BrokerSecurityID,
			&rec.Qty, &rec.EntryTime, &rec.EntryPrice, &rec.InitialStop, &rec.BrokerOrderID,
		); err != nil {
			return nil, fmt.Errorf("journal: scan open trade: %w", err)
		}
		rec.Root = instrument.Root(root)
		rec.Side = instrument.Side(side)
		rec.OptionRef.Root = rec.Root
		rec.OptionRef.Side = rec.Side
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveDayStats upserts the RiskBook snapshot for one instance/day.
func (s *PostgresStore) SaveDayStats(ctx context.Context, stats DayStats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO day_stats (strategy_instance_id, trading_day, realized_pnl_today, trades_taken_today, daily_loss_tripped)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (strategy_instance_id, trading_day) DO UPDATE SET
			realized_pnl_today = EXCLUDED.realized_pnl_today,
			trades_taken_today = EXCLUDED.trades_taken_today,
			daily_loss_tripped = EXCLUDED.daily_loss_tripped`,
		stats.StrategyInstanceID, stats.TradingDayIST, stats.RealizedPnlToday,
		stats.TradesTakenToday, stats.DailyLossTripped,
	)
	if err != nil {
		return fmt.Errorf("journal: save day stats %s: %w", stats.StrategyInstanceID, err)
	}
	return nil
}

func (s *PostgresStore) LoadDayStats(ctx context.Context, strategyInstanceID string, tradingDayIST time.Time) (*DayStats, error) {
	var stats DayStats
	stats.StrategyInstanceID = strategyInstanceID
	stats.TradingDayIST = tradingDayIST
	err := s.pool.QueryRow(ctx, `
		SELECT realized_pnl_today, trades_taken_today, daily_loss_tripped
		FROM day_stats WHERE strategy_instance_id=$1 AND trading_day=$2`,
		strategyInstanceID, tradingDayIST,
	).Scan(&stats.RealizedPnlToday, &stats.TradesTakenToday, &stats.DailyLossTripped)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: load day stats %s: %w", strategyInstanceID, err)
	}
	return &stats, nil
}

// SaveConfig upserts the last-applied config for an instance, read
// back on recovery so a restart resumes with the same risk posture.
func (s *PostgresStore) SaveConfig(ctx context.Context, row ConfigRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO engine_config (strategy_instance_id, config_json, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (strategy_instance_id) DO UPDATE SET
			config_json = EXCLUDED.config_json, updated_at = EXCLUDED.updated_at`,
		row.StrategyInstanceID, row.ConfigJSON, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("journal: save config %s: %w", row.StrategyInstanceID, err)
	}
	return nil
}

func (s *PostgresStore) LoadConfig(ctx context.Context, strategyInstanceID string) (*ConfigRow, error) {
	row := ConfigRow{StrategyInstanceID: strategyInstanceID}
	err := s.pool.QueryRow(ctx, `
		SELECT config_json, updated_at FROM engine_config WHERE strategy_instance_id=$1`,
		strategyInstanceID,
	).Scan(&row.ConfigJSON, &row.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: load config %s: %w", strategyInstanceID, err)
	}
	return &row, nil
}
