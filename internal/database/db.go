// Package database holds the PostgreSQL pool, inline migrations and the
// repository used by the signal engine.
package database

import (
	"context"
	"fmt"
	"time"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/logging"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger := logging.WithComponent("database")
	logger.Info("Connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS symbols (
			symbol VARCHAR(20) PRIMARY KEY,
			active BOOLEAN NOT NULL DEFAULT FALSE,
			score DECIMAL(10, 4) NOT NULL DEFAULT 0,
			quote_volume_24h DECIMAL(24, 4) NOT NULL DEFAULT 0,
			open_interest_value DECIMAL(24, 4) NOT NULL DEFAULT 0,
			spread_pct DECIMAL(10, 6) NOT NULL DEFAULT 0,
			price_change_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			trade_count_24h BIGINT NOT NULL DEFAULT 0,
			last_scanned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_active ON symbols(active)`,

		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			priority VARCHAR(6) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			stop_loss DECIMAL(20, 8) NOT NULL,
			take_profit_1 DECIMAL(20, 8) NOT NULL,
			take_profit_2 DECIMAL(20, 8) NOT NULL,
			quality_score DECIMAL(6, 2) NOT NULL,
			imbalance DECIMAL(8, 6) NOT NULL,
			large_trades INTEGER NOT NULL,
			volume_intensity DECIMAL(10, 4) NOT NULL,
			risk_reward DECIMAL(10, 4) NOT NULL,
			stop_reasoning TEXT,
			tp1_reasoning TEXT,
			tp2_reasoning TEXT,
			support_level DECIMAL(20, 8),
			resistance_level DECIMAL(20, 8),
			status VARCHAR(10) NOT NULL DEFAULT 'OPEN',
			partial_close_status VARCHAR(15) NOT NULL DEFAULT 'NONE',
			breakeven_moved BOOLEAN NOT NULL DEFAULT FALSE,
			current_stop_loss DECIMAL(20, 8) NOT NULL,
			tp1_hit_price DECIMAL(20, 8),
			tp1_hit_time TIMESTAMP,
			tp1_pnl DECIMAL(10, 6),
			tp2_hit_price DECIMAL(20, 8),
			tp2_hit_time TIMESTAMP,
			tp2_pnl DECIMAL(10, 6),
			exit_price DECIMAL(20, 8),
			exit_reason VARCHAR(30),
			pnl_percent DECIMAL(10, 6),
			telegram_message_id BIGINT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			closed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol_status ON signals(symbol, status)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			signal_id UUID NOT NULL REFERENCES signals(id),
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8) NOT NULL,
			stop_loss DECIMAL(20, 8) NOT NULL,
			take_profit_1 DECIMAL(20, 8) NOT NULL,
			take_profit_2 DECIMAL(20, 8) NOT NULL,
			exit_reason VARCHAR(30) NOT NULL,
			pnl_percent DECIMAL(10, 6) NOT NULL,
			hold_time_minutes DECIMAL(12, 2) NOT NULL,
			partial_close_status VARCHAR(15) NOT NULL,
			tp1_hit_price DECIMAL(20, 8),
			tp1_pnl DECIMAL(10, 6),
			entry_time TIMESTAMP NOT NULL,
			exit_time TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time)`,

		`CREATE TABLE IF NOT EXISTS klines (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			interval VARCHAR(5) NOT NULL,
			open_time TIMESTAMP NOT NULL,
			close_time TIMESTAMP NOT NULL,
			open DECIMAL(20, 8) NOT NULL,
			high DECIMAL(20, 8) NOT NULL,
			low DECIMAL(20, 8) NOT NULL,
			close DECIMAL(20, 8) NOT NULL,
			volume DECIMAL(24, 8) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_klines_symbol_interval_open UNIQUE (symbol, interval, open_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_klines_symbol_interval ON klines(symbol, interval, open_time DESC)`,

		`CREATE TABLE IF NOT EXISTS performance_metrics (
			id SERIAL PRIMARY KEY,
			date DATE NOT NULL,
			total_signals INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			win_rate DECIMAL(6, 2) NOT NULL DEFAULT 0,
			total_pnl DECIMAL(12, 6) NOT NULL DEFAULT 0,
			avg_pnl DECIMAL(12, 6) NOT NULL DEFAULT 0,
			max_pnl DECIMAL(12, 6) NOT NULL DEFAULT 0,
			min_pnl DECIMAL(12, 6) NOT NULL DEFAULT 0,
			avg_hold_minutes DECIMAL(12, 2) NOT NULL DEFAULT 0,
			sharpe_ratio DECIMAL(12, 4) NOT NULL DEFAULT 0,
			max_drawdown DECIMAL(12, 6) NOT NULL DEFAULT 0,
			tp1_hits INTEGER NOT NULL DEFAULT 0,
			tp2_hits INTEGER NOT NULL DEFAULT 0,
			sl_hits INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_performance_metrics_date ON performance_metrics(date)`,

		`CREATE TABLE IF NOT EXISTS daily_stats (
			id SERIAL PRIMARY KEY,
			date DATE NOT NULL,
			signals_generated INTEGER NOT NULL DEFAULT 0,
			signals_closed INTEGER NOT NULL DEFAULT 0,
			high_priority INTEGER NOT NULL DEFAULT 0,
			medium_priority INTEGER NOT NULL DEFAULT 0,
			low_priority INTEGER NOT NULL DEFAULT 0,
			total_pnl_percent DECIMAL(12, 6) NOT NULL DEFAULT 0,
			win_rate DECIMAL(6, 2) NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_daily_stats_date UNIQUE (date)
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info("Database migrations completed", "count", len(migrations))
	return nil
}
