/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.LedgerStore.
var _ store.LedgerStore = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	busyTimeout := cfg.BusyTimeout.Milliseconds()
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}

	// Writers take the lock at BEGIN so a credit never upgrades a read lock
	// mid-transaction.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_foreign_keys=on&_txlock=immediate&_busy_timeout=%d",
		cfg.Path, busyTimeout)

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after ping failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after schema failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func assetCheck(column string) string {
	assets := models.AllAssets()
	quoted := make([]string, len(assets))
	for i, a := range assets {
		quoted[i] = "'" + string(a) + "'"
	}
	return fmt.Sprintf("CHECK (%s IN (%s))", column, strings.Join(quoted, ", "))
}

func (s *Service) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		telegram_id INTEGER NOT NULL UNIQUE,
		username TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'en',
		referrer_id TEXT REFERENCES users(id),
		last_claim_at TIMESTAMP,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_referrer ON users(referrer_id);

	CREATE TABLE IF NOT EXISTS deposit_addresses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		asset TEXT NOT NULL ` + assetCheck("asset") + `,
		address TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		label TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_used_at TIMESTAMP,
		UNIQUE (user_id, asset)
	);

	CREATE INDEX IF NOT EXISTS idx_deposit_addresses_address ON deposit_addresses(address, memo);

	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		label TEXT NOT NULL UNIQUE,
		asset TEXT NOT NULL ` + assetCheck("asset") + `,
		requested_amount TEXT NOT NULL DEFAULT '0',
		credited_amount TEXT NOT NULL DEFAULT '0',
		address TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		gateway_tx_id TEXT NOT NULL DEFAULT '',
		blockchain_hash TEXT NOT NULL DEFAULT '',
		confirmations INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'credited', 'cancelled')),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		credited_at TIMESTAMP
	);

	-- A hash or gateway transaction may back at most one credited deposit
	CREATE UNIQUE INDEX IF NOT EXISTS ux_deposits_credited_hash
		ON deposits(blockchain_hash) WHERE status = 'credited' AND blockchain_hash <> '';
	CREATE UNIQUE INDEX IF NOT EXISTS ux_deposits_credited_gateway_tx
		ON deposits(gateway_tx_id) WHERE status = 'credited' AND gateway_tx_id <> '';
	CREATE INDEX IF NOT EXISTS idx_deposits_user_address ON deposits(user_id, address, status, created_at);
	CREATE INDEX IF NOT EXISTS idx_deposits_status_created ON deposits(status, created_at);

	CREATE TABLE IF NOT EXISTS account_balances (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		asset TEXT NOT NULL ` + assetCheck("asset") + `,
		balance TEXT NOT NULL DEFAULT '0',
		last_operation_id TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, asset)
	);

	CREATE TABLE IF NOT EXISTS operation_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		operation_type TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		blockchain_hash TEXT NOT NULL DEFAULT '',
		investment_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'completed',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_operation_history_user_created ON operation_history(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_operation_history_hash ON operation_history(blockchain_hash);
	CREATE INDEX IF NOT EXISTS idx_operation_history_reference ON operation_history(reference);

	CREATE TRIGGER IF NOT EXISTS operation_history_no_update
	BEFORE UPDATE ON operation_history
	BEGIN
		SELECT RAISE(ABORT, 'operation_history is append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS operation_history_no_delete
	BEFORE DELETE ON operation_history
	BEGIN
		SELECT RAISE(ABORT, 'operation_history is append-only');
	END;

	CREATE TABLE IF NOT EXISTS investment_plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		daily_return TEXT NOT NULL,
		duration_hours INTEGER NOT NULL DEFAULT 0,
		min_amount TEXT NOT NULL DEFAULT '0',
		max_amount TEXT NOT NULL DEFAULT '0',
		freeze_principal BOOLEAN NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS investments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		plan_id TEXT NOT NULL REFERENCES investment_plans(id),
		unique_code TEXT NOT NULL UNIQUE,
		amount TEXT NOT NULL,
		return_amount TEXT NOT NULL,
		daily_rate TEXT NOT NULL,
		duration_hours INTEGER NOT NULL,
		freeze_principal BOOLEAN NOT NULL DEFAULT 0,
		asset TEXT NOT NULL ` + assetCheck("asset") + `,
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed')),
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		last_claim_time TIMESTAMP,
		accumulated_profit TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_investments_user ON investments(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_investments_maturity ON investments(status, freeze_principal, end_time);

	CREATE TABLE IF NOT EXISTS referral_edges (
		referrer_id TEXT NOT NULL REFERENCES users(id),
		referred_id TEXT NOT NULL REFERENCES users(id),
		level INTEGER NOT NULL CHECK (level BETWEEN 1 AND 5),
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (referrer_id, referred_id)
	);

	CREATE INDEX IF NOT EXISTS idx_referral_edges_referred ON referral_edges(referred_id, level);

	CREATE TABLE IF NOT EXISTS referral_earnings (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL REFERENCES users(id),
		referred_id TEXT NOT NULL REFERENCES users(id),
		level INTEGER NOT NULL,
		asset TEXT NOT NULL,
		amount TEXT NOT NULL,
		percentage TEXT NOT NULL,
		usd_value TEXT NOT NULL DEFAULT '0',
		investment_id TEXT NOT NULL DEFAULT '',
		source_operation_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (referrer_id, source_operation_id, level)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		kind TEXT NOT NULL,
		reference TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		sent_at TIMESTAMP,
		UNIQUE (user_id, kind, reference)
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications(sent_at, created_at);

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		asset TEXT NOT NULL ` + assetCheck("asset") + `,
		amount TEXT NOT NULL,
		address TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'submitted', 'failed')),
		gateway_id TEXT NOT NULL DEFAULT '',
		blockchain_hash TEXT NOT NULL DEFAULT '',
		fee TEXT NOT NULL DEFAULT '0',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// rollback is deferred after BeginTx; it is a no-op once the tx committed.
func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		zap.L().Warn("Failed to roll back transaction", zap.Error(err))
	}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		zap.L().Warn("Failed to close rows", zap.Error(err))
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func parseDecimal(value, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse %s %q: %w", field, value, err)
	}
	return d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
