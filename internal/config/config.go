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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	defaultGatewayURL  = "https://api.westwallet.io"
	defaultWebhookPath = "/api/westwallet/callback"
)

func Load() (*models.Config, error) {
	env := &envReader{}

	referralRates, err := ParseReferralRates(getEnvString("REFERRAL_RATES", "15,10,5"))
	if err != nil {
		return nil, err
	}

	scanAssets, err := parseAssets(getEnvList("SCAN_ASSETS"))
	if err != nil {
		return nil, err
	}

	webhookPath := getEnvString("WEBHOOK_PATH", defaultWebhookPath)
	ipnURL := getEnvString("WESTWALLET_IPN_URL", "")
	if backendURL := getEnvString("BACKEND_URL", ""); ipnURL == "" && backendURL != "" {
		ipnURL = strings.TrimSuffix(backendURL, "/") + webhookPath
	}

	maxOpenConns := getEnvInt("DB_MAX_OPEN_CONNS", 25)
	pingTimeout := env.duration("DB_PING_TIMEOUT", 5*time.Second)

	cfg := &models.Config{
		StoreBackend: strings.ToLower(getEnvString("STORE_BACKEND", models.BackendSQLite)),
		AssetsFile:   getEnvString("ASSETS_FILE", "assets.yaml"),
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "westwallet.db"),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: env.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: env.duration("DB_CONN_MAX_IDLE_TIME", 30*time.Second),
			PingTimeout:     pingTimeout,
			BusyTimeout:     env.duration("DB_BUSY_TIMEOUT", 5*time.Second),
		},
		Postgres: models.PostgresConfig{
			URL:         getEnvString("DATABASE_URL", ""),
			Schema:      getEnvString("DATABASE_SCHEMA", ""),
			MaxConns:    int32(maxOpenConns),
			PingTimeout: pingTimeout,
			Migrate:     getEnvBool("DATABASE_MIGRATE", true),
		},
		Gateway: models.GatewayConfig{
			BaseURL:    getEnvString("WESTWALLET_API_URL", defaultGatewayURL),
			PublicKey:  getEnvString("WESTWALLET_PUBLIC_KEY", ""),
			PrivateKey: getEnvString("WESTWALLET_PRIVATE_KEY", ""),
			IPNURL:     ipnURL,
			Timeout:    env.duration("WESTWALLET_TIMEOUT", 60*time.Second),
		},
		Listener: models.ListenerConfig{
			ScanInterval:        env.duration("SCAN_INTERVAL", 5*time.Minute),
			ScanInitialDelay:    env.duration("SCAN_INITIAL_DELAY", 30*time.Second),
			HistoryLimit:        getEnvInt("SCAN_HISTORY_LIMIT", 50),
			ScanAssets:          scanAssets,
			DepositExpiry:       env.duration("DEPOSIT_EXPIRY", 30*time.Minute),
			ExpiryCheckInterval: env.duration("EXPIRY_CHECK_INTERVAL", time.Minute),
			MaturityInterval:    env.duration("MATURITY_INTERVAL", 5*time.Minute),
			ScanLockTTL:         env.duration("SCAN_LOCK_TTL", 0),
		},
		Reconcile: models.ReconcileConfig{
			HashLookback:         env.duration("HASH_LOOKBACK", 30*24*time.Hour),
			TxIdLookback:         env.duration("TXID_LOOKBACK", 7*24*time.Hour),
			AmountWindow:         env.duration("DUPLICATE_AMOUNT_WINDOW", 3*time.Minute),
			AmountTolerance:      env.decimal("DUPLICATE_AMOUNT_TOLERANCE", decimal.New(1, -6)),
			SynthesizeForStatics: getEnvBool("SYNTHESIZE_STATIC_DEPOSITS", true),
		},
		Investment: models.InvestmentConfig{
			ClaimCooldown: env.duration("CLAIM_COOLDOWN", 5*time.Minute),
		},
		Referral: models.ReferralConfig{
			Rates: referralRates,
		},
		Rates: models.RatesConfig{
			CoinGeckoURL: getEnvString("COINGECKO_URL", ""),
			TTL:          env.duration("RATES_TTL", 5*time.Minute),
			Timeout:      env.duration("RATES_TIMEOUT", 10*time.Second),
		},
		Redis: models.RedisConfig{
			Addr:     getEnvString("REDIS_ADDR", ""),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			UseTLS:   getEnvBool("REDIS_TLS", false),
		},
		Ledger: models.LedgerConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientId:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			Ledger:       getEnvString("FORMANCE_LEDGER", "westwallet"),
		},
		Server: models.ServerConfig{
			Addr:              getEnvString("HTTP_ADDR", ":8080"),
			WebhookPath:       webhookPath,
			AllowedIPs:        getEnvList("WEBHOOK_ALLOWED_IPS"),
			TrustedProxies:    getEnvList("TRUSTED_PROXIES"),
			VerifyWithGateway: getEnvBool("WEBHOOK_VERIFY", false),
			ProcessTimeout:    env.duration("WEBHOOK_PROCESS_TIMEOUT", 30*time.Second),
			MetricsNamespace:  getEnvString("METRICS_NAMESPACE", "westwallet"),
		},
		Logging: models.LoggingConfig{
			File:       getEnvString("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		},
	}

	if env.err != nil {
		return nil, env.err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field requirements.
func Validate(cfg *models.Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.StoreBackend == models.BackendPostgres && cfg.Postgres.URL == "" {
		return fmt.Errorf("invalid configuration: DATABASE_URL is required for the postgres backend")
	}
	if cfg.Ledger.StackURL != "" && (cfg.Ledger.ClientId == "" || cfg.Ledger.ClientSecret == "") {
		return fmt.Errorf("invalid configuration: FORMANCE_CLIENT_ID and FORMANCE_CLIENT_SECRET are required with FORMANCE_STACK_URL")
	}
	return nil
}

// ParseReferralRates parses a comma separated list of per-level percentages.
func ParseReferralRates(value string) ([]decimal.Decimal, error) {
	var rates []decimal.Decimal
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		rate, err := decimal.NewFromString(part)
		if err != nil {
			return nil, fmt.Errorf("invalid REFERRAL_RATES entry %q: %w", part, err)
		}
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("invalid REFERRAL_RATES entry %q: must be between 0 and 100", part)
		}
		rates = append(rates, rate)
	}
	return rates, nil
}

func parseAssets(values []string) ([]models.Asset, error) {
	assets := make([]models.Asset, 0, len(values))
	for _, v := range values {
		asset, err := models.ParseAsset(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCAN_ASSETS entry: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// envReader keeps the first parse error so fields can be read inline.
type envReader struct {
	err error
}

func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	d, err := getEnvDuration(key, defaultValue)
	if err != nil && r.err == nil {
		r.err = err
	}
	return d
}

func (r *envReader) decimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	d, err := getEnvDecimal(key, defaultValue)
	if err != nil && r.err == nil {
		r.err = err
	}
	return d
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
