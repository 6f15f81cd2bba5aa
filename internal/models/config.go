package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Store backends
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	StoreBackend string `validate:"oneof=sqlite postgres"`
	AssetsFile   string
	Database     DatabaseConfig
	Postgres     PostgresConfig
	Gateway      GatewayConfig
	Listener     ListenerConfig
	Reconcile    ReconcileConfig
	Investment   InvestmentConfig
	Referral     ReferralConfig
	Rates        RatesConfig
	Redis        RedisConfig
	Ledger       LedgerConfig
	Server       ServerConfig
	Logging      LoggingConfig
}

// DatabaseConfig holds SQLite connection settings
type DatabaseConfig struct {
	Path            string        `validate:"required"`
	MaxOpenConns    int           `validate:"gt=0"`
	MaxIdleConns    int           `validate:"gte=0"`
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration `validate:"gt=0"`
	BusyTimeout     time.Duration
}

// PostgresConfig holds the hosted Postgres connection settings
type PostgresConfig struct {
	URL         string
	Schema      string
	MaxConns    int32
	PingTimeout time.Duration
	Migrate     bool
}

// GatewayConfig holds WestWallet API credentials
type GatewayConfig struct {
	BaseURL    string `validate:"required,url"`
	PublicKey  string
	PrivateKey string
	IPNURL     string
	Timeout    time.Duration
}

// ListenerConfig holds scan and background worker settings
type ListenerConfig struct {
	ScanInterval        time.Duration `validate:"gt=0"`
	ScanInitialDelay    time.Duration `validate:"gte=0"`
	HistoryLimit        int           `validate:"gt=0"`
	ScanAssets          []Asset
	DepositExpiry       time.Duration `validate:"gt=0"`
	ExpiryCheckInterval time.Duration `validate:"gt=0"`
	MaturityInterval    time.Duration `validate:"gt=0"`
	ScanLockTTL         time.Duration
}

// ReconcileConfig tunes the duplicate guards
type ReconcileConfig struct {
	HashLookback         time.Duration
	TxIdLookback         time.Duration
	AmountWindow         time.Duration
	AmountTolerance      decimal.Decimal
	SynthesizeForStatics bool
}

// InvestmentConfig holds claim settings
type InvestmentConfig struct {
	ClaimCooldown time.Duration `validate:"gte=0"`
}

// ReferralConfig holds per-level commission rates, level 1 first
type ReferralConfig struct {
	Rates []decimal.Decimal `validate:"max=5"`
}

// RatesConfig holds price feed settings
type RatesConfig struct {
	CoinGeckoURL string
	TTL          time.Duration
	Timeout      time.Duration
}

// RedisConfig holds optional cache settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
}

// LedgerConfig holds the optional Formance mirror settings
type LedgerConfig struct {
	StackURL     string
	ClientId     string
	ClientSecret string
	Ledger       string
}

// ServerConfig holds webhook server settings
type ServerConfig struct {
	Addr              string
	WebhookPath       string
	AllowedIPs        []string
	TrustedProxies    []string
	VerifyWithGateway bool
	ProcessTimeout    time.Duration
	MetricsNamespace  string
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}
