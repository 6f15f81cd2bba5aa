package common

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/python-is-trash/westwallet-backend/internal/api"
	"github.com/python-is-trash/westwallet-backend/internal/cache"
	"github.com/python-is-trash/westwallet-backend/internal/database"
	"github.com/python-is-trash/westwallet-backend/internal/formance"
	"github.com/python-is-trash/westwallet-backend/internal/investment"
	"github.com/python-is-trash/westwallet-backend/internal/metrics"
	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/postgres"
	"github.com/python-is-trash/westwallet-backend/internal/rates"
	"github.com/python-is-trash/westwallet-backend/internal/reconcile"
	"github.com/python-is-trash/westwallet-backend/internal/referral"
	"github.com/python-is-trash/westwallet-backend/internal/store"
	"github.com/python-is-trash/westwallet-backend/internal/westwallet"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// init loads environment variables from .env file if it exists
func init() {
	// A missing .env is fine; variables may come from the shell or the container.
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Unable to load .env file: %v\n", err)
		}
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services is the wired application graph shared by the commands.
type Services struct {
	Store      store.LedgerStore
	Metrics    *metrics.Metrics
	Redis      *cache.Redis
	Rates      *rates.Provider
	Gateway    *westwallet.Client
	Mirror     formance.Mirror
	Engine     *reconcile.Engine
	Referrals  *referral.Distributor
	Investment *investment.Service
	Wallet     *api.WalletService
	Priority   models.NetworkPriority
	ScanAssets []models.Asset
}

// InitializeLogger installs a production zap logger as the global logger.
// When a log file is configured, output is also written to a rotating file.
func InitializeLogger(cfg models.LoggingConfig) (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	stderrLogger := logger
	var rotator *lumberjack.Logger
	if cfg.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			zap.InfoLevel,
		)
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
		if rotator != nil {
			closeLogFile(stderrLogger, rotator)
		}
	}

	return logger, cleanup
}

// closeLogFile closes the rotating file and reports failures on stderr only.
func closeLogFile(logger *zap.Logger, file io.Closer) {
	if err := file.Close(); err != nil {
		logger.Error("Failed to close log file", zap.Error(err))
	}
}

// InitializeStore opens the configured ledger backend.
func InitializeStore(ctx context.Context, cfg *models.Config) (store.LedgerStore, error) {
	switch cfg.StoreBackend {
	case models.BackendPostgres:
		zap.L().Info("Using Postgres ledger store", zap.String("schema", cfg.Postgres.Schema))
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case models.BackendSQLite, "":
		zap.L().Info("Using SQLite ledger store", zap.String("path", cfg.Database.Path))
		db, err := database.NewService(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	priority, scanAssets, err := LoadNetworkPriority(cfg.AssetsFile)
	if err != nil {
		return nil, err
	}
	if len(cfg.Listener.ScanAssets) > 0 {
		scanAssets = cfg.Listener.ScanAssets
	}

	st, err := InitializeStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.Registry(cfg.Server.MetricsNamespace)
	redis := cache.New(cfg.Redis)
	if redis.Enabled() {
		if err := redis.Ping(ctx); err != nil {
			zap.L().Warn("Redis unavailable, continuing without cache", zap.Error(err))
		}
	}

	gateway, err := westwallet.NewClient(cfg.Gateway, m)
	if err != nil {
		st.Close()
		return nil, err
	}

	mirror, err := formance.NewMirror(ctx, cfg.Ledger)
	if err != nil {
		st.Close()
		return nil, err
	}

	prices := rates.NewProvider(cfg.Rates, redis)
	engine := reconcile.NewEngine(st, mirror, m, cfg.Reconcile).WithLookup(gateway)
	distributor := referral.NewDistributor(st, prices, mirror, m, cfg.Referral)
	investments := investment.NewService(st, distributor, mirror, m, priority, cfg.Investment)
	wallet := api.NewWalletService(st, gateway, prices, mirror, priority, cfg.Listener)

	zap.L().Info("Services initialized",
		zap.String("store", cfg.StoreBackend),
		zap.Bool("redis", redis.Enabled()),
		zap.Int("scan_assets", len(scanAssets)))

	return &Services{
		Store:      st,
		Metrics:    m,
		Redis:      redis,
		Rates:      prices,
		Gateway:    gateway,
		Mirror:     mirror,
		Engine:     engine,
		Referrals:  distributor,
		Investment: investments,
		Wallet:     wallet,
		Priority:   priority,
		ScanAssets: scanAssets,
	}, nil
}

func (cs *Services) Close() {
	if cs.Store != nil {
		cs.Store.Close()
	}
	if cs.Redis.Enabled() {
		if err := cs.Redis.Close(); err != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(err))
		}
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
