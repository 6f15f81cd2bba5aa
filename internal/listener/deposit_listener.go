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

package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/cache"
	"github.com/python-is-trash/westwallet-backend/internal/metrics"
	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/reconcile"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransactionSource lists recent wallet transactions for one asset.
type TransactionSource interface {
	GetTransactionHistory(ctx context.Context, asset models.Asset, limit, offset int) ([]models.GatewayTransaction, error)
}

// Reconciler credits observed transactions.
type Reconciler interface {
	Reconcile(ctx context.Context, ev reconcile.Event) (reconcile.Result, error)
}

// DepositListenerConfig contains configuration for DepositListener
type DepositListenerConfig struct {
	Gateway  TransactionSource
	Engine   Reconciler
	Store    store.LedgerStore
	Redis    *cache.Redis
	Metrics  *metrics.Metrics
	Listener models.ListenerConfig
}

// DepositListener periodically scans gateway history for transfers to the
// static deposit addresses and expires abandoned deposit requests.
type DepositListener struct {
	gateway TransactionSource
	engine  Reconciler
	store   store.LedgerStore
	redis   *cache.Redis
	metrics *metrics.Metrics

	assets         []models.Asset
	scanInterval   time.Duration
	initialDelay   time.Duration
	historyLimit   int
	depositExpiry  time.Duration
	expiryInterval time.Duration
	lockTTL        time.Duration
	instanceId     string
	now            func() time.Time

	// Control channels
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// ScanSummary counts what one scan pass did.
type ScanSummary struct {
	Assets       int
	Transactions int
	Matched      int
	Outcomes     map[reconcile.Outcome]int
	Errors       int
	Skipped      bool
}

// NewDepositListener creates a new deposit listener
func NewDepositListener(cfg DepositListenerConfig) *DepositListener {
	lc := cfg.Listener
	if lc.ScanInterval <= 0 {
		lc.ScanInterval = 5 * time.Minute
	}
	if lc.HistoryLimit <= 0 {
		lc.HistoryLimit = 50
	}
	if lc.DepositExpiry <= 0 {
		lc.DepositExpiry = 30 * time.Minute
	}
	if lc.ExpiryCheckInterval <= 0 {
		lc.ExpiryCheckInterval = time.Minute
	}
	if lc.ScanLockTTL <= 0 {
		lc.ScanLockTTL = lc.ScanInterval
	}

	return &DepositListener{
		gateway:        cfg.Gateway,
		engine:         cfg.Engine,
		store:          cfg.Store,
		redis:          cfg.Redis,
		metrics:        cfg.Metrics,
		assets:         lc.ScanAssets,
		scanInterval:   lc.ScanInterval,
		initialDelay:   lc.ScanInitialDelay,
		historyLimit:   lc.HistoryLimit,
		depositExpiry:  lc.DepositExpiry,
		expiryInterval: lc.ExpiryCheckInterval,
		lockTTL:        lc.ScanLockTTL,
		instanceId:     uuid.New().String(),
		now:            time.Now,
		stopChan:       make(chan struct{}),
	}
}

// Start launches the scan and expiry loops.
func (d *DepositListener) Start(ctx context.Context) {
	zap.L().Info("Starting deposit listener",
		zap.Duration("scan_interval", d.scanInterval),
		zap.Duration("initial_delay", d.initialDelay),
		zap.Duration("deposit_expiry", d.depositExpiry))

	d.wg.Add(2)
	go d.pollLoop(ctx)
	go d.expiryLoop(ctx)
}

// Stop gracefully stops the deposit listener
func (d *DepositListener) Stop() {
	zap.L().Info("Stopping deposit listener")
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()
	zap.L().Info("Deposit listener stopped")
}

// pollLoop runs the main polling loop
func (d *DepositListener) pollLoop(ctx context.Context) {
	defer d.wg.Done()

	delay := time.NewTimer(d.initialDelay)
	defer delay.Stop()
	select {
	case <-delay.C:
	case <-d.stopChan:
		return
	case <-ctx.Done():
		return
	}

	d.ScanOnce(ctx)

	ticker := time.NewTicker(d.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.ScanOnce(ctx)
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// ScanOnce runs one pass over every scanned asset. A failing asset or event
// is logged and skipped.
func (d *DepositListener) ScanOnce(ctx context.Context) ScanSummary {
	summary := ScanSummary{Outcomes: make(map[reconcile.Outcome]int)}

	release, err := d.redis.TryLock(ctx, d.redis.Key("scan", "lock"), d.instanceId, d.lockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			zap.L().Debug("Scan already running on another instance")
		} else {
			zap.L().Warn("Failed to take scan lock", zap.Error(err))
		}
		summary.Skipped = true
		d.countRun("skipped")
		return summary
	}
	defer release()

	addresses, err := d.store.GetAllAddresses(ctx)
	if err != nil {
		zap.L().Error("Failed to load deposit addresses", zap.Error(err))
		summary.Errors++
		d.countRun("error")
		return summary
	}
	byAsset := make(map[models.Asset][]models.DepositAddress)
	for _, addr := range addresses {
		byAsset[addr.Asset] = append(byAsset[addr.Asset], addr)
	}

	assets := d.scanAssets(byAsset)
	summary.Assets = len(assets)

	fmt.Printf("\n%s[%s] Scanning %d assets for %d addresses%s\n",
		colorCyan, d.now().Format("15:04:05"), len(assets), len(addresses), colorReset)

	for _, asset := range assets {
		d.scanAsset(ctx, asset, byAsset[asset], &summary)
	}

	status := "ok"
	if summary.Errors > 0 {
		status = "partial"
	}
	d.countRun(status)

	zap.L().Info("Scan complete",
		zap.Int("assets", summary.Assets),
		zap.Int("transactions", summary.Transactions),
		zap.Int("matched", summary.Matched),
		zap.Int("credited", summary.Outcomes[reconcile.OutcomeCredited]),
		zap.Int("errors", summary.Errors))
	return summary
}

// scanAssets returns the configured assets that have at least one address,
// or every asset with an address when none are configured.
func (d *DepositListener) scanAssets(byAsset map[models.Asset][]models.DepositAddress) []models.Asset {
	candidates := d.assets
	if len(candidates) == 0 {
		candidates = models.AllAssets()
	}
	var assets []models.Asset
	for _, a := range candidates {
		if len(byAsset[a]) > 0 {
			assets = append(assets, a)
		}
	}
	return assets
}

func (d *DepositListener) scanAsset(ctx context.Context, asset models.Asset, addresses []models.DepositAddress, summary *ScanSummary) {
	txs, err := d.gateway.GetTransactionHistory(ctx, asset, d.historyLimit, 0)
	if err != nil {
		fmt.Printf("  %s✗ %s: %s%s\n", colorRed, asset, err, colorReset)
		zap.L().Error("Failed to fetch transaction history",
			zap.String("asset", asset.String()),
			zap.Error(err))
		summary.Errors++
		return
	}
	summary.Transactions += len(txs)

	for _, tx := range txs {
		if !tx.Incoming() || !models.GatewayTxFinal(tx.Status) {
			continue
		}
		if matchAddress(addresses, tx) == nil {
			continue
		}
		summary.Matched++

		ev, err := reconcile.EventFromTransaction(tx, reconcile.SourceScan)
		if err != nil {
			zap.L().Warn("Skipping malformed transaction", zap.String("gateway_tx_id", tx.Id.String()), zap.Error(err))
			summary.Errors++
			continue
		}
		ev.Currency = asset.String()

		res, err := d.engine.Reconcile(ctx, ev)
		if err != nil {
			fmt.Printf("  %s✗ %s %s | %s | %s%s\n", colorRed, asset, tx.Amount, tx.Id, err, colorReset)
			zap.L().Error("Failed to reconcile transaction",
				zap.String("gateway_tx_id", tx.Id.String()),
				zap.String("asset", asset.String()),
				zap.Error(err))
			summary.Errors++
			continue
		}
		summary.Outcomes[res.Outcome]++

		switch res.Outcome {
		case reconcile.OutcomeCredited:
			fmt.Printf("  %s✓ %s %s | %s%s\n", colorGreen, asset, tx.Amount, tx.Id, colorReset)
		case reconcile.OutcomeDuplicate:
			fmt.Printf("  %s= %s %s | %s%s\n", colorGray, asset, tx.Amount, tx.Id, colorReset)
		default:
			fmt.Printf("  %s~ %s %s | %s | %s%s\n", colorYellow, asset, tx.Amount, tx.Id, res.Outcome, colorReset)
		}
	}
}

// matchAddress finds the static address a transaction was sent to. A memo
// address only matches its own memo; a memo-less address only matches
// transactions without one.
func matchAddress(addresses []models.DepositAddress, tx models.GatewayTransaction) *models.DepositAddress {
	memo := strings.TrimSpace(tx.DestTag.String())
	for i := range addresses {
		addr := &addresses[i]
		if !strings.EqualFold(addr.Address, strings.TrimSpace(tx.Address)) {
			continue
		}
		if addr.Memo == memo {
			return addr
		}
	}
	return nil
}

func (d *DepositListener) countRun(status string) {
	if d.metrics != nil {
		d.metrics.ScanRuns.WithLabelValues(status).Inc()
	}
}
