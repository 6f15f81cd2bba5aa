package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/formance"
	"github.com/python-is-trash/westwallet-backend/internal/metrics"
	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionLookup re-reads a transaction from the gateway.
type TransactionLookup interface {
	GetTransaction(ctx context.Context, id string) (*models.GatewayTransaction, error)
}

// Engine decides whether an observed gateway transaction credits a pending
// deposit, and applies the credit atomically when it does.
type Engine struct {
	store    store.LedgerStore
	lookup   TransactionLookup
	mirror   formance.Mirror
	metrics  *metrics.Metrics
	cfg      models.ReconcileConfig
	validate *validator.Validate
	now      func() time.Time
}

// DefaultConfig returns the production guard windows.
func DefaultConfig() models.ReconcileConfig {
	return models.ReconcileConfig{
		HashLookback:         30 * 24 * time.Hour,
		TxIdLookback:         7 * 24 * time.Hour,
		AmountWindow:         3 * time.Minute,
		AmountTolerance:      decimal.New(1, -6),
		SynthesizeForStatics: true,
	}
}

func NewEngine(st store.LedgerStore, mirror formance.Mirror, m *metrics.Metrics, cfg models.ReconcileConfig) *Engine {
	def := DefaultConfig()
	if cfg.HashLookback <= 0 {
		cfg.HashLookback = def.HashLookback
	}
	if cfg.TxIdLookback <= 0 {
		cfg.TxIdLookback = def.TxIdLookback
	}
	if cfg.AmountWindow <= 0 {
		cfg.AmountWindow = def.AmountWindow
	}
	if !cfg.AmountTolerance.IsPositive() {
		cfg.AmountTolerance = def.AmountTolerance
	}
	if mirror == nil {
		mirror = formance.Noop{}
	}
	return &Engine{
		store:    st,
		mirror:   mirror,
		metrics:  m,
		cfg:      cfg,
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithLookup sets where transaction times missing from an event are read.
// Webhook deliveries carry no timestamp.
func (e *Engine) WithLookup(lookup TransactionLookup) *Engine {
	e.lookup = lookup
	return e
}

// target is the deposit row a transaction will be credited against.
type target struct {
	deposit  *models.Deposit
	viaLabel bool
}

// Reconcile runs the duplicate guards for ev and credits the matching
// deposit. Duplicates, lost races, stale and unmatched transactions are
// reported as outcomes; only validation and infrastructure failures are
// returned as errors.
func (e *Engine) Reconcile(ctx context.Context, ev Event) (Result, error) {
	ev = normalize(ev)
	result, err := e.reconcile(ctx, ev)
	if err != nil {
		if e.metrics != nil && !errors.Is(err, ErrInvalidEvent) {
			e.metrics.Errors.WithLabelValues("reconcile").Inc()
		}
		return result, err
	}
	if e.metrics != nil {
		e.metrics.ReconcileOutcomes.WithLabelValues(string(ev.Source), string(result.Outcome)).Inc()
	}
	return result, nil
}

func (e *Engine) reconcile(ctx context.Context, ev Event) (Result, error) {
	if err := e.validate.Struct(ev); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if !ev.Amount.IsPositive() {
		return Result{}, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidEvent, ev.Amount)
	}
	asset, err := models.ParseAsset(ev.Currency)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	generic := !strings.EqualFold(asset.String(), strings.TrimSpace(ev.Currency))

	log := zap.L().With(
		zap.String("source", string(ev.Source)),
		zap.String("gateway_tx_id", ev.GatewayTxId),
		zap.String("hash", ev.BlockchainHash),
		zap.String("asset", asset.String()),
		zap.String("amount", ev.Amount.String()))

	base := Result{Asset: asset, Amount: ev.Amount}

	if ev.Status != "" && !models.GatewayTxFinal(ev.Status) {
		log.Debug("Gateway transaction not final yet", zap.String("status", ev.Status))
		return withOutcome(base, OutcomeIgnored, "status "+ev.Status), nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		if res, done, err := e.globalGuards(ctx, ev, base); err != nil || done {
			return res, err
		}

		tgt, res, done, err := e.locate(ctx, ev, asset, base)
		if err != nil || done {
			if done && res.Outcome == OutcomeNotFound {
				log.Warn("No deposit matches gateway transaction",
					zap.String("address", ev.Address),
					zap.String("memo", ev.Memo),
					zap.String("label", ev.Label))
			}
			return res, err
		}

		dep := tgt.deposit
		creditAsset := asset
		if generic && dep.Asset.Token() == asset.Token() {
			creditAsset = dep.Asset
		}
		base.Asset = creditAsset
		base.DepositId = dep.Id
		base.UserId = dep.UserId

		if res, done, err := e.userGuards(ctx, ev, creditAsset, base); err != nil || done {
			if done {
				log.Info("Duplicate detected by history guard",
					zap.String("user_id", dep.UserId),
					zap.String("reason", res.Reason))
			}
			return res, err
		}

		address := ev.Address
		if dep.Address != "" {
			address = dep.Address
		}
		entry, err := e.store.CreditDeposit(ctx, store.CreditDepositParams{
			DepositId:      dep.Id,
			UserId:         dep.UserId,
			Asset:          creditAsset,
			Amount:         ev.Amount,
			GatewayTxId:    ev.GatewayTxId,
			BlockchainHash: ev.BlockchainHash,
			Confirmations:  ev.Confirmations,
			Address:        address,
			Description:    Description(ev.Amount, creditAsset, ev.BlockchainHash, ev.GatewayTxId),
			Notification:   notificationText(ev.Amount, creditAsset),
			CreditedAt:     e.now(),
		})
		switch {
		case err == nil:
			e.afterCommit(ctx, dep, creditAsset, ev, entry)
			res := withOutcome(base, OutcomeCredited, "")
			res.Operation = entry
			return res, nil
		case errors.Is(err, store.ErrDuplicateTransaction):
			return withOutcome(base, OutcomeDuplicate, "unique constraint"), nil
		case errors.Is(err, store.ErrDepositNotPending):
			// Another event took this deposit. A second transfer to a
			// static address gets one more pass and a fresh deposit row.
			if tgt.viaLabel || attempt > 0 {
				log.Info("Lost credit race", zap.String("deposit_id", dep.Id))
				return withOutcome(base, OutcomeRaceLost, "deposit no longer pending"), nil
			}
			continue
		default:
			return base, fmt.Errorf("failed to credit deposit %s: %w", dep.Id, err)
		}
	}
	return withOutcome(base, OutcomeRaceLost, "deposit no longer pending"), nil
}

// globalGuards reject a hash or gateway id already credited to anyone.
func (e *Engine) globalGuards(ctx context.Context, ev Event, base Result) (Result, bool, error) {
	if ev.BlockchainHash != "" {
		credited, err := e.store.IsHashCredited(ctx, ev.BlockchainHash)
		if err != nil {
			return base, true, err
		}
		if credited {
			return withOutcome(base, OutcomeDuplicate, "hash already credited"), true, nil
		}
	}
	credited, err := e.store.IsGatewayTxCredited(ctx, ev.GatewayTxId)
	if err != nil {
		return base, true, err
	}
	if credited {
		return withOutcome(base, OutcomeDuplicate, "gateway transaction already credited"), true, nil
	}
	return base, false, nil
}

func (e *Engine) locate(ctx context.Context, ev Event, asset models.Asset, base Result) (target, Result, bool, error) {
	if ev.Label != "" {
		dep, err := e.store.GetDepositByLabel(ctx, ev.Label)
		if err != nil {
			return target{}, base, true, err
		}
		// A static address keeps the label it was generated with, so a later
		// transfer may name an already credited deposit. The global guards
		// have cleared this transaction; fall through to the address.
		if dep != nil && dep.Status == models.DepositPending {
			base.DepositId = dep.Id
			base.UserId = dep.UserId
			return target{deposit: dep, viaLabel: true}, base, false, nil
		}
	}

	addr, err := e.findAddress(ctx, ev, asset)
	if err != nil {
		return target{}, base, true, err
	}
	if addr == nil {
		return target{}, withOutcome(base, OutcomeNotFound, "unknown address"), true, nil
	}
	base.UserId = addr.UserId

	txTime, timeKnown := e.transactionTime(ctx, ev)

	dep, err := e.store.GetLatestPendingDeposit(ctx, addr.UserId, addr.Address, addr.Asset)
	if err != nil {
		return target{}, base, true, err
	}
	if dep != nil {
		base.DepositId = dep.Id
		// Without a time the transfer may predate this deposit.
		if !timeKnown {
			return target{}, withOutcome(base, OutcomeStale, "transaction time unknown"), true, nil
		}
		if dep.CreatedAt.After(txTime) {
			return target{}, withOutcome(base, OutcomeStale, "transaction predates pending deposit"), true, nil
		}
		return target{deposit: dep}, base, false, nil
	}

	// The history holds every past transfer; only a notification may open
	// a deposit on its own.
	if ev.Source != SourceWebhook {
		return target{}, withOutcome(base, OutcomeStale, "no pending deposit"), true, nil
	}
	if !e.cfg.SynthesizeForStatics {
		return target{}, withOutcome(base, OutcomeNotFound, "no pending deposit"), true, nil
	}
	if !timeKnown {
		txTime = e.now()
	} else if txTime.Before(addr.CreatedAt) {
		return target{}, withOutcome(base, OutcomeStale, "transaction predates address"), true, nil
	}

	dep, err = e.synthesize(ctx, ev, addr, txTime)
	if err != nil {
		return target{}, base, true, err
	}
	if dep == nil {
		return target{}, withOutcome(base, OutcomeRaceLost, "synthesized deposit taken"), true, nil
	}
	base.DepositId = dep.Id
	return target{deposit: dep}, base, false, nil
}

// findAddress resolves the receiving address. A generic ticker may name any
// network of its token, the default network first.
func (e *Engine) findAddress(ctx context.Context, ev Event, asset models.Asset) (*models.DepositAddress, error) {
	candidates := []models.Asset{asset}
	if !strings.EqualFold(asset.String(), strings.TrimSpace(ev.Currency)) {
		for _, a := range models.AllAssets() {
			if a != asset && a.Token() == asset.Token() {
				candidates = append(candidates, a)
			}
		}
	}
	for _, candidate := range candidates {
		addr, err := e.store.FindAddress(ctx, ev.Address, ev.Memo, candidate)
		if err != nil || addr != nil {
			return addr, err
		}
	}
	return nil, nil
}

// transactionTime returns when the transfer happened, asking the gateway when
// the event does not say.
func (e *Engine) transactionTime(ctx context.Context, ev Event) (time.Time, bool) {
	if !ev.TxTime.IsZero() {
		return ev.TxTime, true
	}
	if e.lookup == nil {
		return time.Time{}, false
	}
	tx, err := e.lookup.GetTransaction(ctx, ev.GatewayTxId)
	if err != nil || tx == nil {
		zap.L().Warn("Unable to read transaction time from gateway",
			zap.String("gateway_tx_id", ev.GatewayTxId),
			zap.Error(err))
		return time.Time{}, false
	}
	return tx.Time()
}

// synthesize opens a pending deposit for a transfer to a static address
// that arrived without a request. The label is derived from the gateway id,
// so concurrent observers converge on one row.
func (e *Engine) synthesize(ctx context.Context, ev Event, addr *models.DepositAddress, txTime time.Time) (*models.Deposit, error) {
	label := "static_" + ev.GatewayTxId
	dep, err := e.store.CreateDeposit(ctx, store.CreateDepositParams{
		UserId:          addr.UserId,
		Label:           label,
		Asset:           addr.Asset,
		RequestedAmount: ev.Amount,
		Address:         addr.Address,
		Memo:            addr.Memo,
		CreatedAt:       txTime,
	})
	if err == nil {
		zap.L().Info("Synthesized deposit for static address",
			zap.String("deposit_id", dep.Id),
			zap.String("user_id", addr.UserId),
			zap.String("gateway_tx_id", ev.GatewayTxId))
		return dep, nil
	}
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		return nil, err
	}

	existing, err := e.store.GetDepositByLabel(ctx, label)
	if err != nil {
		return nil, err
	}
	if existing == nil || existing.Status != models.DepositPending {
		return nil, nil
	}
	return existing, nil
}

// userGuards check the user's own audit history for this transfer.
func (e *Engine) userGuards(ctx context.Context, ev Event, asset models.Asset, base Result) (Result, bool, error) {
	now := e.now()
	found, err := e.store.HasOperationReference(ctx, store.OperationReferenceQuery{
		UserId:       base.UserId,
		Hash:         ev.BlockchainHash,
		HashSince:    now.Add(-e.cfg.HashLookback),
		GatewayTxId:  ev.GatewayTxId,
		GatewaySince: now.Add(-e.cfg.TxIdLookback),
	})
	if err != nil {
		return base, true, err
	}
	if found {
		return withOutcome(base, OutcomeDuplicate, "referenced in operation history"), true, nil
	}

	if ev.BlockchainHash != "" {
		return base, false, nil
	}
	amounts, err := e.store.GetRecentOperationAmounts(ctx, base.UserId, asset, models.OperationDeposit, now.Add(-e.cfg.AmountWindow))
	if err != nil {
		return base, true, err
	}
	for _, amount := range amounts {
		if amount.Sub(ev.Amount).Abs().LessThanOrEqual(e.cfg.AmountTolerance) {
			return withOutcome(base, OutcomeDuplicate, "same amount credited recently"), true, nil
		}
	}
	return base, false, nil
}

func (e *Engine) afterCommit(ctx context.Context, dep *models.Deposit, asset models.Asset, ev Event, entry *models.OperationEntry) {
	if e.metrics != nil {
		e.metrics.DepositsCredited.WithLabelValues(asset.String()).Inc()
	}

	mctx := ctx
	if models.GetGatewayContext(ctx) == nil {
		mctx = models.WithGatewayContext(ctx, &models.GatewayContext{
			Source:     string(ev.Source),
			RawStatus:  ev.Status,
			ReceivedAt: ev.TxTime,
		})
	}
	err := e.mirror.Record(mctx, formance.Posting{
		Kind:      formance.KindDeposit,
		Reference: "deposit:" + dep.Id,
		UserId:    dep.UserId,
		Asset:     asset,
		Amount:    ev.Amount,
		Metadata: map[string]string{
			"deposit_id":      dep.Id,
			"gateway_tx_id":   ev.GatewayTxId,
			"blockchain_hash": ev.BlockchainHash,
			"operation_id":    entry.Id,
		},
	})
	if err != nil {
		zap.L().Warn("Failed to mirror deposit", zap.String("deposit_id", dep.Id), zap.Error(err))
	}
}

func withOutcome(r Result, outcome Outcome, reason string) Result {
	r.Outcome = outcome
	r.Reason = reason
	return r
}
