package referral

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/formance"
	"github.com/python-is-trash/westwallet-backend/internal/metrics"
	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// PriceSource converts an amount of an asset to USD.
type PriceSource interface {
	ToUSD(ctx context.Context, asset models.Asset, amount decimal.Decimal) (decimal.Decimal, error)
}

// Profit is one realized profit a user's ancestors are paid on.
type Profit struct {
	UserId            string
	InvestmentId      string
	Asset             models.Asset
	Amount            decimal.Decimal
	SourceOperationId string
}

// Distributor pays per-level commissions on realized profit.
type Distributor struct {
	store   store.LedgerStore
	prices  PriceSource
	mirror  formance.Mirror
	metrics *metrics.Metrics
	rates   []decimal.Decimal
	now     func() time.Time
}

// DefaultRates are the level 1..3 commission percentages.
func DefaultRates() []decimal.Decimal {
	return []decimal.Decimal{
		decimal.NewFromInt(15),
		decimal.NewFromInt(10),
		decimal.NewFromInt(5),
	}
}

func NewDistributor(st store.LedgerStore, prices PriceSource, mirror formance.Mirror, m *metrics.Metrics, cfg models.ReferralConfig) *Distributor {
	rates := cfg.Rates
	if len(rates) == 0 {
		rates = DefaultRates()
	}
	if len(rates) > store.MaxReferralDepth {
		rates = rates[:store.MaxReferralDepth]
	}
	if mirror == nil {
		mirror = formance.Noop{}
	}
	return &Distributor{
		store:   st,
		prices:  prices,
		mirror:  mirror,
		metrics: m,
		rates:   rates,
		now:     time.Now,
	}
}

// Rate returns the commission percentage for a level, or zero when the
// level is not paid.
func (d *Distributor) Rate(level int) decimal.Decimal {
	if level < 1 || level > len(d.rates) {
		return decimal.Zero
	}
	return d.rates[level-1]
}

// Distribute credits every paid ancestor of p.UserId in p.Asset. Each payout
// commits on its own; an ancestor already paid for the same source operation
// is skipped. Failures for one ancestor do not stop the others.
func (d *Distributor) Distribute(ctx context.Context, p Profit) ([]models.ReferralEarning, error) {
	if !p.Amount.IsPositive() {
		return nil, nil
	}
	if p.SourceOperationId == "" {
		return nil, fmt.Errorf("referral distribution for %s needs a source operation", p.UserId)
	}

	edges, err := d.store.GetReferralAncestors(ctx, p.UserId, len(d.rates))
	if err != nil {
		return nil, fmt.Errorf("unable to load referral chain: %w", err)
	}
	if len(edges) == 0 {
		return nil, nil
	}

	usd := decimal.Zero
	if d.prices != nil {
		if usd, err = d.prices.ToUSD(ctx, p.Asset, p.Amount); err != nil {
			zap.L().Warn("USD conversion failed for referral profit",
				zap.String("asset", p.Asset.String()),
				zap.Error(err))
			usd = decimal.Zero
		}
	}

	var (
		earnings []models.ReferralEarning
		errs     []error
	)
	for _, edge := range edges {
		pct := d.Rate(edge.Level)
		if !edge.Active || !pct.IsPositive() {
			continue
		}
		commission := p.Amount.Mul(pct).Div(hundred).RoundDown(8)
		if !commission.IsPositive() {
			continue
		}
		usdValue := usd.Mul(pct).Div(hundred).Round(2)

		earning, err := d.store.CreditReferralCommission(ctx, store.ReferralCommissionParams{
			ReferrerId:        edge.ReferrerId,
			ReferredId:        p.UserId,
			Level:             edge.Level,
			Percentage:        pct,
			Asset:             p.Asset,
			Amount:            commission,
			UsdValue:          usdValue,
			InvestmentId:      p.InvestmentId,
			SourceOperationId: p.SourceOperationId,
			Description: fmt.Sprintf("Level %d referral bonus: %s%% of %s %s profit",
				edge.Level, pct, p.Amount, p.Asset),
			Notification: Notification(commission, p.Asset, usdValue, edge.Level),
			CreatedAt:    d.now(),
		})
		if errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Debug("Referral commission already paid",
				zap.String("referrer_id", edge.ReferrerId),
				zap.String("source_operation_id", p.SourceOperationId),
				zap.Int("level", edge.Level))
			continue
		}
		if err != nil {
			zap.L().Error("Failed to credit referral commission",
				zap.String("referrer_id", edge.ReferrerId),
				zap.Int("level", edge.Level),
				zap.Error(err))
			if d.metrics != nil {
				d.metrics.Errors.WithLabelValues("referral").Inc()
			}
			errs = append(errs, fmt.Errorf("level %d: %w", edge.Level, err))
			continue
		}

		if d.metrics != nil {
			d.metrics.ReferralCommissions.WithLabelValues(strconv.Itoa(edge.Level)).Inc()
		}
		if err := d.mirror.Record(ctx, formance.Posting{
			Kind:         formance.KindReferral,
			Reference:    "referral:" + earning.Id,
			UserId:       edge.ReferrerId,
			Asset:        p.Asset,
			Amount:       commission,
			InvestmentId: p.InvestmentId,
			Metadata: map[string]string{
				"level":       strconv.Itoa(edge.Level),
				"referred_id": p.UserId,
			},
		}); err != nil {
			zap.L().Warn("Ledger mirror rejected referral posting",
				zap.String("earning_id", earning.Id),
				zap.Error(err))
		}
		earnings = append(earnings, *earning)
	}

	return earnings, errors.Join(errs...)
}

// Notification is the message a referrer receives for one payout.
func Notification(amount decimal.Decimal, asset models.Asset, usd decimal.Decimal, level int) string {
	return fmt.Sprintf("You earned %s %s (~$%s) from Level %d referral!",
		amount.String(), asset, usd.StringFixed(2), level)
}
