package investment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/formance"
	"github.com/python-is-trash/westwallet-backend/internal/metrics"
	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/referral"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrAmountOutOfRange is returned when an amount is outside the plan limits.
var ErrAmountOutOfRange = errors.New("amount outside plan limits")

type ClaimType string

const (
	ClaimProfit             ClaimType = "profit"
	ClaimPrincipalAndProfit ClaimType = "principal_and_profit"
)

func ParseClaimType(s string) (ClaimType, error) {
	switch ct := ClaimType(strings.ToLower(strings.TrimSpace(s))); ct {
	case ClaimProfit, ClaimPrincipalAndProfit:
		return ct, nil
	default:
		return "", fmt.Errorf("claim type %q: %w", s, store.ErrInvalidClaim)
	}
}

// Distributor pays referral commissions on realized profit.
type Distributor interface {
	Distribute(ctx context.Context, p referral.Profit) ([]models.ReferralEarning, error)
}

// Service opens positions, pays claims and settles matured positions.
type Service struct {
	store       store.LedgerStore
	distributor Distributor
	mirror      formance.Mirror
	metrics     *metrics.Metrics
	priority    models.NetworkPriority
	cooldown    time.Duration
	now         func() time.Time
}

func NewService(st store.LedgerStore, distributor Distributor, mirror formance.Mirror, m *metrics.Metrics,
	priority models.NetworkPriority, cfg models.InvestmentConfig) *Service {
	if priority == nil {
		priority = models.DefaultNetworkPriority()
	}
	if mirror == nil {
		mirror = formance.Noop{}
	}
	return &Service{
		store:       st,
		distributor: distributor,
		mirror:      mirror,
		metrics:     m,
		priority:    priority,
		cooldown:    cfg.ClaimCooldown,
		now:         time.Now,
	}
}

// CreateParams describes a new position.
type CreateParams struct {
	UserId string
	PlanId string
	Token  models.Token
	Amount decimal.Decimal
}

// CreateInvestment debits the token's networks in priority order and opens
// the position. It pays no referral commission.
func (s *Service) CreateInvestment(ctx context.Context, params CreateParams) (*models.Investment, error) {
	plan, err := s.store.GetPlan(ctx, params.PlanId)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, fmt.Errorf("plan %s is inactive: %w", plan.Name, store.ErrPlanNotFound)
	}
	if !params.Amount.IsPositive() || params.Amount.LessThan(plan.MinAmount) ||
		(plan.MaxAmount.IsPositive() && params.Amount.GreaterThan(plan.MaxAmount)) {
		return nil, fmt.Errorf("%s for %s (min %s, max %s): %w",
			params.Amount, plan.Name, plan.MinAmount, plan.MaxAmount, ErrAmountOutOfRange)
	}
	if len(s.priority.Assets(params.Token)) == 0 {
		return nil, fmt.Errorf("no networks configured for %s", params.Token)
	}

	inv, err := s.store.CreateInvestment(ctx, store.CreateInvestmentParams{
		UserId:     params.UserId,
		Plan:       *plan,
		Token:      params.Token,
		Amount:     params.Amount,
		Priority:   s.priority,
		UniqueCode: uniqueCode(),
		StartTime:  s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.mirrorInvestment(ctx, inv)
	return inv, nil
}

func uniqueCode() string {
	return "INV-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10])
}

// mirrorInvestment posts one movement per network the position was paid from.
func (s *Service) mirrorInvestment(ctx context.Context, inv *models.Investment) {
	entries, err := s.store.GetOperationHistory(ctx, inv.UserId, 50, 0)
	if err != nil {
		zap.L().Warn("Unable to load investment debits for ledger mirror",
			zap.String("investment_id", inv.Id),
			zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.InvestmentId != inv.Id || e.Type != models.OperationInvestment {
			continue
		}
		if err := s.mirror.Record(ctx, formance.Posting{
			Kind:         formance.KindInvestment,
			Reference:    "investment:" + e.Id,
			UserId:       inv.UserId,
			Asset:        e.Asset,
			Amount:       e.Amount.Abs(),
			InvestmentId: inv.Id,
		}); err != nil {
			zap.L().Warn("Ledger mirror rejected investment posting",
				zap.String("investment_id", inv.Id),
				zap.Error(err))
		}
	}
}

// ClaimResult reports what a claim or completion paid.
type ClaimResult struct {
	InvestmentId string
	Type         ClaimType
	Asset        models.Asset
	Profit       decimal.Decimal
	Principal    decimal.Decimal
	Completed    bool
	Operation    *models.OperationEntry
	Commissions  []models.ReferralEarning
}

// Total is the amount credited to the user.
func (r ClaimResult) Total() decimal.Decimal {
	return r.Profit.Add(r.Principal)
}

// Claim pays the claimable profit, and with ClaimPrincipalAndProfit also the
// principal. A claim that would pay nothing changes nothing and does not
// start the cooldown.
func (s *Service) Claim(ctx context.Context, userId, investmentId string, claimType ClaimType) (*ClaimResult, error) {
	inv, err := s.store.GetInvestment(ctx, investmentId)
	if err != nil {
		return nil, err
	}
	if inv.UserId != userId {
		return nil, fmt.Errorf("investment %s: %w", investmentId, store.ErrInvestmentNotFound)
	}
	if inv.Status != models.InvestmentActive {
		return nil, fmt.Errorf("investment %s: %w", investmentId, store.ErrInvestmentNotActive)
	}

	now := s.now()
	result := &ClaimResult{
		InvestmentId: inv.Id,
		Type:         claimType,
		Asset:        inv.Asset,
		Profit:       ClaimableProfit(*inv, now),
		Principal:    decimal.Zero,
	}

	switch claimType {
	case ClaimProfit:
	case ClaimPrincipalAndProfit:
		if inv.Locked && !Matured(*inv, now) {
			return nil, fmt.Errorf("principal is locked until %s: %w",
				inv.EndTime.UTC().Format(time.RFC3339), store.ErrInvalidClaim)
		}
		result.Principal = inv.Principal
		result.Completed = true
	default:
		return nil, fmt.Errorf("claim type %q: %w", claimType, store.ErrInvalidClaim)
	}

	if result.Total().IsZero() {
		zap.L().Info("Nothing to claim",
			zap.String("investment_id", inv.Id),
			zap.String("user_id", userId),
			zap.Bool("locked", inv.Locked))
		return result, nil
	}

	lastClaim := inv.LastClaimTime
	if result.Profit.IsPositive() {
		lastClaim = &now
	}
	params := store.InvestmentPayoutParams{
		InvestmentId:      inv.Id,
		UserId:            userId,
		ExpectedVersion:   inv.Version,
		Asset:             inv.Asset,
		Profit:            result.Profit,
		Principal:         result.Principal,
		AccumulatedProfit: inv.AccumulatedProfit.Add(result.Profit),
		LastClaimTime:     lastClaim,
		Complete:          result.Completed,
		OperationType:     models.OperationClaim,
		Description:       claimDescription(inv, result),
		Notification:      completionNotice(inv, result.Total()),
		Now:               now,
	}
	if s.cooldown > 0 {
		since := now.Add(-s.cooldown)
		params.CooldownSince = &since
	}

	entry, err := s.store.ApplyInvestmentPayout(ctx, params)
	if err != nil {
		if !errors.Is(err, store.ErrClaimCooldown) {
			zap.L().Error("Claim failed",
				zap.String("investment_id", inv.Id),
				zap.String("user_id", userId),
				zap.Error(err))
		}
		return nil, err
	}
	result.Operation = entry

	result.Commissions = s.afterPayout(ctx, inv, result, models.OperationClaim)
	return result, nil
}

// AutoCompleteMatured settles every locked position past its end time:
// principal plus remaining profit is credited and the position completed.
// A position settled concurrently by a claim is skipped.
func (s *Service) AutoCompleteMatured(ctx context.Context) (int, error) {
	now := s.now()
	matured, err := s.store.GetMaturedInvestments(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("unable to load matured investments: %w", err)
	}

	completed := 0
	var errs []error
	for i := range matured {
		inv := &matured[i]
		result := &ClaimResult{
			InvestmentId: inv.Id,
			Type:         ClaimPrincipalAndProfit,
			Asset:        inv.Asset,
			Profit:       LockedProfit(*inv, now),
			Principal:    inv.Principal,
			Completed:    true,
		}

		entry, err := s.store.ApplyInvestmentPayout(ctx, store.InvestmentPayoutParams{
			InvestmentId:      inv.Id,
			UserId:            inv.UserId,
			ExpectedVersion:   inv.Version,
			Asset:             inv.Asset,
			Profit:            result.Profit,
			Principal:         result.Principal,
			AccumulatedProfit: inv.AccumulatedProfit.Add(result.Profit),
			LastClaimTime:     inv.LastClaimTime,
			Complete:          true,
			OperationType:     models.OperationAutoClaim,
			Description:       claimDescription(inv, result),
			Notification:      completionNotice(inv, result.Total()),
			Now:               now,
		})
		switch {
		case err == nil:
		case errors.Is(err, store.ErrConcurrentModification), errors.Is(err, store.ErrInvestmentNotActive):
			zap.L().Debug("Matured investment settled elsewhere", zap.String("investment_id", inv.Id))
			continue
		default:
			zap.L().Error("Failed to auto-complete investment",
				zap.String("investment_id", inv.Id),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("investment %s: %w", inv.Id, err))
			continue
		}
		result.Operation = entry
		completed++

		s.afterPayout(ctx, inv, result, models.OperationAutoClaim)
	}
	return completed, errors.Join(errs...)
}

// afterPayout runs once the payout committed. Mirror and referral failures
// are logged and never undo the payout.
func (s *Service) afterPayout(ctx context.Context, inv *models.Investment, result *ClaimResult, opType string) []models.ReferralEarning {
	if s.metrics != nil {
		s.metrics.InvestmentPayouts.WithLabelValues(opType).Inc()
	}
	if result.Operation == nil {
		return nil
	}

	if err := s.mirror.Record(ctx, formance.Posting{
		Kind:         formance.KindPayout,
		Reference:    "payout:" + result.Operation.Id,
		UserId:       inv.UserId,
		Asset:        inv.Asset,
		Amount:       result.Total(),
		InvestmentId: inv.Id,
		Metadata: map[string]string{
			"profit":    result.Profit.String(),
			"principal": result.Principal.String(),
			"type":      opType,
		},
	}); err != nil {
		zap.L().Warn("Ledger mirror rejected payout posting",
			zap.String("investment_id", inv.Id),
			zap.Error(err))
	}

	if s.distributor == nil || !result.Profit.IsPositive() {
		return nil
	}
	earnings, err := s.distributor.Distribute(ctx, referral.Profit{
		UserId:            inv.UserId,
		InvestmentId:      inv.Id,
		Asset:             inv.Asset,
		Amount:            result.Profit,
		SourceOperationId: result.Operation.Id,
	})
	if err != nil {
		zap.L().Error("Referral distribution failed",
			zap.String("investment_id", inv.Id),
			zap.String("operation_id", result.Operation.Id),
			zap.Error(err))
	}
	return earnings
}

func claimDescription(inv *models.Investment, r *ClaimResult) string {
	if r.Principal.IsPositive() {
		return fmt.Sprintf("Investment %s: principal %s + profit %s %s", inv.UniqueCode, r.Principal, r.Profit, r.Asset)
	}
	return fmt.Sprintf("Investment %s: profit %s %s", inv.UniqueCode, r.Profit, r.Asset)
}

func completionNotice(inv *models.Investment, total decimal.Decimal) string {
	return fmt.Sprintf("Investment %s completed: %s %s credited to your balance.", inv.UniqueCode, total, inv.Asset)
}
