package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanPlan(row rowScanner) (*models.Plan, error) {
	var plan models.Plan
	var daily, minAmount, maxAmount string
	if err := row.Scan(&plan.Id, &plan.Name, &daily, &plan.DurationHours, &minAmount, &maxAmount,
		&plan.Locked, &plan.Active, &plan.SortOrder, &plan.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if plan.DailyReturn, err = parseDecimal(daily, "daily_return"); err != nil {
		return nil, err
	}
	if plan.MinAmount, err = parseDecimal(minAmount, "min_amount"); err != nil {
		return nil, err
	}
	if plan.MaxAmount, err = parseDecimal(maxAmount, "max_amount"); err != nil {
		return nil, err
	}
	return &plan, nil
}

func scanInvestment(row rowScanner) (*models.Investment, error) {
	var inv models.Investment
	var principal, returnAmount, daily, accumulated string
	if err := row.Scan(&inv.Id, &inv.UserId, &inv.PlanId, &inv.UniqueCode, &principal, &returnAmount,
		&daily, &inv.DurationHours, &inv.Locked, &inv.Asset, &inv.Status, &inv.StartTime, &inv.EndTime,
		&inv.LastClaimTime, &accumulated, &inv.Version, &inv.CompletedAt); err != nil {
		return nil, err
	}
	var err error
	if inv.Principal, err = parseDecimal(principal, "amount"); err != nil {
		return nil, err
	}
	if inv.ReturnAmount, err = parseDecimal(returnAmount, "return_amount"); err != nil {
		return nil, err
	}
	if inv.DailyRate, err = parseDecimal(daily, "daily_rate"); err != nil {
		return nil, err
	}
	if inv.AccumulatedProfit, err = parseDecimal(accumulated, "accumulated_profit"); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) CreatePlan(ctx context.Context, plan models.Plan) (*models.Plan, error) {
	if plan.Name == "" {
		return nil, fmt.Errorf("plan name cannot be empty")
	}
	if plan.Id == "" {
		plan.Id = uuid.New().String()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, queryInsertPlan, plan.Id, plan.Name, plan.DailyReturn.String(),
		plan.DurationHours, plan.MinAmount.String(), plan.MaxAmount.String(), plan.Locked, plan.Active,
		plan.SortOrder, plan.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("plan %s: %w", plan.Name, store.ErrDuplicateTransaction)
	}
	if err != nil {
		return nil, fmt.Errorf("insert plan: %w", err)
	}
	return &plan, nil
}

func (s *Store) GetPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	rows, err := s.pool.Query(ctx, queryGetPlans, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

func (s *Store) GetPlan(ctx context.Context, planId string) (*models.Plan, error) {
	plan, err := scanPlan(s.pool.QueryRow(ctx, queryGetPlan, planId))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", planId, store.ErrPlanNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

// CreateInvestment debits the token's networks in priority order under row
// locks and opens the position in the same transaction.
func (s *Store) CreateInvestment(ctx context.Context, params store.CreateInvestmentParams) (*models.Investment, error) {
	start := params.StartTime.UTC()
	if params.StartTime.IsZero() {
		start = time.Now().UTC()
	}

	var inv *models.Investment
	var debitCount int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		balances, err := s.getAccountBalances(ctx, tx, params.UserId)
		if err != nil {
			return err
		}
		debits, err := params.Priority.PlanDebit(params.Token, models.NewBalanceSheet(balances), params.Amount)
		if err != nil {
			return fmt.Errorf("unable to debit %s %s: %w", params.Amount, params.Token, err)
		}
		debitCount = len(debits)

		returnAmount := params.Amount.Mul(decimal.NewFromInt(1).Add(params.Plan.DailyReturn.Div(decimal.NewFromInt(100))))
		end := start.AddDate(100, 0, 0)
		if params.Plan.DurationHours > 0 {
			end = start.Add(time.Duration(params.Plan.DurationHours) * time.Hour)
		}

		inv = &models.Investment{
			Id:                uuid.New().String(),
			UserId:            params.UserId,
			PlanId:            params.Plan.Id,
			UniqueCode:        params.UniqueCode,
			Principal:         params.Amount,
			ReturnAmount:      returnAmount,
			DailyRate:         params.Plan.DailyReturn,
			DurationHours:     params.Plan.DurationHours,
			Locked:            params.Plan.Locked,
			Asset:             debits[0].Asset,
			Status:            models.InvestmentActive,
			StartTime:         start,
			EndTime:           end,
			AccumulatedProfit: decimal.Zero,
			Version:           1,
		}

		if _, err := tx.Exec(ctx, queryInsertInvestment, inv.Id, inv.UserId, inv.PlanId, inv.UniqueCode,
			inv.Principal.String(), inv.ReturnAmount.String(), inv.DailyRate.String(), inv.DurationHours,
			inv.Locked, inv.Asset, inv.StartTime, inv.EndTime); err != nil {
			return fmt.Errorf("insert investment: %w", err)
		}

		// applyOperation locks each balance row and rejects overdrafts, so a
		// concurrent debit between the read above and here cannot go negative.
		for _, debit := range debits {
			if _, err := applyOperation(ctx, tx, operationParams{
				UserId:       params.UserId,
				Asset:        debit.Asset,
				Type:         models.OperationInvestment,
				Amount:       debit.Amount.Neg(),
				Reference:    inv.UniqueCode,
				InvestmentId: inv.Id,
				Description:  fmt.Sprintf("Investment %s in %s: %s %s", inv.UniqueCode, params.Plan.Name, debit.Amount, debit.Asset),
				CreatedAt:    start,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Investment created",
		zap.String("investment_id", inv.Id),
		zap.String("user_id", inv.UserId),
		zap.String("plan", params.Plan.Name),
		zap.String("amount", inv.Principal.String()),
		zap.String("asset", inv.Asset.String()),
		zap.Int("networks_debited", debitCount))
	return inv, nil
}

func (s *Store) GetInvestment(ctx context.Context, investmentId string) (*models.Investment, error) {
	inv, err := scanInvestment(s.pool.QueryRow(ctx, queryGetInvestment, investmentId))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("investment %s: %w", investmentId, store.ErrInvestmentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get investment: %w", err)
	}
	return inv, nil
}

func (s *Store) queryInvestments(ctx context.Context, query string, args ...any) ([]models.Investment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list investments: %w", err)
	}
	defer rows.Close()

	var investments []models.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan investment: %w", err)
		}
		investments = append(investments, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investments: %w", err)
	}
	return investments, nil
}

func (s *Store) GetUserInvestments(ctx context.Context, userId string) ([]models.Investment, error) {
	return s.queryInvestments(ctx, queryGetUserInvestments, userId)
}

func (s *Store) GetMaturedInvestments(ctx context.Context, now time.Time) ([]models.Investment, error) {
	return s.queryInvestments(ctx, queryGetMaturedInvestments, now.UTC())
}

func (s *Store) ApplyInvestmentPayout(ctx context.Context, params store.InvestmentPayoutParams) (*models.OperationEntry, error) {
	now := params.Now.UTC()

	var entry *models.OperationEntry
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if params.CooldownSince != nil {
			tag, err := tx.Exec(ctx, queryTouchUserClaim, now, params.UserId, params.CooldownSince.UTC())
			if err != nil {
				return fmt.Errorf("update claim time: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return store.ErrClaimCooldown
			}
		}

		status := models.InvestmentActive
		var completedAt *time.Time
		if params.Complete {
			status = models.InvestmentCompleted
			completedAt = &now
		}

		tag, err := tx.Exec(ctx, queryUpdateInvestmentPayout, params.AccumulatedProfit.String(),
			utcPtr(params.LastClaimTime), status, completedAt,
			params.InvestmentId, params.UserId, params.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("update investment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			inv, err := scanInvestment(tx.QueryRow(ctx, queryGetInvestment, params.InvestmentId))
			switch {
			case errors.Is(err, pgx.ErrNoRows), err == nil && inv.UserId != params.UserId:
				return fmt.Errorf("investment %s: %w", params.InvestmentId, store.ErrInvestmentNotFound)
			case err != nil:
				return fmt.Errorf("reload investment: %w", err)
			case inv.Status != models.InvestmentActive:
				return fmt.Errorf("investment %s: %w", params.InvestmentId, store.ErrInvestmentNotActive)
			default:
				return fmt.Errorf("investment update failed - %w", store.ErrConcurrentModification)
			}
		}

		if credit := params.Profit.Add(params.Principal); credit.IsPositive() {
			entry, err = applyOperation(ctx, tx, operationParams{
				UserId:       params.UserId,
				Asset:        params.Asset,
				Type:         params.OperationType,
				Amount:       credit,
				Reference:    params.InvestmentId,
				InvestmentId: params.InvestmentId,
				Description:  params.Description,
				CreatedAt:    now,
			})
			if err != nil {
				return err
			}
		}

		if params.Complete {
			return enqueueNotification(ctx, tx, params.UserId, models.NotificationInvestmentDone,
				params.InvestmentId, params.Notification, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Investment payout applied",
		zap.String("investment_id", params.InvestmentId),
		zap.String("user_id", params.UserId),
		zap.String("type", params.OperationType),
		zap.String("profit", params.Profit.String()),
		zap.String("principal", params.Principal.String()),
		zap.Bool("completed", params.Complete))
	return entry, nil
}
