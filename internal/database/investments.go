package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Plans with no duration never mature.
const openEndedPlanYears = 100

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
	var lastClaim, completedAt sql.NullTime
	if err := row.Scan(&inv.Id, &inv.UserId, &inv.PlanId, &inv.UniqueCode, &principal, &returnAmount,
		&daily, &inv.DurationHours, &inv.Locked, &inv.Asset, &inv.Status, &inv.StartTime, &inv.EndTime,
		&lastClaim, &accumulated, &inv.Version, &completedAt); err != nil {
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
	inv.LastClaimTime = timePtr(lastClaim)
	inv.CompletedAt = timePtr(completedAt)
	return &inv, nil
}

func (s *Service) CreatePlan(ctx context.Context, plan models.Plan) (*models.Plan, error) {
	if plan.Name == "" {
		return nil, fmt.Errorf("plan name cannot be empty")
	}
	if plan.Id == "" {
		plan.Id = uuid.New().String()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, queryInsertPlan, plan.Id, plan.Name, plan.DailyReturn.String(),
		plan.DurationHours, plan.MinAmount.String(), plan.MaxAmount.String(), plan.Locked, plan.Active,
		plan.SortOrder, plan.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("plan %s: %w", plan.Name, store.ErrDuplicateTransaction)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to insert plan: %w", err)
	}
	return &plan, nil
}

func (s *Service) GetPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	rows, err := s.db.QueryContext(ctx, queryGetPlans, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("unable to query plans: %w", err)
	}
	defer closeRows(rows)

	var plans []models.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plan rows: %w", err)
	}
	return plans, nil
}

func (s *Service) GetPlan(ctx context.Context, planId string) (*models.Plan, error) {
	plan, err := scanPlan(s.db.QueryRowContext(ctx, queryGetPlan, planId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", planId, store.ErrPlanNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query plan: %w", err)
	}
	return plan, nil
}

// investmentTerms derives the return amount and end time for a new position.
func investmentTerms(plan models.Plan, amount decimal.Decimal, start time.Time) (decimal.Decimal, time.Time) {
	returnAmount := amount.Mul(decimal.NewFromInt(1).Add(plan.DailyReturn.Div(decimal.NewFromInt(100))))
	end := start.AddDate(openEndedPlanYears, 0, 0)
	if plan.DurationHours > 0 {
		end = start.Add(time.Duration(plan.DurationHours) * time.Hour)
	}
	return returnAmount, end
}

// CreateInvestment debits the amount across the token's networks in priority
// order and opens the position in one transaction. The first network debited
// becomes the position's payment asset.
func (s *Service) CreateInvestment(ctx context.Context, params store.CreateInvestmentParams) (*models.Investment, error) {
	start := params.StartTime.UTC()
	if params.StartTime.IsZero() {
		start = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	balances, err := s.getAccountBalances(ctx, tx, params.UserId)
	if err != nil {
		return nil, err
	}
	debits, err := params.Priority.PlanDebit(params.Token, models.NewBalanceSheet(balances), params.Amount)
	if err != nil {
		return nil, fmt.Errorf("unable to debit %s %s: %w", params.Amount, params.Token, err)
	}

	returnAmount, end := investmentTerms(params.Plan, params.Amount, start)
	inv := &models.Investment{
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

	if _, err := tx.ExecContext(ctx, queryInsertInvestment, inv.Id, inv.UserId, inv.PlanId, inv.UniqueCode,
		inv.Principal.String(), inv.ReturnAmount.String(), inv.DailyRate.String(), inv.DurationHours,
		inv.Locked, inv.Asset, inv.StartTime, inv.EndTime); err != nil {
		return nil, fmt.Errorf("unable to insert investment: %w", err)
	}

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
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Investment created",
		zap.String("investment_id", inv.Id),
		zap.String("user_id", inv.UserId),
		zap.String("plan", params.Plan.Name),
		zap.String("amount", inv.Principal.String()),
		zap.String("asset", inv.Asset.String()),
		zap.Int("networks_debited", len(debits)))
	return inv, nil
}

func (s *Service) GetInvestment(ctx context.Context, investmentId string) (*models.Investment, error) {
	inv, err := scanInvestment(s.db.QueryRowContext(ctx, queryGetInvestment, investmentId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("investment %s: %w", investmentId, store.ErrInvestmentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query investment: %w", err)
	}
	return inv, nil
}

func (s *Service) queryInvestments(ctx context.Context, query string, args ...any) ([]models.Investment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query investments: %w", err)
	}
	defer closeRows(rows)

	var investments []models.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan investment: %w", err)
		}
		investments = append(investments, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating investment rows: %w", err)
	}
	return investments, nil
}

func (s *Service) GetUserInvestments(ctx context.Context, userId string) ([]models.Investment, error) {
	return s.queryInvestments(ctx, queryGetUserInvestments, userId)
}

// GetMaturedInvestments returns active locked positions whose end time has passed.
func (s *Service) GetMaturedInvestments(ctx context.Context, now time.Time) ([]models.Investment, error) {
	return s.queryInvestments(ctx, queryGetMaturedInvestments, now.UTC())
}

// ApplyInvestmentPayout records a claim or completion computed against the
// investment version the caller read. The cooldown and the version are both
// checked inside the transaction.
func (s *Service) ApplyInvestmentPayout(ctx context.Context, params store.InvestmentPayoutParams) (*models.OperationEntry, error) {
	now := params.Now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	if params.CooldownSince != nil {
		result, err := tx.ExecContext(ctx, queryTouchUserClaim, now, now, params.UserId, params.CooldownSince.UTC())
		if err != nil {
			return nil, fmt.Errorf("failed to update claim time: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return nil, fmt.Errorf("failed to check rows affected: %w", err)
		} else if n == 0 {
			return nil, store.ErrClaimCooldown
		}
	}

	status := models.InvestmentActive
	var completedAt *time.Time
	if params.Complete {
		status = models.InvestmentCompleted
		completedAt = &now
	}

	result, err := tx.ExecContext(ctx, queryUpdateInvestmentPayout, params.AccumulatedProfit.String(),
		nullTime(params.LastClaimTime), status, nullTime(completedAt),
		params.InvestmentId, params.UserId, params.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update investment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		inv, err := scanInvestment(tx.QueryRowContext(ctx, queryGetInvestment, params.InvestmentId))
		switch {
		case errors.Is(err, sql.ErrNoRows), err == nil && inv.UserId != params.UserId:
			return nil, fmt.Errorf("investment %s: %w", params.InvestmentId, store.ErrInvestmentNotFound)
		case err != nil:
			return nil, fmt.Errorf("unable to reload investment: %w", err)
		case inv.Status != models.InvestmentActive:
			return nil, fmt.Errorf("investment %s: %w", params.InvestmentId, store.ErrInvestmentNotActive)
		default:
			return nil, fmt.Errorf("investment update failed - %w", store.ErrConcurrentModification)
		}
	}

	var entry *models.OperationEntry
	credit := params.Profit.Add(params.Principal)
	if credit.IsPositive() {
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
			return nil, err
		}
	}

	if params.Complete {
		if err := enqueueNotification(ctx, tx, params.UserId, models.NotificationInvestmentDone,
			params.InvestmentId, params.Notification, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
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
