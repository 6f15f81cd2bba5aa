package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// CreditReferralCommission pays one ancestor for one realized profit; the
// earnings row is unique per (referrer, source operation, level).
func (s *Store) CreditReferralCommission(ctx context.Context, params store.ReferralCommissionParams) (*models.ReferralEarning, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("commission must be positive, got %s", params.Amount)
	}
	createdAt := params.CreatedAt.UTC()
	if params.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	earning := &models.ReferralEarning{
		Id:                uuid.New().String(),
		ReferrerId:        params.ReferrerId,
		ReferredId:        params.ReferredId,
		Level:             params.Level,
		Asset:             params.Asset,
		Amount:            params.Amount,
		Percentage:        params.Percentage,
		UsdValue:          params.UsdValue,
		InvestmentId:      params.InvestmentId,
		SourceOperationId: params.SourceOperationId,
		CreatedAt:         createdAt,
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, queryInsertReferralEarning, earning.Id, earning.ReferrerId, earning.ReferredId,
			earning.Level, earning.Asset, earning.Amount.String(), earning.Percentage.String(), earning.UsdValue.String(),
			earning.InvestmentId, earning.SourceOperationId, earning.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("commission for %s level %d: %w", params.SourceOperationId, params.Level, store.ErrDuplicateTransaction)
		}
		if err != nil {
			return fmt.Errorf("insert referral earning: %w", err)
		}

		if _, err := applyOperation(ctx, tx, operationParams{
			UserId:       params.ReferrerId,
			Asset:        params.Asset,
			Type:         models.OperationReferralBonus,
			Amount:       params.Amount,
			Reference:    params.SourceOperationId,
			InvestmentId: params.InvestmentId,
			Description:  params.Description,
			CreatedAt:    createdAt,
		}); err != nil {
			return err
		}

		return enqueueNotification(ctx, tx, params.ReferrerId, models.NotificationReferralBonus,
			earning.Id, params.Notification, createdAt)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Referral commission credited",
		zap.String("referrer_id", params.ReferrerId),
		zap.String("referred_id", params.ReferredId),
		zap.Int("level", params.Level),
		zap.String("asset", params.Asset.String()),
		zap.String("amount", params.Amount.String()))
	return earning, nil
}

func (s *Store) GetReferralEarnings(ctx context.Context, referrerId string) ([]models.ReferralEarning, error) {
	rows, err := s.pool.Query(ctx, queryGetReferralEarnings, referrerId)
	if err != nil {
		return nil, fmt.Errorf("list referral earnings: %w", err)
	}
	defer rows.Close()

	var earnings []models.ReferralEarning
	for rows.Next() {
		var e models.ReferralEarning
		var amount, percentage, usd string
		if err := rows.Scan(&e.Id, &e.ReferrerId, &e.ReferredId, &e.Level, &e.Asset, &amount, &percentage,
			&usd, &e.InvestmentId, &e.SourceOperationId, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan referral earning: %w", err)
		}
		if e.Amount, err = parseDecimal(amount, "amount"); err != nil {
			return nil, err
		}
		if e.Percentage, err = parseDecimal(percentage, "percentage"); err != nil {
			return nil, err
		}
		if e.UsdValue, err = parseDecimal(usd, "usd_value"); err != nil {
			return nil, err
		}
		earnings = append(earnings, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referral earnings: %w", err)
	}
	return earnings, nil
}
