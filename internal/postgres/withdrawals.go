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

func scanWithdrawal(row rowScanner) (*models.Withdrawal, error) {
	var w models.Withdrawal
	var amount, fee string
	if err := row.Scan(&w.Id, &w.UserId, &w.Asset, &amount, &w.Address, &w.Memo, &w.Status,
		&w.GatewayId, &w.BlockchainHash, &fee, &w.Error, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if w.Amount, err = parseDecimal(amount, "amount"); err != nil {
		return nil, err
	}
	if w.Fee, err = parseDecimal(fee, "fee"); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) CreateWithdrawal(ctx context.Context, params store.CreateWithdrawalParams) (*models.Withdrawal, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("withdrawal amount must be positive, got %s", params.Amount)
	}
	createdAt := params.CreatedAt.UTC()
	if params.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	w := &models.Withdrawal{
		Id:        uuid.New().String(),
		UserId:    params.UserId,
		Asset:     params.Asset,
		Amount:    params.Amount,
		Address:   params.Address,
		Memo:      params.Memo,
		Status:    models.WithdrawalPending,
		Fee:       decimal.Zero,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, queryInsertWithdrawal, w.Id, w.UserId, w.Asset, w.Amount.String(),
			w.Address, w.Memo, w.CreatedAt); err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		_, err := applyOperation(ctx, tx, operationParams{
			UserId:      params.UserId,
			Asset:       params.Asset,
			Type:        models.OperationWithdrawalRequest,
			Amount:      params.Amount.Neg(),
			Reference:   w.Id,
			Description: fmt.Sprintf("Withdrawal request: %s %s to %s", params.Amount, params.Asset, params.Address),
			CreatedAt:   createdAt,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal requested",
		zap.String("withdrawal_id", w.Id),
		zap.String("user_id", w.UserId),
		zap.String("asset", w.Asset.String()),
		zap.String("amount", w.Amount.String()))
	return w, nil
}

func (s *Store) MarkWithdrawalSubmitted(ctx context.Context, withdrawalId string, result models.GatewayWithdrawal) error {
	fee := decimal.Zero
	if result.Fee != "" {
		parsed, err := parseDecimal(result.Fee.String(), "fee")
		if err != nil {
			return err
		}
		fee = parsed
	}

	tag, err := s.pool.Exec(ctx, queryMarkWithdrawalSubmitted, result.Id.String(), result.BlockchainHash,
		fee.String(), time.Now().UTC(), withdrawalId)
	if err != nil {
		return fmt.Errorf("update withdrawal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending withdrawal %s: %w", withdrawalId, store.ErrWithdrawalNotFound)
	}
	return nil
}

// FailWithdrawal marks a pending withdrawal failed and credits the amount back.
func (s *Store) FailWithdrawal(ctx context.Context, withdrawalId, reason string) error {
	now := time.Now().UTC()

	var w *models.Withdrawal
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, queryFailWithdrawal, reason, now, withdrawalId)
		if err != nil {
			return fmt.Errorf("fail withdrawal: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("pending withdrawal %s: %w", withdrawalId, store.ErrWithdrawalNotFound)
		}

		w, err = scanWithdrawal(tx.QueryRow(ctx, queryGetWithdrawal, withdrawalId))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("withdrawal %s: %w", withdrawalId, store.ErrWithdrawalNotFound)
		}
		if err != nil {
			return fmt.Errorf("load withdrawal: %w", err)
		}

		_, err = applyOperation(ctx, tx, operationParams{
			UserId:      w.UserId,
			Asset:       w.Asset,
			Type:        models.OperationWithdrawalReversal,
			Amount:      w.Amount,
			Reference:   w.Id,
			Description: fmt.Sprintf("Reversal of failed withdrawal: %s", reason),
			CreatedAt:   now,
		})
		return err
	})
	if err != nil {
		return err
	}

	zap.L().Info("Withdrawal reversed",
		zap.String("withdrawal_id", w.Id),
		zap.String("user_id", w.UserId),
		zap.String("asset", w.Asset.String()),
		zap.String("amount", w.Amount.String()),
		zap.String("reason", reason))
	return nil
}

func (s *Store) GetPendingNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	rows, err := s.pool.Query(ctx, queryGetPendingNotifications, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notes []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.Id, &n.UserId, &n.Kind, &n.Reference, &n.Message, &n.CreatedAt, &n.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notes, nil
}

func (s *Store) MarkNotificationSent(ctx context.Context, notificationId string, sentAt time.Time) error {
	if _, err := s.pool.Exec(ctx, queryMarkNotificationSent, sentAt.UTC(), notificationId); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}
