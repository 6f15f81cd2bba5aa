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

// CreateWithdrawal debits the named network and records a pending request.
func (s *Service) CreateWithdrawal(ctx context.Context, params store.CreateWithdrawalParams) (*models.Withdrawal, error) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, queryInsertWithdrawal, w.Id, w.UserId, w.Asset, w.Amount.String(),
		w.Address, w.Memo, w.CreatedAt, w.UpdatedAt); err != nil {
		return nil, fmt.Errorf("unable to insert withdrawal: %w", err)
	}

	if _, err := applyOperation(ctx, tx, operationParams{
		UserId:      params.UserId,
		Asset:       params.Asset,
		Type:        models.OperationWithdrawalRequest,
		Amount:      params.Amount.Neg(),
		Reference:   w.Id,
		Description: fmt.Sprintf("Withdrawal request: %s %s to %s", params.Amount, params.Asset, params.Address),
		CreatedAt:   createdAt,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Withdrawal requested",
		zap.String("withdrawal_id", w.Id),
		zap.String("user_id", w.UserId),
		zap.String("asset", w.Asset.String()),
		zap.String("amount", w.Amount.String()))
	return w, nil
}

func (s *Service) MarkWithdrawalSubmitted(ctx context.Context, withdrawalId string, result models.GatewayWithdrawal) error {
	fee := decimal.Zero
	if result.Fee != "" {
		parsed, err := parseDecimal(result.Fee.String(), "fee")
		if err != nil {
			return err
		}
		fee = parsed
	}

	res, err := s.db.ExecContext(ctx, queryMarkWithdrawalSubmitted, result.Id.String(), result.BlockchainHash,
		fee.String(), time.Now().UTC(), withdrawalId)
	if err != nil {
		return fmt.Errorf("unable to update withdrawal: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("pending withdrawal %s: %w", withdrawalId, store.ErrWithdrawalNotFound)
	}
	return nil
}

// FailWithdrawal marks a pending withdrawal failed and credits the amount
// back in the same transaction.
func (s *Service) FailWithdrawal(ctx context.Context, withdrawalId, reason string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, queryFailWithdrawal, reason, now, withdrawalId)
	if err != nil {
		return fmt.Errorf("unable to fail withdrawal: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("pending withdrawal %s: %w", withdrawalId, store.ErrWithdrawalNotFound)
	}

	w, err := scanWithdrawal(tx.QueryRowContext(ctx, queryGetWithdrawal, withdrawalId))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("withdrawal %s: %w", withdrawalId, store.ErrWithdrawalNotFound)
	}
	if err != nil {
		return fmt.Errorf("unable to load withdrawal: %w", err)
	}

	if _, err := applyOperation(ctx, tx, operationParams{
		UserId:      w.UserId,
		Asset:       w.Asset,
		Type:        models.OperationWithdrawalReversal,
		Amount:      w.Amount,
		Reference:   w.Id,
		Description: fmt.Sprintf("Reversal of failed withdrawal: %s", reason),
		CreatedAt:   now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Withdrawal reversed",
		zap.String("withdrawal_id", w.Id),
		zap.String("user_id", w.UserId),
		zap.String("asset", w.Asset.String()),
		zap.String("amount", w.Amount.String()),
		zap.String("reason", reason))
	return nil
}

func (s *Service) GetPendingNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, queryGetPendingNotifications, limit)
	if err != nil {
		return nil, fmt.Errorf("unable to query notifications: %w", err)
	}
	defer closeRows(rows)

	var notes []models.Notification
	for rows.Next() {
		var n models.Notification
		var sentAt sql.NullTime
		if err := rows.Scan(&n.Id, &n.UserId, &n.Kind, &n.Reference, &n.Message, &n.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("unable to scan notification: %w", err)
		}
		n.SentAt = timePtr(sentAt)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return notes, nil
}

func (s *Service) MarkNotificationSent(ctx context.Context, notificationId string, sentAt time.Time) error {
	if _, err := s.db.ExecContext(ctx, queryMarkNotificationSent, sentAt.UTC(), notificationId); err != nil {
		return fmt.Errorf("unable to mark notification sent: %w", err)
	}
	return nil
}
