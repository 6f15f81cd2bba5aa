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

func scanDeposit(row rowScanner) (*models.Deposit, error) {
	var dep models.Deposit
	var requested, credited string
	var creditedAt sql.NullTime
	if err := row.Scan(&dep.Id, &dep.UserId, &dep.Label, &dep.Asset, &requested, &credited,
		&dep.Address, &dep.Memo, &dep.GatewayTxId, &dep.BlockchainHash, &dep.Confirmations,
		&dep.Status, &dep.CreatedAt, &dep.UpdatedAt, &creditedAt); err != nil {
		return nil, err
	}
	var err error
	if dep.RequestedAmount, err = parseDecimal(requested, "requested_amount"); err != nil {
		return nil, err
	}
	if dep.CreditedAmount, err = parseDecimal(credited, "credited_amount"); err != nil {
		return nil, err
	}
	dep.CreditedAt = timePtr(creditedAt)
	return &dep, nil
}

// getDeposit returns nil, nil when no row matches.
func (s *Service) getDeposit(ctx context.Context, query string, args ...any) (*models.Deposit, error) {
	dep, err := scanDeposit(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query deposit: %w", err)
	}
	return dep, nil
}

func (s *Service) CreateDeposit(ctx context.Context, params store.CreateDepositParams) (*models.Deposit, error) {
	if !params.Asset.Valid() {
		return nil, fmt.Errorf("unsupported asset %q", params.Asset)
	}
	if params.Label == "" {
		return nil, fmt.Errorf("deposit label cannot be empty")
	}
	createdAt := params.CreatedAt.UTC()
	if params.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	dep := &models.Deposit{
		Id:              uuid.New().String(),
		UserId:          params.UserId,
		Label:           params.Label,
		Asset:           params.Asset,
		RequestedAmount: params.RequestedAmount,
		Address:         params.Address,
		Memo:            params.Memo,
		Status:          models.DepositPending,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}

	_, err := s.db.ExecContext(ctx, queryInsertDeposit, dep.Id, dep.UserId, dep.Label, dep.Asset,
		dep.RequestedAmount.String(), dep.Address, dep.Memo, dep.CreatedAt, dep.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("deposit label %s: %w", params.Label, store.ErrDuplicateTransaction)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to insert deposit: %w", err)
	}

	zap.L().Info("Pending deposit created",
		zap.String("deposit_id", dep.Id),
		zap.String("user_id", dep.UserId),
		zap.String("label", dep.Label),
		zap.String("asset", dep.Asset.String()))
	return dep, nil
}

func (s *Service) GetDepositById(ctx context.Context, depositId string) (*models.Deposit, error) {
	dep, err := s.getDeposit(ctx, queryGetDepositById, depositId)
	if err != nil {
		return nil, err
	}
	if dep == nil {
		return nil, fmt.Errorf("deposit %s: %w", depositId, store.ErrDepositNotFound)
	}
	return dep, nil
}

// GetDepositByLabel returns nil, nil when the label is unknown.
func (s *Service) GetDepositByLabel(ctx context.Context, label string) (*models.Deposit, error) {
	return s.getDeposit(ctx, queryGetDepositByLabel, label)
}

// GetLatestPendingDeposit returns the newest pending deposit of an asset to an
// address, or nil.
func (s *Service) GetLatestPendingDeposit(ctx context.Context, userId, address string, asset models.Asset) (*models.Deposit, error) {
	return s.getDeposit(ctx, queryGetLatestPendingDeposit, userId, address, asset)
}

// GetRecentPendingDeposit returns the newest pending deposit created at or after since, or nil.
func (s *Service) GetRecentPendingDeposit(ctx context.Context, userId string, asset models.Asset, since time.Time) (*models.Deposit, error) {
	return s.getDeposit(ctx, queryGetRecentPendingDeposit, userId, asset, since.UTC())
}

func (s *Service) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Service) IsHashCredited(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	n, err := s.count(ctx, queryHashCredited, hash)
	if err != nil {
		return false, fmt.Errorf("unable to check hash: %w", err)
	}
	return n > 0, nil
}

func (s *Service) IsGatewayTxCredited(ctx context.Context, gatewayTxId string) (bool, error) {
	if gatewayTxId == "" {
		return false, nil
	}
	n, err := s.count(ctx, queryGatewayTxCredited, gatewayTxId)
	if err != nil {
		return false, fmt.Errorf("unable to check gateway transaction: %w", err)
	}
	return n > 0, nil
}

func (s *Service) HasOperationReference(ctx context.Context, q store.OperationReferenceQuery) (bool, error) {
	if q.Hash == "" && q.GatewayTxId == "" {
		return false, nil
	}
	hashMid, hashEnd, txMid, txEnd := q.DescriptionPatterns()

	n, err := s.count(ctx, queryOperationReference, q.UserId,
		q.Hash, q.HashSince.UTC(), q.Hash, hashMid, hashEnd,
		q.GatewayTxId, q.GatewaySince.UTC(), q.GatewayTxId, txMid, txEnd)
	if err != nil {
		return false, fmt.Errorf("unable to check operation history: %w", err)
	}
	return n > 0, nil
}

func (s *Service) GetRecentOperationAmounts(ctx context.Context, userId string, asset models.Asset, operationType string, since time.Time) ([]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, queryRecentOperationAmounts, userId, asset, operationType, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("unable to query recent operations: %w", err)
	}
	defer closeRows(rows)

	var amounts []decimal.Decimal
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return nil, fmt.Errorf("unable to scan amount: %w", err)
		}
		amount, err := parseDecimal(amountStr, "amount")
		if err != nil {
			return nil, err
		}
		amounts = append(amounts, amount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation rows: %w", err)
	}
	return amounts, nil
}

// CreditDeposit moves a pending deposit to credited and applies every side
// effect in one transaction: balance, audit entry, address touch and the
// user notification. A deposit that is no longer pending yields
// ErrDepositNotPending; a hash or gateway id already credited elsewhere
// yields ErrDuplicateTransaction.
func (s *Service) CreditDeposit(ctx context.Context, params store.CreditDepositParams) (*models.OperationEntry, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive, got %s", params.Amount)
	}
	now := params.CreditedAt.UTC()
	if params.CreditedAt.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	result, err := tx.ExecContext(ctx, queryCreditDeposit, params.Amount.String(), params.GatewayTxId,
		params.BlockchainHash, params.Confirmations, now, now, params.DepositId)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("deposit %s: %w", params.DepositId, store.ErrDuplicateTransaction)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark deposit credited: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM deposits WHERE id = ?`, params.DepositId).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("deposit %s: %w", params.DepositId, store.ErrDepositNotFound)
		}
		return nil, fmt.Errorf("deposit %s is %s: %w", params.DepositId, status, store.ErrDepositNotPending)
	}

	entry, err := applyOperation(ctx, tx, operationParams{
		UserId:         params.UserId,
		Asset:          params.Asset,
		Type:           models.OperationDeposit,
		Amount:         params.Amount,
		Reference:      params.GatewayTxId,
		BlockchainHash: params.BlockchainHash,
		Description:    params.Description,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, err
	}

	if params.Address != "" {
		if _, err := tx.ExecContext(ctx, queryTouchAddress, now, params.UserId, params.Address); err != nil {
			return nil, fmt.Errorf("failed to touch address: %w", err)
		}
	}

	if err := enqueueNotification(ctx, tx, params.UserId, models.NotificationDepositCredited,
		params.DepositId, params.Notification, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Deposit credited",
		zap.String("deposit_id", params.DepositId),
		zap.String("user_id", params.UserId),
		zap.String("asset", params.Asset.String()),
		zap.String("amount", params.Amount.String()),
		zap.String("gateway_tx_id", params.GatewayTxId),
		zap.String("new_balance", entry.BalanceAfter.String()))

	return entry, nil
}

// ExpirePendingDeposits cancels pending deposits created before the cutoff.
func (s *Service) ExpirePendingDeposits(ctx context.Context, createdBefore time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryExpirePendingDeposits, time.Now().UTC(), createdBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire deposits: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}
