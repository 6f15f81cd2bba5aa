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

// operationParams contains the parameters for a balance-affecting operation
type operationParams struct {
	UserId         string
	Asset          models.Asset
	Type           string
	Amount         decimal.Decimal // signed
	Reference      string
	BlockchainHash string
	InvestmentId   string
	Description    string
	CreatedAt      time.Time
}

// applyOperation updates one network balance and appends the matching audit
// entry inside tx. The balance row is guarded by its version column.
func applyOperation(ctx context.Context, tx *sql.Tx, params operationParams) (*models.OperationEntry, error) {
	if !params.Asset.Valid() {
		return nil, fmt.Errorf("unsupported asset %q", params.Asset)
	}

	var accountId, currentBalanceStr string
	var version int64
	err := tx.QueryRowContext(ctx, queryGetAccountBalance, params.UserId, params.Asset).Scan(&accountId, &currentBalanceStr, &version)

	currentBalance := decimal.Zero
	if errors.Is(err, sql.ErrNoRows) {
		accountId = uuid.New().String()
		version = 1
		if _, err := tx.ExecContext(ctx, queryInsertAccountBalance, accountId, params.UserId, params.Asset, params.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to create account balance: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	} else {
		currentBalance, err = parseDecimal(currentBalanceStr, "balance")
		if err != nil {
			return nil, err
		}
	}

	newBalance := currentBalance.Add(params.Amount)
	if newBalance.IsNegative() {
		return nil, fmt.Errorf("%s balance %s cannot cover %s: %w",
			params.Asset, currentBalance, params.Amount.Neg(), store.ErrInsufficientBalance)
	}

	entry := &models.OperationEntry{
		Id:             uuid.New().String(),
		UserId:         params.UserId,
		Type:           params.Type,
		Asset:          params.Asset,
		Amount:         params.Amount,
		BalanceBefore:  currentBalance,
		BalanceAfter:   newBalance,
		Reference:      params.Reference,
		BlockchainHash: params.BlockchainHash,
		InvestmentId:   params.InvestmentId,
		Description:    params.Description,
		Status:         "completed",
		CreatedAt:      params.CreatedAt,
	}

	if _, err := tx.ExecContext(ctx, queryInsertOperation,
		entry.Id, entry.UserId, entry.Type, entry.Asset, entry.Amount.String(),
		entry.BalanceBefore.String(), entry.BalanceAfter.String(), entry.Reference,
		entry.BlockchainHash, entry.InvestmentId, entry.Description, entry.Status, entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert operation: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance, newBalance.String(), entry.Id,
		params.CreatedAt, params.UserId, params.Asset, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	zap.L().Debug("Balance updated",
		zap.String("user_id", params.UserId),
		zap.String("asset", params.Asset.String()),
		zap.String("type", params.Type),
		zap.String("old_balance", currentBalance.String()),
		zap.String("new_balance", newBalance.String()))

	return entry, nil
}

func enqueueNotification(ctx context.Context, tx *sql.Tx, userId, kind, reference, message string, at time.Time) error {
	if message == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, queryEnqueueNotification, uuid.New().String(), userId, kind, reference, message, at); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// GetBalance returns the current balance for one network (O(1) lookup)
func (s *Service) GetBalance(ctx context.Context, userId string, asset models.Asset) (decimal.Decimal, error) {
	var balanceStr string
	err := s.db.QueryRowContext(ctx, queryGetBalance, userId, asset).Scan(&balanceStr)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.String("asset", asset.String()), zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return parseDecimal(balanceStr, "balance")
}

// GetBalances returns every per-network balance for a user
func (s *Service) GetBalances(ctx context.Context, userId string) (models.BalanceSheet, error) {
	balances, err := s.getAccountBalances(ctx, s.db, userId)
	if err != nil {
		return nil, err
	}
	return models.NewBalanceSheet(balances), nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Service) getAccountBalances(ctx context.Context, q queryer, userId string) ([]models.AccountBalance, error) {
	rows, err := q.QueryContext(ctx, queryGetAllUserBalances, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to get all balances: %w", err)
	}
	defer closeRows(rows)

	var balances []models.AccountBalance
	for rows.Next() {
		var balance models.AccountBalance
		var balanceStr string
		if err := rows.Scan(&balance.Id, &balance.UserId, &balance.Asset, &balanceStr,
			&balance.LastOperationId, &balance.Version, &balance.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balance.Balance, err = parseDecimal(balanceStr, "balance")
		if err != nil {
			return nil, err
		}
		balances = append(balances, balance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}
	return balances, nil
}

func scanOperation(row rowScanner) (*models.OperationEntry, error) {
	var op models.OperationEntry
	var amount, before, after string
	if err := row.Scan(&op.Id, &op.UserId, &op.Type, &op.Asset, &amount, &before, &after,
		&op.Reference, &op.BlockchainHash, &op.InvestmentId, &op.Description, &op.Status, &op.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if op.Amount, err = parseDecimal(amount, "amount"); err != nil {
		return nil, err
	}
	if op.BalanceBefore, err = parseDecimal(before, "balance_before"); err != nil {
		return nil, err
	}
	if op.BalanceAfter, err = parseDecimal(after, "balance_after"); err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *Service) GetOperationHistory(ctx context.Context, userId string, limit, offset int) ([]models.OperationEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryGetOperationHistory, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation history: %w", err)
	}
	defer closeRows(rows)

	var ops []models.OperationEntry
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation rows: %w", err)
	}
	return ops, nil
}
