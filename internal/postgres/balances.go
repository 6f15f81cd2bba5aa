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

// applyOperation locks the balance row, appends the audit entry and writes
// the new balance inside tx.
func applyOperation(ctx context.Context, tx pgx.Tx, params operationParams) (*models.OperationEntry, error) {
	if !params.Asset.Valid() {
		return nil, fmt.Errorf("unsupported asset %q", params.Asset)
	}

	if _, err := tx.Exec(ctx, queryInsertAccountBalance, uuid.New().String(), params.UserId, params.Asset, params.CreatedAt); err != nil {
		return nil, fmt.Errorf("create account balance: %w", err)
	}

	var accountId, balanceStr string
	var version int64
	if err := tx.QueryRow(ctx, queryLockAccountBalance, params.UserId, params.Asset).Scan(&accountId, &balanceStr, &version); err != nil {
		return nil, fmt.Errorf("lock account balance: %w", err)
	}
	currentBalance, err := parseDecimal(balanceStr, "balance")
	if err != nil {
		return nil, err
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

	if _, err := tx.Exec(ctx, queryInsertOperation,
		entry.Id, entry.UserId, entry.Type, entry.Asset, entry.Amount.String(),
		entry.BalanceBefore.String(), entry.BalanceAfter.String(), entry.Reference,
		entry.BlockchainHash, entry.InvestmentId, entry.Description, entry.Status, entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert operation: %w", err)
	}

	tag, err := tx.Exec(ctx, queryUpdateAccountBalance, newBalance.String(), entry.Id,
		params.CreatedAt, params.UserId, params.Asset, version)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	zap.L().Debug("Balance updated",
		zap.String("account_id", accountId),
		zap.String("asset", params.Asset.String()),
		zap.String("type", params.Type),
		zap.String("old_balance", currentBalance.String()),
		zap.String("new_balance", newBalance.String()))
	return entry, nil
}

func enqueueNotification(ctx context.Context, tx pgx.Tx, userId, kind, reference, message string, at time.Time) error {
	if message == "" {
		return nil
	}
	if _, err := tx.Exec(ctx, queryEnqueueNotification, uuid.New().String(), userId, kind, reference, message, at); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (s *Store) GetBalance(ctx context.Context, userId string, asset models.Asset) (decimal.Decimal, error) {
	var balanceStr string
	err := s.pool.QueryRow(ctx, queryGetBalance, userId, asset).Scan(&balanceStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return parseDecimal(balanceStr, "balance")
}

func (s *Store) getAccountBalances(ctx context.Context, q pgx.Tx, userId string) ([]models.AccountBalance, error) {
	var rows pgx.Rows
	var err error
	if q != nil {
		rows, err = q.Query(ctx, queryGetUserBalances, userId)
	} else {
		rows, err = s.pool.Query(ctx, queryGetUserBalances, userId)
	}
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var balances []models.AccountBalance
	for rows.Next() {
		var b models.AccountBalance
		var balanceStr string
		if err := rows.Scan(&b.Id, &b.UserId, &b.Asset, &balanceStr, &b.LastOperationId, &b.Version, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		if b.Balance, err = parseDecimal(balanceStr, "balance"); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return balances, nil
}

// GetBalances returns every network balance; aggregates are derived from it.
func (s *Store) GetBalances(ctx context.Context, userId string) (models.BalanceSheet, error) {
	balances, err := s.getAccountBalances(ctx, nil, userId)
	if err != nil {
		return nil, err
	}
	return models.NewBalanceSheet(balances), nil
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

func (s *Store) GetOperationHistory(ctx context.Context, userId string, limit, offset int) ([]models.OperationEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, queryGetOperationHistory, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []models.OperationEntry
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}
