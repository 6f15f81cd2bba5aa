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

func scanDeposit(row rowScanner) (*models.Deposit, error) {
	var dep models.Deposit
	var requested, credited string
	if err := row.Scan(&dep.Id, &dep.UserId, &dep.Label, &dep.Asset, &requested, &credited,
		&dep.Address, &dep.Memo, &dep.GatewayTxId, &dep.BlockchainHash, &dep.Confirmations,
		&dep.Status, &dep.CreatedAt, &dep.UpdatedAt, &dep.CreditedAt); err != nil {
		return nil, err
	}
	var err error
	if dep.RequestedAmount, err = parseDecimal(requested, "requested_amount"); err != nil {
		return nil, err
	}
	if dep.CreditedAmount, err = parseDecimal(credited, "credited_amount"); err != nil {
		return nil, err
	}
	return &dep, nil
}

func (s *Store) getDeposit(ctx context.Context, query string, args ...any) (*models.Deposit, error) {
	dep, err := scanDeposit(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deposit: %w", err)
	}
	return dep, nil
}

func (s *Store) CreateDeposit(ctx context.Context, params store.CreateDepositParams) (*models.Deposit, error) {
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

	_, err := s.pool.Exec(ctx, queryInsertDeposit, dep.Id, dep.UserId, dep.Label, dep.Asset,
		dep.RequestedAmount.String(), dep.Address, dep.Memo, dep.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("deposit label %s: %w", params.Label, store.ErrDuplicateTransaction)
	}
	if err != nil {
		return nil, fmt.Errorf("insert deposit: %w", err)
	}

	zap.L().Info("Pending deposit created",
		zap.String("deposit_id", dep.Id),
		zap.String("user_id", dep.UserId),
		zap.String("label", dep.Label),
		zap.String("asset", dep.Asset.String()))
	return dep, nil
}

func (s *Store) GetDepositById(ctx context.Context, depositId string) (*models.Deposit, error) {
	dep, err := s.getDeposit(ctx, queryGetDepositById, depositId)
	if err != nil {
		return nil, err
	}
	if dep == nil {
		return nil, fmt.Errorf("deposit %s: %w", depositId, store.ErrDepositNotFound)
	}
	return dep, nil
}

func (s *Store) GetDepositByLabel(ctx context.Context, label string) (*models.Deposit, error) {
	return s.getDeposit(ctx, queryGetDepositByLabel, label)
}

func (s *Store) GetLatestPendingDeposit(ctx context.Context, userId, address string, asset models.Asset) (*models.Deposit, error) {
	return s.getDeposit(ctx, queryGetLatestPendingDeposit, userId, address, asset)
}

func (s *Store) GetRecentPendingDeposit(ctx context.Context, userId string, asset models.Asset, since time.Time) (*models.Deposit, error) {
	return s.getDeposit(ctx, queryGetRecentPendingDeposit, userId, asset, since.UTC())
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) IsHashCredited(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	found, err := s.exists(ctx, queryHashCredited, hash)
	if err != nil {
		return false, fmt.Errorf("check hash: %w", err)
	}
	return found, nil
}

func (s *Store) IsGatewayTxCredited(ctx context.Context, gatewayTxId string) (bool, error) {
	if gatewayTxId == "" {
		return false, nil
	}
	found, err := s.exists(ctx, queryGatewayTxCredited, gatewayTxId)
	if err != nil {
		return false, fmt.Errorf("check gateway transaction: %w", err)
	}
	return found, nil
}

func (s *Store) HasOperationReference(ctx context.Context, q store.OperationReferenceQuery) (bool, error) {
	if q.Hash == "" && q.GatewayTxId == "" {
		return false, nil
	}
	hashMid, hashEnd, txMid, txEnd := q.DescriptionPatterns()
	found, err := s.exists(ctx, queryOperationReference, q.UserId,
		q.Hash, q.HashSince.UTC(), q.GatewayTxId, q.GatewaySince.UTC(),
		hashMid, hashEnd, txMid, txEnd)
	if err != nil {
		return false, fmt.Errorf("check operation history: %w", err)
	}
	return found, nil
}

func (s *Store) GetRecentOperationAmounts(ctx context.Context, userId string, asset models.Asset, operationType string, since time.Time) ([]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx, queryRecentOperationAmounts, userId, asset, operationType, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list recent operations: %w", err)
	}
	defer rows.Close()

	var amounts []decimal.Decimal
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return nil, fmt.Errorf("scan amount: %w", err)
		}
		amount, err := parseDecimal(amountStr, "amount")
		if err != nil {
			return nil, err
		}
		amounts = append(amounts, amount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return amounts, nil
}

// CreditDeposit locks the deposit row, flips it to credited and applies the
// balance, audit entry, address touch and notification in one transaction.
func (s *Store) CreditDeposit(ctx context.Context, params store.CreditDepositParams) (*models.OperationEntry, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive, got %s", params.Amount)
	}
	now := params.CreditedAt.UTC()
	if params.CreditedAt.IsZero() {
		now = time.Now().UTC()
	}

	var entry *models.OperationEntry
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, queryLockDeposit, params.DepositId).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("deposit %s: %w", params.DepositId, store.ErrDepositNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock deposit: %w", err)
		}
		if status != string(models.DepositPending) {
			return fmt.Errorf("deposit %s is %s: %w", params.DepositId, status, store.ErrDepositNotPending)
		}

		tag, err := tx.Exec(ctx, queryCreditDeposit, params.Amount.String(), params.GatewayTxId,
			params.BlockchainHash, params.Confirmations, now, params.DepositId)
		if isUniqueViolation(err) {
			return fmt.Errorf("deposit %s: %w", params.DepositId, store.ErrDuplicateTransaction)
		}
		if err != nil {
			return fmt.Errorf("mark deposit credited: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("deposit %s: %w", params.DepositId, store.ErrDepositNotPending)
		}

		entry, err = applyOperation(ctx, tx, operationParams{
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
			return err
		}

		if params.Address != "" {
			if _, err := tx.Exec(ctx, queryTouchAddress, now, params.UserId, params.Address); err != nil {
				return fmt.Errorf("touch address: %w", err)
			}
		}

		return enqueueNotification(ctx, tx, params.UserId, models.NotificationDepositCredited,
			params.DepositId, params.Notification, now)
	})
	if err != nil {
		return nil, err
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

func (s *Store) ExpirePendingDeposits(ctx context.Context, createdBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, queryExpirePendingDeposits, time.Now().UTC(), createdBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire deposits: %w", err)
	}
	return tag.RowsAffected(), nil
}
