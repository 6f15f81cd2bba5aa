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
	"go.uber.org/zap"
)

func scanAddress(row rowScanner) (*models.DepositAddress, error) {
	var addr models.DepositAddress
	if err := row.Scan(&addr.Id, &addr.UserId, &addr.Asset, &addr.Address, &addr.Memo,
		&addr.Label, &addr.CreatedAt, &addr.LastUsedAt); err != nil {
		return nil, err
	}
	return &addr, nil
}

func (s *Store) StoreAddress(ctx context.Context, params store.StoreAddressParams) (*models.DepositAddress, error) {
	if !params.Asset.Valid() {
		return nil, fmt.Errorf("unsupported asset %q", params.Asset)
	}
	if params.Address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}

	addr := &models.DepositAddress{
		Id:        uuid.New().String(),
		UserId:    params.UserId,
		Asset:     params.Asset,
		Address:   params.Address,
		Memo:      params.Memo,
		Label:     params.Label,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx, queryInsertAddress, addr.Id, addr.UserId, addr.Asset, addr.Address,
		addr.Memo, addr.Label, addr.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("address for %s %s: %w", params.UserId, params.Asset, store.ErrDuplicateTransaction)
	}
	if err != nil {
		return nil, fmt.Errorf("insert address: %w", err)
	}

	zap.L().Info("Deposit address stored",
		zap.String("user_id", addr.UserId),
		zap.String("asset", addr.Asset.String()),
		zap.String("address", addr.Address))
	return addr, nil
}

// GetAddress returns nil, nil when the user has no address for the asset.
func (s *Store) GetAddress(ctx context.Context, userId string, asset models.Asset) (*models.DepositAddress, error) {
	addr, err := scanAddress(s.pool.QueryRow(ctx, queryGetAddress, userId, asset))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get address: %w", err)
	}
	return addr, nil
}

func (s *Store) queryAddresses(ctx context.Context, query string, args ...any) ([]models.DepositAddress, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var addrs []models.DepositAddress
	for rows.Next() {
		addr, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		addrs = append(addrs, *addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate addresses: %w", err)
	}
	return addrs, nil
}

func (s *Store) GetUserAddresses(ctx context.Context, userId string) ([]models.DepositAddress, error) {
	return s.queryAddresses(ctx, queryGetUserAddresses, userId)
}

func (s *Store) GetAllAddresses(ctx context.Context) ([]models.DepositAddress, error) {
	return s.queryAddresses(ctx, queryGetAllAddresses)
}

// FindAddress matches the address case-insensitively, the memo and the asset exactly.
func (s *Store) FindAddress(ctx context.Context, address, memo string, asset models.Asset) (*models.DepositAddress, error) {
	addr, err := scanAddress(s.pool.QueryRow(ctx, queryFindAddress, address, memo, asset))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find address: %w", err)
	}
	return addr, nil
}
