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
	"go.uber.org/zap"
)

func scanAddress(row rowScanner) (*models.DepositAddress, error) {
	var addr models.DepositAddress
	var lastUsed sql.NullTime
	if err := row.Scan(&addr.Id, &addr.UserId, &addr.Asset, &addr.Address, &addr.Memo,
		&addr.Label, &addr.CreatedAt, &lastUsed); err != nil {
		return nil, err
	}
	addr.LastUsedAt = timePtr(lastUsed)
	return &addr, nil
}

func (s *Service) queryAddresses(ctx context.Context, query string, args ...any) ([]models.DepositAddress, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query addresses: %w", err)
	}
	defer closeRows(rows)

	var addresses []models.DepositAddress
	for rows.Next() {
		addr, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan address row: %w", err)
		}
		addresses = append(addresses, *addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating address rows: %w", err)
	}
	return addresses, nil
}

// StoreAddress saves a user's static address for an asset. A second address
// for the same (user, asset) is rejected with ErrDuplicateTransaction.
func (s *Service) StoreAddress(ctx context.Context, params store.StoreAddressParams) (*models.DepositAddress, error) {
	if !params.Asset.Valid() {
		return nil, fmt.Errorf("unsupported asset %q", params.Asset)
	}
	if params.Address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}

	zap.L().Info("Storing deposit address",
		zap.String("user_id", params.UserId),
		zap.String("asset", params.Asset.String()),
		zap.String("address", params.Address))

	addr := &models.DepositAddress{
		Id:        uuid.New().String(),
		UserId:    params.UserId,
		Asset:     params.Asset,
		Address:   params.Address,
		Memo:      params.Memo,
		Label:     params.Label,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, queryInsertAddress, addr.Id, addr.UserId, addr.Asset, addr.Address,
		addr.Memo, addr.Label, addr.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("address for %s/%s: %w", params.UserId, params.Asset, store.ErrDuplicateTransaction)
	}
	if err != nil {
		zap.L().Error("Failed to store address", zap.String("user_id", params.UserId), zap.Error(err))
		return nil, fmt.Errorf("unable to store address: %w", err)
	}

	return addr, nil
}

// GetAddress returns the user's static address for an asset, or nil if none exists.
func (s *Service) GetAddress(ctx context.Context, userId string, asset models.Asset) (*models.DepositAddress, error) {
	addr, err := scanAddress(s.db.QueryRowContext(ctx, queryGetAddress, userId, asset))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query address: %w", err)
	}
	return addr, nil
}

func (s *Service) GetUserAddresses(ctx context.Context, userId string) ([]models.DepositAddress, error) {
	return s.queryAddresses(ctx, queryGetUserAddresses, userId)
}

func (s *Service) GetAllAddresses(ctx context.Context) ([]models.DepositAddress, error) {
	return s.queryAddresses(ctx, queryGetAllAddresses)
}

// FindAddress resolves a receiving address, memo and asset to its owner's
// record, or nil when the address is not one of ours.
func (s *Service) FindAddress(ctx context.Context, address, memo string, asset models.Asset) (*models.DepositAddress, error) {
	addr, err := scanAddress(s.db.QueryRowContext(ctx, queryFindAddress, address, memo, asset))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to find address: %w", err)
	}
	return addr, nil
}
