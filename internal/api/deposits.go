/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateDeposit returns payment instructions for a deposit. The user's
// static address for the asset is reused or generated once, and a pending
// deposit younger than the reuse window is returned instead of a new one.
func (s *WalletService) CreateDeposit(ctx context.Context, userId string, asset models.Asset, amount decimal.Decimal) (*models.DepositInstructions, error) {
	if userId == "" || !asset.Valid() {
		return nil, fmt.Errorf("user_id and a supported asset are required")
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("deposit amount cannot be negative")
	}

	user, err := s.store.GetUserById(ctx, userId)
	if err != nil {
		return nil, err
	}
	now := s.now()
	label := fmt.Sprintf("deposit_%s_%d", user.Id, now.UnixMilli())

	addr, err := s.staticAddress(ctx, user, asset, label)
	if err != nil {
		return nil, err
	}

	recent, err := s.store.GetRecentPendingDeposit(ctx, user.Id, asset, now.Add(-s.depositReuse))
	if err != nil {
		return nil, fmt.Errorf("unable to check pending deposits: %w", err)
	}
	if recent != nil && recent.Address == addr.Address {
		zap.L().Info("Reusing pending deposit",
			zap.String("deposit_id", recent.Id),
			zap.String("user_id", user.Id),
			zap.Duration("age", now.Sub(recent.CreatedAt)))
		return instructions(recent, addr, true, s.depositExpiry), nil
	}

	dep, err := s.store.CreateDeposit(ctx, store.CreateDepositParams{
		UserId:          user.Id,
		Label:           label,
		Asset:           asset,
		RequestedAmount: amount,
		Address:         addr.Address,
		Memo:            addr.Memo,
		CreatedAt:       now,
	})
	if err != nil {
		zap.L().Error("Failed to create pending deposit",
			zap.String("user_id", user.Id),
			zap.String("asset", asset.String()),
			zap.Error(err))
		return nil, err
	}
	return instructions(dep, addr, false, s.depositExpiry), nil
}

// EnsureAddress returns the user's static address for the asset, generating
// it on first use.
func (s *WalletService) EnsureAddress(ctx context.Context, userId string, asset models.Asset) (*models.DepositAddress, error) {
	if !asset.Valid() {
		return nil, fmt.Errorf("unsupported asset %q", asset)
	}
	user, err := s.store.GetUserById(ctx, userId)
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("deposit_%s_%d", user.Id, s.now().UnixMilli())
	return s.staticAddress(ctx, user, asset, label)
}

// staticAddress returns the user's permanent address for the asset,
// generating and storing it on first use.
func (s *WalletService) staticAddress(ctx context.Context, user *models.User, asset models.Asset, label string) (*models.DepositAddress, error) {
	addr, err := s.store.GetAddress(ctx, user.Id, asset)
	if err != nil {
		return nil, err
	}
	if addr != nil {
		return addr, nil
	}

	generated, err := s.gateway.GenerateAddress(ctx, asset, label)
	if err != nil {
		zap.L().Error("Address generation failed",
			zap.String("user_id", user.Id),
			zap.String("asset", asset.String()),
			zap.Error(err))
		return nil, fmt.Errorf("unable to generate %s address: %w", asset, err)
	}

	memo := generated.DestTag.String()
	if memo == "" && asset.RequiresMemo() {
		memo = FallbackMemo(user)
	}

	addr, err = s.store.StoreAddress(ctx, store.StoreAddressParams{
		UserId:  user.Id,
		Asset:   asset,
		Address: generated.Address,
		Memo:    memo,
		Label:   label,
	})
	if errors.Is(err, store.ErrDuplicateTransaction) {
		// Lost a race with a concurrent request for the same user.
		return s.store.GetAddress(ctx, user.Id, asset)
	}
	return addr, err
}

// FallbackMemo is the memo assigned on memo networks when the gateway does
// not return one: the zero padded Telegram id.
func FallbackMemo(user *models.User) string {
	return fmt.Sprintf("%08d", user.TelegramId)
}

// QRPayload encodes an address and optional memo for wallet apps.
func QRPayload(address, memo string) string {
	if memo == "" {
		return address
	}
	return address + "?dt=" + memo
}

func instructions(dep *models.Deposit, addr *models.DepositAddress, reused bool, expiry time.Duration) *models.DepositInstructions {
	return &models.DepositInstructions{
		DepositId: dep.Id,
		Label:     dep.Label,
		Asset:     dep.Asset,
		Amount:    dep.RequestedAmount,
		Address:   addr.Address,
		Memo:      addr.Memo,
		QRPayload: QRPayload(addr.Address, addr.Memo),
		Reused:    reused,
		ExpiresAt: dep.CreatedAt.Add(expiry),
	}
}
