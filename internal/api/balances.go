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

	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetBalances returns the user's balances grouped by token. Networks are
// listed in priority order, and the USD value is zero when no price is available.
func (s *WalletService) GetBalances(ctx context.Context, userId string) ([]models.TokenBalance, error) {
	sheet, err := s.store.GetBalances(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get balances", zap.String("user_id", userId), zap.Error(err))
		return nil, err
	}

	var out []models.TokenBalance
	for _, token := range sheet.Tokens() {
		tb := models.TokenBalance{
			Token:     token,
			Aggregate: sheet.Aggregate(token),
			UsdValue:  decimal.Zero,
		}
		for _, asset := range s.networksFor(token, sheet) {
			tb.Networks = append(tb.Networks, models.NetworkBalance{
				Asset:   asset,
				Network: asset.Network(),
				Balance: sheet.Get(asset),
			})
		}
		if s.prices != nil && tb.Aggregate.IsPositive() {
			price, err := s.prices.USDPrice(ctx, token)
			if err != nil {
				zap.L().Warn("No USD price for token",
					zap.String("token", string(token)),
					zap.Error(err))
			} else {
				tb.UsdValue = tb.Aggregate.Mul(price).Round(2)
			}
		}
		out = append(out, tb)
	}
	return out, nil
}

// networksFor lists the sheet's assets for token, configured networks first.
func (s *WalletService) networksFor(token models.Token, sheet models.BalanceSheet) []models.Asset {
	seen := make(map[models.Asset]bool)
	var assets []models.Asset
	for _, asset := range s.priority.Assets(token) {
		if _, ok := sheet[asset]; ok {
			assets = append(assets, asset)
			seen[asset] = true
		}
	}
	for _, asset := range models.AllAssets() {
		if _, ok := sheet[asset]; ok && !seen[asset] && asset.Token() == token {
			assets = append(assets, asset)
		}
	}
	return assets
}

// GetBalance returns the balance held on one network.
func (s *WalletService) GetBalance(ctx context.Context, userId string, asset models.Asset) (decimal.Decimal, error) {
	return s.store.GetBalance(ctx, userId, asset)
}
