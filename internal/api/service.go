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
	"fmt"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/formance"
	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/shopspring/decimal"
)

// Gateway is the part of the WestWallet client the wallet service calls.
type Gateway interface {
	GenerateAddress(ctx context.Context, asset models.Asset, label string) (*models.GeneratedAddress, error)
	CreateWithdrawal(ctx context.Context, asset models.Asset, amount decimal.Decimal, address, memo, description string) (*models.GatewayWithdrawal, error)
}

// PriceSource quotes token prices in USD.
type PriceSource interface {
	USDPrice(ctx context.Context, token models.Token) (decimal.Decimal, error)
}

// WalletService provides the user-facing wallet operations
type WalletService struct {
	store         store.LedgerStore
	gateway       Gateway
	prices        PriceSource
	mirror        formance.Mirror
	priority      models.NetworkPriority
	depositReuse  time.Duration
	depositExpiry time.Duration
	now           func() time.Time
}

func NewWalletService(st store.LedgerStore, gateway Gateway, prices PriceSource, mirror formance.Mirror,
	priority models.NetworkPriority, listener models.ListenerConfig) *WalletService {
	if mirror == nil {
		mirror = formance.Noop{}
	}
	if priority == nil {
		priority = models.DefaultNetworkPriority()
	}
	expiry := listener.DepositExpiry
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	return &WalletService{
		store:         st,
		gateway:       gateway,
		prices:        prices,
		mirror:        mirror,
		priority:      priority,
		depositReuse:  expiry,
		depositExpiry: expiry,
		now:           time.Now,
	}
}

func (s *WalletService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
