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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositInstructions tells a user where to send funds for a deposit
type DepositInstructions struct {
	DepositId string          `json:"deposit_id"`
	Label     string          `json:"label"`
	Asset     Asset           `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Address   string          `json:"address"`
	Memo      string          `json:"memo,omitempty"`
	QRPayload string          `json:"qr_payload"`
	Reused    bool            `json:"reused"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// NetworkBalance is one network's share of a token balance
type NetworkBalance struct {
	Asset   Asset           `json:"asset"`
	Network Network         `json:"network"`
	Balance decimal.Decimal `json:"balance"`
}

// TokenBalance is a derived aggregate over a token's networks
type TokenBalance struct {
	Token     Token            `json:"token"`
	Aggregate decimal.Decimal  `json:"aggregate"`
	UsdValue  decimal.Decimal  `json:"usd_value"`
	Networks  []NetworkBalance `json:"networks"`
}

// WithdrawalResult represents the result of a withdrawal request
type WithdrawalResult struct {
	Success      bool            `json:"success"`
	WithdrawalId string          `json:"withdrawal_id,omitempty"`
	GatewayId    string          `json:"gateway_id,omitempty"`
	Asset        Asset           `json:"asset,omitempty"`
	Amount       decimal.Decimal `json:"amount,omitempty"`
	NewBalance   decimal.Decimal `json:"new_balance,omitempty"`
	Error        string          `json:"error,omitempty"`
}
