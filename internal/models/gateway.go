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
	"encoding/json"
	"time"
)

// Gateway transaction statuses that mean the funds arrived.
const (
	GatewayStatusCompleted = "completed"
	GatewayStatusConfirmed = "confirmed"
)

// GatewayTxFinal reports whether a gateway status is terminal and successful.
func GatewayTxFinal(status string) bool {
	return status == GatewayStatusCompleted || status == GatewayStatusConfirmed
}

// FlexString decodes a JSON string or number into its textual form. The
// gateway is inconsistent about quoting ids and amounts.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(b)
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// GeneratedAddress is returned by the gateway's address generation call
type GeneratedAddress struct {
	Address  string     `json:"address"`
	DestTag  FlexString `json:"dest_tag"`
	Currency string     `json:"currency"`
	Label    string     `json:"label"`
}

// GatewayTransaction represents a wallet transaction as reported by WestWallet
type GatewayTransaction struct {
	Id             FlexString `json:"id"`
	Type           string     `json:"type"`
	Address        string     `json:"address"`
	DestTag        FlexString `json:"dest_tag"`
	Label          string     `json:"label"`
	Currency       string     `json:"currency"`
	Amount         FlexString `json:"amount"`
	Fee            FlexString `json:"fee"`
	Status         string     `json:"status"`
	BlockchainHash string     `json:"blockchain_hash"`
	Confirmations  int        `json:"blockchain_confirmations"`
	CreatedAt      string     `json:"created_at"`
	UpdatedAt      string     `json:"updated_at"`
}

// Incoming reports whether the transaction moved funds into the wallet.
// History entries without a type are treated as incoming.
func (t GatewayTransaction) Incoming() bool {
	return t.Type == "" || t.Type == "receive"
}

// Time parses the gateway's creation timestamp. Gateway timestamps carry no
// zone and are UTC.
func (t GatewayTransaction) Time() (time.Time, bool) {
	layouts := []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05", "2006-01-02T15:04:05"}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, t.CreatedAt, time.UTC); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// GatewayWithdrawal is the result of a withdrawal request to the gateway
type GatewayWithdrawal struct {
	Id             FlexString `json:"id"`
	Amount         FlexString `json:"amount"`
	Address        string     `json:"address"`
	DestTag        FlexString `json:"dest_tag"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	BlockchainHash string     `json:"blockchain_hash"`
	Fee            FlexString `json:"fee"`
}
