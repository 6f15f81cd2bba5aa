package models

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds is returned when a debit exceeds the available balance.
var ErrInsufficientFunds = errors.New("insufficient balance")

// User represents a registered investor
type User struct {
	Id          string     `db:"id"`
	TelegramId  int64      `db:"telegram_id"`
	Username    string     `db:"username"`
	Language    string     `db:"language"`
	ReferrerId  string     `db:"referrer_id"`
	LastClaimAt *time.Time `db:"last_claim_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// DepositAddress is a user's permanent receiving address for one asset
type DepositAddress struct {
	Id         string     `db:"id"`
	UserId     string     `db:"user_id"`
	Asset      Asset      `db:"asset"`
	Address    string     `db:"address"`
	Memo       string     `db:"memo"`
	Label      string     `db:"label"`
	CreatedAt  time.Time  `db:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at"`
}

type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositCredited  DepositStatus = "credited"
	DepositCancelled DepositStatus = "cancelled"
)

// Deposit is one expected or observed incoming transfer
type Deposit struct {
	Id              string          `db:"id"`
	UserId          string          `db:"user_id"`
	Label           string          `db:"label"`
	Asset           Asset           `db:"asset"`
	RequestedAmount decimal.Decimal `db:"requested_amount"`
	CreditedAmount  decimal.Decimal `db:"credited_amount"`
	Address         string          `db:"address"`
	Memo            string          `db:"memo"`
	GatewayTxId     string          `db:"gateway_tx_id"`
	BlockchainHash  string          `db:"blockchain_hash"`
	Confirmations   int             `db:"confirmations"`
	Status          DepositStatus   `db:"status"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
	CreditedAt      *time.Time      `db:"credited_at"`
}

// Operation types recorded in the audit history.
const (
	OperationDeposit            = "deposit"
	OperationInvestment         = "investment"
	OperationClaim              = "claim"
	OperationAutoClaim          = "auto_claim"
	OperationReferralBonus      = "referral_bonus"
	OperationWithdrawalRequest  = "withdrawal_request"
	OperationWithdrawalReversal = "withdrawal_reversal"
	OperationAdminAdjustment    = "admin_adjustment"
)

// OperationEntry is an immutable audit record of a balance-affecting action
type OperationEntry struct {
	Id             string          `db:"id"`
	UserId         string          `db:"user_id"`
	Type           string          `db:"operation_type"`
	Asset          Asset           `db:"asset"`
	Amount         decimal.Decimal `db:"amount"`
	BalanceBefore  decimal.Decimal `db:"balance_before"`
	BalanceAfter   decimal.Decimal `db:"balance_after"`
	Reference      string          `db:"reference"`
	BlockchainHash string          `db:"blockchain_hash"`
	InvestmentId   string          `db:"investment_id"`
	Description    string          `db:"description"`
	Status         string          `db:"status"`
	CreatedAt      time.Time       `db:"created_at"`
}

// AccountBalance represents current balance state for one network
type AccountBalance struct {
	Id              string          `db:"id"`
	UserId          string          `db:"user_id"`
	Asset           Asset           `db:"asset"`
	Balance         decimal.Decimal `db:"balance"`
	LastOperationId string          `db:"last_operation_id"`
	Version         int64           `db:"version"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// BalanceSheet holds a user's per-network balances. Token aggregates are
// always derived from it and never stored.
type BalanceSheet map[Asset]decimal.Decimal

func NewBalanceSheet(balances []AccountBalance) BalanceSheet {
	sheet := make(BalanceSheet, len(balances))
	for _, b := range balances {
		sheet[b.Asset] = sheet[b.Asset].Add(b.Balance)
	}
	return sheet
}

func (b BalanceSheet) Get(asset Asset) decimal.Decimal {
	return b[asset]
}

// Aggregate sums the token's balances over every network.
func (b BalanceSheet) Aggregate(token Token) decimal.Decimal {
	total := decimal.Zero
	for asset, amount := range b {
		if asset.Token() == token {
			total = total.Add(amount)
		}
	}
	return total
}

// Tokens lists the tokens present in the sheet in a stable order.
func (b BalanceSheet) Tokens() []Token {
	seen := make(map[Token]bool)
	var tokens []Token
	for asset := range b {
		t := asset.Token()
		if !seen[t] {
			seen[t] = true
			tokens = append(tokens, t)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	return tokens
}

// Plan is an investment product
type Plan struct {
	Id            string          `db:"id"`
	Name          string          `db:"name"`
	DailyReturn   decimal.Decimal `db:"daily_return"`
	DurationHours int             `db:"duration_hours"`
	MinAmount     decimal.Decimal `db:"min_amount"`
	MaxAmount     decimal.Decimal `db:"max_amount"`
	Locked        bool            `db:"freeze_principal"`
	Active        bool            `db:"active"`
	SortOrder     int             `db:"sort_order"`
	CreatedAt     time.Time       `db:"created_at"`
}

type InvestmentStatus string

const (
	InvestmentActive    InvestmentStatus = "active"
	InvestmentCompleted InvestmentStatus = "completed"
)

// Investment is a user's position in a plan
type Investment struct {
	Id                string           `db:"id"`
	UserId            string           `db:"user_id"`
	PlanId            string           `db:"plan_id"`
	UniqueCode        string           `db:"unique_code"`
	Principal         decimal.Decimal  `db:"amount"`
	ReturnAmount      decimal.Decimal  `db:"return_amount"`
	DailyRate         decimal.Decimal  `db:"daily_rate"`
	DurationHours     int              `db:"duration_hours"`
	Locked            bool             `db:"freeze_principal"`
	Asset             Asset            `db:"asset"`
	Status            InvestmentStatus `db:"status"`
	StartTime         time.Time        `db:"start_time"`
	EndTime           time.Time        `db:"end_time"`
	LastClaimTime     *time.Time       `db:"last_claim_time"`
	AccumulatedProfit decimal.Decimal  `db:"accumulated_profit"`
	Version           int64            `db:"version"`
	CompletedAt       *time.Time       `db:"completed_at"`
}

// ReferralEdge links a user to one of their ancestors
type ReferralEdge struct {
	ReferrerId string    `db:"referrer_id"`
	ReferredId string    `db:"referred_id"`
	Level      int       `db:"level"`
	Active     bool      `db:"active"`
	CreatedAt  time.Time `db:"created_at"`
}

// ReferralEarning records one commission payout
type ReferralEarning struct {
	Id                string          `db:"id"`
	ReferrerId        string          `db:"referrer_id"`
	ReferredId        string          `db:"referred_id"`
	Level             int             `db:"level"`
	Asset             Asset           `db:"asset"`
	Amount            decimal.Decimal `db:"amount"`
	Percentage        decimal.Decimal `db:"percentage"`
	UsdValue          decimal.Decimal `db:"usd_value"`
	InvestmentId      string          `db:"investment_id"`
	SourceOperationId string          `db:"source_operation_id"`
	CreatedAt         time.Time       `db:"created_at"`
}

// Notification is a queued user message keyed for exactly-once delivery
type Notification struct {
	Id        string     `db:"id"`
	UserId    string     `db:"user_id"`
	Kind      string     `db:"kind"`
	Reference string     `db:"reference"`
	Message   string     `db:"message"`
	CreatedAt time.Time  `db:"created_at"`
	SentAt    *time.Time `db:"sent_at"`
}

// Notification kinds.
const (
	NotificationDepositCredited = "deposit_credited"
	NotificationReferralBonus   = "referral_bonus"
	NotificationInvestmentDone  = "investment_completed"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalSubmitted WithdrawalStatus = "submitted"
	WithdrawalFailed    WithdrawalStatus = "failed"
)

// Withdrawal is a user's payout request
type Withdrawal struct {
	Id             string           `db:"id"`
	UserId         string           `db:"user_id"`
	Asset          Asset            `db:"asset"`
	Amount         decimal.Decimal  `db:"amount"`
	Address        string           `db:"address"`
	Memo           string           `db:"memo"`
	Status         WithdrawalStatus `db:"status"`
	GatewayId      string           `db:"gateway_id"`
	BlockchainHash string           `db:"blockchain_hash"`
	Fee            decimal.Decimal  `db:"fee"`
	Error          string           `db:"error"`
	CreatedAt      time.Time        `db:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"`
}
