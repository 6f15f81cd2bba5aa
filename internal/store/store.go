package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
)

// MaxReferralDepth is how many ancestor levels are materialized per user.
const MaxReferralDepth = 5

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrUserNotFound           = errors.New("user not found")
	ErrDepositNotFound        = errors.New("deposit not found")
	ErrDepositNotPending      = errors.New("deposit is not pending")
	ErrInsufficientBalance    = models.ErrInsufficientFunds
	ErrPlanNotFound           = errors.New("investment plan not found")
	ErrInvestmentNotFound     = errors.New("investment not found")
	ErrInvestmentNotActive    = errors.New("investment is not active")
	ErrClaimCooldown          = errors.New("claim cooldown active")
	ErrInvalidClaim           = errors.New("invalid claim")
	ErrWithdrawalNotFound     = errors.New("withdrawal not found")
)

// CreateUserParams contains the parameters for registering a user.
type CreateUserParams struct {
	TelegramId int64
	Username   string
	Language   string
	ReferrerId string
}

// StoreAddressParams contains the parameters for storing a deposit address.
type StoreAddressParams struct {
	UserId  string
	Asset   models.Asset
	Address string
	Memo    string
	Label   string
}

// CreateDepositParams contains the parameters for opening a pending deposit.
type CreateDepositParams struct {
	UserId          string
	Label           string
	Asset           models.Asset
	RequestedAmount decimal.Decimal
	Address         string
	Memo            string
	CreatedAt       time.Time
}

// CreditDepositParams describes the atomic pending -> credited transition.
type CreditDepositParams struct {
	DepositId      string
	UserId         string
	Asset          models.Asset
	Amount         decimal.Decimal
	GatewayTxId    string
	BlockchainHash string
	Confirmations  int
	Address        string
	Description    string
	Notification   string
	CreditedAt     time.Time
}

// OperationReferenceQuery looks for a same-user audit entry naming a hash or
// gateway transaction id.
type OperationReferenceQuery struct {
	UserId       string
	Hash         string
	HashSince    time.Time
	GatewayTxId  string
	GatewaySince time.Time
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// DescriptionPatterns returns LIKE patterns, escaped with '\', that find the
// hash and the gateway id as whole tokens inside an audit description
// ("... Hash:<hash> TX:<id>").
func (q OperationReferenceQuery) DescriptionPatterns() (hashMid, hashEnd, txMid, txEnd string) {
	hash := likeEscaper.Replace(q.Hash)
	tx := likeEscaper.Replace(q.GatewayTxId)
	return "%Hash:" + hash + " %", "%Hash:" + hash, "%TX:" + tx + " %", "%TX:" + tx
}

// CreateInvestmentParams opens a position by debiting the token's networks
// in the given order.
type CreateInvestmentParams struct {
	UserId     string
	Plan       models.Plan
	Token      models.Token
	Amount     decimal.Decimal
	Priority   models.NetworkPriority
	UniqueCode string
	StartTime  time.Time
}

// InvestmentPayoutParams applies a claim or completion computed by the
// caller against the investment version it read.
type InvestmentPayoutParams struct {
	InvestmentId      string
	UserId            string
	ExpectedVersion   int64
	Asset             models.Asset
	Profit            decimal.Decimal
	Principal         decimal.Decimal
	AccumulatedProfit decimal.Decimal
	LastClaimTime     *time.Time
	Complete          bool
	OperationType     string
	Description       string
	Notification      string
	Now               time.Time
	// CooldownSince, when set, requires the user's last claim to be at or
	// before it; the user's last claim time is then moved to Now.
	CooldownSince *time.Time
}

// ReferralCommissionParams credits one ancestor for one realized profit.
type ReferralCommissionParams struct {
	ReferrerId        string
	ReferredId        string
	Level             int
	Percentage        decimal.Decimal
	Asset             models.Asset
	Amount            decimal.Decimal
	UsdValue          decimal.Decimal
	InvestmentId      string
	SourceOperationId string
	Description       string
	Notification      string
	CreatedAt         time.Time
}

// CreateWithdrawalParams debits one network and records the request.
type CreateWithdrawalParams struct {
	UserId    string
	Asset     models.Asset
	Amount    decimal.Decimal
	Address   string
	Memo      string
	CreatedAt time.Time
}

// LedgerStore defines the contract that every backend (SQLite, Postgres) must satisfy.
type LedgerStore interface {
	// --- Users ---
	CreateUser(ctx context.Context, params CreateUserParams) (*models.User, error)
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByTelegramId(ctx context.Context, telegramId int64) (*models.User, error)

	// --- Addresses ---
	StoreAddress(ctx context.Context, params StoreAddressParams) (*models.DepositAddress, error)
	GetAddress(ctx context.Context, userId string, asset models.Asset) (*models.DepositAddress, error)
	GetUserAddresses(ctx context.Context, userId string) ([]models.DepositAddress, error)
	GetAllAddresses(ctx context.Context) ([]models.DepositAddress, error)
	FindAddress(ctx context.Context, address, memo string, asset models.Asset) (*models.DepositAddress, error)

	// --- Deposits ---
	CreateDeposit(ctx context.Context, params CreateDepositParams) (*models.Deposit, error)
	GetDepositById(ctx context.Context, depositId string) (*models.Deposit, error)
	GetDepositByLabel(ctx context.Context, label string) (*models.Deposit, error)
	GetLatestPendingDeposit(ctx context.Context, userId, address string, asset models.Asset) (*models.Deposit, error)
	GetRecentPendingDeposit(ctx context.Context, userId string, asset models.Asset, since time.Time) (*models.Deposit, error)
	IsHashCredited(ctx context.Context, hash string) (bool, error)
	IsGatewayTxCredited(ctx context.Context, gatewayTxId string) (bool, error)
	HasOperationReference(ctx context.Context, query OperationReferenceQuery) (bool, error)
	GetRecentOperationAmounts(ctx context.Context, userId string, asset models.Asset, operationType string, since time.Time) ([]decimal.Decimal, error)
	CreditDeposit(ctx context.Context, params CreditDepositParams) (*models.OperationEntry, error)
	ExpirePendingDeposits(ctx context.Context, createdBefore time.Time) (int64, error)

	// --- Balances ---
	GetBalances(ctx context.Context, userId string) (models.BalanceSheet, error)
	GetBalance(ctx context.Context, userId string, asset models.Asset) (decimal.Decimal, error)
	GetOperationHistory(ctx context.Context, userId string, limit, offset int) ([]models.OperationEntry, error)

	// --- Investments ---
	CreatePlan(ctx context.Context, plan models.Plan) (*models.Plan, error)
	GetPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	GetPlan(ctx context.Context, planId string) (*models.Plan, error)
	CreateInvestment(ctx context.Context, params CreateInvestmentParams) (*models.Investment, error)
	GetInvestment(ctx context.Context, investmentId string) (*models.Investment, error)
	GetUserInvestments(ctx context.Context, userId string) ([]models.Investment, error)
	GetMaturedInvestments(ctx context.Context, now time.Time) ([]models.Investment, error)
	ApplyInvestmentPayout(ctx context.Context, params InvestmentPayoutParams) (*models.OperationEntry, error)

	// --- Referrals ---
	GetReferralAncestors(ctx context.Context, userId string, maxLevel int) ([]models.ReferralEdge, error)
	CreditReferralCommission(ctx context.Context, params ReferralCommissionParams) (*models.ReferralEarning, error)
	GetReferralEarnings(ctx context.Context, referrerId string) ([]models.ReferralEarning, error)

	// --- Withdrawals ---
	CreateWithdrawal(ctx context.Context, params CreateWithdrawalParams) (*models.Withdrawal, error)
	MarkWithdrawalSubmitted(ctx context.Context, withdrawalId string, result models.GatewayWithdrawal) error
	FailWithdrawal(ctx context.Context, withdrawalId, reason string) error

	// --- Notifications ---
	GetPendingNotifications(ctx context.Context, limit int) ([]models.Notification, error)
	MarkNotificationSent(ctx context.Context, notificationId string, sentAt time.Time) error

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}
