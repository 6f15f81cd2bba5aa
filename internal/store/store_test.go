package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/python-is-trash/westwallet-backend/internal/models"
)

func TestSentinelErrorsSurviveWrapping(t *testing.T) {
	sentinels := []error{
		ErrDuplicateTransaction,
		ErrConcurrentModification,
		ErrUserNotFound,
		ErrDepositNotFound,
		ErrDepositNotPending,
		ErrInsufficientBalance,
		ErrPlanNotFound,
		ErrInvestmentNotFound,
		ErrInvestmentNotActive,
		ErrClaimCooldown,
		ErrInvalidClaim,
		ErrWithdrawalNotFound,
	}

	for _, sentinel := range sentinels {
		wrapped := fmt.Errorf("outer - %w", fmt.Errorf("inner: %w", sentinel))
		if !errors.Is(wrapped, sentinel) {
			t.Errorf("errors.Is lost %v through wrapping", sentinel)
		}
		for _, other := range sentinels {
			if other != sentinel && errors.Is(wrapped, other) {
				t.Errorf("%v unexpectedly matches %v", sentinel, other)
			}
		}
	}
}

func TestInsufficientBalanceMatchesModels(t *testing.T) {
	err := fmt.Errorf("debit failed: %w", models.ErrInsufficientFunds)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatal("expected models.ErrInsufficientFunds to satisfy ErrInsufficientBalance")
	}
}

func TestLedgerStoreInterfaceExists(t *testing.T) {
	var _ LedgerStore
	if MaxReferralDepth != 5 {
		t.Fatalf("expected referral depth 5, got %d", MaxReferralDepth)
	}
}

func TestDescriptionPatternsEscapeWildcards(t *testing.T) {
	q := OperationReferenceQuery{Hash: `0x_%\`, GatewayTxId: "1_2"}
	hashMid, hashEnd, txMid, txEnd := q.DescriptionPatterns()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"hash followed by space", hashMid, `%Hash:0x\_\%\\ %`},
		{"hash at end", hashEnd, `%Hash:0x\_\%\\`},
		{"gateway id followed by space", txMid, `%TX:1\_2 %`},
		{"gateway id at end", txEnd, `%TX:1\_2`},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
