package formance

import (
	"context"
	"strings"
	"testing"

	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
)

// ---------- Unit tests for pure helpers (no Formance stack needed) ----------

func TestFormanceAsset(t *testing.T) {
	tests := []struct {
		asset models.Asset
		want  string
	}{
		{models.AssetUSDTTRC, "USDTTRC/6"},
		{models.AssetETH, "ETH/18"},
		{models.AssetTON, "TON/9"},
		{models.Asset("UNKNOWN"), "UNKNOWN/6"}, // default precision
	}
	for _, tt := range tests {
		if got := formanceAsset(tt.asset); got != tt.want {
			t.Errorf("formanceAsset(%q) = %q, want %q", tt.asset, got, tt.want)
		}
	}
}

func TestAssetSymbol(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"USDTBEP/6", "USDTBEP"},
		{"SOL/9", "SOL"},
		{"PLAIN", "PLAIN"},
	}
	for _, tt := range tests {
		if got := assetSymbol(tt.input); got != tt.want {
			t.Errorf("assetSymbol(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSmallestUnitsRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("12.345678")
	units := smallestUnits(amount, models.AssetUSDTBEP)
	if units != "12345678" {
		t.Fatalf("expected 12345678, got %s", units)
	}

	raw := decimal.RequireFromString(units).BigInt()
	back := bigIntToDecimal(raw, models.AssetUSDTBEP)
	if !back.Equal(amount) {
		t.Errorf("expected %s, got %s", amount, back)
	}

	if got := bigIntToDecimal(nil, models.AssetTON); !got.IsZero() {
		t.Errorf("expected 0, got %s", got)
	}
}

func TestScriptFor(t *testing.T) {
	tests := []struct {
		posting Posting
		marker  string
		varKey  string
	}{
		{Posting{Kind: KindDeposit, UserId: "u1", Asset: models.AssetTON, Amount: decimal.NewFromInt(1)}, "@platform:gateway:", "network_asset"},
		{Posting{Kind: KindInvestment, UserId: "u1", InvestmentId: "i1", Asset: models.AssetUSDTBEP, Amount: decimal.NewFromInt(1)}, "@investments:$investment_id", "investment_id"},
		{Posting{Kind: KindPayout, UserId: "u1", InvestmentId: "i1", Asset: models.AssetUSDTBEP, Amount: decimal.NewFromInt(1)}, "allowing unbounded overdraft", "investment_id"},
		{Posting{Kind: KindReferral, UserId: "u1", Asset: models.AssetSOL, Amount: decimal.NewFromInt(1)}, "@platform:referrals", "user_id"},
		{Posting{Kind: KindWithdrawal, UserId: "u1", WithdrawalId: "w1", Asset: models.AssetETH, Amount: decimal.NewFromInt(1)}, "withdrawal_ref", "withdrawal_ref"},
	}
	for _, tt := range tests {
		script, vars, err := scriptFor(tt.posting)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.posting.Kind, err)
		}
		if !strings.Contains(script, tt.marker) {
			t.Errorf("%s: script missing %q", tt.posting.Kind, tt.marker)
		}
		if vars[tt.varKey] == "" {
			t.Errorf("%s: var %q not set", tt.posting.Kind, tt.varKey)
		}
		if vars["asset"] != formanceAsset(tt.posting.Asset) {
			t.Errorf("%s: asset var = %q", tt.posting.Kind, vars["asset"])
		}
	}

	if _, _, err := scriptFor(Posting{Kind: "bogus"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestNewMirrorWithoutStackIsNoop(t *testing.T) {
	m, err := NewMirror(context.Background(), models.LedgerConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m.(Noop); !ok {
		t.Fatalf("expected Noop mirror, got %T", m)
	}
	if err := m.Record(context.Background(), Posting{Kind: KindDeposit}); err != nil {
		t.Errorf("noop record failed: %v", err)
	}
}

func TestNewServiceRequiresCredentials(t *testing.T) {
	if _, err := NewService(context.Background(), models.LedgerConfig{StackURL: "http://localhost"}); err == nil {
		t.Error("expected error without client credentials")
	}
}

func TestIsConflictError(t *testing.T) {
	if isConflictError(nil) {
		t.Error("nil should not be a conflict error")
	}
}
