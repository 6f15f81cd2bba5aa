package formance

import (
	"context"
	"fmt"

	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Posting kinds. Each kind has its own Numscript template.
const (
	KindDeposit     = "deposit"
	KindInvestment  = "investment"
	KindPayout      = "payout"
	KindReferral    = "referral"
	KindWithdrawal  = "withdrawal"
	KindAdminAdjust = "admin_adjustment"
)

// Posting is one committed balance movement for a user.
type Posting struct {
	Kind         string
	Reference    string
	UserId       string
	Asset        models.Asset
	Amount       decimal.Decimal
	InvestmentId string
	WithdrawalId string
	Metadata     map[string]string
}

// ---------------------------------------------------------------------------
// Numscript templates. Gateway and platform accounts may overdraft; user
// accounts never do.
// ---------------------------------------------------------------------------

const numscriptDeposit = `vars {
  asset $asset
  number $amount
  account $user_id
  string $network_asset
}

send [$asset $amount] (
  source = @platform:gateway:$network_asset allowing unbounded overdraft
  destination = @users:$user_id
)

set_tx_meta("event_type", "deposit")
`

const numscriptInvestment = `vars {
  asset $asset
  number $amount
  account $user_id
  account $investment_id
}

send [$asset $amount] (
  source = @users:$user_id
  destination = @investments:$investment_id
)

set_tx_meta("event_type", "investment")
`

const numscriptPayout = `vars {
  asset $asset
  number $amount
  account $user_id
  account $investment_id
}

send [$asset $amount] (
  source = @investments:$investment_id allowing unbounded overdraft
  destination = @users:$user_id
)

set_tx_meta("event_type", "payout")
`

const numscriptReferral = `vars {
  asset $asset
  number $amount
  account $user_id
}

send [$asset $amount] (
  source = @platform:referrals allowing unbounded overdraft
  destination = @users:$user_id
)

set_tx_meta("event_type", "referral")
`

const numscriptWithdrawal = `vars {
  asset $asset
  number $amount
  account $user_id
  string $withdrawal_ref
}

send [$asset $amount] (
  source = @users:$user_id
  destination = @platform:withdrawals:pending
)

set_tx_meta("event_type", "withdrawal")
set_tx_meta("withdrawal_ref", $withdrawal_ref)
`

const numscriptAdminAdjust = `vars {
  asset $asset
  number $amount
  account $user_id
}

send [$asset $amount] (
  source = @platform:adjustments allowing unbounded overdraft
  destination = @users:$user_id
)

set_tx_meta("event_type", "admin_adjustment")
`

func scriptFor(p Posting) (string, map[string]string, error) {
	vars := map[string]string{
		"asset":   formanceAsset(p.Asset),
		"amount":  smallestUnits(p.Amount, p.Asset),
		"user_id": p.UserId,
	}
	switch p.Kind {
	case KindDeposit:
		vars["network_asset"] = p.Asset.String()
		return numscriptDeposit, vars, nil
	case KindInvestment:
		vars["investment_id"] = p.InvestmentId
		return numscriptInvestment, vars, nil
	case KindPayout:
		vars["investment_id"] = p.InvestmentId
		return numscriptPayout, vars, nil
	case KindReferral:
		return numscriptReferral, vars, nil
	case KindWithdrawal:
		vars["withdrawal_ref"] = p.WithdrawalId
		return numscriptWithdrawal, vars, nil
	case KindAdminAdjust:
		return numscriptAdminAdjust, vars, nil
	}
	return "", nil, fmt.Errorf("unknown posting kind %q", p.Kind)
}

// Record posts p under its reference. Replays of the same reference are
// accepted silently.
func (s *Service) Record(ctx context.Context, p Posting) error {
	if !p.Amount.IsPositive() {
		return nil
	}
	script, vars, err := scriptFor(p)
	if err != nil {
		return err
	}

	metadata := map[string]string{
		"asset_symbol": p.Asset.String(),
		"amount_human": p.Amount.String(),
	}
	for k, v := range p.Metadata {
		metadata[k] = v
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr(p.Reference),
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars:  vars,
		},
		Metadata: metadata,
	}
	if gc := models.GetGatewayContext(ctx); gc != nil {
		metadata["gateway_source"] = gc.Source
		metadata["gateway_status"] = gc.RawStatus
		if gc.RemoteAddr != "" {
			metadata["remote_addr"] = gc.RemoteAddr
		}
		if !gc.ReceivedAt.IsZero() {
			postTx.Timestamp = &gc.ReceivedAt
		}
	}

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			return nil
		}
		return fmt.Errorf("error mirroring %s posting %s: %w", p.Kind, p.Reference, err)
	}

	zap.L().Debug("Posting mirrored to Formance",
		zap.String("kind", p.Kind),
		zap.String("reference", p.Reference),
		zap.String("user_id", p.UserId),
		zap.String("asset", p.Asset.String()),
		zap.String("amount", p.Amount.String()))
	return nil
}

// RevertWithdrawal undoes the withdrawal posting tagged with withdrawalId.
// If already reverted, returns nil.
func (s *Service) RevertWithdrawal(ctx context.Context, withdrawalId string) error {
	pageSize := int64(1)
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
		RequestBody: map[string]any{
			"$match": map[string]any{
				"metadata[withdrawal_ref]": withdrawalId,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to find transaction by withdrawal_ref %s: %w", withdrawalId, err)
	}
	if len(resp.V2TransactionsCursorResponse.Cursor.Data) == 0 {
		zap.L().Warn("No mirrored withdrawal to revert", zap.String("withdrawal_ref", withdrawalId))
		return nil
	}

	tx := resp.V2TransactionsCursorResponse.Cursor.Data[0]
	if tx.Reverted {
		return nil
	}

	_, err = s.client.Ledger.V2.RevertTransaction(ctx, operations.V2RevertTransactionRequest{
		Ledger:          s.ledger,
		ID:              tx.ID,
		AtEffectiveDate: ptrBool(true),
	})
	if err != nil {
		if isConflictError(err) || isAlreadyRevertedError(err) {
			return nil
		}
		return fmt.Errorf("failed to revert withdrawal %s: %w", withdrawalId, err)
	}

	zap.L().Info("Withdrawal reverted in Formance",
		zap.String("withdrawal_ref", withdrawalId),
		zap.String("tx_id", tx.ID.String()))
	return nil
}

func smallestUnits(amount decimal.Decimal, asset models.Asset) string {
	return amount.Shift(int32(precisionFor(asset))).BigInt().String()
}
