package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/python-is-trash/westwallet-backend/internal/formance"
	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WithdrawalRequest names the network to debit and the destination.
type WithdrawalRequest struct {
	UserId  string
	Asset   models.Asset
	Amount  decimal.Decimal
	Address string
	Memo    string
}

func (r WithdrawalRequest) validate() error {
	if r.UserId == "" {
		return fmt.Errorf("user_id is required")
	}
	if !r.Asset.Valid() {
		return fmt.Errorf("unsupported asset %q", r.Asset)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("withdrawal amount must be positive")
	}
	if r.Address == "" {
		return fmt.Errorf("destination address is required")
	}
	return nil
}

// RequestWithdrawal debits the network balance, records the withdrawal and
// submits it to the gateway. A gateway rejection reverses the debit.
func (s *WalletService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*models.WithdrawalResult, error) {
	result := &models.WithdrawalResult{Asset: req.Asset, Amount: req.Amount}
	if err := req.validate(); err != nil {
		result.Error = err.Error()
		return result, nil
	}

	w, err := s.store.CreateWithdrawal(ctx, store.CreateWithdrawalParams{
		UserId:    req.UserId,
		Asset:     req.Asset,
		Amount:    req.Amount,
		Address:   req.Address,
		Memo:      req.Memo,
		CreatedAt: s.now(),
	})
	if errors.Is(err, store.ErrInsufficientBalance) {
		result.Error = fmt.Sprintf("insufficient %s balance", req.Asset)
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to create withdrawal: %w", err)
	}
	result.WithdrawalId = w.Id

	if err := s.mirror.Record(ctx, formance.Posting{
		Kind:         formance.KindWithdrawal,
		Reference:    "withdrawal:" + w.Id,
		UserId:       w.UserId,
		Asset:        w.Asset,
		Amount:       w.Amount,
		WithdrawalId: w.Id,
	}); err != nil {
		zap.L().Warn("Ledger mirror rejected withdrawal posting",
			zap.String("withdrawal_id", w.Id),
			zap.Error(err))
	}

	gw, err := s.gateway.CreateWithdrawal(ctx, w.Asset, w.Amount, w.Address, w.Memo, "withdrawal "+w.Id)
	if err != nil {
		zap.L().Error("Gateway rejected withdrawal, reversing debit",
			zap.String("withdrawal_id", w.Id),
			zap.String("user_id", w.UserId),
			zap.Error(err))

		if failErr := s.store.FailWithdrawal(ctx, w.Id, err.Error()); failErr != nil {
			zap.L().Error("CRITICAL: withdrawal debit not reversed",
				zap.String("withdrawal_id", w.Id),
				zap.Error(failErr))
			return nil, fmt.Errorf("unable to reverse withdrawal %s: %w", w.Id, failErr)
		}
		if revertErr := s.mirror.RevertWithdrawal(ctx, w.Id); revertErr != nil {
			zap.L().Warn("Ledger mirror could not revert withdrawal",
				zap.String("withdrawal_id", w.Id),
				zap.Error(revertErr))
		}
		result.Error = fmt.Sprintf("gateway rejected withdrawal: %v", err)
		result.NewBalance, _ = s.store.GetBalance(ctx, w.UserId, w.Asset)
		return result, nil
	}

	// The funds have left the hot wallet; a failed status update must not reverse the debit.
	if err := s.store.MarkWithdrawalSubmitted(ctx, w.Id, *gw); err != nil {
		zap.L().Error("Failed to record gateway withdrawal id",
			zap.String("withdrawal_id", w.Id),
			zap.String("gateway_id", gw.Id.String()),
			zap.Error(err))
	}

	result.Success = true
	result.GatewayId = gw.Id.String()
	result.NewBalance, err = s.store.GetBalance(ctx, w.UserId, w.Asset)
	if err != nil {
		zap.L().Warn("Unable to read balance after withdrawal", zap.Error(err))
	}

	zap.L().Info("Withdrawal submitted",
		zap.String("withdrawal_id", w.Id),
		zap.String("gateway_id", result.GatewayId),
		zap.String("asset", w.Asset.String()),
		zap.String("amount", w.Amount.String()))
	return result, nil
}
