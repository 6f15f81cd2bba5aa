package formance

import (
	"context"
	"fmt"
	"math/big"

	"github.com/python-is-trash/westwallet-backend/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Balances returns the mirrored per-network balances of users:{userId}.
func (s *Service) Balances(ctx context.Context, userId string) (models.BalanceSheet, error) {
	zap.L().Debug("Getting user balances from Formance", zap.String("user_id", userId))

	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: "users:" + userId,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account volumes for %s: %w", userId, err)
	}

	sheet := make(models.BalanceSheet)
	for fAsset, vol := range resp.V2AccountResponse.Data.Volumes {
		bal := volumeBalance(vol)
		if bal == nil || bal.Sign() == 0 {
			continue
		}
		asset := models.Asset(assetSymbol(fAsset))
		if !asset.Valid() {
			continue
		}
		sheet[asset] = bigIntToDecimal(bal, asset)
	}
	return sheet, nil
}

func (Noop) Balances(context.Context, string) (models.BalanceSheet, error) {
	return models.BalanceSheet{}, nil
}

// volumeBalance extracts the balance from a volume, deriving it from
// input and output when the stack omits it.
func volumeBalance(vol shared.V2Volume) *big.Int {
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

// bigIntToDecimal converts a *big.Int in smallest-unit to a human-readable decimal.
func bigIntToDecimal(raw *big.Int, asset models.Asset) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(precisionFor(asset)))
}

// assetSymbol extracts the symbol from a Formance asset like "USDTTRC/6".
func assetSymbol(fAsset string) string {
	for i, c := range fAsset {
		if c == '/' {
			return fAsset[:i]
		}
	}
	return fAsset
}
