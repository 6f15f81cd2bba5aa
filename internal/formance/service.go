package formance

import (
	"context"
	"errors"
	"fmt"

	"github.com/python-is-trash/westwallet-backend/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// Mirror receives a copy of every committed balance movement. The SQL store
// stays authoritative; the mirror is an external double-entry audit trail.
type Mirror interface {
	Record(ctx context.Context, p Posting) error
	RevertWithdrawal(ctx context.Context, withdrawalId string) error
	Balances(ctx context.Context, userId string) (models.BalanceSheet, error)
}

// Compile-time checks.
var (
	_ Mirror = (*Service)(nil)
	_ Mirror = Noop{}
)

// assetPrecision maps gateway tickers to the smallest unit used in the ledger.
var assetPrecision = map[models.Asset]int{
	models.AssetUSDTBEP: 6,
	models.AssetUSDTTRC: 6,
	models.AssetUSDTERC: 6,
	models.AssetUSDTTON: 6,
	models.AssetUSDCERC: 6,
	models.AssetUSDCBEP: 6,
	models.AssetBNB:     18,
	models.AssetETH:     18,
	models.AssetTON:     9,
	models.AssetSOL:     9,
}

// Service mirrors postings into a Formance Stack ledger.
type Service struct {
	client *v3.Formance
	ledger string
}

// NewMirror returns a Formance-backed mirror, or Noop when no stack is configured.
func NewMirror(ctx context.Context, cfg models.LedgerConfig) (Mirror, error) {
	if cfg.StackURL == "" {
		zap.L().Info("Ledger mirror disabled")
		return Noop{}, nil
	}
	return NewService(ctx, cfg)
}

// NewService connects to the stack and creates the ledger if it doesn't already exist.
func NewService(ctx context.Context, cfg models.LedgerConfig) (*Service, error) {
	if cfg.StackURL == "" || cfg.ClientId == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientId, and ClientSecret")
	}
	if cfg.Ledger == "" {
		cfg.Ledger = "westwallet"
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.Ledger))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientId),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	svc := &Service{client: client, ledger: cfg.Ledger}
	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Formance mirror initialized", zap.String("ledger", cfg.Ledger))
	return svc, nil
}

func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "westwallet-backend",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

// Noop discards postings.
type Noop struct{}

func (Noop) Record(context.Context, Posting) error         { return nil }
func (Noop) RevertWithdrawal(context.Context, string) error { return nil }

// formanceAsset returns the Formance UMN notation, e.g. "USDTTRC/6".
func formanceAsset(asset models.Asset) string {
	return fmt.Sprintf("%s/%d", asset, precisionFor(asset))
}

func precisionFor(asset models.Asset) int {
	if p, ok := assetPrecision[asset]; ok {
		return p
	}
	return 6
}

// isConflictError checks whether a Formance SDK error is a CONFLICT (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

func isAlreadyRevertedError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumAlreadyRevert
}

func strPtr(s string) *string { return &s }
func ptrBool(v bool) *bool    { return &v }
