package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
)

// ErrInvalidEvent is returned before any lookup or mutation when an event
// is malformed.
var ErrInvalidEvent = errors.New("invalid deposit event")

type Source string

const (
	SourceWebhook Source = "webhook"
	SourceScan    Source = "scan"
)

type Outcome string

const (
	OutcomeCredited  Outcome = "credited"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRaceLost  Outcome = "race_lost"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
)

// Event is one observation of an incoming gateway transaction.
type Event struct {
	GatewayTxId    string `validate:"required"`
	Address        string `validate:"required"`
	Memo           string
	Currency       string `validate:"required"`
	Amount         decimal.Decimal
	BlockchainHash string
	Confirmations  int `validate:"gte=0"`
	Label          string
	Status         string
	TxTime         time.Time
	Source         Source `validate:"oneof=webhook scan"`
}

// Result describes what the engine decided for an event.
type Result struct {
	Outcome   Outcome
	Reason    string
	DepositId string
	UserId    string
	Asset     models.Asset
	Amount    decimal.Decimal
	Operation *models.OperationEntry
}

// EventFromTransaction converts a gateway history entry into an event.
func EventFromTransaction(tx models.GatewayTransaction, source Source) (Event, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(tx.Amount.String()))
	if err != nil {
		return Event{}, fmt.Errorf("%w: amount %q: %v", ErrInvalidEvent, tx.Amount, err)
	}
	ev := Event{
		GatewayTxId:    tx.Id.String(),
		Address:        tx.Address,
		Memo:           tx.DestTag.String(),
		Currency:       tx.Currency,
		Amount:         amount,
		BlockchainHash: tx.BlockchainHash,
		Confirmations:  tx.Confirmations,
		Label:          tx.Label,
		Status:         tx.Status,
		Source:         source,
	}
	if ts, ok := tx.Time(); ok {
		ev.TxTime = ts
	}
	return ev, nil
}

// Description is the audit text recorded with an automatic credit. Manual
// credits follow the same format so the audit guard can match them.
func Description(amount decimal.Decimal, asset models.Asset, hash, gatewayTxId string) string {
	h := hash
	if h == "" {
		h = "N/A"
	}
	return fmt.Sprintf("Auto-credited deposit: %s %s - Hash:%s TX:%s", amount.String(), asset, h, gatewayTxId)
}

func notificationText(amount decimal.Decimal, asset models.Asset) string {
	return fmt.Sprintf("Deposit confirmed: %s %s (%s) credited to your balance.",
		amount.String(), asset.Token(), asset.Network())
}

func normalize(ev Event) Event {
	ev.GatewayTxId = strings.TrimSpace(ev.GatewayTxId)
	ev.Address = strings.TrimSpace(ev.Address)
	ev.Memo = strings.TrimSpace(ev.Memo)
	ev.BlockchainHash = strings.TrimSpace(ev.BlockchainHash)
	ev.Label = strings.TrimSpace(ev.Label)
	ev.Status = strings.ToLower(strings.TrimSpace(ev.Status))
	return ev
}
