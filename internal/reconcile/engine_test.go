package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/database"
	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *database.Service {
	t.Helper()
	s, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "reconcile.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	store  *database.Service
	engine *Engine
	user   *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := newTestStore(t)
	user, err := s.CreateUser(context.Background(), store.CreateUserParams{TelegramId: 1001, Username: "alice"})
	require.NoError(t, err)
	return &fixture{store: s, engine: NewEngine(s, nil, nil, DefaultConfig()), user: user}
}

func (f *fixture) address(t *testing.T, userId string, asset models.Asset, address, memo string) *models.DepositAddress {
	t.Helper()
	addr, err := f.store.StoreAddress(context.Background(), store.StoreAddressParams{
		UserId: userId, Asset: asset, Address: address, Memo: memo, Label: "static_" + address,
	})
	require.NoError(t, err)
	return addr
}

func (f *fixture) pending(t *testing.T, userId string, asset models.Asset, address, memo string, createdAt time.Time) *models.Deposit {
	t.Helper()
	dep, err := f.store.CreateDeposit(context.Background(), store.CreateDepositParams{
		UserId:          userId,
		Label:           fmt.Sprintf("deposit_%s_%d", userId, createdAt.UnixNano()),
		Asset:           asset,
		RequestedAmount: dec("100"),
		Address:         address,
		Memo:            memo,
		CreatedAt:       createdAt,
	})
	require.NoError(t, err)
	return dep
}

func (f *fixture) balance(t *testing.T, userId string, asset models.Asset) decimal.Decimal {
	t.Helper()
	b, err := f.store.GetBalance(context.Background(), userId, asset)
	require.NoError(t, err)
	return b
}

func (f *fixture) operations(t *testing.T, userId string) []models.OperationEntry {
	t.Helper()
	ops, err := f.store.GetOperationHistory(context.Background(), userId, 100, 0)
	require.NoError(t, err)
	return ops
}

func TestReconcile_WebhookReplayCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.address(t, f.user.Id, models.AssetUSDTBEP, "0xA", "")
	f.pending(t, f.user.Id, models.AssetUSDTBEP, "0xA", "", time.Now().Add(-time.Minute))

	ev := Event{
		GatewayTxId:    "5001",
		Address:        "0xA",
		Currency:       "USDTBEP",
		Amount:         dec("100"),
		BlockchainHash: "0xabc",
		Status:         "completed",
		TxTime:         time.Now(),
		Source:         SourceWebhook,
	}

	first, err := f.engine.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, first.Outcome)
	require.NotNil(t, first.Operation)
	assert.Equal(t, "Auto-credited deposit: 100 USDTBEP - Hash:0xabc TX:5001", first.Operation.Description)

	second, err := f.engine.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	assert.True(t, f.balance(t, f.user.Id, models.AssetUSDTBEP).Equal(dec("100")))
	assert.Len(t, f.operations(t, f.user.Id), 1)
}

func TestReconcile_ConcurrentDeliveriesCreditOnce(t *testing.T) {
	f := newFixture(t)
	f.address(t, f.user.Id, models.AssetUSDTTRC, "TXyz", "")
	f.pending(t, f.user.Id, models.AssetUSDTTRC, "TXyz", "", time.Now().Add(-time.Minute))

	ev := Event{
		GatewayTxId: "6001", Address: "TXyz", Currency: "USDTTRC", Amount: dec("42.5"),
		BlockchainHash: "0xrace", Status: "completed", TxTime: time.Now(), Source: SourceScan,
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := map[Outcome]int{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Reconcile(context.Background(), ev)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			outcomes[res.Outcome]++
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeCredited])
	assert.Equal(t, 7, outcomes[OutcomeDuplicate]+outcomes[OutcomeRaceLost])
	assert.True(t, f.balance(t, f.user.Id, models.AssetUSDTTRC).Equal(dec("42.5")))
}

func TestReconcile_LabelMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dep := f.pending(t, f.user.Id, models.AssetUSDTBEP, "0xB", "", time.Now())

	ev := Event{
		GatewayTxId: "7001", Address: "0xB", Currency: "USDT", Amount: dec("10"),
		Label: dep.Label, Status: "completed", Source: SourceWebhook,
	}
	res, err := f.engine.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	assert.Equal(t, dep.Id, res.DepositId)
	// A generic ticker credits the network the deposit was opened on.
	assert.Equal(t, models.AssetUSDTBEP, res.Asset)

	// The label now names a credited deposit and the address is unknown.
	ev.GatewayTxId = "7002"
	res, err = f.engine.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.True(t, f.balance(t, f.user.Id, models.AssetUSDTBEP).Equal(dec("10")))
}

func TestReconcile_StaleLabelFallsThroughToAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.address(t, f.user.Id, models.AssetUSDTBEP, "0xS", "")
	first := f.pending(t, f.user.Id, models.AssetUSDTBEP, "0xS", "", time.Now().Add(-time.Hour))

	ev := Event{
		GatewayTxId: "7101", Address: "0xS", Currency: "USDTBEP", Amount: dec("25"),
		BlockchainHash: "0xs1", Label: first.Label, Status: "completed",
		TxTime: time.Now(), Source: SourceWebhook,
	}
	res, err := f.engine.Reconcile(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeCredited, res.Outcome)
	assert.Equal(t, first.Id, res.DepositId)

	second := f.pending(t, f.user.Id, models.AssetUSDTBEP, "0xS", "", time.Now().Add(-time.Minute))
	ev.GatewayTxId = "7102"
	ev.BlockchainHash = "0xs2"
	ev.Amount = dec("40")
	res, err = f.engine.Reconcile(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeCredited, res.Outcome)
	assert.Equal(t, second.Id, res.DepositId)
	assert.True(t, f.balance(t, f.user.Id, models.AssetUSDTBEP).Equal(dec("65")))
}

func TestReconcile_StaleTransactionIsSkipped(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.address(t, f.user.Id, models.AssetTON, "EQstatic", "00001001")
	f.pending(t, f.user.Id, models.AssetTON, "EQstatic", "00001001", now)

	res, err := f.engine.Reconcile(context.Background(), Event{
		GatewayTxId: "8001", Address: "EQstatic", Memo: "00001001", Currency: "TON",
		Amount: dec("3"), BlockchainHash: "0xold", Status: "completed",
		TxTime: now.Add(-10 * time.Minute), Source: SourceScan,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.True(t, f.balance(t, f.user.Id, models.AssetTON).IsZero())
}

func TestReconcile_MemoIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.store.CreateUser(ctx, store.CreateUserParams{TelegramId: 1002})
	require.NoError(t, err)

	f.address(t, f.user.Id, models.AssetTON, "EQshared", "00001001")
	f.address(t, other.Id, models.AssetTON, "EQshared", "00001002")
	f.pending(t, f.user.Id, models.AssetTON, "EQshared", "00001001", time.Now().Add(-time.Minute))
	f.pending(t, other.Id, models.AssetTON, "EQshared", "00001002", time.Now().Add(-time.Minute))

	res, err := f.engine.Reconcile(ctx, Event{
		GatewayTxId: "9001", Address: "EQshared", Memo: "00001002", Currency: "TON",
		Amount: dec("7"), BlockchainHash: "0xmemo", Status: "completed",
		TxTime: time.Now().Add(time.Second), Source: SourceScan,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	assert.Equal(t, other.Id, res.UserId)
	assert.True(t, f.balance(t, other.Id, models.AssetTON).Equal(dec("7")))
	assert.True(t, f.balance(t, f.user.Id, models.AssetTON).IsZero())

	res, err = f.engine.Reconcile(ctx, Event{
		GatewayTxId: "9002", Address: "EQshared", Memo: "", Currency: "TON",
		Amount: dec("1"), BlockchainHash: "0xnomemo", Status: "completed", Source: SourceScan,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestReconcile_SynthesizesForStaticAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.address(t, f.user.Id, models.AssetSOL, "SoLaddr", "")

	res, err := f.engine.Reconcile(ctx, Event{
		GatewayTxId: "1101", Address: "SoLaddr", Currency: "SOL", Amount: dec("2"),
		BlockchainHash: "sigA", Status: "completed", TxTime: time.Now().Add(time.Second), Source: SourceWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)

	dep, err := f.store.GetDepositByLabel(ctx, "static_1101")
	require.NoError(t, err)
	require.NotNil(t, dep)
	assert.Equal(t, models.DepositCredited, dep.Status)

	// A second transfer to the same address gets its own deposit row.
	res, err = f.engine.Reconcile(ctx, Event{
		GatewayTxId: "1102", Address: "SoLaddr", Currency: "SOL", Amount: dec("3"),
		BlockchainHash: "sigB", Status: "completed", TxTime: time.Now().Add(2 * time.Second), Source: SourceWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	assert.True(t, f.balance(t, f.user.Id, models.AssetSOL).Equal(dec("5")))
}

type stubLookup struct {
	tx    *models.GatewayTransaction
	err   error
	calls int
}

func (l *stubLookup) GetTransaction(context.Context, string) (*models.GatewayTransaction, error) {
	l.calls++
	return l.tx, l.err
}

func gatewayTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func TestReconcile_WebhookWithoutTime(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		lookup  *stubLookup
		outcome Outcome
		reason  string
	}{
		{"no lookup", nil, OutcomeStale, "transaction time unknown"},
		{"lookup fails", &stubLookup{err: errors.New("gateway down")}, OutcomeStale, "transaction time unknown"},
		{"gateway time predates deposit",
			&stubLookup{tx: &models.GatewayTransaction{CreatedAt: gatewayTime(now.Add(-30 * time.Minute))}},
			OutcomeStale, "transaction predates pending deposit"},
		{"gateway time after deposit",
			&stubLookup{tx: &models.GatewayTransaction{CreatedAt: gatewayTime(now.Add(-5 * time.Minute))}},
			OutcomeCredited, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.lookup != nil {
				f.engine.WithLookup(tt.lookup)
			}
			f.address(t, f.user.Id, models.AssetUSDTBEP, "0xLate", "")
			dep := f.pending(t, f.user.Id, models.AssetUSDTBEP, "0xLate", "", now.Add(-10*time.Minute))

			res, err := f.engine.Reconcile(context.Background(), Event{
				GatewayTxId: "2101", Address: "0xLate", Currency: "USDTBEP", Amount: dec("100"),
				BlockchainHash: "0xlate", Status: "completed", Source: SourceWebhook,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.reason, res.Reason)
			if tt.lookup != nil {
				assert.Equal(t, 1, tt.lookup.calls)
			}

			if tt.outcome == OutcomeCredited {
				assert.Equal(t, dep.Id, res.DepositId)
				assert.True(t, f.balance(t, f.user.Id, models.AssetUSDTBEP).Equal(dec("100")))
				return
			}
			assert.True(t, f.balance(t, f.user.Id, models.AssetUSDTBEP).IsZero())
			got, err := f.store.GetDepositById(context.Background(), dep.Id)
			require.NoError(t, err)
			assert.Equal(t, models.DepositPending, got.Status)
		})
	}
}

func TestReconcile_EventTimeSkipsLookup(t *testing.T) {
	f := newFixture(t)
	lookup := &stubLookup{err: errors.New("not called")}
	f.engine.WithLookup(lookup)
	f.address(t, f.user.Id, models.AssetSOL, "SoTimed", "")
	f.pending(t, f.user.Id, models.AssetSOL, "SoTimed", "", time.Now().Add(-time.Minute))

	res, err := f.engine.Reconcile(context.Background(), Event{
		GatewayTxId: "2201", Address: "SoTimed", Currency: "SOL", Amount: dec("1"),
		BlockchainHash: "sigTimed", Status: "completed", TxTime: time.Now(), Source: SourceWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	assert.Zero(t, lookup.calls)
}

func TestReconcile_ScanDoesNotOpenDeposits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.address(t, f.user.Id, models.AssetSOL, "SoScan", "")

	res, err := f.engine.Reconcile(ctx, Event{
		GatewayTxId: "2301", Address: "SoScan", Currency: "SOL", Amount: dec("2"),
		BlockchainHash: "sigScan", Status: "completed", TxTime: time.Now().Add(time.Second), Source: SourceScan,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.Equal(t, "no pending deposit", res.Reason)

	dep, err := f.store.GetDepositByLabel(ctx, "static_2301")
	require.NoError(t, err)
	assert.Nil(t, dep)
	assert.True(t, f.balance(t, f.user.Id, models.AssetSOL).IsZero())
}

func TestReconcile_AddressMatchIsPerAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.address(t, f.user.Id, models.AssetETH, "0xEvm", "")
	ethDeposit := f.pending(t, f.user.Id, models.AssetETH, "0xEvm", "", time.Now().Add(-time.Minute))

	res, err := f.engine.Reconcile(ctx, Event{
		GatewayTxId: "2401", Address: "0xEvm", Currency: "USDTERC", Amount: dec("50"),
		BlockchainHash: "0xusdt", Status: "completed", TxTime: time.Now(), Source: SourceScan,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)

	got, err := f.store.GetDepositById(ctx, ethDeposit.Id)
	require.NoError(t, err)
	assert.Equal(t, models.DepositPending, got.Status)

	// A generic ticker still reaches the network the address was issued on.
	f.address(t, f.user.Id, models.AssetUSDTBEP, "0xBep", "")
	bepDeposit := f.pending(t, f.user.Id, models.AssetUSDTBEP, "0xBep", "", time.Now().Add(-time.Minute))
	res, err = f.engine.Reconcile(ctx, Event{
		GatewayTxId: "2402", Address: "0xBep", Currency: "USDT", Amount: dec("20"),
		BlockchainHash: "0xbep", Status: "completed", TxTime: time.Now(), Source: SourceScan,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	assert.Equal(t, bepDeposit.Id, res.DepositId)
	assert.Equal(t, models.AssetUSDTBEP, res.Asset)
	assert.True(t, f.balance(t, f.user.Id, models.AssetUSDTBEP).Equal(dec("20")))
}

func TestReconcile_TransferBeforeAddressIsStale(t *testing.T) {
	f := newFixture(t)
	f.address(t, f.user.Id, models.AssetETH, "0xEth", "")

	res, err := f.engine.Reconcile(context.Background(), Event{
		GatewayTxId: "1201", Address: "0xEth", Currency: "ETH", Amount: dec("1"),
		BlockchainHash: "0xearly", Status: "completed",
		TxTime: time.Now().Add(-24 * time.Hour), Source: SourceWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, res.Outcome)
}

func TestReconcile_SynthesisDisabled(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.SynthesizeForStatics = false
	engine := NewEngine(f.store, nil, nil, cfg)
	f.address(t, f.user.Id, models.AssetBNB, "0xBnb", "")

	res, err := engine.Reconcile(context.Background(), Event{
		GatewayTxId: "1301", Address: "0xBnb", Currency: "BNB", Amount: dec("1"),
		Status: "completed", Source: SourceWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestReconcile_AuditGuardMatchesManualCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.address(t, f.user.Id, models.AssetUSDTBEP, "0xC", "")

	// A manual credit that recorded the hash only in its description.
	manual := f.pending(t, f.user.Id, models.AssetUSDTBEP, "0xC", "", time.Now().Add(-time.Hour))
	_, err := f.store.CreditDeposit(ctx, store.CreditDepositParams{
		DepositId: manual.Id, UserId: f.user.Id, Asset: models.AssetUSDTBEP, Amount: dec("25"),
		GatewayTxId: "manual-1", Description: "Manual credit: 25 USDTBEP - Hash:0xfeed TX:N/A",
	})
	require.NoError(t, err)

	f.pending(t, f.user.Id, models.AssetUSDTBEP, "0xC", "", time.Now().Add(-time.Minute))
	res, err := f.engine.Reconcile(ctx, Event{
		GatewayTxId: "1401", Address: "0xC", Currency: "USDTBEP", Amount: dec("25"),
		BlockchainHash: "0xfeed", Status: "completed", TxTime: time.Now(), Source: SourceWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, "referenced in operation history", res.Reason)
	assert.True(t, f.balance(t, f.user.Id, models.AssetUSDTBEP).Equal(dec("25")))
}

func TestReconcile_AmountHeuristicWithoutHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.address(t, f.user.Id, models.AssetTON, "EQnohash", "00001001")
	f.pending(t, f.user.Id, models.AssetTON, "EQnohash", "00001001", time.Now().Add(-time.Minute))

	ev := Event{
		GatewayTxId: "1501", Address: "EQnohash", Memo: "00001001", Currency: "TON",
		Amount: dec("12.5"), Status: "completed", TxTime: time.Now().Add(time.Second), Source: SourceWebhook,
	}
	res, err := f.engine.Reconcile(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeCredited, res.Outcome)

	ev.GatewayTxId = "1502"
	res, err = f.engine.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, "same amount credited recently", res.Reason)

	ev.GatewayTxId = "1503"
	ev.Amount = dec("12.6")
	res, err = f.engine.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
}

func TestReconcile_IgnoresNonFinalStatus(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Reconcile(context.Background(), Event{
		GatewayTxId: "1601", Address: "0xA", Currency: "ETH", Amount: dec("1"),
		Status: "pending", Source: SourceWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
}

func TestReconcile_InvalidEvents(t *testing.T) {
	f := newFixture(t)
	valid := Event{GatewayTxId: "1", Address: "0xA", Currency: "ETH", Amount: dec("1"), Source: SourceScan}

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing id", func(e *Event) { e.GatewayTxId = " " }},
		{"missing address", func(e *Event) { e.Address = "" }},
		{"zero amount", func(e *Event) { e.Amount = decimal.Zero }},
		{"negative amount", func(e *Event) { e.Amount = dec("-1") }},
		{"unknown asset", func(e *Event) { e.Currency = "DOGE" }},
		{"unknown source", func(e *Event) { e.Source = "cron" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			_, err := f.engine.Reconcile(context.Background(), ev)
			assert.True(t, errors.Is(err, ErrInvalidEvent), "got %v", err)
		})
	}
}

func TestEventFromTransaction(t *testing.T) {
	tx := models.GatewayTransaction{
		Id: "77", Address: "EQ", DestTag: "00000001", Currency: "TON", Amount: "1.25",
		Status: "completed", BlockchainHash: "h", Confirmations: 3, CreatedAt: "2024-05-01 10:00:00",
	}
	ev, err := EventFromTransaction(tx, SourceScan)
	require.NoError(t, err)
	assert.Equal(t, "77", ev.GatewayTxId)
	assert.Equal(t, "00000001", ev.Memo)
	assert.True(t, ev.Amount.Equal(dec("1.25")))
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ev.TxTime)

	tx.Amount = "abc"
	_, err = EventFromTransaction(tx, SourceScan)
	assert.True(t, errors.Is(err, ErrInvalidEvent))
}

func TestDescription(t *testing.T) {
	assert.Equal(t, "Auto-credited deposit: 5 TON - Hash:N/A TX:9",
		Description(dec("5"), models.AssetTON, "", "9"))
}
