package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditDeposit_ReplayCreditsOnce(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 1001, "")
	_, err := s.StoreAddress(ctx, store.StoreAddressParams{UserId: user.Id, Asset: models.AssetUSDTBEP, Address: "0xabc1"})
	require.NoError(t, err)
	dep := createPendingDeposit(t, s, user.Id, models.AssetUSDTBEP, "0xabc1", time.Now().UTC())

	params := store.CreditDepositParams{
		DepositId:      dep.Id,
		UserId:         user.Id,
		Asset:          models.AssetUSDTBEP,
		Amount:         dec("100"),
		GatewayTxId:    "777",
		BlockchainHash: "0xabc",
		Address:        "0xabc1",
		Description:    "Auto-credited deposit: 100 USDTBEP - Hash:0xabc TX:777",
		Notification:   "Deposit of 100 USDTBEP credited",
	}

	entry, err := s.CreditDeposit(ctx, params)
	require.NoError(t, err)
	assert.True(t, entry.BalanceAfter.Equal(dec("100")))

	_, err = s.CreditDeposit(ctx, params)
	if !errors.Is(err, store.ErrDepositNotPending) {
		t.Fatalf("expected ErrDepositNotPending on replay, got %v", err)
	}

	balance, err := s.GetBalance(ctx, user.Id, models.AssetUSDTBEP)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("100")), "balance %s", balance)

	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(1) FROM operation_history WHERE user_id = ?`, user.Id))
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(1) FROM notifications WHERE user_id = ?`, user.Id))

	addr, err := s.GetAddress(ctx, user.Id, models.AssetUSDTBEP)
	require.NoError(t, err)
	require.NotNil(t, addr.LastUsedAt)

	credited, err := s.IsHashCredited(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, credited)

	credited, err = s.IsGatewayTxCredited(ctx, "777")
	require.NoError(t, err)
	assert.True(t, credited)
}

func TestCreditDeposit_DuplicateHashRollsBack(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 1002, "")
	first := createPendingDeposit(t, s, user.Id, models.AssetUSDTTRC, "T1", time.Now().UTC().Add(-time.Minute))
	second := createPendingDeposit(t, s, user.Id, models.AssetUSDTTRC, "T1", time.Now().UTC())

	_, err := s.CreditDeposit(ctx, store.CreditDepositParams{
		DepositId: first.Id, UserId: user.Id, Asset: models.AssetUSDTTRC,
		Amount: dec("50"), GatewayTxId: "1", BlockchainHash: "hash-1",
	})
	require.NoError(t, err)

	_, err = s.CreditDeposit(ctx, store.CreditDepositParams{
		DepositId: second.Id, UserId: user.Id, Asset: models.AssetUSDTTRC,
		Amount: dec("50"), GatewayTxId: "2", BlockchainHash: "hash-1",
	})
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}

	dep, err := s.GetDepositById(ctx, second.Id)
	require.NoError(t, err)
	assert.Equal(t, models.DepositPending, dep.Status)

	balance, err := s.GetBalance(ctx, user.Id, models.AssetUSDTTRC)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("50")))
}

func TestCreditDeposit_ConcurrentCallersOneWinner(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 1003, "")
	dep := createPendingDeposit(t, s, user.Id, models.AssetUSDTBEP, "0xrace", time.Now().UTC())

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, losses := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreditDeposit(ctx, store.CreditDepositParams{
				DepositId: dep.Id, UserId: user.Id, Asset: models.AssetUSDTBEP,
				Amount: dec("100"), GatewayTxId: "race-1", BlockchainHash: "0xrace",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrDepositNotPending):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, losses)

	balance, err := s.GetBalance(ctx, user.Id, models.AssetUSDTBEP)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("100")), "balance %s", balance)
}

func TestCreditDeposit_UnknownDeposit(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	user := createTestUser(t, s, 1004, "")
	_, err := s.CreditDeposit(context.Background(), store.CreditDepositParams{
		DepositId: "missing", UserId: user.Id, Asset: models.AssetTON, Amount: dec("1"),
	})
	if !errors.Is(err, store.ErrDepositNotFound) {
		t.Fatalf("expected ErrDepositNotFound, got %v", err)
	}
}

func TestExpirePendingDeposits(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 1005, "")
	now := time.Now().UTC()
	old := createPendingDeposit(t, s, user.Id, models.AssetTON, "EQ1", now.Add(-45*time.Minute))
	fresh := createPendingDeposit(t, s, user.Id, models.AssetTON, "EQ1", now.Add(-5*time.Minute))

	n, err := s.ExpirePendingDeposits(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	dep, err := s.GetDepositById(ctx, old.Id)
	require.NoError(t, err)
	assert.Equal(t, models.DepositCancelled, dep.Status)

	dep, err = s.GetDepositById(ctx, fresh.Id)
	require.NoError(t, err)
	assert.Equal(t, models.DepositPending, dep.Status)

	latest, err := s.GetLatestPendingDeposit(ctx, user.Id, "eq1", models.AssetTON)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, fresh.Id, latest.Id)

	latest, err = s.GetLatestPendingDeposit(ctx, user.Id, "eq1", models.AssetUSDTTON)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestGetRecentPendingDeposit(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 1006, "")
	now := time.Now().UTC()
	createPendingDeposit(t, s, user.Id, models.AssetSOL, "So1", now.Add(-40*time.Minute))

	dep, err := s.GetRecentPendingDeposit(ctx, user.Id, models.AssetSOL, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, dep)

	recent := createPendingDeposit(t, s, user.Id, models.AssetSOL, "So1", now.Add(-10*time.Minute))
	dep, err = s.GetRecentPendingDeposit(ctx, user.Id, models.AssetSOL, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, dep)
	assert.Equal(t, recent.Id, dep.Id)
}

func TestHasOperationReference(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 1007, "")
	dep := createPendingDeposit(t, s, user.Id, models.AssetETH, "0xeth", time.Now().UTC())
	_, err := s.CreditDeposit(ctx, store.CreditDepositParams{
		DepositId: dep.Id, UserId: user.Id, Asset: models.AssetETH, Amount: dec("0.5"),
		GatewayTxId: "123", BlockchainHash: "0xfeed",
		Description: "Auto-credited deposit: 0.5 ETH - Hash:0xfeed TX:123",
	})
	require.NoError(t, err)

	since := time.Now().UTC().Add(-time.Hour)
	tests := []struct {
		name  string
		query store.OperationReferenceQuery
		want  bool
	}{
		{"hash", store.OperationReferenceQuery{UserId: user.Id, Hash: "0xfeed", HashSince: since}, true},
		{"gateway id", store.OperationReferenceQuery{UserId: user.Id, GatewayTxId: "123", GatewaySince: since}, true},
		{"gateway id prefix does not match", store.OperationReferenceQuery{UserId: user.Id, GatewayTxId: "12", GatewaySince: since}, false},
		{"hash prefix does not match", store.OperationReferenceQuery{UserId: user.Id, Hash: "0xfe", HashSince: since}, false},
		{"percent in hash is literal", store.OperationReferenceQuery{UserId: user.Id, Hash: "0x%", HashSince: since}, false},
		{"underscore in gateway id is literal", store.OperationReferenceQuery{UserId: user.Id, GatewayTxId: "1_3", GatewaySince: since}, false},
		{"other user", store.OperationReferenceQuery{UserId: "someone", Hash: "0xfeed", HashSince: since}, false},
		{"outside window", store.OperationReferenceQuery{UserId: user.Id, Hash: "0xfeed", HashSince: time.Now().UTC().Add(time.Hour)}, false},
		{"empty", store.OperationReferenceQuery{UserId: user.Id}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.HasOperationReference(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	amounts, err := s.GetRecentOperationAmounts(ctx, user.Id, models.AssetETH, models.OperationDeposit, since)
	require.NoError(t, err)
	require.Len(t, amounts, 1)
	assert.True(t, amounts[0].Equal(dec("0.5")))
}

func TestStoreAddress_OnePerAsset(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 1008, "")
	_, err := s.StoreAddress(ctx, store.StoreAddressParams{UserId: user.Id, Asset: models.AssetTON, Address: "EQshared", Memo: "00001008"})
	require.NoError(t, err)

	_, err = s.StoreAddress(ctx, store.StoreAddressParams{UserId: user.Id, Asset: models.AssetTON, Address: "EQother"})
	assert.ErrorIs(t, err, store.ErrDuplicateTransaction)

	found, err := s.FindAddress(ctx, "EQshared", "00001008", models.AssetTON)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, user.Id, found.UserId)

	found, err = s.FindAddress(ctx, "EQshared", "", models.AssetTON)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestHasOperationReference_HashAtEndOfDescription(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 1010, "")
	dep := createPendingDeposit(t, s, user.Id, models.AssetSOL, "So9", time.Now().UTC())
	_, err := s.CreditDeposit(ctx, store.CreditDepositParams{
		DepositId: dep.Id, UserId: user.Id, Asset: models.AssetSOL, Amount: dec("1"),
		GatewayTxId: "manual-9", Description: "Manual credit: 1 SOL - Hash:sig_9",
	})
	require.NoError(t, err)

	since := time.Now().UTC().Add(-time.Hour)
	found, err := s.HasOperationReference(ctx, store.OperationReferenceQuery{UserId: user.Id, Hash: "sig_9", HashSince: since})
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.HasOperationReference(ctx, store.OperationReferenceQuery{UserId: user.Id, Hash: "sig", HashSince: since})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindAddress_MatchesAsset(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 1011, "")
	_, err := s.StoreAddress(ctx, store.StoreAddressParams{UserId: user.Id, Asset: models.AssetETH, Address: "0xEvm"})
	require.NoError(t, err)
	_, err = s.StoreAddress(ctx, store.StoreAddressParams{UserId: user.Id, Asset: models.AssetUSDTERC, Address: "0xEvm"})
	require.NoError(t, err)

	found, err := s.FindAddress(ctx, "0xevm", "", models.AssetUSDTERC)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.AssetUSDTERC, found.Asset)

	found, err = s.FindAddress(ctx, "0xEvm", "", models.AssetBNB)
	require.NoError(t, err)
	assert.Nil(t, found)
}
