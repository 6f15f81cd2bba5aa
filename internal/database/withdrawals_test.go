package database

import (
	"context"
	"testing"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawal_FailureReversesDebit(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 5001, "")
	fund(t, s, user.Id, models.AssetTON, "10")

	w, err := s.CreateWithdrawal(ctx, store.CreateWithdrawalParams{
		UserId: user.Id, Asset: models.AssetTON, Amount: dec("4"), Address: "EQdest", Memo: "42",
	})
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, w.Status)

	balance, err := s.GetBalance(ctx, user.Id, models.AssetTON)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("6")))

	require.NoError(t, s.FailWithdrawal(ctx, w.Id, "gateway rejected"))

	balance, err = s.GetBalance(ctx, user.Id, models.AssetTON)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("10")))

	// Already failed, nothing left to reverse.
	err = s.FailWithdrawal(ctx, w.Id, "again")
	assert.ErrorIs(t, err, store.ErrWithdrawalNotFound)

	balance, err = s.GetBalance(ctx, user.Id, models.AssetTON)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("10")))
}

func TestWithdrawal_Submitted(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 5002, "")
	fund(t, s, user.Id, models.AssetSOL, "3")

	w, err := s.CreateWithdrawal(ctx, store.CreateWithdrawalParams{
		UserId: user.Id, Asset: models.AssetSOL, Amount: dec("1.5"), Address: "So1dest",
	})
	require.NoError(t, err)

	err = s.MarkWithdrawalSubmitted(ctx, w.Id, models.GatewayWithdrawal{
		Id: "9001", BlockchainHash: "sig", Fee: "0.001",
	})
	require.NoError(t, err)

	err = s.FailWithdrawal(ctx, w.Id, "late failure")
	assert.ErrorIs(t, err, store.ErrWithdrawalNotFound)

	balance, err := s.GetBalance(ctx, user.Id, models.AssetSOL)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("1.5")))
}

func TestWithdrawal_InsufficientBalance(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	user := createTestUser(t, s, 5003, "")
	fund(t, s, user.Id, models.AssetUSDTBEP, "5")

	_, err := s.CreateWithdrawal(context.Background(), store.CreateWithdrawalParams{
		UserId: user.Id, Asset: models.AssetUSDTBEP, Amount: dec("6"), Address: "0xdest",
	})
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)
	assert.Equal(t, 0, countRows(t, s, `SELECT COUNT(1) FROM withdrawals`))
}

func TestNotifications_PendingAndSent(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 5004, "")
	dep := createPendingDeposit(t, s, user.Id, models.AssetBNB, "0xbnb", time.Now().UTC())
	_, err := s.CreditDeposit(ctx, store.CreditDepositParams{
		DepositId: dep.Id, UserId: user.Id, Asset: models.AssetBNB, Amount: dec("0.2"),
		GatewayTxId: "55", Notification: "Deposit of 0.2 BNB credited",
	})
	require.NoError(t, err)

	notes, err := s.GetPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationDepositCredited, notes[0].Kind)
	assert.Equal(t, dep.Id, notes[0].Reference)

	require.NoError(t, s.MarkNotificationSent(ctx, notes[0].Id, time.Now()))

	notes, err = s.GetPendingNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, notes)
}
