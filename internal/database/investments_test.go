package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestPlan(t *testing.T, s *Service, name string, locked bool) *models.Plan {
	t.Helper()
	plan, err := s.CreatePlan(context.Background(), models.Plan{
		Name:          name,
		DailyReturn:   dec("1"),
		DurationHours: 24,
		MinAmount:     dec("10"),
		MaxAmount:     dec("10000"),
		Locked:        locked,
		Active:        true,
	})
	require.NoError(t, err)
	return plan
}

func TestCreateInvestment_DebitsInPriorityOrder(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 4001, "")
	fund(t, s, user.Id, models.AssetUSDTBEP, "30")
	fund(t, s, user.Id, models.AssetUSDTTRC, "100")
	plan := createTestPlan(t, s, "Daily", false)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inv, err := s.CreateInvestment(ctx, store.CreateInvestmentParams{
		UserId:     user.Id,
		Plan:       *plan,
		Token:      models.TokenUSDT,
		Amount:     dec("50"),
		Priority:   models.DefaultNetworkPriority(),
		UniqueCode: "INV-1",
		StartTime:  start,
	})
	require.NoError(t, err)

	assert.Equal(t, models.AssetUSDTBEP, inv.Asset)
	assert.True(t, inv.ReturnAmount.Equal(dec("50.5")), "return %s", inv.ReturnAmount)
	assert.Equal(t, start.Add(24*time.Hour), inv.EndTime)

	balances, err := s.GetBalances(ctx, user.Id)
	require.NoError(t, err)
	assert.True(t, balances.Get(models.AssetUSDTBEP).IsZero())
	assert.True(t, balances.Get(models.AssetUSDTTRC).Equal(dec("80")))
	assert.True(t, balances.Aggregate(models.TokenUSDT).Equal(dec("80")))

	stored, err := s.GetInvestment(ctx, inv.Id)
	require.NoError(t, err)
	assert.Equal(t, models.InvestmentActive, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestCreateInvestment_InsufficientFundsLeavesBalances(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 4002, "")
	fund(t, s, user.Id, models.AssetUSDTBEP, "20")
	plan := createTestPlan(t, s, "Daily", false)

	_, err := s.CreateInvestment(ctx, store.CreateInvestmentParams{
		UserId:     user.Id,
		Plan:       *plan,
		Token:      models.TokenUSDT,
		Amount:     dec("50"),
		Priority:   models.DefaultNetworkPriority(),
		UniqueCode: "INV-2",
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	balance, err := s.GetBalance(ctx, user.Id, models.AssetUSDTBEP)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("20")))

	investments, err := s.GetUserInvestments(ctx, user.Id)
	require.NoError(t, err)
	assert.Empty(t, investments)
}

func TestApplyInvestmentPayout_VersionAndCooldown(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 4003, "")
	fund(t, s, user.Id, models.AssetUSDTTRC, "1000")
	plan := createTestPlan(t, s, "Flexible", false)

	start := time.Now().UTC().Add(-12 * time.Hour)
	inv, err := s.CreateInvestment(ctx, store.CreateInvestmentParams{
		UserId: user.Id, Plan: *plan, Token: models.TokenUSDT, Amount: dec("1000"),
		Priority: models.DefaultNetworkPriority(), UniqueCode: "INV-3", StartTime: start,
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	since := now.Add(-5 * time.Minute)
	params := store.InvestmentPayoutParams{
		InvestmentId:      inv.Id,
		UserId:            user.Id,
		ExpectedVersion:   inv.Version,
		Asset:             inv.Asset,
		Profit:            dec("5"),
		AccumulatedProfit: dec("5"),
		LastClaimTime:     &now,
		OperationType:     models.OperationClaim,
		Description:       "Claimed profit",
		Now:               now,
		CooldownSince:     &since,
	}

	entry, err := s.ApplyInvestmentPayout(ctx, params)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.BalanceAfter.Equal(dec("5")))

	// Same version again loses the race, even with the cooldown lifted.
	params.CooldownSince = nil
	_, err = s.ApplyInvestmentPayout(ctx, params)
	assert.ErrorIs(t, err, store.ErrConcurrentModification)

	// A second claim inside the cooldown window is rejected.
	stored, err := s.GetInvestment(ctx, inv.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	params.ExpectedVersion = stored.Version
	params.CooldownSince = &since
	_, err = s.ApplyInvestmentPayout(ctx, params)
	assert.ErrorIs(t, err, store.ErrClaimCooldown)

	u, err := s.GetUserById(ctx, user.Id)
	require.NoError(t, err)
	require.NotNil(t, u.LastClaimAt)
}

func TestApplyInvestmentPayout_CompletionNotifiesOnce(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, s, 4004, "")
	fund(t, s, user.Id, models.AssetUSDTBEP, "1000")
	plan := createTestPlan(t, s, "Locked", true)

	start := time.Now().UTC().Add(-25 * time.Hour)
	inv, err := s.CreateInvestment(ctx, store.CreateInvestmentParams{
		UserId: user.Id, Plan: *plan, Token: models.TokenUSDT, Amount: dec("1000"),
		Priority: models.DefaultNetworkPriority(), UniqueCode: "INV-4", StartTime: start,
	})
	require.NoError(t, err)

	matured, err := s.GetMaturedInvestments(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, matured, 1)
	assert.Equal(t, inv.Id, matured[0].Id)

	now := time.Now().UTC()
	entry, err := s.ApplyInvestmentPayout(ctx, store.InvestmentPayoutParams{
		InvestmentId:      inv.Id,
		UserId:            user.Id,
		ExpectedVersion:   inv.Version,
		Asset:             inv.Asset,
		Profit:            dec("10"),
		Principal:         dec("1000"),
		AccumulatedProfit: dec("10"),
		LastClaimTime:     &now,
		Complete:          true,
		OperationType:     models.OperationAutoClaim,
		Description:       "Investment matured",
		Notification:      "Your investment matured",
		Now:               now,
	})
	require.NoError(t, err)
	assert.True(t, entry.BalanceAfter.Equal(dec("1010")))

	_, err = s.ApplyInvestmentPayout(ctx, store.InvestmentPayoutParams{
		InvestmentId: inv.Id, UserId: user.Id, ExpectedVersion: inv.Version + 1,
		Asset: inv.Asset, Complete: true, OperationType: models.OperationAutoClaim, Now: now,
	})
	assert.ErrorIs(t, err, store.ErrInvestmentNotActive)

	matured, err = s.GetMaturedInvestments(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, matured)

	assert.Equal(t, 1, countRows(t, s,
		`SELECT COUNT(1) FROM notifications WHERE user_id = ? AND kind = ?`, user.Id, models.NotificationInvestmentDone))
}

func TestGetPlans_ActiveOnly(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	createTestPlan(t, s, "Active", false)
	_, err := s.CreatePlan(ctx, models.Plan{Name: "Retired", DailyReturn: dec("2"), MinAmount: dec("1"), MaxAmount: dec("5")})
	require.NoError(t, err)

	plans, err := s.GetPlans(ctx, true)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "Active", plans[0].Name)

	plans, err = s.GetPlans(ctx, false)
	require.NoError(t, err)
	assert.Len(t, plans, 2)

	_, err = s.CreatePlan(ctx, models.Plan{Name: "Active", DailyReturn: dec("1")})
	assert.ErrorIs(t, err, store.ErrDuplicateTransaction)

	_, err = s.GetPlan(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrPlanNotFound)
}
