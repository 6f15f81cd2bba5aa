package investment

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/database"
	"github.com/python-is-trash/westwallet-backend/internal/formance"
	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/referral"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	formance.Noop
	mu       sync.Mutex
	postings []formance.Posting
}

func (m *recordingMirror) Record(_ context.Context, p formance.Posting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postings = append(m.postings, p)
	return nil
}

func (m *recordingMirror) kinds(kind string) []formance.Posting {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []formance.Posting
	for _, p := range m.postings {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

type usdOneToOne struct{}

func (usdOneToOne) ToUSD(_ context.Context, _ models.Asset, amount decimal.Decimal) (decimal.Decimal, error) {
	return amount, nil
}

type fixture struct {
	store    *database.Service
	svc      *Service
	mirror   *recordingMirror
	clock    time.Time
	referrer *models.User
	investor *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "investment.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	referrer, err := s.CreateUser(ctx, store.CreateUserParams{TelegramId: 1})
	require.NoError(t, err)
	investor, err := s.CreateUser(ctx, store.CreateUserParams{TelegramId: 2, ReferrerId: referrer.Id})
	require.NoError(t, err)

	mirror := &recordingMirror{}
	f := &fixture{
		store:    s,
		mirror:   mirror,
		clock:    time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		referrer: referrer,
		investor: investor,
	}
	distributor := referral.NewDistributor(s, usdOneToOne{}, mirror, nil, models.ReferralConfig{})
	f.svc = NewService(s, distributor, mirror, nil, models.DefaultNetworkPriority(),
		models.InvestmentConfig{ClaimCooldown: 5 * time.Minute})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) fund(t *testing.T, userId string, asset models.Asset, amount string) {
	t.Helper()
	ctx := context.Background()
	dep, err := f.store.CreateDeposit(ctx, store.CreateDepositParams{
		UserId:          userId,
		Label:           "fund_" + userId + "_" + asset.String(),
		Asset:           asset,
		RequestedAmount: decimal.RequireFromString(amount),
		Address:         "addr-" + asset.String(),
		CreatedAt:       f.clock.Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = f.store.CreditDeposit(ctx, store.CreditDepositParams{
		DepositId:   dep.Id,
		UserId:      userId,
		Asset:       asset,
		Amount:      decimal.RequireFromString(amount),
		GatewayTxId: "fund-" + dep.Id,
		CreditedAt:  f.clock.Add(-time.Hour),
	})
	require.NoError(t, err)
}

func (f *fixture) plan(t *testing.T, locked bool, daily string, hours int) *models.Plan {
	t.Helper()
	p, err := f.store.CreatePlan(context.Background(), models.Plan{
		Name:          "test",
		DailyReturn:   decimal.RequireFromString(daily),
		DurationHours: hours,
		MinAmount:     decimal.NewFromInt(10),
		MaxAmount:     decimal.NewFromInt(100000),
		Locked:        locked,
		Active:        true,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) balance(t *testing.T, userId string, asset models.Asset) decimal.Decimal {
	t.Helper()
	b, err := f.store.GetBalance(context.Background(), userId, asset)
	require.NoError(t, err)
	return b
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	require.True(t, got.Equal(decimal.RequireFromString(want)), "%s: got %s, want %s", msg, got, want)
}

func TestLockedInvestmentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.investor.Id, models.AssetUSDTBEP, "1000")
	plan := f.plan(t, true, "1", 24)

	inv, err := f.svc.CreateInvestment(ctx, CreateParams{
		UserId: f.investor.Id, PlanId: plan.Id, Token: models.TokenUSDT, Amount: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	requireDecimal(t, "0", f.balance(t, f.investor.Id, models.AssetUSDTBEP), "after investing")
	requireDecimal(t, "0", f.balance(t, f.referrer.Id, models.AssetUSDTBEP), "investing pays no commission")

	// Hour 12: locked plans show no early profit.
	f.clock = f.clock.Add(12 * time.Hour)
	res, err := f.svc.Claim(ctx, f.investor.Id, inv.Id, ClaimProfit)
	require.NoError(t, err)
	assert.True(t, res.Profit.IsZero())
	assert.Nil(t, res.Operation)

	got, err := f.store.GetInvestment(ctx, inv.Id)
	require.NoError(t, err)
	assert.True(t, got.AccumulatedProfit.IsZero())
	assert.Equal(t, models.InvestmentActive, got.Status)

	_, err = f.svc.Claim(ctx, f.investor.Id, inv.Id, ClaimPrincipalAndProfit)
	require.ErrorIs(t, err, store.ErrInvalidClaim)

	// Hour 25: auto-completion pays principal plus the full profit.
	f.clock = f.clock.Add(13 * time.Hour)
	n, err := f.svc.AutoCompleteMatured(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	requireDecimal(t, "1010", f.balance(t, f.investor.Id, models.AssetUSDTBEP), "after completion")
	requireDecimal(t, "1.5", f.balance(t, f.referrer.Id, models.AssetUSDTBEP), "level 1 commission on 10 profit")

	got, err = f.store.GetInvestment(ctx, inv.Id)
	require.NoError(t, err)
	assert.Equal(t, models.InvestmentCompleted, got.Status)
	requireDecimal(t, "10", got.AccumulatedProfit, "accumulated profit")

	// A second pass finds nothing to do.
	n, err = f.svc.AutoCompleteMatured(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	requireDecimal(t, "1010", f.balance(t, f.investor.Id, models.AssetUSDTBEP), "no double completion")

	payouts := f.mirror.kinds(formance.KindPayout)
	require.Len(t, payouts, 1)
	requireDecimal(t, "1010", payouts[0].Amount, "mirrored payout")
	assert.Len(t, f.mirror.kinds(formance.KindReferral), 1)
}

func TestFlexibleClaimsAndCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.investor.Id, models.AssetTON, "500")
	plan := f.plan(t, false, "2", 24)

	inv, err := f.svc.CreateInvestment(ctx, CreateParams{
		UserId: f.investor.Id, PlanId: plan.Id, Token: models.TokenTON, Amount: decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	assert.Equal(t, models.AssetTON, inv.Asset)

	f.clock = f.clock.Add(6 * time.Hour)
	res, err := f.svc.Claim(ctx, f.investor.Id, inv.Id, ClaimProfit)
	require.NoError(t, err)
	requireDecimal(t, "2.5", res.Profit, "quarter of the daily return")
	requireDecimal(t, "2.5", f.balance(t, f.investor.Id, models.AssetTON), "after profit claim")
	require.Len(t, res.Commissions, 1)
	requireDecimal(t, "0.375", res.Commissions[0].Amount, "commission")

	f.clock = f.clock.Add(time.Minute)
	_, err = f.svc.Claim(ctx, f.investor.Id, inv.Id, ClaimProfit)
	require.ErrorIs(t, err, store.ErrClaimCooldown)

	f.clock = f.clock.Add(9 * time.Minute)
	current, err := f.store.GetInvestment(ctx, inv.Id)
	require.NoError(t, err)
	expectedProfit := FlexibleProfit(*current, f.clock)
	require.True(t, expectedProfit.IsPositive())

	res, err = f.svc.Claim(ctx, f.investor.Id, inv.Id, ClaimPrincipalAndProfit)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, res.Profit.Equal(expectedProfit))
	requireDecimal(t, decimal.RequireFromString("502.5").Add(expectedProfit).String(),
		f.balance(t, f.investor.Id, models.AssetTON), "after closing")

	_, err = f.svc.Claim(ctx, f.investor.Id, inv.Id, ClaimProfit)
	require.ErrorIs(t, err, store.ErrInvestmentNotActive)
}

func TestCreateInvestment_DrawsNetworksInPriorityOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.investor.Id, models.AssetUSDTTRC, "60")
	f.fund(t, f.investor.Id, models.AssetUSDTBEP, "60")
	plan := f.plan(t, false, "1", 24)

	inv, err := f.svc.CreateInvestment(ctx, CreateParams{
		UserId: f.investor.Id, PlanId: plan.Id, Token: models.TokenUSDT, Amount: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, models.AssetUSDTBEP, inv.Asset)
	requireDecimal(t, "0", f.balance(t, f.investor.Id, models.AssetUSDTBEP), "BEP20 drained first")
	requireDecimal(t, "20", f.balance(t, f.investor.Id, models.AssetUSDTTRC), "TRC20 remainder")
	assert.Len(t, f.mirror.kinds(formance.KindInvestment), 2)
}

func TestCreateInvestment_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.investor.Id, models.AssetSOL, "50")
	plan := f.plan(t, false, "1", 24)

	_, err := f.svc.CreateInvestment(ctx, CreateParams{UserId: f.investor.Id, PlanId: plan.Id, Token: models.TokenSOL, Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, ErrAmountOutOfRange)

	_, err = f.svc.CreateInvestment(ctx, CreateParams{UserId: f.investor.Id, PlanId: plan.Id, Token: models.TokenSOL, Amount: decimal.NewFromInt(60)})
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)

	_, err = f.svc.CreateInvestment(ctx, CreateParams{UserId: f.investor.Id, PlanId: "missing", Token: models.TokenSOL, Amount: decimal.NewFromInt(20)})
	assert.ErrorIs(t, err, store.ErrPlanNotFound)

	requireDecimal(t, "50", f.balance(t, f.investor.Id, models.AssetSOL), "nothing debited")
}

func TestClaim_OtherUsersInvestment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.investor.Id, models.AssetETH, "20")
	plan := f.plan(t, false, "1", 24)
	inv, err := f.svc.CreateInvestment(ctx, CreateParams{UserId: f.investor.Id, PlanId: plan.Id, Token: models.TokenETH, Amount: decimal.NewFromInt(20)})
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, f.referrer.Id, inv.Id, ClaimProfit)
	assert.ErrorIs(t, err, store.ErrInvestmentNotFound)

	_, err = f.svc.Claim(ctx, f.investor.Id, inv.Id, ClaimType("all"))
	assert.ErrorIs(t, err, store.ErrInvalidClaim)
}
