package investment

import (
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
)

// profitScale is the number of decimal places profit is truncated to.
const profitScale = 8

// accrualPeriod is the accrual window for open-ended flexible plans.
const accrualPeriod = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// FullProfit is the total profit a position pays over its life: P * r.
func FullProfit(inv models.Investment) decimal.Decimal {
	return inv.Principal.Mul(inv.DailyRate).Div(hundred).RoundDown(profitScale)
}

// Matured reports whether a position has reached its end time.
func Matured(inv models.Investment, now time.Time) bool {
	return !now.Before(inv.EndTime)
}

// FlexibleProfit accrues P * r * min(elapsed/D, 1), where elapsed runs from
// the last claim or the start.
func FlexibleProfit(inv models.Investment, now time.Time) decimal.Decimal {
	since := inv.StartTime
	if inv.LastClaimTime != nil {
		since = *inv.LastClaimTime
	}
	elapsed := now.Sub(since)
	if elapsed <= 0 {
		return decimal.Zero
	}

	period := time.Duration(inv.DurationHours) * time.Hour
	if period <= 0 {
		period = accrualPeriod
	}
	fraction := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(period)))
	if fraction.GreaterThan(decimal.NewFromInt(1)) {
		fraction = decimal.NewFromInt(1)
	}
	return inv.Principal.Mul(inv.DailyRate).Div(hundred).Mul(fraction).RoundDown(profitScale)
}

// LockedProfit is zero before maturity and P * r less what was already
// claimed afterwards.
func LockedProfit(inv models.Investment, now time.Time) decimal.Decimal {
	if !Matured(inv, now) {
		return decimal.Zero
	}
	remaining := FullProfit(inv).Sub(inv.AccumulatedProfit)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// ClaimableProfit dispatches on the plan shape.
func ClaimableProfit(inv models.Investment, now time.Time) decimal.Decimal {
	if inv.Status != models.InvestmentActive {
		return decimal.Zero
	}
	if inv.Locked {
		return LockedProfit(inv, now)
	}
	return FlexibleProfit(inv, now)
}
