// Package usage turns cumulative recognition reports into same-day deltas and splits them
// between the free package allowance and the metered balance. Amounts are minor units.
package usage

import (
	"github.com/qs3c/experience_billing/internal/model"
)

// Input is a snapshot of everything one recognition report is evaluated against.
type Input struct {
	// Total is the cumulative recognition count reported by the matching provider.
	Total int64
	// PreviousViews sums the experience's stored days except today's row for the current
	// period flag. On a paid period this includes the trial-period rows.
	PreviousViews int64
	TodayViews    int64
	HasToday      bool

	// PeriodViews sums the user's views in the current billing period before this report.
	PeriodViews   int64
	FreeAllowance int64
	IsTrial       bool

	BalanceAmount       int64
	ChargeLimitEnabled  bool
	MonthlyLimit        int64
	PeriodCharges       int64
	LimitWarningEnabled bool
	LastRefillAmount    int64

	RecognitionPrice int64
}

type Outcome struct {
	Delta     int64
	Duplicate bool
	// Increment is how much today's stored row grows.
	Increment int64

	FreeLeftBefore int64
	FreeLeftAfter  int64
	PaidLeftBefore int64
	PaidLeftAfter  int64

	Billed int64
	Amount int64

	Notifications []model.NotificationType
	DisableAll    bool
}

// Compute evaluates one report. It never touches storage.
func Compute(in Input) Outcome {
	delta := in.Total - in.PreviousViews
	if delta < 0 {
		delta = 0
	}
	out := Outcome{Delta: delta}
	if in.HasToday && in.TodayViews == delta {
		out.Duplicate = true
		return out
	}

	out.Increment = delta
	if in.HasToday {
		out.Increment = delta - in.TodayViews
	}

	out.FreeLeftBefore = in.FreeAllowance - in.PeriodViews
	out.FreeLeftAfter = out.FreeLeftBefore - out.Increment
	out.PaidLeftBefore = paidLeft(in, in.BalanceAmount, in.PeriodCharges)

	if in.IsTrial {
		out.PaidLeftAfter = out.PaidLeftBefore
		out.Notifications = freeNotices(in.FreeAllowance, out.FreeLeftBefore, out.FreeLeftAfter)
		out.DisableAll = out.FreeLeftAfter <= 0
		return out
	}

	if out.FreeLeftAfter < 0 && out.Increment > 0 {
		out.Billed = min64(-out.FreeLeftAfter, out.Increment)
	}
	out.Amount = out.Billed * in.RecognitionPrice

	balanceAfter := in.BalanceAmount - out.Amount
	chargesAfter := in.PeriodCharges + out.Amount
	out.PaidLeftAfter = paidLeft(in, balanceAfter, chargesAfter)

	out.Notifications = freeNotices(in.FreeAllowance, out.FreeLeftBefore, out.FreeLeftAfter)
	if in.LimitWarningEnabled && out.Amount > 0 {
		if in.ChargeLimitEnabled && in.MonthlyLimit > 0 &&
			crossed(in.MonthlyLimit-in.PeriodCharges, in.MonthlyLimit-chargesAfter, in.MonthlyLimit, 20) {
			out.Notifications = append(out.Notifications, model.NotifyPaidLimitLow)
		}
		if in.LastRefillAmount > 0 && crossed(in.BalanceAmount, balanceAfter, in.LastRefillAmount, 10) {
			out.Notifications = append(out.Notifications, model.NotifyBalanceLow)
		}
	}

	out.DisableAll = out.FreeLeftAfter <= 0 && out.PaidLeftAfter <= 0
	return out
}

// Remaining reports free and paid budget left without a new report.
func Remaining(in Input) (freeLeft, paidLeftAmount int64) {
	freeLeft = in.FreeAllowance - in.PeriodViews
	if in.IsTrial {
		return freeLeft, 0
	}
	return freeLeft, paidLeft(in, in.BalanceAmount, in.PeriodCharges)
}

func paidLeft(in Input, balance, charges int64) int64 {
	if in.ChargeLimitEnabled {
		return min64(in.MonthlyLimit-charges, balance)
	}
	return balance
}

func freeNotices(allowance, before, after int64) []model.NotificationType {
	var out []model.NotificationType
	if allowance <= 0 {
		return out
	}
	if before > 0 && after <= 0 {
		out = append(out, model.NotifyFreeRecognitionsExhausted)
	} else if crossed(before, after, allowance, 20) {
		out = append(out, model.NotifyFreeRecognitionsLow)
	}
	return out
}

// crossed reports an edge from above pct% of base to at or below it.
func crossed(before, after, base, pct int64) bool {
	return before*100 > base*pct && after*100 <= base*pct
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
