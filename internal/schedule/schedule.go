// Package schedule holds the pure date and amount projections used for debts
// and subscriptions. Nothing here reads a clock; callers pass the dates in.
package schedule

import (
	"time"

	"github.com/ruralpay/fintrack/internal/models"
	"github.com/shopspring/decimal"
)

// MaxPeriods caps period counting so a far-away end date cannot spin forever.
const MaxPeriods = 10000

func interval(r models.Recurrence) int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// NextDate advances from by one step of r. Month-based steps are calendar
// aware and clamp to the last day of a shorter month (Jan 31 -> Feb 28);
// the custom frequency always adds a fixed number of days.
func NextDate(from time.Time, r models.Recurrence) time.Time {
	n := interval(r)
	switch r.Frequency {
	case models.FrequencyDaily:
		return from.AddDate(0, 0, n)
	case models.FrequencyWeekly:
		return from.AddDate(0, 0, 7*n)
	case models.FrequencyBiweekly:
		return from.AddDate(0, 0, 14*n)
	case models.FrequencyMonthly:
		return addMonths(from, n)
	case models.FrequencyQuarterly:
		return addMonths(from, 3*n)
	case models.FrequencyYearly:
		return addMonths(from, 12*n)
	case models.FrequencyCustom:
		days := r.Days
		if days < 1 {
			days = 1
		}
		return from.AddDate(0, 0, days)
	}
	return addMonths(from, n)
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// PeriodsPerYear is how many steps of r fit in a year, used to turn an annual
// interest rate into a periodic one.
func PeriodsPerYear(r models.Recurrence) decimal.Decimal {
	n := decimal.NewFromInt(int64(interval(r)))
	switch r.Frequency {
	case models.FrequencyDaily:
		return decimal.NewFromInt(365).Div(n)
	case models.FrequencyWeekly:
		return decimal.NewFromInt(52).Div(n)
	case models.FrequencyBiweekly:
		return decimal.NewFromInt(26).Div(n)
	case models.FrequencyQuarterly:
		return decimal.NewFromInt(4).Div(n)
	case models.FrequencyYearly:
		return decimal.NewFromInt(1).Div(n)
	case models.FrequencyCustom:
		days := r.Days
		if days < 1 {
			days = 1
		}
		return decimal.NewFromInt(365).Div(decimal.NewFromInt(int64(days)))
	}
	return decimal.NewFromInt(12).Div(n)
}

// PeriodicRate converts an annual rate (0.12 for 12%) to the rate per step of r.
func PeriodicRate(annual decimal.Decimal, r models.Recurrence) decimal.Decimal {
	return annual.Div(PeriodsPerYear(r))
}

// RemainingPeriods counts the due dates from next up to and including end.
// It never returns less than one.
func RemainingPeriods(next, end time.Time, r models.Recurrence) int {
	n := 0
	for d := next; !d.After(end) && n < MaxPeriods; d = NextDate(d, r) {
		n++
	}
	if n < 1 {
		return 1
	}
	return n
}

// InstallmentPayment is the amortized payment that retires balance over
// periods steps at periodicRate: B*r*(1+r)^n / ((1+r)^n - 1), or B/n when
// r is zero. The result is rounded up to places so a schedule never
// under-collects.
func InstallmentPayment(balance, periodicRate decimal.Decimal, periods int, places int32) decimal.Decimal {
	if periods < 1 {
		periods = 1
	}
	n := decimal.NewFromInt(int64(periods))
	if periodicRate.IsZero() {
		return balance.Div(n).RoundCeil(places)
	}

	factor := decimal.NewFromInt(1)
	growth := decimal.NewFromInt(1).Add(periodicRate)
	for i := 0; i < periods; i++ {
		factor = factor.Mul(growth)
	}

	payment := balance.Mul(periodicRate).Mul(factor).Div(factor.Sub(decimal.NewFromInt(1)))
	return payment.RoundCeil(places)
}

// RevolvingPayment is the credit-card style minimum: the larger of a share of
// the balance and a fixed floor, rounded up to places.
func RevolvingPayment(current, minPercentage, floor decimal.Decimal, places int32) decimal.Decimal {
	payment := decimal.Max(current.Mul(minPercentage), floor)
	return payment.RoundCeil(places)
}

// ProjectDebt returns the amount due on the debt's next payment date, capped at
// what is still owed. Paid debts have nothing due.
func ProjectDebt(d *models.Debt, places int32) decimal.Decimal {
	if d.Status == models.DebtStatusPaid || !d.CurrentAmount.IsPositive() {
		return decimal.Zero
	}

	var payment decimal.Decimal
	switch d.Type {
	case models.DebtRevolving:
		payment = RevolvingPayment(d.CurrentAmount, d.MinPercentage, d.MinimumFloor, places)
	default:
		periods := 1
		if d.EndDate != nil && d.NextPaymentDate != nil {
			periods = RemainingPeriods(*d.NextPaymentDate, *d.EndDate, d.Recurrence)
		}
		rate := PeriodicRate(d.InterestRate, d.Recurrence)
		payment = InstallmentPayment(d.CurrentAmount, rate, periods, places)
	}

	return decimal.Min(payment, d.CurrentAmount)
}

// Advance returns the due date that follows current, skipping forward until
// it lands strictly after notBefore.
func Advance(current, notBefore time.Time, r models.Recurrence) time.Time {
	next := NextDate(current, r)
	for i := 0; !next.After(notBefore) && i < MaxPeriods; i++ {
		next = NextDate(next, r)
	}
	return next
}
