package schedule

import (
	"testing"
	"time"

	"github.com/ruralpay/fintrack/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNextDate(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		rule models.Recurrence
		want time.Time
	}{
		{"daily", date(2026, 3, 1), models.Recurrence{Frequency: models.FrequencyDaily}, date(2026, 3, 2)},
		{"weekly", date(2026, 3, 1), models.Recurrence{Frequency: models.FrequencyWeekly}, date(2026, 3, 8)},
		{"biweekly", date(2026, 3, 1), models.Recurrence{Frequency: models.FrequencyBiweekly}, date(2026, 3, 15)},
		{"monthly adds a calendar month", date(2026, 2, 1), models.Recurrence{Frequency: models.FrequencyMonthly}, date(2026, 3, 1)},
		{"monthly clamps to month end", date(2026, 1, 31), models.Recurrence{Frequency: models.FrequencyMonthly}, date(2026, 2, 28)},
		{"monthly clamps in leap year", date(2028, 1, 31), models.Recurrence{Frequency: models.FrequencyMonthly}, date(2028, 2, 29)},
		{"every two months", date(2026, 1, 15), models.Recurrence{Frequency: models.FrequencyMonthly, Interval: 2}, date(2026, 3, 15)},
		{"quarterly", date(2026, 11, 30), models.Recurrence{Frequency: models.FrequencyQuarterly}, date(2027, 2, 28)},
		{"yearly from leap day", date(2028, 2, 29), models.Recurrence{Frequency: models.FrequencyYearly}, date(2029, 2, 28)},
		{"custom adds fixed days", date(2026, 1, 31), models.Recurrence{Frequency: models.FrequencyCustom, Days: 30}, date(2026, 3, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextDate(tt.from, tt.rule))
		})
	}
}

func TestAdvance(t *testing.T) {
	monthly := models.Recurrence{Frequency: models.FrequencyMonthly}

	t.Run("on-time payment moves one step", func(t *testing.T) {
		assert.Equal(t, date(2026, 5, 10), Advance(date(2026, 4, 10), date(2026, 4, 10), monthly))
	})

	t.Run("late payment skips past the payment date", func(t *testing.T) {
		assert.Equal(t, date(2026, 7, 10), Advance(date(2026, 4, 10), date(2026, 6, 20), monthly))
	})
}

func TestRemainingPeriods(t *testing.T) {
	monthly := models.Recurrence{Frequency: models.FrequencyMonthly}

	assert.Equal(t, 12, RemainingPeriods(date(2026, 1, 15), date(2026, 12, 15), monthly))
	assert.Equal(t, 1, RemainingPeriods(date(2026, 12, 15), date(2026, 12, 15), monthly))
	assert.Equal(t, 1, RemainingPeriods(date(2027, 1, 15), date(2026, 12, 15), monthly))
}

func TestPeriodicRate(t *testing.T) {
	assert.True(t, dec("0.01").Equal(PeriodicRate(dec("0.12"), models.Recurrence{Frequency: models.FrequencyMonthly})))
	assert.True(t, dec("0.03").Equal(PeriodicRate(dec("0.12"), models.Recurrence{Frequency: models.FrequencyQuarterly})))
}

func TestInstallmentPayment(t *testing.T) {
	t.Run("amortized payment rounds up", func(t *testing.T) {
		// 12000 at 1% a month over 12 months is 1066.1854..., collected as 1066.19.
		got := InstallmentPayment(dec("12000"), dec("0.01"), 12, 2)
		assert.Equal(t, "1066.19", got.StringFixed(2))
	})

	t.Run("zero rate divides evenly", func(t *testing.T) {
		got := InstallmentPayment(dec("1200"), decimal.Zero, 12, 2)
		assert.Equal(t, "100.00", got.StringFixed(2))
	})

	t.Run("zero rate rounds remainder up", func(t *testing.T) {
		got := InstallmentPayment(dec("100"), decimal.Zero, 3, 2)
		assert.Equal(t, "33.34", got.StringFixed(2))
	})

	t.Run("non-positive periods treated as one", func(t *testing.T) {
		got := InstallmentPayment(dec("500"), decimal.Zero, 0, 2)
		assert.Equal(t, "500.00", got.StringFixed(2))
	})
}

func TestRevolvingPayment(t *testing.T) {
	assert.Equal(t, "100.00", RevolvingPayment(dec("5000"), dec("0.02"), dec("25"), 2).StringFixed(2))
	assert.Equal(t, "25.00", RevolvingPayment(dec("1000"), dec("0.02"), dec("25"), 2).StringFixed(2))
	assert.Equal(t, "20.01", RevolvingPayment(dec("1000.25"), dec("0.02"), dec("0"), 2).StringFixed(2))
}

func TestProjectDebt(t *testing.T) {
	next := date(2026, 1, 15)
	end := date(2026, 12, 15)

	t.Run("installment", func(t *testing.T) {
		d := &models.Debt{
			Type:            models.DebtInstallment,
			Status:          models.DebtStatusActive,
			CurrentAmount:   dec("12000"),
			InterestRate:    dec("0.12"),
			Recurrence:      models.Recurrence{Frequency: models.FrequencyMonthly},
			NextPaymentDate: &next,
			EndDate:         &end,
		}
		assert.Equal(t, "1066.19", ProjectDebt(d, 2).StringFixed(2))
	})

	t.Run("capped at what is owed", func(t *testing.T) {
		d := &models.Debt{
			Type:          models.DebtRevolving,
			Status:        models.DebtStatusActive,
			CurrentAmount: dec("10"),
			MinPercentage: dec("0.02"),
			MinimumFloor:  dec("25"),
		}
		assert.Equal(t, "10.00", ProjectDebt(d, 2).StringFixed(2))
	})

	t.Run("paid debt owes nothing", func(t *testing.T) {
		d := &models.Debt{Status: models.DebtStatusPaid, CurrentAmount: decimal.Zero}
		assert.True(t, ProjectDebt(d, 2).IsZero())
	})
}
