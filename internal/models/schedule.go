package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
	FrequencyCustom    Frequency = "custom"
)

// Recurrence describes how a schedule advances. Interval multiplies the base
// frequency (every 2 months, ...); Days is only used by FrequencyCustom.
type Recurrence struct {
	Frequency Frequency `json:"frequency" validate:"required,oneof=daily weekly biweekly monthly quarterly yearly custom"`
	Interval  int       `json:"interval,omitempty" validate:"omitempty,min=1"`
	Days      int       `json:"days,omitempty" validate:"omitempty,min=1"`
}

type DebtType string

const (
	DebtInstallment DebtType = "installment"
	DebtRevolving   DebtType = "revolving"
)

const (
	DebtStatusActive = "active"
	DebtStatusPaid   = "paid"
)

type DebtPayment struct {
	Date    time.Time       `json:"date"`
	Amount  decimal.Decimal `json:"amount"`
	Memo    string          `json:"memo,omitempty"`
	EntryID string          `json:"entry_id,omitempty"`
}

// Debt tracks an obligation and its repayment schedule. InterestRate is annual.
type Debt struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id"`
	Name              string          `json:"name"`
	Type              DebtType        `json:"type"`
	Currency          string          `json:"currency"`
	Principal         decimal.Decimal `json:"principal"`
	CurrentAmount     decimal.Decimal `json:"current_amount"`
	InterestRate      decimal.Decimal `json:"interest_rate"`
	Recurrence        Recurrence      `json:"recurrence"`
	StartDate         time.Time       `json:"start_date"`
	EndDate           *time.Time      `json:"end_date,omitempty"`
	MinPercentage     decimal.Decimal `json:"min_percentage"`
	MinimumFloor      decimal.Decimal `json:"minimum_floor"`
	FundingAccountID  string          `json:"funding_account_id,omitempty"`
	Status            string          `json:"status"`
	NextPaymentDate   *time.Time      `json:"next_payment_date,omitempty"`
	NextPaymentAmount decimal.Decimal `json:"next_payment_amount"`
	Payments          []DebtPayment   `json:"payments"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

const (
	SubscriptionActive    = "active"
	SubscriptionPaused    = "paused"
	SubscriptionCancelled = "cancelled"
)

type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentPending PaymentStatus = "pending"
	PaymentFailed  PaymentStatus = "failed"
)

type SubscriptionPayment struct {
	Date    time.Time       `json:"date"`
	Amount  decimal.Decimal `json:"amount"`
	Status  PaymentStatus   `json:"status"`
	EntryID string          `json:"entry_id,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

type Subscription struct {
	ID               string                `json:"id"`
	OwnerID          string                `json:"owner_id"`
	Name             string                `json:"name"`
	Amount           decimal.Decimal       `json:"amount"`
	Currency         string                `json:"currency"`
	Recurrence       Recurrence            `json:"recurrence"`
	FundingAccountID string                `json:"funding_account_id"`
	CategoryID       string                `json:"category_id,omitempty"`
	Status           string                `json:"status"`
	StartDate        time.Time             `json:"start_date"`
	NextPaymentDate  time.Time             `json:"next_payment_date"`
	Payments         []SubscriptionPayment `json:"payments"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// LastSuccessfulPayment returns nil when nothing has been collected yet.
func (s *Subscription) LastSuccessfulPayment() *SubscriptionPayment {
	var last *SubscriptionPayment
	for i := range s.Payments {
		p := &s.Payments[i]
		if p.Status != PaymentSuccess {
			continue
		}
		if last == nil || p.Date.After(last.Date) {
			last = p
		}
	}
	return last
}
