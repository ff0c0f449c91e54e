package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Reference string    `json:"reference"`
	AccountID string    `json:"account_id,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// AuditLogger writes one JSON line per ledger event to the standard logger.
type AuditLogger struct {
	logger *log.Logger
}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{logger: log.Default()}
}

// NewAuditLoggerTo is used by tests and tools that want the trail elsewhere.
func NewAuditLoggerTo(logger *log.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

func (a *AuditLogger) LogEntry(entryID, accountID, kind string, amount decimal.Decimal, status string) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "ENTRY",
		Reference: entryID,
		AccountID: accountID,
		Amount:    amount.String(),
		Status:    status,
		Details:   map[string]string{"kind": kind},
	})
}

func (a *AuditLogger) LogTransfer(correlationID, fromAccount, toAccount string, amount decimal.Decimal, status string) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "TRANSFER",
		Reference: correlationID,
		Amount:    amount.String(),
		Status:    status,
		Details: map[string]string{
			"from_account": fromAccount,
			"to_account":   toAccount,
		},
	})
}

func (a *AuditLogger) LogError(reference, accountID string, err error) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "ERROR",
		Reference: reference,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *AuditLogger) LogOperation(reference, accountID, operation, details string) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: operation,
		Reference: reference,
		AccountID: accountID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *AuditLogger) LogCorrection(accountID string, before, after decimal.Decimal) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "RECONCILE",
		Reference: accountID,
		AccountID: accountID,
		Amount:    after.Sub(before).String(),
		Status:    "CORRECTED",
		Details: map[string]string{
			"before": before.String(),
			"after":  after.String(),
		},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	a.logger.Printf("AUDIT: %s", string(data))
}
