// Package events defines the outbound event contract for the fee ledger.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopicPaymentRecorded carries every successful ledger append, including
// compensating reversal entries.
const TopicPaymentRecorded = "fees.payment_recorded"

// PaymentRecorded is published after a ledger entry is persisted.
type PaymentRecorded struct {
	EntryID      string          `json:"entry_id"`
	SchoolID     string          `json:"school_id"`
	StudentID    string          `json:"student_id"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method"`
	Reference    string          `json:"reference"`
	Term         string          `json:"term"`
	AcademicYear int             `json:"academic_year"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// Publisher delivers events to downstream consumers (reporting,
// notifications). Publishing is best-effort: the ledger write is the
// source of truth and is never rolled back on a publish failure.
type Publisher interface {
	Publish(topic string, event any) error
}

// Nop discards all events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }
