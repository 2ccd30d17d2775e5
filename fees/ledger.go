/*
ledger.go - Append-only payment ledger service

PURPOSE:
  The Ledger is the immutable source of truth for all student payments.
  Every payment and reversal is recorded here; balances are always
  computed by folding over entries, never stored.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No update, no delete. Ever.
  2. IDEMPOTENT: One entry per external reference, enforced by the
     storage unique index.
  3. AUDITABLE: Every entry carries its recording actor and timestamp.

CORRECTIONS:
  A mistake is never edited. ReversePayment writes a ReversalRecord and
  a compensating negative entry in one storage transaction; both the
  original and the reversal remain in the ledger forever.

STATE MACHINE:
  An entry has exactly one state - posted - for its entire life. There
  is no pending or voided state; cancellation is modeled purely by
  compensating entries, so the ledger is always a replayable history.
*/
package fees

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elimisha/fees-engine/events"
)

// Ledger records payments and reversals against a TxStore.
type Ledger struct {
	store     TxStore
	students  StudentDirectory
	policy    Policy
	publisher events.Publisher
}

// NewLedger creates a ledger service. A nil publisher disables events.
func NewLedger(store TxStore, students StudentDirectory, policy Policy, pub events.Publisher) *Ledger {
	if policy == nil {
		policy = SchoolPolicy{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Ledger{store: store, students: students, policy: policy, publisher: pub}
}

// RecordPayment resolves the student within the school, applies the
// idempotency gate on the external reference, and appends the entry.
// Two concurrent calls with the same reference yield exactly one entry;
// the loser gets ErrReferenceExists.
func (l *Ledger) RecordPayment(ctx context.Context, actor Actor, np NewPayment) (PaymentEntry, error) {
	if err := np.Validate(); err != nil {
		return PaymentEntry{}, err
	}
	if !l.policy.Allow(actor, SchoolResource{SchoolID: np.SchoolID}, ActionRecordPayment) {
		return PaymentEntry{}, deny(actor, SchoolResource{SchoolID: np.SchoolID}, ActionRecordPayment)
	}

	student, err := l.students.StudentByAdmission(ctx, np.SchoolID, np.Admission)
	if err != nil {
		return PaymentEntry{}, err
	}

	// Friendly pre-check; the storage unique index remains the actual
	// concurrency control.
	exists, err := l.store.ReferenceExists(ctx, np.Reference)
	if err != nil {
		return PaymentEntry{}, err
	}
	if exists {
		return PaymentEntry{}, ErrReferenceExists
	}

	entry := PaymentEntry{
		ID:           uuid.NewString(),
		SchoolID:     np.SchoolID,
		StudentID:    student.ID,
		Amount:       np.Amount,
		Method:       np.Method,
		Reference:    np.Reference,
		Term:         np.Term,
		AcademicYear: np.AcademicYear,
		RecordedBy:   actor.ID,
		RecordedRole: RoleAccounts,
		CreatedAt:    time.Now().UTC(),
	}

	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return PaymentEntry{}, err
	}

	l.publish(entry)
	return entry, nil
}

// StudentLedger returns all entries for a student, newest first.
func (l *Ledger) StudentLedger(ctx context.Context, actor Actor, schoolID, admission string) ([]PaymentEntry, error) {
	if !l.policy.Allow(actor, SchoolResource{SchoolID: schoolID}, ActionReadLedger) {
		return nil, deny(actor, SchoolResource{SchoolID: schoolID}, ActionReadLedger)
	}
	student, err := l.students.StudentByAdmission(ctx, schoolID, admission)
	if err != nil {
		return nil, err
	}
	return l.store.EntriesByStudent(ctx, student.ID)
}

// MyPayments is the self-service view: scoped to the caller's own id
// and the requested academic year, so no policy check applies.
func (l *Ledger) MyPayments(ctx context.Context, studentID string, academicYear int) ([]PaymentEntry, error) {
	return l.store.EntriesByStudentYear(ctx, studentID, academicYear)
}

// SchoolLedger returns a school's entries, newest first, for accounts
// and admin staff.
func (l *Ledger) SchoolLedger(ctx context.Context, actor Actor, schoolID string, limit int) ([]PaymentEntry, error) {
	if !l.policy.Allow(actor, SchoolResource{SchoolID: schoolID}, ActionReadLedger) {
		return nil, deny(actor, SchoolResource{SchoolID: schoolID}, ActionReadLedger)
	}
	return l.store.EntriesBySchool(ctx, schoolID, limit)
}

// ReversePayment cancels a payment's financial effect without deleting
// history. The audit record and the compensating entry are written in
// one storage transaction: a crash mid-way rolls both back, and a
// concurrent second reversal collides on the REV- reference and fails
// with ErrReferenceExists.
func (l *Ledger) ReversePayment(ctx context.Context, actor Actor, paymentID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return NewValidationError("invalid reversal", FieldError{Field: "reason", Error: "reason is required"})
	}

	original, err := l.store.GetEntry(ctx, paymentID)
	if err != nil {
		return err
	}
	if original.IsReversal() {
		return NewValidationError("invalid reversal", FieldError{Field: "payment_id", Error: "a reversal entry cannot be reversed"})
	}
	if !l.policy.Allow(actor, SchoolResource{SchoolID: original.SchoolID}, ActionReverse) {
		return deny(actor, SchoolResource{SchoolID: original.SchoolID}, ActionReverse)
	}

	compensating := PaymentEntry{
		ID:           uuid.NewString(),
		SchoolID:     original.SchoolID,
		StudentID:    original.StudentID,
		Amount:       original.Amount.Neg(),
		Method:       MethodReversal,
		Reference:    ReversalRef(original.Reference),
		Term:         original.Term,
		AcademicYear: original.AcademicYear,
		RecordedBy:   actor.ID,
		RecordedRole: RoleAccounts,
		CreatedAt:    time.Now().UTC(),
	}
	record := ReversalRecord{
		ID:        uuid.NewString(),
		PaymentID: original.ID,
		Reason:    reason,
		ActorID:   actor.ID,
		Amount:    original.Amount.Abs(),
		CreatedAt: compensating.CreatedAt,
	}

	err = l.store.WithTx(ctx, func(s Store) error {
		if err := s.AddReversal(ctx, record); err != nil {
			return err
		}
		return s.AppendEntry(ctx, compensating)
	})
	if err != nil {
		return err
	}

	l.publish(compensating)
	return nil
}

// Reversals returns the audit records for a payment.
func (l *Ledger) Reversals(ctx context.Context, actor Actor, paymentID string) ([]ReversalRecord, error) {
	entry, err := l.store.GetEntry(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !l.policy.Allow(actor, SchoolResource{SchoolID: entry.SchoolID}, ActionReadLedger) {
		return nil, deny(actor, SchoolResource{SchoolID: entry.SchoolID}, ActionReadLedger)
	}
	return l.store.ReversalsByPayment(ctx, paymentID)
}

// publish emits a PaymentRecorded event. Best-effort: the ledger write
// is already durable, so a publish failure is logged, not returned.
func (l *Ledger) publish(e PaymentEntry) {
	evt := events.PaymentRecorded{
		EntryID:      e.ID,
		SchoolID:     e.SchoolID,
		StudentID:    e.StudentID,
		Amount:       e.Amount,
		Method:       string(e.Method),
		Reference:    e.Reference,
		Term:         string(e.Term),
		AcademicYear: e.AcademicYear,
		OccurredAt:   e.CreatedAt,
	}
	if err := l.publisher.Publish(events.TopicPaymentRecorded, evt); err != nil {
		log.Printf("fees: failed to publish payment event for %s: %v", e.ID, err)
	}
}
