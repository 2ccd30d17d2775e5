/*
Package fees provides the school fee accounting core.

PURPOSE:
  This package contains the domain types and services for fee accounting:
  an append-only payment ledger, compensating reversals, per-year fee
  structures, and balance calculation. Everything outside money movement
  (students, schools, enrollments) is consumed through the directory
  contracts and never owned here.

KEY CONCEPTS IN THIS FILE (types.go):
  - PaymentEntry: An immutable ledger record of money moving for a student
  - FeeStructure: Expected charge per term for a grade in an academic year
  - ReversalRecord: The audit record paired with a compensating entry
  - Balance: Derived per-term and total position, never persisted

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Auditability: Every entry carries actor, reference and timestamp
*/
package fees

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TERMS
// =============================================================================

// Term identifies one of the three school terms in an academic year.
type Term string

const (
	Term1 Term = "Term 1"
	Term2 Term = "Term 2"
	Term3 Term = "Term 3"
)

// Terms lists all terms in calendar order.
var Terms = []Term{Term1, Term2, Term3}

// ValidTerm reports whether t is one of the three known terms.
func ValidTerm(t Term) bool {
	return t == Term1 || t == Term2 || t == Term3
}

// TermForMonth maps a calendar month to the school term it falls in.
// Months 1-4 are Term 1, 5-8 are Term 2, 9-12 are Term 3.
//
// NOTE: payments made late in one term but intended for a previous term's
// arrears are attributed to the calendar term. The rule lives here so a
// product decision can change it in one place.
func TermForMonth(m time.Month) Term {
	switch {
	case m <= time.April:
		return Term1
	case m <= time.August:
		return Term2
	default:
		return Term3
	}
}

// CurrentTerm returns the term and academic year for the given instant.
func CurrentTerm(now time.Time) (Term, int) {
	return TermForMonth(now.Month()), now.Year()
}

// =============================================================================
// PAYMENT METHODS
// =============================================================================

// Method is how a payment reached the ledger.
type Method string

const (
	MethodCash     Method = "cash"
	MethodMpesa    Method = "mpesa"
	MethodBank     Method = "bank"
	MethodCheque   Method = "cheque"
	MethodReversal Method = "reversal"
)

// ValidMethod reports whether m is a known payment method.
func ValidMethod(m Method) bool {
	switch m {
	case MethodCash, MethodMpesa, MethodBank, MethodCheque, MethodReversal:
		return true
	}
	return false
}

// =============================================================================
// PAYMENT ENTRY - Immutable ledger record
// =============================================================================

// ReversalRefPrefix marks the reference of a compensating entry.
const ReversalRefPrefix = "REV-"

// ReversalRef derives the compensating entry's reference from the
// original payment reference. Reference uniqueness makes this double as
// the double-reversal guard: a second reversal of the same payment
// collides on the same derived reference.
func ReversalRef(ref string) string {
	return ReversalRefPrefix + ref
}

// PaymentEntry is one immutable record of money moving for a student.
//
// INVARIANTS:
//   - Amount is positive for all methods except reversal, where it is
//     strictly negative.
//   - Reference is unique across the whole ledger.
//   - Once written an entry is never updated or deleted; corrections are
//     compensating entries with method "reversal".
type PaymentEntry struct {
	ID           string          `json:"id"`
	SchoolID     string          `json:"school_id"`
	StudentID    string          `json:"student_id"`
	Amount       decimal.Decimal `json:"amount"`
	Method       Method          `json:"method"`
	Reference    string          `json:"reference"`
	Term         Term            `json:"term"`
	AcademicYear int             `json:"academic_year"`
	RecordedBy   string          `json:"recorded_by"`
	RecordedRole string          `json:"recorded_by_role"`
	CreatedAt    time.Time       `json:"created_at"` // UTC
}

// IsReversal reports whether the entry compensates an earlier payment.
func (e PaymentEntry) IsReversal() bool {
	return e.Method == MethodReversal
}

// NewPayment carries the information needed to record a payment.
type NewPayment struct {
	SchoolID     string          `json:"school_id"`
	Admission    string          `json:"admission_number"`
	Amount       decimal.Decimal `json:"amount"`
	Method       Method          `json:"method"`
	Reference    string          `json:"reference"`
	Term         Term            `json:"term"`
	AcademicYear int             `json:"academic_year"`
}

// Validate checks the payment input before any domain logic runs.
func (np *NewPayment) Validate() error {
	np.Reference = strings.TrimSpace(np.Reference)
	np.Admission = strings.TrimSpace(np.Admission)

	var flds []FieldError
	if np.SchoolID == "" {
		flds = append(flds, FieldError{Field: "school_id", Error: "school id is required"})
	}
	if np.Admission == "" {
		flds = append(flds, FieldError{Field: "admission_number", Error: "admission number is required"})
	}
	if np.Reference == "" {
		flds = append(flds, FieldError{Field: "reference", Error: "payment reference is required"})
	}
	if !ValidMethod(np.Method) {
		flds = append(flds, FieldError{Field: "method", Error: "unknown payment method"})
	}
	if np.Method == MethodReversal {
		// Reversals are created internally by ReversePayment, never submitted.
		flds = append(flds, FieldError{Field: "method", Error: "reversals cannot be recorded directly"})
	} else if !np.Amount.IsPositive() {
		flds = append(flds, FieldError{Field: "amount", Error: "amount must be positive"})
	}
	if !ValidTerm(np.Term) {
		flds = append(flds, FieldError{Field: "term", Error: "unknown term"})
	}
	if np.AcademicYear < 2000 || np.AcademicYear > 2100 {
		flds = append(flds, FieldError{Field: "academic_year", Error: "academic year out of range"})
	}
	if len(flds) > 0 {
		return NewValidationError("invalid payment", flds...)
	}
	return nil
}

// =============================================================================
// FEE STRUCTURE - Expected charge per term
// =============================================================================

// FeeStructure holds the per-term fees for a grade in an academic year.
// At most one record exists per (school, grade, academic year).
type FeeStructure struct {
	ID           string          `json:"id"`
	SchoolID     string          `json:"school_id"`
	Grade        string          `json:"grade"`
	AcademicYear int             `json:"academic_year"`
	Term1Fee     decimal.Decimal `json:"term_1_fee"`
	Term2Fee     decimal.Decimal `json:"term_2_fee"`
	Term3Fee     decimal.Decimal `json:"term_3_fee"`
	TotalFee     decimal.Decimal `json:"total_fee"` // derived, recomputed on every write
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TermFee returns the expected fee for a single term.
func (fs FeeStructure) TermFee(t Term) decimal.Decimal {
	switch t {
	case Term1:
		return fs.Term1Fee
	case Term2:
		return fs.Term2Fee
	case Term3:
		return fs.Term3Fee
	}
	return decimal.Zero
}

// Recompute refreshes the derived total. Callers must invoke it before
// every write so TotalFee never drifts from the term fees.
func (fs *FeeStructure) Recompute() {
	fs.TotalFee = fs.Term1Fee.Add(fs.Term2Fee).Add(fs.Term3Fee)
}

// NewFeeStructure carries the information needed to upsert a fee structure.
type NewFeeStructure struct {
	SchoolID     string          `json:"school_id"`
	Grade        string          `json:"grade"`
	AcademicYear int             `json:"academic_year"`
	Term1Fee     decimal.Decimal `json:"term_1_fee"`
	Term2Fee     decimal.Decimal `json:"term_2_fee"`
	Term3Fee     decimal.Decimal `json:"term_3_fee"`
}

// Validate checks the fee structure input.
func (nf *NewFeeStructure) Validate() error {
	nf.Grade = strings.TrimSpace(nf.Grade)

	var flds []FieldError
	if nf.SchoolID == "" {
		flds = append(flds, FieldError{Field: "school_id", Error: "school id is required"})
	}
	if nf.Grade == "" {
		flds = append(flds, FieldError{Field: "grade", Error: "grade is required"})
	}
	if nf.AcademicYear < 2000 || nf.AcademicYear > 2100 {
		flds = append(flds, FieldError{Field: "academic_year", Error: "academic year out of range"})
	}
	for _, f := range []struct {
		name string
		val  decimal.Decimal
	}{
		{"term_1_fee", nf.Term1Fee},
		{"term_2_fee", nf.Term2Fee},
		{"term_3_fee", nf.Term3Fee},
	} {
		if f.val.IsNegative() {
			flds = append(flds, FieldError{Field: f.name, Error: "fee must not be negative"})
		}
	}
	if len(flds) > 0 {
		return NewValidationError("invalid fee structure", flds...)
	}
	return nil
}

// UpdateFeeStructure defines what may be modified on an existing record.
// Nil fields are left unchanged.
type UpdateFeeStructure struct {
	Term1Fee *decimal.Decimal `json:"term_1_fee,omitempty"`
	Term2Fee *decimal.Decimal `json:"term_2_fee,omitempty"`
	Term3Fee *decimal.Decimal `json:"term_3_fee,omitempty"`
}

// Validate checks the update input.
func (uf *UpdateFeeStructure) Validate() error {
	var flds []FieldError
	for _, f := range []struct {
		name string
		val  *decimal.Decimal
	}{
		{"term_1_fee", uf.Term1Fee},
		{"term_2_fee", uf.Term2Fee},
		{"term_3_fee", uf.Term3Fee},
	} {
		if f.val != nil && f.val.IsNegative() {
			flds = append(flds, FieldError{Field: f.name, Error: "fee must not be negative"})
		}
	}
	if len(flds) > 0 {
		return NewValidationError("invalid fee structure update", flds...)
	}
	return nil
}

// =============================================================================
// REVERSAL RECORD - Audit trail for reversals
// =============================================================================

// ReversalRecord captures who reversed a payment and why. It pairs with
// one compensating PaymentEntry; only the entry feeds balance computation.
type ReversalRecord struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	Reason    string          `json:"reason"`
	ActorID   string          `json:"actor_id"`
	Amount    decimal.Decimal `json:"amount"` // positive, mirrors the original magnitude
	CreatedAt time.Time       `json:"created_at"`
}

// =============================================================================
// BALANCE - Derived, never persisted
// =============================================================================

// TermBalance is the expected/paid/outstanding position for one term.
type TermBalance struct {
	Fee     decimal.Decimal `json:"fee"`
	Paid    decimal.Decimal `json:"paid"`
	Balance decimal.Decimal `json:"balance"`
}

// Balance is a student's fee position for an academic year.
// TotalPaid sums every ledger entry for the year, so reversals net out
// through their negative amounts.
type Balance struct {
	StudentID    string          `json:"student_id"`
	SchoolID     string          `json:"school_id"`
	Grade        string          `json:"grade"`
	AcademicYear int             `json:"academic_year"`
	FeeYear      int             `json:"fee_year"` // year of the structure used (fallback may differ)
	Term1        TermBalance     `json:"term_1"`
	Term2        TermBalance     `json:"term_2"`
	Term3        TermBalance     `json:"term_3"`
	TotalFee     decimal.Decimal `json:"total_fee"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
	Balance      decimal.Decimal `json:"balance"`
}

// TermBalanceFor returns the breakdown for a single term.
func (b Balance) TermBalanceFor(t Term) TermBalance {
	switch t {
	case Term1:
		return b.Term1
	case Term2:
		return b.Term2
	case Term3:
		return b.Term3
	}
	return TermBalance{}
}
