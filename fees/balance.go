/*
balance.go - Balance calculation

PURPOSE:
  Joins a student's grade and academic year against the fee structure
  store and the payment ledger to produce per-term and total balances.

KEY INSIGHT:
  Balance is a pure fold over ledger entries. Reversals net out
  naturally because their amounts are negative; no entry is ever
  special-cased.

FALLBACK POLICY:
  Schools may not have re-posted fees for the current year yet. When no
  exact (school, grade, year) structure exists, the most recent year for
  the same grade is used instead of reporting zero. With no structure at
  all, fees default to zero and the balance is simply -totalPaid.

CONSISTENCY:
  Read-only; requires no locking. It reads a snapshot of ledger entries
  at query time and tolerates concurrent inserts - this is a reporting
  view, not a transactional balance check.
*/
package fees

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// BalanceCalculator computes fee balances from structures + ledger.
type BalanceCalculator struct {
	structures FeeStructureStore
	ledger     LedgerStore
}

func NewBalanceCalculator(structures FeeStructureStore, ledger LedgerStore) *BalanceCalculator {
	return &BalanceCalculator{structures: structures, ledger: ledger}
}

// Calculate produces the student's balance for an academic year.
// The grade is supplied by the caller (resolved through the enrollment
// collaborator) rather than read off the student record, so historical
// years report against the grade the student was actually in.
func (bc *BalanceCalculator) Calculate(ctx context.Context, student Student, grade string, academicYear int) (Balance, error) {
	fs, feeYear, err := bc.lookupStructure(ctx, student.SchoolID, grade, academicYear)
	if err != nil {
		return Balance{}, err
	}

	entries, err := bc.ledger.EntriesByStudentYear(ctx, student.ID, academicYear)
	if err != nil {
		return Balance{}, err
	}

	paid := map[Term]decimal.Decimal{
		Term1: decimal.Zero,
		Term2: decimal.Zero,
		Term3: decimal.Zero,
	}
	totalPaid := decimal.Zero
	for _, e := range entries {
		paid[e.Term] = paid[e.Term].Add(e.Amount)
		totalPaid = totalPaid.Add(e.Amount)
	}

	b := Balance{
		StudentID:    student.ID,
		SchoolID:     student.SchoolID,
		Grade:        grade,
		AcademicYear: academicYear,
		FeeYear:      feeYear,
		Term1:        termBalance(fs.Term1Fee, paid[Term1]),
		Term2:        termBalance(fs.Term2Fee, paid[Term2]),
		Term3:        termBalance(fs.Term3Fee, paid[Term3]),
		TotalFee:     fs.Term1Fee.Add(fs.Term2Fee).Add(fs.Term3Fee),
		TotalPaid:    totalPaid,
	}
	b.Balance = b.TotalFee.Sub(b.TotalPaid)
	return b, nil
}

// lookupStructure applies the exact-then-latest fallback. A school with
// no structure at all yields zero fees, not an error.
func (bc *BalanceCalculator) lookupStructure(ctx context.Context, schoolID, grade string, academicYear int) (FeeStructure, int, error) {
	fs, err := bc.structures.FindStructure(ctx, schoolID, grade, academicYear)
	if err == nil {
		return fs, fs.AcademicYear, nil
	}
	if !errors.Is(err, ErrStructureNotFound) {
		return FeeStructure{}, 0, err
	}

	fs, err = bc.structures.LatestStructure(ctx, schoolID, grade)
	if err == nil {
		return fs, fs.AcademicYear, nil
	}
	if !errors.Is(err, ErrStructureNotFound) {
		return FeeStructure{}, 0, err
	}
	return FeeStructure{}, academicYear, nil
}

func termBalance(fee, paid decimal.Decimal) TermBalance {
	return TermBalance{Fee: fee, Paid: paid, Balance: fee.Sub(paid)}
}
