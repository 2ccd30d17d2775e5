/*
balance_test.go - Tests for balance calculation

CORE DESIGN:
- Balance is a pure fold over ledger entries grouped by term
- Reversals net out through their negative amounts
- Missing fee structures fall back to the latest year, then to zero
*/
package fees_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elimisha/fees-engine/fees"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type balanceFixture struct {
	*ledgerFixture
	structures *fees.StructureService
	balances   *fees.BalanceCalculator
}

func newBalanceFixture(t *testing.T) *balanceFixture {
	t.Helper()
	lf := newLedgerFixture(t)
	return &balanceFixture{
		ledgerFixture: lf,
		structures:    fees.NewStructureService(lf.store, nil),
		balances:      fees.NewBalanceCalculator(lf.store, lf.store),
	}
}

func (f *balanceFixture) postFees(t *testing.T, grade string, year int, termFee int64) fees.FeeStructure {
	t.Helper()
	fee := decimal.NewFromInt(termFee)
	fs, err := f.structures.Upsert(context.Background(), f.actor, fees.NewFeeStructure{
		SchoolID:     f.school.ID,
		Grade:        grade,
		AcademicYear: year,
		Term1Fee:     fee,
		Term2Fee:     fee,
		Term3Fee:     fee,
	})
	require.NoError(t, err)
	return fs
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal, label string) {
	t.Helper()
	assert.True(t, got.Equal(decimal.NewFromInt(want)), "%s: expected %d, got %s", label, want, got)
}

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestCalculateBalance_FullScenario(t *testing.T) {
	// GIVEN: Grade 5 fees of 1000 per term for 2025, a 600 cash payment in
	//        Term 1 and a 1000 mpesa payment in Term 2
	// WHEN: Calculating the 2025 balance
	// THEN: term1 = {1000, 600, 400}, term2 = {1000, 1000, 0},
	//       term3 = {1000, 0, 1000}, totals = {3000, 1600, 1400}

	f := newBalanceFixture(t)
	ctx := context.Background()
	f.postFees(t, "Grade 5", 2025, 1000)

	_, err := f.ledger.RecordPayment(ctx, f.actor, f.payment("R1", 600))
	require.NoError(t, err)

	p2 := f.payment("R2", 1000)
	p2.Method = fees.MethodMpesa
	p2.Term = fees.Term2
	_, err = f.ledger.RecordPayment(ctx, f.actor, p2)
	require.NoError(t, err)

	b, err := f.balances.Calculate(ctx, f.student, "Grade 5", 2025)
	require.NoError(t, err)

	assertAmount(t, 1000, b.Term1.Fee, "term1 fee")
	assertAmount(t, 600, b.Term1.Paid, "term1 paid")
	assertAmount(t, 400, b.Term1.Balance, "term1 balance")
	assertAmount(t, 1000, b.Term2.Fee, "term2 fee")
	assertAmount(t, 1000, b.Term2.Paid, "term2 paid")
	assertAmount(t, 0, b.Term2.Balance, "term2 balance")
	assertAmount(t, 1000, b.Term3.Fee, "term3 fee")
	assertAmount(t, 0, b.Term3.Paid, "term3 paid")
	assertAmount(t, 1000, b.Term3.Balance, "term3 balance")
	assertAmount(t, 3000, b.TotalFee, "total fee")
	assertAmount(t, 1600, b.TotalPaid, "total paid")
	assertAmount(t, 1400, b.Balance, "total balance")
	assert.Equal(t, 2025, b.FeeYear)

	// WHEN: Reversing R1 with reason "duplicate entry"
	// THEN: term1 paid drops to 0 and the total balance rises to 2000

	var r1 fees.PaymentEntry
	entries, _ := f.store.EntriesByStudent(ctx, f.student.ID)
	for _, e := range entries {
		if e.Reference == "R1" {
			r1 = e
		}
	}
	require.NoError(t, f.ledger.ReversePayment(ctx, f.actor, r1.ID, "duplicate entry"))

	b, err = f.balances.Calculate(ctx, f.student, "Grade 5", 2025)
	require.NoError(t, err)
	assertAmount(t, 0, b.Term1.Paid, "term1 paid after reversal")
	assertAmount(t, 1000, b.Term1.Balance, "term1 balance after reversal")
	assertAmount(t, 1000, b.TotalPaid, "total paid after reversal")
	assertAmount(t, 2000, b.Balance, "total balance after reversal")
}

// =============================================================================
// EDGE CASES
// =============================================================================

func TestCalculateBalance_NoFeeStructure_ZeroFees(t *testing.T) {
	// GIVEN: No fee structure at all for the student's grade
	// WHEN: Calculating the balance after a 500 payment
	// THEN: totalFee is 0 and the balance is -500 (overpaid against zero)

	f := newBalanceFixture(t)
	ctx := context.Background()

	_, err := f.ledger.RecordPayment(ctx, f.actor, f.payment("R1", 500))
	require.NoError(t, err)

	b, err := f.balances.Calculate(ctx, f.student, "Grade 5", 2025)
	require.NoError(t, err)
	assertAmount(t, 0, b.TotalFee, "total fee")
	assertAmount(t, 500, b.TotalPaid, "total paid")
	assertAmount(t, -500, b.Balance, "balance")
}

func TestCalculateBalance_YearFallback(t *testing.T) {
	// GIVEN: Fee structures for 2023 and 2024 but not 2025
	// WHEN: Calculating the 2025 balance
	// THEN: The 2024 schedule is used, not a blank one

	f := newBalanceFixture(t)
	ctx := context.Background()
	f.postFees(t, "Grade 5", 2023, 800)
	f.postFees(t, "Grade 5", 2024, 900)

	b, err := f.balances.Calculate(ctx, f.student, "Grade 5", 2025)
	require.NoError(t, err)
	assertAmount(t, 900, b.Term1.Fee, "term1 fee from 2024 schedule")
	assertAmount(t, 2700, b.TotalFee, "total fee from 2024 schedule")
	assert.Equal(t, 2024, b.FeeYear)
	assert.Equal(t, 2025, b.AcademicYear, "payments still aggregate for the requested year")
}

func TestCalculateBalance_ExactYearPreferred(t *testing.T) {
	f := newBalanceFixture(t)
	ctx := context.Background()
	f.postFees(t, "Grade 5", 2024, 900)
	f.postFees(t, "Grade 5", 2025, 1100)

	b, err := f.balances.Calculate(ctx, f.student, "Grade 5", 2025)
	require.NoError(t, err)
	assertAmount(t, 1100, b.Term1.Fee, "exact-year fee")
	assert.Equal(t, 2025, b.FeeYear)
}

func TestCalculateBalance_OtherYearPaymentsExcluded(t *testing.T) {
	// GIVEN: Payments in 2024 and 2025
	// WHEN: Calculating the 2025 balance
	// THEN: Only 2025 entries are aggregated

	f := newBalanceFixture(t)
	ctx := context.Background()
	f.postFees(t, "Grade 5", 2025, 1000)

	old := f.payment("OLD-1", 999)
	old.AcademicYear = 2024
	_, err := f.ledger.RecordPayment(ctx, f.actor, old)
	require.NoError(t, err)
	_, err = f.ledger.RecordPayment(ctx, f.actor, f.payment("R1", 600))
	require.NoError(t, err)

	b, err := f.balances.Calculate(ctx, f.student, "Grade 5", 2025)
	require.NoError(t, err)
	assertAmount(t, 600, b.TotalPaid, "total paid")
}

func TestCalculateBalance_DecimalAmountsExact(t *testing.T) {
	// GIVEN: Fees and payments with cents
	// WHEN: Summing across terms
	// THEN: No rounding drift

	f := newBalanceFixture(t)
	ctx := context.Background()

	fee := decimal.RequireFromString("1000.10")
	_, err := f.structures.Upsert(ctx, f.actor, fees.NewFeeStructure{
		SchoolID:     f.school.ID,
		Grade:        "Grade 5",
		AcademicYear: 2025,
		Term1Fee:     fee,
		Term2Fee:     fee,
		Term3Fee:     fee,
	})
	require.NoError(t, err)

	p := f.payment("R1", 0)
	p.Amount = decimal.RequireFromString("333.33")
	_, err = f.ledger.RecordPayment(ctx, f.actor, p)
	require.NoError(t, err)

	b, err := f.balances.Calculate(ctx, f.student, "Grade 5", 2025)
	require.NoError(t, err)
	assert.True(t, b.TotalFee.Equal(decimal.RequireFromString("3000.30")), "total fee, got %s", b.TotalFee)
	assert.True(t, b.Term1.Balance.Equal(decimal.RequireFromString("666.77")), "term1 balance, got %s", b.Term1.Balance)
}
