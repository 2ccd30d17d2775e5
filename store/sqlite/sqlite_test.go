/*
sqlite_test.go - Storage tests against an in-memory database

Exercises the constraints the domain layer relies on: the unique
reference index, upsert identity preservation, enrollment year
fallback, transactional rollback, and lazy system actor creation.
*/
package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elimisha/fees-engine/fees"
	"github.com/elimisha/fees-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testEntry(ref string, amount int64) fees.PaymentEntry {
	return fees.PaymentEntry{
		ID:           uuid.NewString(),
		SchoolID:     "sch-1",
		StudentID:    "stu-1",
		Amount:       decimal.NewFromInt(amount),
		Method:       fees.MethodCash,
		Reference:    ref,
		Term:         fees.Term1,
		AcademicYear: 2025,
		RecordedBy:   "act-1",
		RecordedRole: fees.RoleAccounts,
		CreatedAt:    time.Now().UTC(),
	}
}

func testStructure(grade string, year int, termFee int64) fees.FeeStructure {
	fee := decimal.NewFromInt(termFee)
	fs := fees.FeeStructure{
		ID:           uuid.NewString(),
		SchoolID:     "sch-1",
		Grade:        grade,
		AcademicYear: year,
		Term1Fee:     fee,
		Term2Fee:     fee,
		Term3Fee:     fee,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	fs.Recompute()
	return fs
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestAppendEntry_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	e := testEntry("R1", 600)
	e.Amount = decimal.RequireFromString("600.50")
	require.NoError(t, st.AppendEntry(ctx, e))

	got, err := st.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Reference, got.Reference)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("600.50")), "amount survived as %s", got.Amount)
	assert.Equal(t, fees.Term1, got.Term)
	assert.Equal(t, fees.RoleAccounts, got.RecordedRole)
	assert.WithinDuration(t, e.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestAppendEntry_DuplicateReference(t *testing.T) {
	// The unique index on reference is the only concurrency control the
	// ledger has; it must surface as ErrReferenceExists.
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendEntry(ctx, testEntry("R1", 600)))

	err := st.AppendEntry(ctx, testEntry("R1", 900))
	assert.ErrorIs(t, err, fees.ErrReferenceExists)

	exists, err := st.ReferenceExists(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetEntry_NotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetEntry(context.Background(), "missing")
	assert.ErrorIs(t, err, fees.ErrPaymentNotFound)
}

func TestEntriesByStudent_NewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	for i, ref := range []string{"R1", "R2", "R3"} {
		e := testEntry(ref, 100)
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.AppendEntry(ctx, e))
	}

	entries, err := st.EntriesByStudent(ctx, "stu-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "R3", entries[0].Reference)
	assert.Equal(t, "R1", entries[2].Reference)
}

func TestEntriesBySchool_Limit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, ref := range []string{"R1", "R2", "R3"} {
		require.NoError(t, st.AppendEntry(ctx, testEntry(ref, 100)))
	}

	entries, err := st.EntriesBySchool(ctx, "sch-1", 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	all, err := st.EntriesBySchool(ctx, "sch-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestEntriesByStudentYear_Filters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	e24 := testEntry("OLD", 100)
	e24.AcademicYear = 2024
	require.NoError(t, st.AppendEntry(ctx, e24))
	require.NoError(t, st.AppendEntry(ctx, testEntry("R1", 200)))

	entries, err := st.EntriesByStudentYear(ctx, "stu-1", 2025)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "R1", entries[0].Reference)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestWithTx_Commit(t *testing.T) {
	// GIVEN: A reversal written alongside its compensating entry
	// WHEN: The transaction function succeeds
	// THEN: Both rows are visible afterwards

	st := newTestStore(t)
	ctx := context.Background()

	original := testEntry("R1", 600)
	require.NoError(t, st.AppendEntry(ctx, original))

	err := st.WithTx(ctx, func(tx fees.Store) error {
		rec := fees.ReversalRecord{
			ID:        uuid.NewString(),
			PaymentID: original.ID,
			Reason:    "duplicate entry",
			ActorID:   "act-1",
			Amount:    original.Amount,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.AddReversal(ctx, rec); err != nil {
			return err
		}
		comp := testEntry(fees.ReversalRef("R1"), 0)
		comp.Amount = original.Amount.Neg()
		comp.Method = fees.MethodReversal
		return tx.AppendEntry(ctx, comp)
	})
	require.NoError(t, err)

	entries, err := st.EntriesByStudent(ctx, "stu-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	recs, err := st.ReversalsByPayment(ctx, original.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, "duplicate entry", recs[0].Reason)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that writes an audit record then fails on the
	//        compensating entry's reference collision
	// WHEN: WithTx returns the error
	// THEN: The audit record is rolled back; no orphan remains

	st := newTestStore(t)
	ctx := context.Background()

	original := testEntry("R1", 600)
	require.NoError(t, st.AppendEntry(ctx, original))
	require.NoError(t, st.AppendEntry(ctx, testEntry(fees.ReversalRef("R1"), 600)))

	err := st.WithTx(ctx, func(tx fees.Store) error {
		rec := fees.ReversalRecord{
			ID:        uuid.NewString(),
			PaymentID: original.ID,
			Reason:    "second attempt",
			ActorID:   "act-1",
			Amount:    original.Amount,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.AddReversal(ctx, rec); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, testEntry(fees.ReversalRef("R1"), 600))
	})
	assert.ErrorIs(t, err, fees.ErrReferenceExists)

	recs, err := st.ReversalsByPayment(ctx, original.ID)
	require.NoError(t, err)
	assert.Empty(t, recs, "audit record must not survive the rollback")
}

// =============================================================================
// FEE STRUCTURE TESTS
// =============================================================================

func TestUpsertStructure_PreservesIdentity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.UpsertStructure(ctx, testStructure("Grade 5", 2025, 1000))
	require.NoError(t, err)

	replacement := testStructure("Grade 5", 2025, 1200)
	second, err := st.UpsertStructure(ctx, replacement)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "conflict upsert keeps the original row id")
	assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, time.Millisecond)
	assert.True(t, second.Term1Fee.Equal(decimal.NewFromInt(1200)))

	list, err := st.ListStructures(ctx, "sch-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestListStructures_Ordering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, s := range []fees.FeeStructure{
		testStructure("Grade 6", 2024, 900),
		testStructure("Grade 5", 2025, 1000),
		testStructure("Grade 6", 2025, 1100),
	} {
		_, err := st.UpsertStructure(ctx, s)
		require.NoError(t, err)
	}

	list, err := st.ListStructures(ctx, "sch-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 2025, list[0].AcademicYear)
	assert.Equal(t, "Grade 5", list[0].Grade)
	assert.Equal(t, 2025, list[1].AcademicYear)
	assert.Equal(t, "Grade 6", list[1].Grade)
	assert.Equal(t, 2024, list[2].AcademicYear)
}

func TestFindStructure_AndLatestFallback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertStructure(ctx, testStructure("Grade 5", 2023, 800))
	require.NoError(t, err)
	_, err = st.UpsertStructure(ctx, testStructure("Grade 5", 2024, 900))
	require.NoError(t, err)

	_, err = st.FindStructure(ctx, "sch-1", "Grade 5", 2025)
	assert.ErrorIs(t, err, fees.ErrStructureNotFound)

	latest, err := st.LatestStructure(ctx, "sch-1", "Grade 5")
	require.NoError(t, err)
	assert.Equal(t, 2024, latest.AcademicYear)
}

func TestDeleteStructure(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	fs, err := st.UpsertStructure(ctx, testStructure("Grade 5", 2025, 1000))
	require.NoError(t, err)

	require.NoError(t, st.DeleteStructure(ctx, fs.ID))
	assert.ErrorIs(t, st.DeleteStructure(ctx, fs.ID), fees.ErrStructureNotFound)
}

// =============================================================================
// DIRECTORY TESTS
// =============================================================================

func TestDirectory_RoundTrips(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	school := fees.School{ID: "sch-1", Name: "Test Academy", Paybill: "600100", Active: true}
	require.NoError(t, st.SaveSchool(ctx, school))

	got, err := st.SchoolByPaybill(ctx, "600100")
	require.NoError(t, err)
	assert.Equal(t, school.ID, got.ID)

	student := fees.Student{ID: "stu-1", SchoolID: "sch-1", Admission: "ADM001", Name: "Wanjiku Kamau", Grade: "Grade 5"}
	require.NoError(t, st.SaveStudent(ctx, student))

	byAdm, err := st.StudentByAdmission(ctx, "sch-1", "ADM001")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", byAdm.ID)

	_, err = st.StudentByAdmission(ctx, "sch-1", "NOPE")
	assert.ErrorIs(t, err, fees.ErrStudentNotFound)
}

func TestSchoolByPaybill_InactiveExcluded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveSchool(ctx, fees.School{ID: "sch-1", Name: "Closed", Paybill: "600100", Active: false}))

	_, err := st.SchoolByPaybill(ctx, "600100")
	assert.ErrorIs(t, err, fees.ErrSchoolNotFound)
}

func TestEnrollmentFor_ExactThenFallback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveEnrollment(ctx, fees.Enrollment{StudentID: "stu-1", AcademicYear: 2023, Grade: "Grade 3"}))
	require.NoError(t, st.SaveEnrollment(ctx, fees.Enrollment{StudentID: "stu-1", AcademicYear: 2024, Grade: "Grade 4"}))

	exact, err := st.EnrollmentFor(ctx, "stu-1", 2024)
	require.NoError(t, err)
	assert.Equal(t, "Grade 4", exact.Grade)

	fallback, err := st.EnrollmentFor(ctx, "stu-1", 2025)
	require.NoError(t, err)
	assert.Equal(t, 2024, fallback.AcademicYear, "latest year stands in for a missing one")

	_, err = st.EnrollmentFor(ctx, "stu-none", 2025)
	assert.ErrorIs(t, err, fees.ErrEnrollmentNotFound)
}

func TestSystemActor_LazyAndStable(t *testing.T) {
	// First call creates the school's system identity; later calls
	// return the same row.
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.SystemActor(ctx, "sch-1")
	require.NoError(t, err)
	assert.True(t, first.System)
	assert.Equal(t, fees.RoleAccounts, first.Role)

	second, err := st.SystemActor(ctx, "sch-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := st.SystemActor(ctx, "sch-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestReset_ClearsEverything(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendEntry(ctx, testEntry("R1", 600)))
	_, err := st.UpsertStructure(ctx, testStructure("Grade 5", 2025, 1000))
	require.NoError(t, err)

	require.NoError(t, st.Reset(ctx))

	entries, err := st.EntriesByStudent(ctx, "stu-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	list, err := st.ListStructures(ctx, "sch-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}
