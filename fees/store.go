/*
store.go - Persistence interfaces for the fee ledger

APPEND-ONLY CONTRACT:
  LedgerStore has no update or delete methods for payment entries and
  never will. Corrections are compensating entries. The unique index on
  the payment reference is the sole concurrency control against duplicate
  recording: two concurrent appends with the same reference must yield
  exactly one success and one ErrReferenceExists.

UPSERT CONTRACT:
  UpsertStructure must be a single conditional write at the storage
  layer (not read-then-write from the caller), keyed on
  (school, grade, academic year).

IMPLEMENTATIONS:
  - fees/store (memory): for tests and dev
  - store/sqlite: embedded deployments
  - store/postgres: production deployments
*/
package fees

import "context"

// LedgerStore persists payment entries. Append-only.
type LedgerStore interface {
	// AppendEntry persists an entry. Returns ErrReferenceExists if the
	// reference is already recorded. This is the ONLY write operation.
	AppendEntry(ctx context.Context, e PaymentEntry) error

	// ReferenceExists reports whether a reference is already recorded.
	ReferenceExists(ctx context.Context, reference string) (bool, error)

	// GetEntry returns an entry by id. Returns ErrPaymentNotFound if absent.
	GetEntry(ctx context.Context, id string) (PaymentEntry, error)

	// EntriesByStudent returns all entries for a student, newest first.
	EntriesByStudent(ctx context.Context, studentID string) ([]PaymentEntry, error)

	// EntriesByStudentYear returns a student's entries for one academic
	// year, newest first.
	EntriesByStudentYear(ctx context.Context, studentID string, academicYear int) ([]PaymentEntry, error)

	// EntriesBySchool returns a school's entries, newest first,
	// capped at limit (0 means no cap).
	EntriesBySchool(ctx context.Context, schoolID string, limit int) ([]PaymentEntry, error)
}

// FeeStructureStore persists fee structures.
type FeeStructureStore interface {
	// UpsertStructure atomically inserts or replaces the record keyed on
	// (SchoolID, Grade, AcademicYear) and returns the stored row.
	UpsertStructure(ctx context.Context, fs FeeStructure) (FeeStructure, error)

	// GetStructure returns a record by id. Returns ErrStructureNotFound if absent.
	GetStructure(ctx context.Context, id string) (FeeStructure, error)

	// FindStructure returns the exact (school, grade, year) match.
	// Returns ErrStructureNotFound if absent.
	FindStructure(ctx context.Context, schoolID, grade string, academicYear int) (FeeStructure, error)

	// LatestStructure returns the most recent record for (school, grade),
	// ordered by academic year descending. Returns ErrStructureNotFound
	// if the school has never posted fees for the grade.
	LatestStructure(ctx context.Context, schoolID, grade string) (FeeStructure, error)

	// ListStructures returns all records for a school, ordered by
	// academic year descending then grade ascending.
	ListStructures(ctx context.Context, schoolID string) ([]FeeStructure, error)

	// SaveStructure overwrites an existing record by id.
	// Returns ErrStructureNotFound if absent.
	SaveStructure(ctx context.Context, fs FeeStructure) (FeeStructure, error)

	// DeleteStructure hard-deletes a record by id.
	// Returns ErrStructureNotFound if absent.
	DeleteStructure(ctx context.Context, id string) error
}

// ReversalStore persists reversal audit records. Append-only.
type ReversalStore interface {
	AddReversal(ctx context.Context, r ReversalRecord) error
	ReversalsByPayment(ctx context.Context, paymentID string) ([]ReversalRecord, error)
}

// Store bundles the three persistence concerns of the fee core.
type Store interface {
	LedgerStore
	FeeStructureStore
	ReversalStore
}

// TxStore wraps Store with transaction support. Reversal uses this so
// the audit record and the compensating entry commit or roll back
// together; a crash mid-reversal can never leave an orphaned record.
type TxStore interface {
	Store

	// WithTx executes fn within a storage transaction.
	// If fn returns an error, every write inside it is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
