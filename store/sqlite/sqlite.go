/*
Package sqlite provides a SQLite-backed implementation of the fee
engine's storage interfaces.

INTERFACES IMPLEMENTED:
  fees.TxStore:             payment ledger, fee structures, reversals
  fees.StudentDirectory:    student resolution
  fees.SchoolDirectory:     school and paybill resolution
  fees.EnrollmentDirectory: enrollment resolution with year fallback
  fees.ActorDirectory:      recording actors incl. lazy system actors

APPEND-ONLY ENFORCEMENT:
  The Store enforces append-only semantics for payments:
  - No UPDATE statements on payment_entries
  - No DELETE statements on payment_entries
  - Corrections via compensating reversal entries only

KEY TABLES:
  payment_entries:  Immutable ledger of all payments and reversals
  fee_structures:   Per-term fees, one row per (school, grade, year)
  reversal_records: Audit trail for reversals
  schools, students, enrollments, actors: directory data

INDEXES:
  - payment_entries.reference UNIQUE: idempotent recording; of two
    concurrent inserts with the same reference exactly one wins, the
    other maps to fees.ErrReferenceExists
  - idx_entries_student_year: balance calculation (hot path)
  - fee_structures UNIQUE(school_id, grade, academic_year): single
    conditional write for upserts

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SQLite is opened with WAL so
  multiple readers don't block on the single writer.

USAGE:
  st, err := sqlite.New("./data/fees.db")   // ":memory:" for tests
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  ledger := fees.NewLedger(st, st, nil, nil)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - fees/store.go: Interface definitions
  - fees/ledger.go: Higher-level ledger using the Store
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/elimisha/fees-engine/fees"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same write and
// lookup helpers serve plain calls and transactional ones.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens (creating if needed) a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Payment entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS payment_entries (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		reference TEXT NOT NULL UNIQUE,
		term TEXT NOT NULL,
		academic_year INTEGER NOT NULL,
		recorded_by TEXT NOT NULL,
		recorded_by_role TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Balance aggregation (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_student_year
		ON payment_entries(student_id, academic_year);
	CREATE INDEX IF NOT EXISTS idx_entries_school
		ON payment_entries(school_id, created_at DESC);

	-- Fee structures: one row per (school, grade, academic year)
	CREATE TABLE IF NOT EXISTS fee_structures (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		grade TEXT NOT NULL,
		academic_year INTEGER NOT NULL,
		term_1_fee TEXT NOT NULL,
		term_2_fee TEXT NOT NULL,
		term_3_fee TEXT NOT NULL,
		total_fee TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(school_id, grade, academic_year)
	);

	CREATE INDEX IF NOT EXISTS idx_structures_school_grade
		ON fee_structures(school_id, grade, academic_year DESC);

	-- Reversal audit records
	CREATE TABLE IF NOT EXISTS reversal_records (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reversals_payment
		ON reversal_records(payment_id);

	-- Directory tables
	CREATE TABLE IF NOT EXISTS schools (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		paybill TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_schools_paybill ON schools(paybill);

	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		admission_number TEXT NOT NULL,
		name TEXT NOT NULL,
		grade TEXT NOT NULL,
		stream TEXT,
		UNIQUE(school_id, admission_number)
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		student_id TEXT NOT NULL,
		academic_year INTEGER NOT NULL,
		grade TEXT NOT NULL,
		stream TEXT,
		UNIQUE(student_id, academic_year)
	);

	CREATE TABLE IF NOT EXISTS actors (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		role TEXT NOT NULL,
		system BOOLEAN NOT NULL DEFAULT FALSE
	);

	-- At most one system actor per school
	CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_system
		ON actors(school_id) WHERE system;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (fees.LedgerStore)
// =============================================================================

// AppendEntry inserts a ledger entry. The unique index on reference turns
// a duplicate into fees.ErrReferenceExists.
func (s *Store) AppendEntry(ctx context.Context, e fees.PaymentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, db dbtx, e fees.PaymentEntry) error {
	query := `
		INSERT INTO payment_entries
		(id, school_id, student_id, amount, method, reference, term,
		 academic_year, recorded_by, recorded_by_role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		e.ID, e.SchoolID, e.StudentID,
		e.Amount.String(), e.Method, e.Reference, e.Term,
		e.AcademicYear, e.RecordedBy, e.RecordedRole,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fees.ErrReferenceExists
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *Store) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM payment_entries WHERE reference = ?",
		reference,
	).Scan(&count)
	return count > 0, err
}

const entryColumns = `id, school_id, student_id, amount, method, reference, term,
	academic_year, recorded_by, recorded_by_role, created_at`

func (s *Store) GetEntry(ctx context.Context, id string) (fees.PaymentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntry(ctx, s.db, id)
}

func getEntry(ctx context.Context, db dbtx, id string) (fees.PaymentEntry, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM payment_entries WHERE id = ?", id)

	e, err := scanEntryFrom(row)
	if err == sql.ErrNoRows {
		return fees.PaymentEntry{}, fees.ErrPaymentNotFound
	}
	if err != nil {
		return fees.PaymentEntry{}, err
	}
	return e, nil
}

func (s *Store) EntriesByStudent(ctx context.Context, studentID string) ([]fees.PaymentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + entryColumns + ` FROM payment_entries
		WHERE student_id = ?
		ORDER BY created_at DESC, rowid DESC`
	return s.queryEntries(ctx, query, studentID)
}

func (s *Store) EntriesByStudentYear(ctx context.Context, studentID string, academicYear int) ([]fees.PaymentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + entryColumns + ` FROM payment_entries
		WHERE student_id = ? AND academic_year = ?
		ORDER BY created_at DESC, rowid DESC`
	return s.queryEntries(ctx, query, studentID, academicYear)
}

func (s *Store) EntriesBySchool(ctx context.Context, schoolID string, limit int) ([]fees.PaymentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + entryColumns + ` FROM payment_entries
		WHERE school_id = ?
		ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		return s.queryEntries(ctx, query+" LIMIT ?", schoolID, limit)
	}
	return s.queryEntries(ctx, query, schoolID)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]fees.PaymentEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []fees.PaymentEntry
	for rows.Next() {
		e, err := scanEntryFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntryFrom(sc rowScanner) (fees.PaymentEntry, error) {
	var (
		e         fees.PaymentEntry
		amount    string
		createdAt string
	)
	err := sc.Scan(
		&e.ID, &e.SchoolID, &e.StudentID, &amount, &e.Method, &e.Reference,
		&e.Term, &e.AcademicYear, &e.RecordedBy, &e.RecordedRole, &createdAt,
	)
	if err != nil {
		return e, err
	}
	e.Amount = mustDecimal(amount)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

// =============================================================================
// FEE STRUCTURE STORE (fees.FeeStructureStore)
// =============================================================================

// UpsertStructure is a single conditional write: the unique key keeps one
// row per (school, grade, year), so a concurrent insert resolves to an
// update rather than a duplicate. An existing row keeps its identity and
// creation time.
func (s *Store) UpsertStructure(ctx context.Context, fs fees.FeeStructure) (fees.FeeStructure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertStructure(ctx, s.db, fs)
}

func upsertStructure(ctx context.Context, db dbtx, fs fees.FeeStructure) (fees.FeeStructure, error) {
	query := `
		INSERT INTO fee_structures
		(id, school_id, grade, academic_year, term_1_fee, term_2_fee, term_3_fee,
		 total_fee, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(school_id, grade, academic_year) DO UPDATE SET
			term_1_fee = excluded.term_1_fee,
			term_2_fee = excluded.term_2_fee,
			term_3_fee = excluded.term_3_fee,
			total_fee = excluded.total_fee,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		fs.ID, fs.SchoolID, fs.Grade, fs.AcademicYear,
		fs.Term1Fee.String(), fs.Term2Fee.String(), fs.Term3Fee.String(),
		fs.TotalFee.String(),
		fs.CreatedAt.UTC().Format(time.RFC3339Nano),
		fs.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fees.FeeStructure{}, fmt.Errorf("failed to upsert fee structure: %w", err)
	}
	return findStructure(ctx, db, fs.SchoolID, fs.Grade, fs.AcademicYear)
}

const structureColumns = `id, school_id, grade, academic_year, term_1_fee,
	term_2_fee, term_3_fee, total_fee, created_at, updated_at`

func (s *Store) GetStructure(ctx context.Context, id string) (fees.FeeStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStructure(ctx, s.db, id)
}

func getStructure(ctx context.Context, db dbtx, id string) (fees.FeeStructure, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+structureColumns+" FROM fee_structures WHERE id = ?", id)
	return scanStructureRow(row)
}

func (s *Store) FindStructure(ctx context.Context, schoolID, grade string, academicYear int) (fees.FeeStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findStructure(ctx, s.db, schoolID, grade, academicYear)
}

func findStructure(ctx context.Context, db dbtx, schoolID, grade string, academicYear int) (fees.FeeStructure, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+structureColumns+` FROM fee_structures
		 WHERE school_id = ? AND grade = ? AND academic_year = ?`,
		schoolID, grade, academicYear)
	return scanStructureRow(row)
}

func (s *Store) LatestStructure(ctx context.Context, schoolID, grade string) (fees.FeeStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestStructure(ctx, s.db, schoolID, grade)
}

func latestStructure(ctx context.Context, db dbtx, schoolID, grade string) (fees.FeeStructure, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+structureColumns+` FROM fee_structures
		 WHERE school_id = ? AND grade = ?
		 ORDER BY academic_year DESC LIMIT 1`,
		schoolID, grade)
	return scanStructureRow(row)
}

func (s *Store) ListStructures(ctx context.Context, schoolID string) ([]fees.FeeStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listStructures(ctx, s.db, schoolID)
}

func listStructures(ctx context.Context, db dbtx, schoolID string) ([]fees.FeeStructure, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+structureColumns+` FROM fee_structures
		 WHERE school_id = ?
		 ORDER BY academic_year DESC, grade ASC`,
		schoolID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fee structures: %w", err)
	}
	defer rows.Close()

	var structures []fees.FeeStructure
	for rows.Next() {
		fs, err := scanStructureFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fee structure: %w", err)
		}
		structures = append(structures, fs)
	}
	return structures, rows.Err()
}

func (s *Store) SaveStructure(ctx context.Context, fs fees.FeeStructure) (fees.FeeStructure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveStructure(ctx, s.db, fs)
}

func saveStructure(ctx context.Context, db dbtx, fs fees.FeeStructure) (fees.FeeStructure, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE fee_structures SET
			term_1_fee = ?, term_2_fee = ?, term_3_fee = ?,
			total_fee = ?, updated_at = ?
		WHERE id = ?`,
		fs.Term1Fee.String(), fs.Term2Fee.String(), fs.Term3Fee.String(),
		fs.TotalFee.String(), fs.UpdatedAt.UTC().Format(time.RFC3339Nano), fs.ID,
	)
	if err != nil {
		return fees.FeeStructure{}, fmt.Errorf("failed to update fee structure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fees.FeeStructure{}, fees.ErrStructureNotFound
	}
	return fs, nil
}

func (s *Store) DeleteStructure(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteStructure(ctx, s.db, id)
}

func deleteStructure(ctx context.Context, db dbtx, id string) error {
	res, err := db.ExecContext(ctx, "DELETE FROM fee_structures WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete fee structure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fees.ErrStructureNotFound
	}
	return nil
}

func scanStructureFrom(sc rowScanner) (fees.FeeStructure, error) {
	var (
		fs                   fees.FeeStructure
		t1, t2, t3, total    string
		createdAt, updatedAt string
	)
	err := sc.Scan(
		&fs.ID, &fs.SchoolID, &fs.Grade, &fs.AcademicYear,
		&t1, &t2, &t3, &total, &createdAt, &updatedAt,
	)
	if err != nil {
		return fs, err
	}
	fs.Term1Fee = mustDecimal(t1)
	fs.Term2Fee = mustDecimal(t2)
	fs.Term3Fee = mustDecimal(t3)
	fs.TotalFee = mustDecimal(total)
	fs.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	fs.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return fs, nil
}

func scanStructureRow(row *sql.Row) (fees.FeeStructure, error) {
	fs, err := scanStructureFrom(row)
	if err == sql.ErrNoRows {
		return fees.FeeStructure{}, fees.ErrStructureNotFound
	}
	if err != nil {
		return fees.FeeStructure{}, err
	}
	return fs, nil
}

// =============================================================================
// REVERSAL STORE (fees.ReversalStore)
// =============================================================================

func (s *Store) AddReversal(ctx context.Context, r fees.ReversalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addReversal(ctx, s.db, r)
}

func addReversal(ctx context.Context, db dbtx, r fees.ReversalRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO reversal_records (id, payment_id, reason, actor_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.PaymentID, r.Reason, r.ActorID,
		r.Amount.String(), r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to add reversal record: %w", err)
	}
	return nil
}

func (s *Store) ReversalsByPayment(ctx context.Context, paymentID string) ([]fees.ReversalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reversalsByPayment(ctx, s.db, paymentID)
}

func reversalsByPayment(ctx context.Context, db dbtx, paymentID string) ([]fees.ReversalRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, payment_id, reason, actor_id, amount, created_at
		FROM reversal_records WHERE payment_id = ?
		ORDER BY created_at ASC`,
		paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reversal records: %w", err)
	}
	defer rows.Close()

	var records []fees.ReversalRecord
	for rows.Next() {
		var (
			r         fees.ReversalRecord
			amount    string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.PaymentID, &r.Reason, &r.ActorID, &amount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan reversal record: %w", err)
		}
		r.Amount = mustDecimal(amount)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// TRANSACTIONS (fees.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. Reversal depends on
// this: the audit record and the compensating entry commit together or
// not at all.
func (s *Store) WithTx(ctx context.Context, fn func(fees.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore exposes the Store interface against an open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) AppendEntry(ctx context.Context, e fees.PaymentEntry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var count int
	err := ts.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM payment_entries WHERE reference = ?", reference,
	).Scan(&count)
	return count > 0, err
}

func (ts *txStore) GetEntry(ctx context.Context, id string) (fees.PaymentEntry, error) {
	return getEntry(ctx, ts.tx, id)
}

func (ts *txStore) EntriesByStudent(ctx context.Context, studentID string) ([]fees.PaymentEntry, error) {
	query := "SELECT " + entryColumns + ` FROM payment_entries
		WHERE student_id = ?
		ORDER BY created_at DESC, rowid DESC`
	return txEntries(ctx, ts.tx, query, studentID)
}

func (ts *txStore) EntriesByStudentYear(ctx context.Context, studentID string, academicYear int) ([]fees.PaymentEntry, error) {
	query := "SELECT " + entryColumns + ` FROM payment_entries
		WHERE student_id = ? AND academic_year = ?
		ORDER BY created_at DESC, rowid DESC`
	return txEntries(ctx, ts.tx, query, studentID, academicYear)
}

func (ts *txStore) EntriesBySchool(ctx context.Context, schoolID string, limit int) ([]fees.PaymentEntry, error) {
	query := "SELECT " + entryColumns + ` FROM payment_entries
		WHERE school_id = ?
		ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		return txEntries(ctx, ts.tx, query+" LIMIT ?", schoolID, limit)
	}
	return txEntries(ctx, ts.tx, query, schoolID)
}

func txEntries(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]fees.PaymentEntry, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []fees.PaymentEntry
	for rows.Next() {
		e, err := scanEntryFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (ts *txStore) UpsertStructure(ctx context.Context, fs fees.FeeStructure) (fees.FeeStructure, error) {
	return upsertStructure(ctx, ts.tx, fs)
}

func (ts *txStore) GetStructure(ctx context.Context, id string) (fees.FeeStructure, error) {
	return getStructure(ctx, ts.tx, id)
}

func (ts *txStore) FindStructure(ctx context.Context, schoolID, grade string, academicYear int) (fees.FeeStructure, error) {
	return findStructure(ctx, ts.tx, schoolID, grade, academicYear)
}

func (ts *txStore) LatestStructure(ctx context.Context, schoolID, grade string) (fees.FeeStructure, error) {
	return latestStructure(ctx, ts.tx, schoolID, grade)
}

func (ts *txStore) ListStructures(ctx context.Context, schoolID string) ([]fees.FeeStructure, error) {
	return listStructures(ctx, ts.tx, schoolID)
}

func (ts *txStore) SaveStructure(ctx context.Context, fs fees.FeeStructure) (fees.FeeStructure, error) {
	return saveStructure(ctx, ts.tx, fs)
}

func (ts *txStore) DeleteStructure(ctx context.Context, id string) error {
	return deleteStructure(ctx, ts.tx, id)
}

func (ts *txStore) AddReversal(ctx context.Context, r fees.ReversalRecord) error {
	return addReversal(ctx, ts.tx, r)
}

func (ts *txStore) ReversalsByPayment(ctx context.Context, paymentID string) ([]fees.ReversalRecord, error) {
	return reversalsByPayment(ctx, ts.tx, paymentID)
}

// =============================================================================
// DIRECTORY (fees.SchoolDirectory, StudentDirectory, ...)
// =============================================================================

// SaveSchool inserts or updates a school.
func (s *Store) SaveSchool(ctx context.Context, school fees.School) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schools (id, name, paybill, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			paybill = excluded.paybill,
			active = excluded.active`,
		school.ID, school.Name, nullString(school.Paybill), school.Active,
	)
	return err
}

func (s *Store) SchoolByID(ctx context.Context, id string) (fees.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schoolWhere(ctx, "id = ?", id)
}

// SchoolByPaybill matches active schools only. Callbacks addressed to a
// deactivated school are dropped upstream.
func (s *Store) SchoolByPaybill(ctx context.Context, paybill string) (fees.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schoolWhere(ctx, "paybill = ? AND active", paybill)
}

func (s *Store) schoolWhere(ctx context.Context, where string, args ...any) (fees.School, error) {
	var (
		school  fees.School
		paybill sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, paybill, active FROM schools WHERE "+where, args...,
	).Scan(&school.ID, &school.Name, &paybill, &school.Active)
	if err == sql.ErrNoRows {
		return fees.School{}, fees.ErrSchoolNotFound
	}
	if err != nil {
		return fees.School{}, err
	}
	school.Paybill = paybill.String
	return school, nil
}

// SaveStudent inserts or updates a student.
func (s *Store) SaveStudent(ctx context.Context, student fees.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, school_id, admission_number, name, grade, stream)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			grade = excluded.grade,
			stream = excluded.stream`,
		student.ID, student.SchoolID, student.Admission,
		student.Name, student.Grade, nullString(student.Stream),
	)
	return err
}

const studentColumns = "id, school_id, admission_number, name, grade, stream"

func (s *Store) StudentByAdmission(ctx context.Context, schoolID, admission string) (fees.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+studentColumns+" FROM students WHERE school_id = ? AND admission_number = ?",
		schoolID, admission)
	return scanStudent(row)
}

func (s *Store) StudentByID(ctx context.Context, id string) (fees.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+studentColumns+" FROM students WHERE id = ?", id)
	return scanStudent(row)
}

func scanStudent(row *sql.Row) (fees.Student, error) {
	var (
		st     fees.Student
		stream sql.NullString
	)
	err := row.Scan(&st.ID, &st.SchoolID, &st.Admission, &st.Name, &st.Grade, &stream)
	if err == sql.ErrNoRows {
		return fees.Student{}, fees.ErrStudentNotFound
	}
	if err != nil {
		return fees.Student{}, err
	}
	st.Stream = stream.String
	return st, nil
}

// SaveEnrollment inserts or updates a student's enrollment for a year.
func (s *Store) SaveEnrollment(ctx context.Context, e fees.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments (student_id, academic_year, grade, stream)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(student_id, academic_year) DO UPDATE SET
			grade = excluded.grade,
			stream = excluded.stream`,
		e.StudentID, e.AcademicYear, e.Grade, nullString(e.Stream),
	)
	return err
}

// EnrollmentFor returns the exact-year enrollment, falling back to the
// most recent one when the requested year has no record.
func (s *Store) EnrollmentFor(ctx context.Context, studentID string, academicYear int) (fees.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		e      fees.Enrollment
		stream sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT student_id, academic_year, grade, stream FROM enrollments
		WHERE student_id = ?
		ORDER BY (academic_year = ?) DESC, academic_year DESC
		LIMIT 1`,
		studentID, academicYear,
	).Scan(&e.StudentID, &e.AcademicYear, &e.Grade, &stream)
	if err == sql.ErrNoRows {
		return fees.Enrollment{}, fees.ErrEnrollmentNotFound
	}
	if err != nil {
		return fees.Enrollment{}, err
	}
	e.Stream = stream.String
	return e, nil
}

// SaveActor inserts or updates a recording actor.
func (s *Store) SaveActor(ctx context.Context, a fees.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actors (id, school_id, role, system)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			school_id = excluded.school_id,
			role = excluded.role`,
		a.ID, a.SchoolID, a.Role, a.System,
	)
	return err
}

func (s *Store) ActorByID(ctx context.Context, id string) (fees.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a fees.Actor
	err := s.db.QueryRowContext(ctx,
		"SELECT id, school_id, role, system FROM actors WHERE id = ?", id,
	).Scan(&a.ID, &a.SchoolID, &a.Role, &a.System)
	if err == sql.ErrNoRows {
		return fees.Actor{}, fees.ErrActorNotFound
	}
	return a, err
}

// SystemActor returns the school's non-human accounts identity, creating
// it on first use. The partial unique index collapses concurrent
// creations to one row; the loser re-reads.
func (s *Store) SystemActor(ctx context.Context, schoolID string) (fees.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "SELECT id, school_id, role, system FROM actors WHERE school_id = ? AND system"

	var a fees.Actor
	err := s.db.QueryRowContext(ctx, query, schoolID).Scan(&a.ID, &a.SchoolID, &a.Role, &a.System)
	if err == nil {
		return a, nil
	}
	if err != sql.ErrNoRows {
		return fees.Actor{}, err
	}

	a = fees.Actor{ID: uuid.NewString(), SchoolID: schoolID, Role: fees.RoleAccounts, System: true}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO actors (id, school_id, role, system) VALUES (?, ?, ?, ?)",
		a.ID, a.SchoolID, a.Role, a.System,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			err = s.db.QueryRowContext(ctx, query, schoolID).Scan(&a.ID, &a.SchoolID, &a.Role, &a.System)
			return a, err
		}
		return fees.Actor{}, err
	}
	return a, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// Reset clears all data. Dev and demo tooling only; the append-only
// contract applies to the application surface, not to rebuilding a
// sandbox database.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{
		"payment_entries", "fee_structures", "reversal_records",
		"schools", "students", "enrollments", "actors",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed"))
}
