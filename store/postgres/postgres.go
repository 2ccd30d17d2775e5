/*
Package postgres provides a PostgreSQL-backed implementation of the fee
engine's storage interfaces.

Functionally equivalent to store/sqlite but relies on the database for
concurrency control instead of an in-process mutex: the UNIQUE index on
payment_entries.reference is still the sole guard against duplicate
recording, and unique_violation (23505) maps to the same sentinel errors.

Amounts are stored as NUMERIC and timestamps as TIMESTAMPTZ, so values
scan directly into decimal.Decimal and time.Time.

USAGE:
  st, err := postgres.New(os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  ledger := fees.NewLedger(st, st, nil, nil)
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/elimisha/fees-engine/fees"
)

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	db *sql.DB
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New connects to PostgreSQL with the given connection string and runs
// migrations.
func New(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
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
	CREATE TABLE IF NOT EXISTS payment_entries (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL,
		method TEXT NOT NULL,
		reference TEXT NOT NULL UNIQUE,
		term TEXT NOT NULL,
		academic_year INTEGER NOT NULL,
		recorded_by TEXT NOT NULL,
		recorded_by_role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_student_year
		ON payment_entries(student_id, academic_year);
	CREATE INDEX IF NOT EXISTS idx_entries_school
		ON payment_entries(school_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS fee_structures (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		grade TEXT NOT NULL,
		academic_year INTEGER NOT NULL,
		term_1_fee NUMERIC(14,2) NOT NULL,
		term_2_fee NUMERIC(14,2) NOT NULL,
		term_3_fee NUMERIC(14,2) NOT NULL,
		total_fee NUMERIC(14,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE(school_id, grade, academic_year)
	);

	CREATE TABLE IF NOT EXISTS reversal_records (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reversals_payment
		ON reversal_records(payment_id);

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

	CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_system
		ON actors(school_id) WHERE system;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e fees.PaymentEntry) error {
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, db dbtx, e fees.PaymentEntry) error {
	const query = `
		INSERT INTO payment_entries
		(id, school_id, student_id, amount, method, reference, term,
		 academic_year, recorded_by, recorded_by_role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := db.ExecContext(ctx, query,
		e.ID, e.SchoolID, e.StudentID, e.Amount, e.Method, e.Reference,
		e.Term, e.AcademicYear, e.RecordedBy, e.RecordedRole, e.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err, "reference") {
			return fees.ErrReferenceExists
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *Store) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	return referenceExists(ctx, s.db, reference)
}

func referenceExists(ctx context.Context, db dbtx, reference string) (bool, error) {
	const query = `SELECT 1 FROM payment_entries WHERE reference = $1 LIMIT 1`

	var exists int
	err := db.QueryRowContext(ctx, query, reference).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const entryColumns = `id, school_id, student_id, amount, method, reference, term,
	academic_year, recorded_by, recorded_by_role, created_at`

func (s *Store) GetEntry(ctx context.Context, id string) (fees.PaymentEntry, error) {
	return getEntry(ctx, s.db, id)
}

func getEntry(ctx context.Context, db dbtx, id string) (fees.PaymentEntry, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM payment_entries WHERE id = $1", id)

	var e fees.PaymentEntry
	err := row.Scan(
		&e.ID, &e.SchoolID, &e.StudentID, &e.Amount, &e.Method, &e.Reference,
		&e.Term, &e.AcademicYear, &e.RecordedBy, &e.RecordedRole, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return fees.PaymentEntry{}, fees.ErrPaymentNotFound
	}
	if err != nil {
		return fees.PaymentEntry{}, err
	}
	return e, nil
}

func (s *Store) EntriesByStudent(ctx context.Context, studentID string) ([]fees.PaymentEntry, error) {
	query := "SELECT " + entryColumns + ` FROM payment_entries
		WHERE student_id = $1
		ORDER BY created_at DESC, id DESC`
	return queryEntries(ctx, s.db, query, studentID)
}

func (s *Store) EntriesByStudentYear(ctx context.Context, studentID string, academicYear int) ([]fees.PaymentEntry, error) {
	query := "SELECT " + entryColumns + ` FROM payment_entries
		WHERE student_id = $1 AND academic_year = $2
		ORDER BY created_at DESC, id DESC`
	return queryEntries(ctx, s.db, query, studentID, academicYear)
}

func (s *Store) EntriesBySchool(ctx context.Context, schoolID string, limit int) ([]fees.PaymentEntry, error) {
	query := "SELECT " + entryColumns + ` FROM payment_entries
		WHERE school_id = $1
		ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		return queryEntries(ctx, s.db, query+" LIMIT $2", schoolID, limit)
	}
	return queryEntries(ctx, s.db, query, schoolID)
}

func queryEntries(ctx context.Context, db dbtx, query string, args ...any) ([]fees.PaymentEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []fees.PaymentEntry
	for rows.Next() {
		var e fees.PaymentEntry
		err := rows.Scan(
			&e.ID, &e.SchoolID, &e.StudentID, &e.Amount, &e.Method, &e.Reference,
			&e.Term, &e.AcademicYear, &e.RecordedBy, &e.RecordedRole, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// FEE STRUCTURE STORE
// =============================================================================

func (s *Store) UpsertStructure(ctx context.Context, fs fees.FeeStructure) (fees.FeeStructure, error) {
	return upsertStructure(ctx, s.db, fs)
}

func upsertStructure(ctx context.Context, db dbtx, fs fees.FeeStructure) (fees.FeeStructure, error) {
	const query = `
		INSERT INTO fee_structures
		(id, school_id, grade, academic_year, term_1_fee, term_2_fee, term_3_fee,
		 total_fee, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (school_id, grade, academic_year) DO UPDATE SET
			term_1_fee = EXCLUDED.term_1_fee,
			term_2_fee = EXCLUDED.term_2_fee,
			term_3_fee = EXCLUDED.term_3_fee,
			total_fee = EXCLUDED.total_fee,
			updated_at = EXCLUDED.updated_at`

	_, err := db.ExecContext(ctx, query,
		fs.ID, fs.SchoolID, fs.Grade, fs.AcademicYear,
		fs.Term1Fee, fs.Term2Fee, fs.Term3Fee, fs.TotalFee,
		fs.CreatedAt.UTC(), fs.UpdatedAt.UTC(),
	)
	if err != nil {
		return fees.FeeStructure{}, fmt.Errorf("failed to upsert fee structure: %w", err)
	}
	return findStructure(ctx, db, fs.SchoolID, fs.Grade, fs.AcademicYear)
}

const structureColumns = `id, school_id, grade, academic_year, term_1_fee,
	term_2_fee, term_3_fee, total_fee, created_at, updated_at`

func (s *Store) GetStructure(ctx context.Context, id string) (fees.FeeStructure, error) {
	return getStructure(ctx, s.db, id)
}

func getStructure(ctx context.Context, db dbtx, id string) (fees.FeeStructure, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+structureColumns+" FROM fee_structures WHERE id = $1", id)
	return scanStructure(row)
}

func (s *Store) FindStructure(ctx context.Context, schoolID, grade string, academicYear int) (fees.FeeStructure, error) {
	return findStructure(ctx, s.db, schoolID, grade, academicYear)
}

func findStructure(ctx context.Context, db dbtx, schoolID, grade string, academicYear int) (fees.FeeStructure, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+structureColumns+` FROM fee_structures
		 WHERE school_id = $1 AND grade = $2 AND academic_year = $3`,
		schoolID, grade, academicYear)
	return scanStructure(row)
}

func (s *Store) LatestStructure(ctx context.Context, schoolID, grade string) (fees.FeeStructure, error) {
	return latestStructure(ctx, s.db, schoolID, grade)
}

func latestStructure(ctx context.Context, db dbtx, schoolID, grade string) (fees.FeeStructure, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+structureColumns+` FROM fee_structures
		 WHERE school_id = $1 AND grade = $2
		 ORDER BY academic_year DESC LIMIT 1`,
		schoolID, grade)
	return scanStructure(row)
}

func (s *Store) ListStructures(ctx context.Context, schoolID string) ([]fees.FeeStructure, error) {
	return listStructures(ctx, s.db, schoolID)
}

func listStructures(ctx context.Context, db dbtx, schoolID string) ([]fees.FeeStructure, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+structureColumns+` FROM fee_structures
		 WHERE school_id = $1
		 ORDER BY academic_year DESC, grade ASC`,
		schoolID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fee structures: %w", err)
	}
	defer rows.Close()

	var structures []fees.FeeStructure
	for rows.Next() {
		var fs fees.FeeStructure
		err := rows.Scan(
			&fs.ID, &fs.SchoolID, &fs.Grade, &fs.AcademicYear,
			&fs.Term1Fee, &fs.Term2Fee, &fs.Term3Fee, &fs.TotalFee,
			&fs.CreatedAt, &fs.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fee structure: %w", err)
		}
		structures = append(structures, fs)
	}
	return structures, rows.Err()
}

func (s *Store) SaveStructure(ctx context.Context, fs fees.FeeStructure) (fees.FeeStructure, error) {
	return saveStructure(ctx, s.db, fs)
}

func saveStructure(ctx context.Context, db dbtx, fs fees.FeeStructure) (fees.FeeStructure, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE fee_structures SET
			term_1_fee = $1, term_2_fee = $2, term_3_fee = $3,
			total_fee = $4, updated_at = $5
		WHERE id = $6`,
		fs.Term1Fee, fs.Term2Fee, fs.Term3Fee,
		fs.TotalFee, fs.UpdatedAt.UTC(), fs.ID,
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
	return deleteStructure(ctx, s.db, id)
}

func deleteStructure(ctx context.Context, db dbtx, id string) error {
	res, err := db.ExecContext(ctx, "DELETE FROM fee_structures WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete fee structure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fees.ErrStructureNotFound
	}
	return nil
}

func scanStructure(row *sql.Row) (fees.FeeStructure, error) {
	var fs fees.FeeStructure
	err := row.Scan(
		&fs.ID, &fs.SchoolID, &fs.Grade, &fs.AcademicYear,
		&fs.Term1Fee, &fs.Term2Fee, &fs.Term3Fee, &fs.TotalFee,
		&fs.CreatedAt, &fs.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return fees.FeeStructure{}, fees.ErrStructureNotFound
	}
	if err != nil {
		return fees.FeeStructure{}, err
	}
	return fs, nil
}

// =============================================================================
// REVERSAL STORE
// =============================================================================

func (s *Store) AddReversal(ctx context.Context, r fees.ReversalRecord) error {
	return addReversal(ctx, s.db, r)
}

func addReversal(ctx context.Context, db dbtx, r fees.ReversalRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO reversal_records (id, payment_id, reason, actor_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.PaymentID, r.Reason, r.ActorID, r.Amount, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to add reversal record: %w", err)
	}
	return nil
}

func (s *Store) ReversalsByPayment(ctx context.Context, paymentID string) ([]fees.ReversalRecord, error) {
	return reversalsByPayment(ctx, s.db, paymentID)
}

func reversalsByPayment(ctx context.Context, db dbtx, paymentID string) ([]fees.ReversalRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, payment_id, reason, actor_id, amount, created_at
		FROM reversal_records WHERE payment_id = $1
		ORDER BY created_at ASC`,
		paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reversal records: %w", err)
	}
	defer rows.Close()

	var records []fees.ReversalRecord
	for rows.Next() {
		var r fees.ReversalRecord
		if err := rows.Scan(&r.ID, &r.PaymentID, &r.Reason, &r.ActorID, &r.Amount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reversal record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(fees.Store) error) error {
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

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) AppendEntry(ctx context.Context, e fees.PaymentEntry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	return referenceExists(ctx, ts.tx, reference)
}

func (ts *txStore) GetEntry(ctx context.Context, id string) (fees.PaymentEntry, error) {
	return getEntry(ctx, ts.tx, id)
}

func (ts *txStore) EntriesByStudent(ctx context.Context, studentID string) ([]fees.PaymentEntry, error) {
	query := "SELECT " + entryColumns + ` FROM payment_entries
		WHERE student_id = $1
		ORDER BY created_at DESC, id DESC`
	return queryEntries(ctx, ts.tx, query, studentID)
}

func (ts *txStore) EntriesByStudentYear(ctx context.Context, studentID string, academicYear int) ([]fees.PaymentEntry, error) {
	query := "SELECT " + entryColumns + ` FROM payment_entries
		WHERE student_id = $1 AND academic_year = $2
		ORDER BY created_at DESC, id DESC`
	return queryEntries(ctx, ts.tx, query, studentID, academicYear)
}

func (ts *txStore) EntriesBySchool(ctx context.Context, schoolID string, limit int) ([]fees.PaymentEntry, error) {
	query := "SELECT " + entryColumns + ` FROM payment_entries
		WHERE school_id = $1
		ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		return queryEntries(ctx, ts.tx, query+" LIMIT $2", schoolID, limit)
	}
	return queryEntries(ctx, ts.tx, query, schoolID)
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
// DIRECTORY
// =============================================================================

func (s *Store) SaveSchool(ctx context.Context, school fees.School) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schools (id, name, paybill, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			paybill = EXCLUDED.paybill,
			active = EXCLUDED.active`,
		school.ID, school.Name, nullString(school.Paybill), school.Active,
	)
	return err
}

func (s *Store) SchoolByID(ctx context.Context, id string) (fees.School, error) {
	return s.schoolWhere(ctx, "id = $1", id)
}

func (s *Store) SchoolByPaybill(ctx context.Context, paybill string) (fees.School, error) {
	return s.schoolWhere(ctx, "paybill = $1 AND active", paybill)
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

func (s *Store) SaveStudent(ctx context.Context, student fees.Student) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, school_id, admission_number, name, grade, stream)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			grade = EXCLUDED.grade,
			stream = EXCLUDED.stream`,
		student.ID, student.SchoolID, student.Admission,
		student.Name, student.Grade, nullString(student.Stream),
	)
	return err
}

const studentColumns = "id, school_id, admission_number, name, grade, stream"

func (s *Store) StudentByAdmission(ctx context.Context, schoolID, admission string) (fees.Student, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+studentColumns+" FROM students WHERE school_id = $1 AND admission_number = $2",
		schoolID, admission)
	return scanStudent(row)
}

func (s *Store) StudentByID(ctx context.Context, id string) (fees.Student, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+studentColumns+" FROM students WHERE id = $1", id)
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

func (s *Store) SaveEnrollment(ctx context.Context, e fees.Enrollment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments (student_id, academic_year, grade, stream)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id, academic_year) DO UPDATE SET
			grade = EXCLUDED.grade,
			stream = EXCLUDED.stream`,
		e.StudentID, e.AcademicYear, e.Grade, nullString(e.Stream),
	)
	return err
}

func (s *Store) EnrollmentFor(ctx context.Context, studentID string, academicYear int) (fees.Enrollment, error) {
	var (
		e      fees.Enrollment
		stream sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT student_id, academic_year, grade, stream FROM enrollments
		WHERE student_id = $1
		ORDER BY (academic_year = $2) DESC, academic_year DESC
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

func (s *Store) SaveActor(ctx context.Context, a fees.Actor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actors (id, school_id, role, system)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			school_id = EXCLUDED.school_id,
			role = EXCLUDED.role`,
		a.ID, a.SchoolID, a.Role, a.System,
	)
	return err
}

func (s *Store) ActorByID(ctx context.Context, id string) (fees.Actor, error) {
	var a fees.Actor
	err := s.db.QueryRowContext(ctx,
		"SELECT id, school_id, role, system FROM actors WHERE id = $1", id,
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
	const query = "SELECT id, school_id, role, system FROM actors WHERE school_id = $1 AND system"

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
		"INSERT INTO actors (id, school_id, role, system) VALUES ($1, $2, $3, $4)",
		a.ID, a.SchoolID, a.Role, a.System,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
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

// Reset clears all data. Dev and demo tooling only.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		TRUNCATE payment_entries, fee_structures, reversal_records,
			schools, students, enrollments, actors`)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isUniqueViolation reports whether err is a Postgres unique_violation,
// optionally scoped to a constraint whose name contains the given
// substring.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || strings.Contains(pqErr.Constraint, constraint)
}
