/*
directory.go - Collaborator contracts consumed by the fee core

The ledger never owns identity data. Students, schools, enrollments and
recording actors are supplied by the surrounding system through these
interfaces. The directory package and the sql stores provide
implementations.
*/
package fees

import "context"

// Student is the identity the ledger consumes: school-scoped id,
// admission number, and current grade/stream.
type Student struct {
	ID        string `json:"id"`
	SchoolID  string `json:"school_id"`
	Admission string `json:"admission_number"`
	Name      string `json:"name"`
	Grade     string `json:"grade"`
	Stream    string `json:"stream,omitempty"`
}

// School is the tenant boundary. Paybill is the mobile-money shortcode
// the gateway matches inbound notifications against.
type School struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Paybill string `json:"paybill,omitempty"`
	Active  bool   `json:"active"`
}

// Enrollment records a student's grade/stream for one academic year.
type Enrollment struct {
	StudentID    string `json:"student_id"`
	AcademicYear int    `json:"academic_year"`
	Grade        string `json:"grade"`
	Stream       string `json:"stream,omitempty"`
}

// StudentDirectory resolves students within a school.
type StudentDirectory interface {
	// StudentByAdmission resolves (school, admission number) to a student.
	// Returns ErrStudentNotFound if absent.
	StudentByAdmission(ctx context.Context, schoolID, admission string) (Student, error)

	// StudentByID resolves a student id. Returns ErrStudentNotFound if absent.
	StudentByID(ctx context.Context, id string) (Student, error)
}

// SchoolDirectory resolves schools by id or by configured paybill.
type SchoolDirectory interface {
	// SchoolByID returns the school record. Returns ErrSchoolNotFound if absent.
	SchoolByID(ctx context.Context, id string) (School, error)

	// SchoolByPaybill resolves an active school by shortcode.
	// Inactive schools never match. Returns ErrSchoolNotFound if absent.
	SchoolByPaybill(ctx context.Context, paybill string) (School, error)
}

// EnrollmentDirectory resolves a student's grade for an academic year,
// falling back to the most recent enrollment when no record exists for
// the requested year.
type EnrollmentDirectory interface {
	EnrollmentFor(ctx context.Context, studentID string, academicYear int) (Enrollment, error)
}

// ActorDirectory resolves recording actors. SystemActor returns (creating
// lazily if needed) the non-human accounts identity for a school, used
// when a payment originates from an automated gateway rather than a
// human operator.
type ActorDirectory interface {
	ActorByID(ctx context.Context, id string) (Actor, error)
	SystemActor(ctx context.Context, schoolID string) (Actor, error)
}
