/*
Package directory provides in-memory implementations of the collaborator
contracts the fee core consumes: students, schools, enrollments and
recording actors. The sql stores implement the same interfaces for
persistent deployments.
*/
package directory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/elimisha/fees-engine/fees"
)

// Memory holds directory data behind the fees directory interfaces.
type Memory struct {
	mu           sync.RWMutex
	students     map[string]fees.Student // by id
	byAdmission  map[admissionKey]string // (school, admission) -> id
	schools      map[string]fees.School  // by id
	enrollments  map[string][]fees.Enrollment
	actors       map[string]fees.Actor // by id
	systemActors map[string]string     // school id -> actor id
}

type admissionKey struct {
	SchoolID  string
	Admission string
}

func NewMemory() *Memory {
	return &Memory{
		students:     make(map[string]fees.Student),
		byAdmission:  make(map[admissionKey]string),
		schools:      make(map[string]fees.School),
		enrollments:  make(map[string][]fees.Enrollment),
		actors:       make(map[string]fees.Actor),
		systemActors: make(map[string]string),
	}
}

// =============================================================================
// REGISTRATION (used by seeding and the directory endpoints)
// =============================================================================

func (m *Memory) AddSchool(s fees.School) fees.School {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.schools[s.ID] = s
	return s
}

func (m *Memory) AddStudent(s fees.Student) fees.Student {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.students[s.ID] = s
	m.byAdmission[admissionKey{SchoolID: s.SchoolID, Admission: s.Admission}] = s.ID
	return s
}

func (m *Memory) AddEnrollment(e fees.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[e.StudentID] = append(m.enrollments[e.StudentID], e)
}

func (m *Memory) AddActor(a fees.Actor) fees.Actor {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.actors[a.ID] = a
	return a
}

// Save variants mirror the SQL stores' write surface so Memory can back
// the same handlers.

func (m *Memory) SaveSchool(_ context.Context, s fees.School) error {
	m.AddSchool(s)
	return nil
}

func (m *Memory) SaveStudent(_ context.Context, s fees.Student) error {
	m.AddStudent(s)
	return nil
}

func (m *Memory) SaveEnrollment(_ context.Context, e fees.Enrollment) error {
	m.AddEnrollment(e)
	return nil
}

func (m *Memory) SaveActor(_ context.Context, a fees.Actor) error {
	m.AddActor(a)
	return nil
}

// =============================================================================
// LOOKUPS (fees.StudentDirectory, SchoolDirectory, ...)
// =============================================================================

func (m *Memory) StudentByAdmission(_ context.Context, schoolID, admission string) (fees.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byAdmission[admissionKey{SchoolID: schoolID, Admission: admission}]
	if !ok {
		return fees.Student{}, fees.ErrStudentNotFound
	}
	return m.students[id], nil
}

func (m *Memory) StudentByID(_ context.Context, id string) (fees.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.students[id]
	if !ok {
		return fees.Student{}, fees.ErrStudentNotFound
	}
	return s, nil
}

func (m *Memory) SchoolByID(_ context.Context, id string) (fees.School, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schools[id]
	if !ok {
		return fees.School{}, fees.ErrSchoolNotFound
	}
	return s, nil
}

func (m *Memory) SchoolByPaybill(_ context.Context, paybill string) (fees.School, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.schools {
		if s.Active && s.Paybill != "" && s.Paybill == paybill {
			return s, nil
		}
	}
	return fees.School{}, fees.ErrSchoolNotFound
}

// EnrollmentFor returns the exact-year enrollment, falling back to the
// most recent one when the requested year has no record.
func (m *Memory) EnrollmentFor(_ context.Context, studentID string, academicYear int) (fees.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.enrollments[studentID]
	if len(all) == 0 {
		return fees.Enrollment{}, fees.ErrEnrollmentNotFound
	}

	var latest fees.Enrollment
	for _, e := range all {
		if e.AcademicYear == academicYear {
			return e, nil
		}
		if e.AcademicYear > latest.AcademicYear {
			latest = e
		}
	}
	return latest, nil
}

func (m *Memory) ActorByID(_ context.Context, id string) (fees.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.actors[id]
	if !ok {
		return fees.Actor{}, fees.ErrActorNotFound
	}
	return a, nil
}

// SystemActor returns the school's non-human accounts identity, creating
// it on first use.
func (m *Memory) SystemActor(_ context.Context, schoolID string) (fees.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.systemActors[schoolID]; ok {
		return m.actors[id], nil
	}
	a := fees.Actor{
		ID:       uuid.NewString(),
		SchoolID: schoolID,
		Role:     fees.RoleAccounts,
		System:   true,
	}
	m.actors[a.ID] = a
	m.systemActors[schoolID] = a.ID
	return a, nil
}
