// Package store provides an in-memory fees.TxStore for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/elimisha/fees-engine/fees"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	entries    []fees.PaymentEntry
	references map[string]bool
	structures map[string]fees.FeeStructure // by id
	structKeys map[structKey]string         // (school, grade, year) -> id
	reversals  []fees.ReversalRecord
}

type structKey struct {
	SchoolID     string
	Grade        string
	AcademicYear int
}

func NewMemory() *Memory {
	return &Memory{
		references: make(map[string]bool),
		structures: make(map[string]fees.FeeStructure),
		structKeys: make(map[structKey]string),
	}
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e fees.PaymentEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) appendLocked(e fees.PaymentEntry) error {
	if m.references[e.Reference] {
		return fees.ErrReferenceExists
	}
	m.entries = append(m.entries, e)
	m.references[e.Reference] = true
	return nil
}

func (m *Memory) ReferenceExists(_ context.Context, reference string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.references[reference], nil
}

func (m *Memory) GetEntry(_ context.Context, id string) (fees.PaymentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return fees.PaymentEntry{}, fees.ErrPaymentNotFound
}

func (m *Memory) EntriesByStudent(_ context.Context, studentID string) ([]fees.PaymentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterLocked(func(e fees.PaymentEntry) bool {
		return e.StudentID == studentID
	}), nil
}

func (m *Memory) EntriesByStudentYear(_ context.Context, studentID string, academicYear int) ([]fees.PaymentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterLocked(func(e fees.PaymentEntry) bool {
		return e.StudentID == studentID && e.AcademicYear == academicYear
	}), nil
}

func (m *Memory) EntriesBySchool(_ context.Context, schoolID string, limit int) ([]fees.PaymentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := m.filterLocked(func(e fees.PaymentEntry) bool {
		return e.SchoolID == schoolID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// filterLocked returns matching entries newest first. Insertion order
// breaks CreatedAt ties, matching the sql stores' (created_at, rowid)
// ordering.
func (m *Memory) filterLocked(keep func(fees.PaymentEntry) bool) []fees.PaymentEntry {
	var result []fees.PaymentEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if keep(m.entries[i]) {
			result = append(result, m.entries[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// =============================================================================
// FEE STRUCTURE STORE
// =============================================================================

func (m *Memory) UpsertStructure(_ context.Context, fs fees.FeeStructure) (fees.FeeStructure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := structKey{SchoolID: fs.SchoolID, Grade: fs.Grade, AcademicYear: fs.AcademicYear}
	if existingID, ok := m.structKeys[k]; ok {
		// Replace fees on the existing row; identity and creation time survive.
		existing := m.structures[existingID]
		existing.Term1Fee = fs.Term1Fee
		existing.Term2Fee = fs.Term2Fee
		existing.Term3Fee = fs.Term3Fee
		existing.TotalFee = fs.TotalFee
		existing.UpdatedAt = fs.UpdatedAt
		m.structures[existingID] = existing
		return existing, nil
	}
	m.structures[fs.ID] = fs
	m.structKeys[k] = fs.ID
	return fs, nil
}

func (m *Memory) GetStructure(_ context.Context, id string) (fees.FeeStructure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fs, ok := m.structures[id]
	if !ok {
		return fees.FeeStructure{}, fees.ErrStructureNotFound
	}
	return fs, nil
}

func (m *Memory) FindStructure(_ context.Context, schoolID, grade string, academicYear int) (fees.FeeStructure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.structKeys[structKey{SchoolID: schoolID, Grade: grade, AcademicYear: academicYear}]
	if !ok {
		return fees.FeeStructure{}, fees.ErrStructureNotFound
	}
	return m.structures[id], nil
}

func (m *Memory) LatestStructure(_ context.Context, schoolID, grade string) (fees.FeeStructure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best fees.FeeStructure
	found := false
	for _, fs := range m.structures {
		if fs.SchoolID != schoolID || fs.Grade != grade {
			continue
		}
		if !found || fs.AcademicYear > best.AcademicYear {
			best = fs
			found = true
		}
	}
	if !found {
		return fees.FeeStructure{}, fees.ErrStructureNotFound
	}
	return best, nil
}

func (m *Memory) ListStructures(_ context.Context, schoolID string) ([]fees.FeeStructure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []fees.FeeStructure
	for _, fs := range m.structures {
		if fs.SchoolID == schoolID {
			result = append(result, fs)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AcademicYear != result[j].AcademicYear {
			return result[i].AcademicYear > result[j].AcademicYear
		}
		return result[i].Grade < result[j].Grade
	})
	return result, nil
}

func (m *Memory) SaveStructure(_ context.Context, fs fees.FeeStructure) (fees.FeeStructure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.structures[fs.ID]; !ok {
		return fees.FeeStructure{}, fees.ErrStructureNotFound
	}
	m.structures[fs.ID] = fs
	return fs, nil
}

func (m *Memory) DeleteStructure(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, ok := m.structures[id]
	if !ok {
		return fees.ErrStructureNotFound
	}
	delete(m.structures, id)
	delete(m.structKeys, structKey{SchoolID: fs.SchoolID, Grade: fs.Grade, AcademicYear: fs.AcademicYear})
	return nil
}

// =============================================================================
// REVERSAL STORE
// =============================================================================

func (m *Memory) AddReversal(_ context.Context, r fees.ReversalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reversals = append(m.reversals, r)
	return nil
}

func (m *Memory) ReversalsByPayment(_ context.Context, paymentID string) ([]fees.ReversalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []fees.ReversalRecord
	for _, r := range m.reversals {
		if r.PaymentID == paymentID {
			result = append(result, r)
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn against the store, simulating a transaction with a
// snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(fees.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked()
	if err := fn(&txView{parent: m}); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries    []fees.PaymentEntry
	references map[string]bool
	structures map[string]fees.FeeStructure
	structKeys map[structKey]string
	reversals  []fees.ReversalRecord
}

func (m *Memory) snapshotLocked() memorySnapshot {
	snap := memorySnapshot{
		entries:    append([]fees.PaymentEntry{}, m.entries...),
		references: make(map[string]bool, len(m.references)),
		structures: make(map[string]fees.FeeStructure, len(m.structures)),
		structKeys: make(map[structKey]string, len(m.structKeys)),
		reversals:  append([]fees.ReversalRecord{}, m.reversals...),
	}
	for k, v := range m.references {
		snap.references[k] = v
	}
	for k, v := range m.structures {
		snap.structures[k] = v
	}
	for k, v := range m.structKeys {
		snap.structKeys[k] = v
	}
	return snap
}

func (m *Memory) restoreLocked(snap memorySnapshot) {
	m.entries = snap.entries
	m.references = snap.references
	m.structures = snap.structures
	m.structKeys = snap.structKeys
	m.reversals = snap.reversals
}

// txView performs writes directly against the already-locked parent.
type txView struct {
	parent *Memory
}

func (tv *txView) AppendEntry(_ context.Context, e fees.PaymentEntry) error {
	return tv.parent.appendLocked(e)
}

func (tv *txView) ReferenceExists(_ context.Context, reference string) (bool, error) {
	return tv.parent.references[reference], nil
}

func (tv *txView) GetEntry(_ context.Context, id string) (fees.PaymentEntry, error) {
	for _, e := range tv.parent.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return fees.PaymentEntry{}, fees.ErrPaymentNotFound
}

func (tv *txView) EntriesByStudent(_ context.Context, studentID string) ([]fees.PaymentEntry, error) {
	return tv.parent.filterLocked(func(e fees.PaymentEntry) bool {
		return e.StudentID == studentID
	}), nil
}

func (tv *txView) EntriesByStudentYear(_ context.Context, studentID string, academicYear int) ([]fees.PaymentEntry, error) {
	return tv.parent.filterLocked(func(e fees.PaymentEntry) bool {
		return e.StudentID == studentID && e.AcademicYear == academicYear
	}), nil
}

func (tv *txView) EntriesBySchool(_ context.Context, schoolID string, limit int) ([]fees.PaymentEntry, error) {
	result := tv.parent.filterLocked(func(e fees.PaymentEntry) bool {
		return e.SchoolID == schoolID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (tv *txView) UpsertStructure(ctx context.Context, fs fees.FeeStructure) (fees.FeeStructure, error) {
	k := structKey{SchoolID: fs.SchoolID, Grade: fs.Grade, AcademicYear: fs.AcademicYear}
	if existingID, ok := tv.parent.structKeys[k]; ok {
		existing := tv.parent.structures[existingID]
		existing.Term1Fee = fs.Term1Fee
		existing.Term2Fee = fs.Term2Fee
		existing.Term3Fee = fs.Term3Fee
		existing.TotalFee = fs.TotalFee
		existing.UpdatedAt = fs.UpdatedAt
		tv.parent.structures[existingID] = existing
		return existing, nil
	}
	tv.parent.structures[fs.ID] = fs
	tv.parent.structKeys[k] = fs.ID
	return fs, nil
}

func (tv *txView) GetStructure(_ context.Context, id string) (fees.FeeStructure, error) {
	fs, ok := tv.parent.structures[id]
	if !ok {
		return fees.FeeStructure{}, fees.ErrStructureNotFound
	}
	return fs, nil
}

func (tv *txView) FindStructure(_ context.Context, schoolID, grade string, academicYear int) (fees.FeeStructure, error) {
	id, ok := tv.parent.structKeys[structKey{SchoolID: schoolID, Grade: grade, AcademicYear: academicYear}]
	if !ok {
		return fees.FeeStructure{}, fees.ErrStructureNotFound
	}
	return tv.parent.structures[id], nil
}

func (tv *txView) LatestStructure(ctx context.Context, schoolID, grade string) (fees.FeeStructure, error) {
	var best fees.FeeStructure
	found := false
	for _, fs := range tv.parent.structures {
		if fs.SchoolID != schoolID || fs.Grade != grade {
			continue
		}
		if !found || fs.AcademicYear > best.AcademicYear {
			best = fs
			found = true
		}
	}
	if !found {
		return fees.FeeStructure{}, fees.ErrStructureNotFound
	}
	return best, nil
}

func (tv *txView) ListStructures(ctx context.Context, schoolID string) ([]fees.FeeStructure, error) {
	var result []fees.FeeStructure
	for _, fs := range tv.parent.structures {
		if fs.SchoolID == schoolID {
			result = append(result, fs)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AcademicYear != result[j].AcademicYear {
			return result[i].AcademicYear > result[j].AcademicYear
		}
		return result[i].Grade < result[j].Grade
	})
	return result, nil
}

func (tv *txView) SaveStructure(_ context.Context, fs fees.FeeStructure) (fees.FeeStructure, error) {
	if _, ok := tv.parent.structures[fs.ID]; !ok {
		return fees.FeeStructure{}, fees.ErrStructureNotFound
	}
	tv.parent.structures[fs.ID] = fs
	return fs, nil
}

func (tv *txView) DeleteStructure(_ context.Context, id string) error {
	fs, ok := tv.parent.structures[id]
	if !ok {
		return fees.ErrStructureNotFound
	}
	delete(tv.parent.structures, id)
	delete(tv.parent.structKeys, structKey{SchoolID: fs.SchoolID, Grade: fs.Grade, AcademicYear: fs.AcademicYear})
	return nil
}

func (tv *txView) AddReversal(_ context.Context, r fees.ReversalRecord) error {
	tv.parent.reversals = append(tv.parent.reversals, r)
	return nil
}

func (tv *txView) ReversalsByPayment(_ context.Context, paymentID string) ([]fees.ReversalRecord, error) {
	var result []fees.ReversalRecord
	for _, r := range tv.parent.reversals {
		if r.PaymentID == paymentID {
			result = append(result, r)
		}
	}
	return result, nil
}
