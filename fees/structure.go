/*
structure.go - Fee structure service

Fee structures are the one mutable collection in this package. They hold
the expected charge per term for a grade in an academic year, are upserted
atomically on (school, grade, year), and are never touched by the ledger.
*/
package fees

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StructureService manages fee structures for accounts staff.
type StructureService struct {
	store  FeeStructureStore
	policy Policy
}

func NewStructureService(store FeeStructureStore, policy Policy) *StructureService {
	if policy == nil {
		policy = SchoolPolicy{}
	}
	return &StructureService{store: store, policy: policy}
}

// Upsert validates the fees, recomputes the derived total, and performs
// an atomic storage-level upsert keyed on (school, grade, year).
func (svc *StructureService) Upsert(ctx context.Context, actor Actor, nf NewFeeStructure) (FeeStructure, error) {
	if err := nf.Validate(); err != nil {
		return FeeStructure{}, err
	}
	if !svc.policy.Allow(actor, SchoolResource{SchoolID: nf.SchoolID}, ActionManageFees) {
		return FeeStructure{}, deny(actor, SchoolResource{SchoolID: nf.SchoolID}, ActionManageFees)
	}

	now := time.Now().UTC()
	fs := FeeStructure{
		ID:           uuid.NewString(),
		SchoolID:     nf.SchoolID,
		Grade:        nf.Grade,
		AcademicYear: nf.AcademicYear,
		Term1Fee:     nf.Term1Fee,
		Term2Fee:     nf.Term2Fee,
		Term3Fee:     nf.Term3Fee,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	fs.Recompute()
	return svc.store.UpsertStructure(ctx, fs)
}

// List returns a school's fee structures, year descending then grade
// ascending.
func (svc *StructureService) List(ctx context.Context, actor Actor, schoolID string) ([]FeeStructure, error) {
	if !svc.policy.Allow(actor, SchoolResource{SchoolID: schoolID}, ActionReadBalance) {
		return nil, deny(actor, SchoolResource{SchoolID: schoolID}, ActionReadBalance)
	}
	return svc.store.ListStructures(ctx, schoolID)
}

// Update modifies the term fees of an existing record. The record's
// school must match the actor's school.
func (svc *StructureService) Update(ctx context.Context, actor Actor, id string, uf UpdateFeeStructure) (FeeStructure, error) {
	if err := uf.Validate(); err != nil {
		return FeeStructure{}, err
	}

	fs, err := svc.store.GetStructure(ctx, id)
	if err != nil {
		return FeeStructure{}, err
	}
	if !svc.policy.Allow(actor, SchoolResource{SchoolID: fs.SchoolID}, ActionManageFees) {
		return FeeStructure{}, deny(actor, SchoolResource{SchoolID: fs.SchoolID}, ActionManageFees)
	}

	if uf.Term1Fee != nil {
		fs.Term1Fee = *uf.Term1Fee
	}
	if uf.Term2Fee != nil {
		fs.Term2Fee = *uf.Term2Fee
	}
	if uf.Term3Fee != nil {
		fs.Term3Fee = *uf.Term3Fee
	}
	fs.Recompute()
	fs.UpdatedAt = time.Now().UTC()
	return svc.store.SaveStructure(ctx, fs)
}

// Delete hard-deletes a record after the same school guard.
func (svc *StructureService) Delete(ctx context.Context, actor Actor, id string) error {
	fs, err := svc.store.GetStructure(ctx, id)
	if err != nil {
		return err
	}
	if !svc.policy.Allow(actor, SchoolResource{SchoolID: fs.SchoolID}, ActionManageFees) {
		return deny(actor, SchoolResource{SchoolID: fs.SchoolID}, ActionManageFees)
	}
	return svc.store.DeleteStructure(ctx, fs.ID)
}
