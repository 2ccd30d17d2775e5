/*
seed.go - Demo data loader for testing and demonstrations

PURPOSE:

	Populates the stores with a realistic school so the API can be
	exercised end to end without a real enrollment system: one school
	with a paybill, fee structures for two grades, a handful of
	students with enrollments, an accounts operator, and a few posted
	payments.

HOW SEEDING WORKS:
 1. Reset stores (when a Resetter is configured)
 2. Create the school and its accounts operator
 3. Post fee structures
 4. Register students and enrollments
 5. Record opening payments through the ledger (so references,
    events and idempotency behave exactly as in production)

USAGE VIA API:

	POST /api/demo/seed

NOTE:

	Seeding resets the database. Only use in development/demo
	environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/elimisha/fees-engine/fees"
)

// SeedDemo loads the demo school.
// POST /api/demo/seed
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.Resetter != nil {
		if err := h.Resetter.Reset(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset before seeding", err)
			return
		}
	}

	summary, err := h.loadDemoSchool(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed demo data", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) loadDemoSchool(ctx context.Context) (map[string]any, error) {
	school := fees.School{
		ID:      "sch-demo",
		Name:    "Elimisha Academy",
		Paybill: "600100",
		Active:  true,
	}
	if err := h.Directory.SaveSchool(ctx, school); err != nil {
		return nil, err
	}

	operator := fees.Actor{ID: "act-accounts", SchoolID: school.ID, Role: fees.RoleAccounts}
	if err := h.Directory.SaveActor(ctx, operator); err != nil {
		return nil, err
	}

	year := 2025
	for _, grade := range []struct {
		name string
		fee  string
	}{
		{"Grade 5", "1000"},
		{"Grade 6", "1200"},
	} {
		fee := decimal.RequireFromString(grade.fee)
		_, err := h.Structures.Upsert(ctx, operator, fees.NewFeeStructure{
			SchoolID:     school.ID,
			Grade:        grade.name,
			AcademicYear: year,
			Term1Fee:     fee,
			Term2Fee:     fee,
			Term3Fee:     fee,
		})
		if err != nil {
			return nil, err
		}
	}

	students := []fees.Student{
		{ID: "stu-wanjiku", SchoolID: school.ID, Admission: "ADM001", Name: "Wanjiku Kamau", Grade: "Grade 5", Stream: "Blue"},
		{ID: "stu-otieno", SchoolID: school.ID, Admission: "ADM002", Name: "Brian Otieno", Grade: "Grade 5", Stream: "Red"},
		{ID: "stu-achieng", SchoolID: school.ID, Admission: "ADM003", Name: "Faith Achieng", Grade: "Grade 6", Stream: "Blue"},
	}
	for _, st := range students {
		if err := h.Directory.SaveStudent(ctx, st); err != nil {
			return nil, err
		}
		enr := fees.Enrollment{StudentID: st.ID, AcademicYear: year, Grade: st.Grade, Stream: st.Stream}
		if err := h.Directory.SaveEnrollment(ctx, enr); err != nil {
			return nil, err
		}
	}

	payments := []fees.NewPayment{
		{SchoolID: school.ID, Admission: "ADM001", Amount: decimal.NewFromInt(600), Method: fees.MethodCash, Reference: "DEMO-R1", Term: fees.Term1, AcademicYear: year},
		{SchoolID: school.ID, Admission: "ADM001", Amount: decimal.NewFromInt(1000), Method: fees.MethodMpesa, Reference: "DEMO-R2", Term: fees.Term2, AcademicYear: year},
		{SchoolID: school.ID, Admission: "ADM002", Amount: decimal.NewFromInt(1500), Method: fees.MethodBank, Reference: "DEMO-R3", Term: fees.Term1, AcademicYear: year},
	}
	for _, p := range payments {
		if _, err := h.Ledger.RecordPayment(ctx, operator, p); err != nil {
			return nil, fmt.Errorf("failed to record %s: %w", p.Reference, err)
		}
	}

	return map[string]any{
		"school_id": school.ID,
		"actor_id":  operator.ID,
		"students":  len(students),
		"payments":  len(payments),
		"year":      year,
	}, nil
}
