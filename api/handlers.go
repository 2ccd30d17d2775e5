/*
handlers.go - HTTP API handlers for the fee accounting engine

PURPOSE:
  Exposes the fee engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Fee structures:
    POST   /api/fee-structures            Upsert (school, grade, year)
    GET    /api/fee-structures?school_id= List a school's structures
    PUT    /api/fee-structures/{id}       Update term fees
    DELETE /api/fee-structures/{id}       Delete

  Payments:
    POST   /api/payments                  Record a manual payment
    POST   /api/payments/{id}/reverse     Reverse (compensating entry)
    GET    /api/payments/{id}/reversals   Reversal audit records

  Ledger and balances:
    GET    /api/schools/{schoolID}/ledger                      School-wide ledger
    GET    /api/schools/{schoolID}/students/{admission}/ledger Student ledger
    GET    /api/schools/{schoolID}/students/{admission}/balance?year=
    GET    /api/students/{id}/payments?year=                   Self-service view

  Directory:
    POST   /api/schools, /api/students, /api/enrollments, /api/actors

  Gateway:
    POST   /api/gateway/mpesa/callback    Push confirmation (always 200)
    POST   /api/gateway/mpesa/c2b         Passive C2B notification (always 200)
    POST   /api/gateway/mpesa/push        Initiate an STK push

AUTHENTICATION:
  The acting operator is identified by the X-Actor-ID header and
  resolved against the actor directory. Session management and token
  verification live in the perimeter service, not here.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing/unknown actor
  - 403: Cross-school or role violations
  - 404: Resource not found
  - 409: Conflict (duplicate reference or fee-structure key)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - seed.go: Demo data loader
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/elimisha/fees-engine/fees"
	"github.com/elimisha/fees-engine/gateway"
)

const timeFormat = time.RFC3339

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Directory is the combined read/write surface the handlers need for
// schools, students, enrollments and actors. Satisfied by the SQL
// stores and by directory.Memory.
type Directory interface {
	fees.StudentDirectory
	fees.SchoolDirectory
	fees.EnrollmentDirectory
	fees.ActorDirectory
	SaveSchool(ctx context.Context, s fees.School) error
	SaveStudent(ctx context.Context, s fees.Student) error
	SaveEnrollment(ctx context.Context, e fees.Enrollment) error
	SaveActor(ctx context.Context, a fees.Actor) error
}

// Resetter clears all stored data. Dev/demo tooling only.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger     *fees.Ledger
	Structures *fees.StructureService
	Balances   *fees.BalanceCalculator
	Directory  Directory
	Ingestor   *gateway.Ingestor
	Push       *gateway.PushClient // nil disables push initiation
	Resetter   Resetter            // nil disables /api/reset
}

// actorFromRequest resolves the acting operator from the X-Actor-ID
// header.
func (h *Handler) actorFromRequest(r *http.Request) (fees.Actor, error) {
	id := r.Header.Get("X-Actor-ID")
	if id == "" {
		return fees.Actor{}, errors.New("missing X-Actor-ID header")
	}
	return h.Directory.ActorByID(r.Context(), id)
}

// =============================================================================
// FEE STRUCTURE HANDLERS
// =============================================================================

// UpsertFeeStructure creates or replaces a fee schedule.
// POST /api/fee-structures
func (h *Handler) UpsertFeeStructure(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unknown actor", err)
		return
	}

	var req UpsertFeeStructureRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	fs, err := h.Structures.Upsert(r.Context(), actor, fees.NewFeeStructure{
		SchoolID:     req.SchoolID,
		Grade:        req.Grade,
		AcademicYear: req.AcademicYear,
		Term1Fee:     req.Term1Fee,
		Term2Fee:     req.Term2Fee,
		Term3Fee:     req.Term3Fee,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeStructureDTO(fs))
}

// ListFeeStructures returns a school's fee structures, year descending
// then grade ascending.
// GET /api/fee-structures?school_id=...
func (h *Handler) ListFeeStructures(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unknown actor", err)
		return
	}
	schoolID := r.URL.Query().Get("school_id")
	if schoolID == "" {
		schoolID = actor.SchoolID
	}

	structures, err := h.Structures.List(r.Context(), actor, schoolID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]FeeStructureDTO, len(structures))
	for i, fs := range structures {
		dtos[i] = toFeeStructureDTO(fs)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateFeeStructure modifies term fees on an existing record.
// PUT /api/fee-structures/{id}
func (h *Handler) UpdateFeeStructure(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unknown actor", err)
		return
	}

	var req UpdateFeeStructureRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	fs, err := h.Structures.Update(r.Context(), actor, chi.URLParam(r, "id"), fees.UpdateFeeStructure{
		Term1Fee: req.Term1Fee,
		Term2Fee: req.Term2Fee,
		Term3Fee: req.Term3Fee,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeStructureDTO(fs))
}

// DeleteFeeStructure removes a record.
// DELETE /api/fee-structures/{id}
func (h *Handler) DeleteFeeStructure(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unknown actor", err)
		return
	}

	if err := h.Structures.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment records a manual payment by an accounts operator.
// POST /api/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unknown actor", err)
		return
	}

	var req RecordPaymentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	entry, err := h.Ledger.RecordPayment(r.Context(), actor, fees.NewPayment{
		SchoolID:     req.SchoolID,
		Admission:    req.Admission,
		Amount:       req.Amount,
		Method:       fees.Method(req.Method),
		Reference:    req.Reference,
		Term:         fees.Term(req.Term),
		AcademicYear: req.AcademicYear,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentEntryDTO(entry))
}

// ReversePayment creates the compensating entry for a payment.
// POST /api/payments/{id}/reverse
func (h *Handler) ReversePayment(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unknown actor", err)
		return
	}

	var req ReversePaymentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.Ledger.ReversePayment(r.Context(), actor, chi.URLParam(r, "id"), req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reversed"})
}

// ListReversals returns the reversal audit records for a payment.
// GET /api/payments/{id}/reversals
func (h *Handler) ListReversals(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unknown actor", err)
		return
	}

	records, err := h.Ledger.Reversals(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]ReversalDTO, len(records))
	for i, rec := range records {
		dtos[i] = toReversalDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEDGER AND BALANCE HANDLERS
// =============================================================================

// SchoolLedger returns a school's entries, newest first.
// GET /api/schools/{schoolID}/ledger?limit=
func (h *Handler) SchoolLedger(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unknown actor", err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.Ledger.SchoolLedger(r.Context(), actor, chi.URLParam(r, "schoolID"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentEntryDTOs(entries))
}

// StudentLedger returns all entries for a student, newest first.
// GET /api/schools/{schoolID}/students/{admission}/ledger
func (h *Handler) StudentLedger(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unknown actor", err)
		return
	}

	entries, err := h.Ledger.StudentLedger(r.Context(), actor,
		chi.URLParam(r, "schoolID"), chi.URLParam(r, "admission"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentEntryDTOs(entries))
}

// MyPayments is the self-service view, scoped to the student's own id.
// GET /api/students/{id}/payments?year=
func (h *Handler) MyPayments(w http.ResponseWriter, r *http.Request) {
	year := h.yearParam(r)
	entries, err := h.Ledger.MyPayments(r.Context(), chi.URLParam(r, "id"), year)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentEntryDTOs(entries))
}

// GetBalance computes a student's fee position for a year.
// GET /api/schools/{schoolID}/students/{admission}/balance?year=
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unknown actor", err)
		return
	}
	schoolID := chi.URLParam(r, "schoolID")
	if actor.SchoolID != schoolID || (actor.Role != fees.RoleAccounts && actor.Role != fees.RoleAdmin) {
		writeError(w, http.StatusForbidden, "Not allowed to read balances for this school", nil)
		return
	}

	ctx := r.Context()
	year := h.yearParam(r)

	student, err := h.Directory.StudentByAdmission(ctx, schoolID, chi.URLParam(r, "admission"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Grade for the requested year comes from the enrollment record,
	// falling back to the student's current grade when the student has
	// no enrollment history at all.
	grade := student.Grade
	if enr, err := h.Directory.EnrollmentFor(ctx, student.ID, year); err == nil {
		grade = enr.Grade
	}

	balance, err := h.Balances.Calculate(ctx, student, grade, year)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

func (h *Handler) yearParam(r *http.Request) int {
	if y, err := strconv.Atoi(r.URL.Query().Get("year")); err == nil {
		return y
	}
	_, year := fees.CurrentTerm(time.Now().UTC())
	return year
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// CreateSchool registers a school.
// POST /api/schools
func (h *Handler) CreateSchool(w http.ResponseWriter, r *http.Request) {
	var req CreateSchoolRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	school := fees.School{
		ID:      req.ID,
		Name:    req.Name,
		Paybill: req.Paybill,
		Active:  true,
	}
	if school.ID == "" {
		school.ID = uuid.NewString()
	}
	if req.Active != nil {
		school.Active = *req.Active
	}

	if err := h.Directory.SaveSchool(r.Context(), school); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create school", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSchoolDTO(school))
}

// GetSchool returns a single school.
// GET /api/schools/{schoolID}
func (h *Handler) GetSchool(w http.ResponseWriter, r *http.Request) {
	school, err := h.Directory.SchoolByID(r.Context(), chi.URLParam(r, "schoolID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSchoolDTO(school))
}

// CreateStudent registers a student.
// POST /api/students
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	student := fees.Student{
		ID:        req.ID,
		SchoolID:  req.SchoolID,
		Admission: req.Admission,
		Name:      req.Name,
		Grade:     req.Grade,
		Stream:    req.Stream,
	}
	if student.ID == "" {
		student.ID = uuid.NewString()
	}

	if err := h.Directory.SaveStudent(r.Context(), student); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create student", err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(student))
}

// GetStudent resolves a student by admission number within a school.
// GET /api/schools/{schoolID}/students/{admission}
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	student, err := h.Directory.StudentByAdmission(r.Context(),
		chi.URLParam(r, "schoolID"), chi.URLParam(r, "admission"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(student))
}

// CreateEnrollment records a student's grade for an academic year.
// POST /api/enrollments
func (h *Handler) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var req CreateEnrollmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	enr := fees.Enrollment{
		StudentID:    req.StudentID,
		AcademicYear: req.AcademicYear,
		Grade:        req.Grade,
		Stream:       req.Stream,
	}
	if err := h.Directory.SaveEnrollment(r.Context(), enr); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create enrollment", err)
		return
	}
	writeJSON(w, http.StatusCreated, enr)
}

// CreateActor registers a human operator.
// POST /api/actors
func (h *Handler) CreateActor(w http.ResponseWriter, r *http.Request) {
	var req CreateActorRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	actor := fees.Actor{ID: req.ID, SchoolID: req.SchoolID, Role: req.Role}
	if actor.ID == "" {
		actor.ID = uuid.NewString()
	}

	if err := h.Directory.SaveActor(r.Context(), actor); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create actor", err)
		return
	}
	writeJSON(w, http.StatusCreated, actor)
}

// =============================================================================
// GATEWAY HANDLERS
// =============================================================================

// MpesaCallback ingests a provider callback (push confirmation or C2B
// notification). It acknowledges success on every path; the provider
// retries aggressively on anything else, and retries are harmless
// because the ledger is idempotent on reference.
// POST /api/gateway/mpesa/callback
// POST /api/gateway/mpesa/c2b
func (h *Handler) MpesaCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusOK, gatewayAck{ResultCode: 0, ResultDesc: "Accepted"})
		return
	}

	h.Ingestor.Ingest(r.Context(), raw)
	writeJSON(w, http.StatusOK, gatewayAck{ResultCode: 0, ResultDesc: "Accepted"})
}

// InitiatePush asks the provider to prompt a phone for payment. The
// confirmation arrives later on the callback endpoint.
// POST /api/gateway/mpesa/push
func (h *Handler) InitiatePush(w http.ResponseWriter, r *http.Request) {
	if h.Push == nil {
		writeError(w, http.StatusServiceUnavailable, "Push initiation is not configured", nil)
		return
	}

	var req InitiatePushRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	school, err := h.Directory.SchoolByID(r.Context(), req.SchoolID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if school.Paybill == "" {
		writeError(w, http.StatusBadRequest, "School has no paybill configured", nil)
		return
	}

	err = h.Push.Initiate(r.Context(), gateway.PushRequest{
		ShortCode:   school.Paybill,
		Phone:       req.Phone,
		Amount:      req.Amount,
		Admission:   req.Admission,
		Description: "School fees",
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "Push initiation failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "initiated"})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ResetDatabase clears all data. Dev/demo only.
// POST /api/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Resetter == nil {
		writeError(w, http.StatusServiceUnavailable, "Reset is not available", nil)
		return
	}
	if err := h.Resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeAndValidate parses the JSON body into dst and runs struct
// validation. It writes the error response itself and reports whether
// the handler should continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		resp := ErrorResponse{Error: "Validation failed"}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				resp.Fields = append(resp.Fields, fees.FieldError{
					Field: fe.Field(),
					Error: "failed " + fe.Tag() + " check",
				})
			}
		} else {
			resp.Details = err.Error()
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

// writeDomainError maps domain error categories onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case fees.IsValidation(err):
		var ve *fees.ValidationError
		errors.As(err, &ve)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Msg, Fields: ve.Fields})
	case fees.IsAuthorization(err):
		writeError(w, http.StatusForbidden, "Not allowed", err)
	case fees.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case fees.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
