/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags and are checked at the
  handler boundary before any domain logic runs; the domain performs its
  own semantic validation on top (amount signs, term names, year range).

MONEY:
  All amounts are decimal.Decimal, which marshals as a JSON string and
  accepts both quoted and bare numbers on input.

SEE ALSO:
  - handlers.go: Uses these types
  - fees/types.go: Domain types these map to
*/
package api

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/elimisha/fees-engine/fees"
)

// validate is shared by all handlers; validator instances cache struct
// metadata and are safe for concurrent use.
var validate = validator.New()

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  []fees.FieldError `json:"fields,omitempty"`
}

// =============================================================================
// FEE STRUCTURES
// =============================================================================

// UpsertFeeStructureRequest creates or replaces the fee schedule for a
// (school, grade, academic year).
type UpsertFeeStructureRequest struct {
	SchoolID     string          `json:"school_id" validate:"required"`
	Grade        string          `json:"grade" validate:"required"`
	AcademicYear int             `json:"academic_year" validate:"required,gte=2000,lte=2100"`
	Term1Fee     decimal.Decimal `json:"term_1_fee"`
	Term2Fee     decimal.Decimal `json:"term_2_fee"`
	Term3Fee     decimal.Decimal `json:"term_3_fee"`
}

// UpdateFeeStructureRequest modifies term fees on an existing record.
// Omitted fields are left unchanged.
type UpdateFeeStructureRequest struct {
	Term1Fee *decimal.Decimal `json:"term_1_fee,omitempty"`
	Term2Fee *decimal.Decimal `json:"term_2_fee,omitempty"`
	Term3Fee *decimal.Decimal `json:"term_3_fee,omitempty"`
}

// FeeStructureDTO represents a fee structure in API responses.
type FeeStructureDTO struct {
	ID           string          `json:"id"`
	SchoolID     string          `json:"school_id"`
	Grade        string          `json:"grade"`
	AcademicYear int             `json:"academic_year"`
	Term1Fee     decimal.Decimal `json:"term_1_fee"`
	Term2Fee     decimal.Decimal `json:"term_2_fee"`
	Term3Fee     decimal.Decimal `json:"term_3_fee"`
	TotalFee     decimal.Decimal `json:"total_fee"`
	UpdatedAt    string          `json:"updated_at,omitempty"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPaymentRequest records a manual payment against a student.
type RecordPaymentRequest struct {
	SchoolID     string          `json:"school_id" validate:"required"`
	Admission    string          `json:"admission_number" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method" validate:"required"`
	Reference    string          `json:"reference" validate:"required"`
	Term         string          `json:"term" validate:"required"`
	AcademicYear int             `json:"academic_year" validate:"required"`
}

// ReversePaymentRequest cancels a payment's financial effect.
type ReversePaymentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// PaymentEntryDTO represents a ledger entry in API responses.
type PaymentEntryDTO struct {
	ID           string          `json:"id"`
	SchoolID     string          `json:"school_id"`
	StudentID    string          `json:"student_id"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method"`
	Reference    string          `json:"reference"`
	Term         string          `json:"term"`
	AcademicYear int             `json:"academic_year"`
	RecordedBy   string          `json:"recorded_by"`
	CreatedAt    string          `json:"created_at"`
}

// ReversalDTO represents a reversal audit record.
type ReversalDTO struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	Reason    string          `json:"reason"`
	ActorID   string          `json:"actor_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt string          `json:"created_at"`
}

// =============================================================================
// BALANCES
// =============================================================================

// TermBalanceDTO is one term's expected/paid/outstanding breakdown.
type TermBalanceDTO struct {
	Fee     decimal.Decimal `json:"fee"`
	Paid    decimal.Decimal `json:"paid"`
	Balance decimal.Decimal `json:"balance"`
}

// BalanceDTO is a student's fee position for an academic year.
type BalanceDTO struct {
	StudentID    string          `json:"student_id"`
	SchoolID     string          `json:"school_id"`
	Grade        string          `json:"grade"`
	AcademicYear int             `json:"academic_year"`
	FeeYear      int             `json:"fee_year"`
	Term1        TermBalanceDTO  `json:"term_1"`
	Term2        TermBalanceDTO  `json:"term_2"`
	Term3        TermBalanceDTO  `json:"term_3"`
	TotalFee     decimal.Decimal `json:"total_fee"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
	Balance      decimal.Decimal `json:"balance"`
}

// =============================================================================
// DIRECTORY
// =============================================================================

// CreateSchoolRequest registers a school.
type CreateSchoolRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name" validate:"required"`
	Paybill string `json:"paybill"`
	Active  *bool  `json:"active,omitempty"` // defaults to true
}

// SchoolDTO represents a school in API responses.
type SchoolDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Paybill string `json:"paybill,omitempty"`
	Active  bool   `json:"active"`
}

// CreateStudentRequest registers a student within a school.
type CreateStudentRequest struct {
	ID        string `json:"id"`
	SchoolID  string `json:"school_id" validate:"required"`
	Admission string `json:"admission_number" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Grade     string `json:"grade" validate:"required"`
	Stream    string `json:"stream"`
}

// StudentDTO represents a student in API responses.
type StudentDTO struct {
	ID        string `json:"id"`
	SchoolID  string `json:"school_id"`
	Admission string `json:"admission_number"`
	Name      string `json:"name"`
	Grade     string `json:"grade"`
	Stream    string `json:"stream,omitempty"`
}

// CreateEnrollmentRequest records a student's grade for a year.
type CreateEnrollmentRequest struct {
	StudentID    string `json:"student_id" validate:"required"`
	AcademicYear int    `json:"academic_year" validate:"required,gte=2000,lte=2100"`
	Grade        string `json:"grade" validate:"required"`
	Stream       string `json:"stream"`
}

// CreateActorRequest registers a human operator.
type CreateActorRequest struct {
	ID       string `json:"id"`
	SchoolID string `json:"school_id" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=accounts admin student"`
}

// =============================================================================
// GATEWAY
// =============================================================================

// InitiatePushRequest asks the provider to prompt a phone for payment.
type InitiatePushRequest struct {
	SchoolID  string          `json:"school_id" validate:"required"`
	Admission string          `json:"admission_number" validate:"required"`
	Phone     string          `json:"phone" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

// gatewayAck is the success-shaped acknowledgment every callback gets.
type gatewayAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toFeeStructureDTO(fs fees.FeeStructure) FeeStructureDTO {
	return FeeStructureDTO{
		ID:           fs.ID,
		SchoolID:     fs.SchoolID,
		Grade:        fs.Grade,
		AcademicYear: fs.AcademicYear,
		Term1Fee:     fs.Term1Fee,
		Term2Fee:     fs.Term2Fee,
		Term3Fee:     fs.Term3Fee,
		TotalFee:     fs.TotalFee,
		UpdatedAt:    fs.UpdatedAt.Format(timeFormat),
	}
}

func toPaymentEntryDTO(e fees.PaymentEntry) PaymentEntryDTO {
	return PaymentEntryDTO{
		ID:           e.ID,
		SchoolID:     e.SchoolID,
		StudentID:    e.StudentID,
		Amount:       e.Amount,
		Method:       string(e.Method),
		Reference:    e.Reference,
		Term:         string(e.Term),
		AcademicYear: e.AcademicYear,
		RecordedBy:   e.RecordedBy,
		CreatedAt:    e.CreatedAt.Format(timeFormat),
	}
}

func toPaymentEntryDTOs(entries []fees.PaymentEntry) []PaymentEntryDTO {
	dtos := make([]PaymentEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toPaymentEntryDTO(e)
	}
	return dtos
}

func toReversalDTO(r fees.ReversalRecord) ReversalDTO {
	return ReversalDTO{
		ID:        r.ID,
		PaymentID: r.PaymentID,
		Reason:    r.Reason,
		ActorID:   r.ActorID,
		Amount:    r.Amount,
		CreatedAt: r.CreatedAt.Format(timeFormat),
	}
}

func toBalanceDTO(b fees.Balance) BalanceDTO {
	return BalanceDTO{
		StudentID:    b.StudentID,
		SchoolID:     b.SchoolID,
		Grade:        b.Grade,
		AcademicYear: b.AcademicYear,
		FeeYear:      b.FeeYear,
		Term1:        TermBalanceDTO(b.Term1),
		Term2:        TermBalanceDTO(b.Term2),
		Term3:        TermBalanceDTO(b.Term3),
		TotalFee:     b.TotalFee,
		TotalPaid:    b.TotalPaid,
		Balance:      b.Balance,
	}
}

func toStudentDTO(s fees.Student) StudentDTO {
	return StudentDTO{
		ID:        s.ID,
		SchoolID:  s.SchoolID,
		Admission: s.Admission,
		Name:      s.Name,
		Grade:     s.Grade,
		Stream:    s.Stream,
	}
}

func toSchoolDTO(s fees.School) SchoolDTO {
	return SchoolDTO{ID: s.ID, Name: s.Name, Paybill: s.Paybill, Active: s.Active}
}
