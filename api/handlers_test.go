/*
handlers_test.go - HTTP API tests

End-to-end requests through the chi router against in-memory stores.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elimisha/fees-engine/api"
	"github.com/elimisha/fees-engine/directory"
	"github.com/elimisha/fees-engine/fees"
	"github.com/elimisha/fees-engine/fees/store"
	"github.com/elimisha/fees-engine/gateway"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type apiFixture struct {
	srv     *httptest.Server
	store   *store.Memory
	dir     *directory.Memory
	school  fees.School
	student fees.Student
	actor   fees.Actor
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	st := store.NewMemory()
	dir := directory.NewMemory()

	school := dir.AddSchool(fees.School{Name: "Test Academy", Paybill: "600100", Active: true})
	student := dir.AddStudent(fees.Student{
		SchoolID:  school.ID,
		Admission: "ADM001",
		Name:      "Wanjiku Kamau",
		Grade:     "Grade 5",
	})
	actor := dir.AddActor(fees.Actor{SchoolID: school.ID, Role: fees.RoleAccounts})

	ledger := fees.NewLedger(st, dir, nil, nil)
	h := &api.Handler{
		Ledger:     ledger,
		Structures: fees.NewStructureService(st, nil),
		Balances:   fees.NewBalanceCalculator(st, st),
		Directory:  dir,
		Ingestor:   gateway.NewIngestor(dir, dir, ledger, nil),
	}

	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)

	return &apiFixture{srv: srv, store: st, dir: dir, school: school, student: student, actor: actor}
}

// do sends a request as the fixture's accounts operator.
func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	return f.doAs(t, f.actor.ID, method, path, body)
}

func (f *apiFixture) doAs(t *testing.T, actorID, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if actorID != "" {
		req.Header.Set("X-Actor-ID", actorID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAPI_MissingActorHeader_Unauthorized(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.doAs(t, "", http.MethodPost, "/api/payments", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_UnknownActor_Unauthorized(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.doAs(t, "nobody", http.MethodGet, "/api/fee-structures", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (f *apiFixture) paymentBody(ref, amount string) map[string]any {
	return map[string]any{
		"school_id":        f.school.ID,
		"admission_number": "ADM001",
		"amount":           amount,
		"method":           "cash",
		"reference":        ref,
		"term":             "Term 1",
		"academic_year":    2025,
	}
}

func TestAPI_RecordPayment_CreatedThenConflict(t *testing.T) {
	// GIVEN: A valid manual payment
	// WHEN: Posting it twice with the same reference
	// THEN: 201 Created, then 409 Conflict

	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/payments", f.paymentBody("R1", "600"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	entry := decodeBody[api.PaymentEntryDTO](t, resp)
	assert.Equal(t, "R1", entry.Reference)
	assert.Equal(t, f.student.ID, entry.StudentID)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(600)))

	resp = f.do(t, http.MethodPost, "/api/payments", f.paymentBody("R1", "600"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_RecordPayment_ValidationFields(t *testing.T) {
	// Missing reference and method surface as field-level errors.
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/payments", map[string]any{
		"school_id":        f.school.ID,
		"admission_number": "ADM001",
		"amount":           "600",
		"term":             "Term 1",
		"academic_year":    2025,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[api.ErrorResponse](t, resp)
	assert.NotEmpty(t, body.Fields)
}

func TestAPI_RecordPayment_DomainValidation(t *testing.T) {
	// Negative amounts pass struct validation and fail in the domain.
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/payments", f.paymentBody("R1", "-50"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[api.ErrorResponse](t, resp)
	require.NotEmpty(t, body.Fields)
	assert.Equal(t, "amount", body.Fields[0].Field)
}

func TestAPI_ReversePayment_FlowAndAudit(t *testing.T) {
	// GIVEN: A recorded payment
	// WHEN: Reversing it, then reversing again
	// THEN: 200, a reversal audit record, then 409

	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/payments", f.paymentBody("R1", "600"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	entry := decodeBody[api.PaymentEntryDTO](t, resp)

	resp = f.do(t, http.MethodPost, "/api/payments/"+entry.ID+"/reverse",
		map[string]string{"reason": "duplicate entry"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/payments/"+entry.ID+"/reversals", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := decodeBody[[]api.ReversalDTO](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, "duplicate entry", records[0].Reason)

	resp = f.do(t, http.MethodPost, "/api/payments/"+entry.ID+"/reverse",
		map[string]string{"reason": "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ReversePayment_MissingReason(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/payments/whatever/reverse", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_StudentLedger(t *testing.T) {
	f := newAPIFixture(t)

	for _, ref := range []string{"R1", "R2"} {
		resp := f.do(t, http.MethodPost, "/api/payments", f.paymentBody(ref, "100"))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := f.do(t, http.MethodGet, "/api/schools/"+f.school.ID+"/students/ADM001/ledger", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decodeBody[[]api.PaymentEntryDTO](t, resp)
	require.Len(t, entries, 2)
	assert.Equal(t, "R2", entries[0].Reference, "newest first")
}

// =============================================================================
// FEE STRUCTURES AND BALANCES
// =============================================================================

func TestAPI_FeeStructureLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/fee-structures", map[string]any{
		"school_id":     f.school.ID,
		"grade":         "Grade 5",
		"academic_year": 2025,
		"term_1_fee":    "1000",
		"term_2_fee":    "1000",
		"term_3_fee":    "1000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fs := decodeBody[api.FeeStructureDTO](t, resp)
	assert.True(t, fs.TotalFee.Equal(decimal.NewFromInt(3000)))

	resp = f.do(t, http.MethodPut, "/api/fee-structures/"+fs.ID,
		map[string]any{"term_2_fee": "1500"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[api.FeeStructureDTO](t, resp)
	assert.True(t, updated.TotalFee.Equal(decimal.NewFromInt(3500)))

	resp = f.do(t, http.MethodGet, "/api/fee-structures?school_id="+f.school.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]api.FeeStructureDTO](t, resp)
	assert.Len(t, list, 1)

	resp = f.do(t, http.MethodDelete, "/api/fee-structures/"+fs.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/fee-structures/"+fs.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_GetBalance(t *testing.T) {
	// GIVEN: Grade 5 fees of 1000 per term and payments of 600 + 1000
	// WHEN: Fetching the balance for 2025
	// THEN: The per-term and total positions line up

	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/fee-structures", map[string]any{
		"school_id":     f.school.ID,
		"grade":         "Grade 5",
		"academic_year": 2025,
		"term_1_fee":    "1000",
		"term_2_fee":    "1000",
		"term_3_fee":    "1000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/payments", f.paymentBody("R1", "600"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	b2 := f.paymentBody("R2", "1000")
	b2["term"] = "Term 2"
	resp = f.do(t, http.MethodPost, "/api/payments", b2)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/schools/"+f.school.ID+"/students/ADM001/balance?year=2025", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	bal := decodeBody[api.BalanceDTO](t, resp)
	assert.Equal(t, f.student.ID, bal.StudentID)
	assert.Equal(t, 2025, bal.AcademicYear)
	assert.True(t, bal.Term1.Balance.Equal(decimal.NewFromInt(400)))
	assert.True(t, bal.Term2.Balance.Equal(decimal.Zero))
	assert.True(t, bal.TotalPaid.Equal(decimal.NewFromInt(1600)))
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(1400)))
}

func TestAPI_GetBalance_CrossSchoolForbidden(t *testing.T) {
	f := newAPIFixture(t)
	outsider := f.dir.AddActor(fees.Actor{SchoolID: "other-school", Role: fees.RoleAccounts})

	resp := f.doAs(t, outsider.ID, http.MethodGet,
		"/api/schools/"+f.school.ID+"/students/ADM001/balance?year=2025", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPI_GetBalance_StudentRoleForbidden(t *testing.T) {
	f := newAPIFixture(t)
	studentActor := f.dir.AddActor(fees.Actor{SchoolID: f.school.ID, Role: fees.RoleStudent})

	resp := f.doAs(t, studentActor.ID, http.MethodGet,
		"/api/schools/"+f.school.ID+"/students/ADM001/balance?year=2025", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestAPI_CreateSchoolAndStudent(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/schools", map[string]any{
		"name":    "Second Academy",
		"paybill": "600200",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	school := decodeBody[api.SchoolDTO](t, resp)
	assert.NotEmpty(t, school.ID)
	assert.True(t, school.Active, "schools default to active")

	resp = f.do(t, http.MethodPost, "/api/students", map[string]any{
		"school_id":        school.ID,
		"admission_number": "ADM100",
		"name":             "Baraka Mwangi",
		"grade":            "Grade 7",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/schools/"+school.ID+"/students/ADM100", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	student := decodeBody[api.StudentDTO](t, resp)
	assert.Equal(t, "Baraka Mwangi", student.Name)
}

func TestAPI_CreateActor_RoleValidated(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/actors", map[string]any{
		"school_id": f.school.ID,
		"role":      "superuser",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// GATEWAY
// =============================================================================

func TestAPI_MpesaCallback_AlwaysAcknowledges(t *testing.T) {
	// The provider must see ResultCode 0 whether the payload records,
	// duplicates, or is garbage.

	f := newAPIFixture(t)

	c2b := map[string]any{
		"TransID":           "RKTQDM7W6S",
		"TransAmount":       "650.00",
		"BusinessShortCode": "600100",
		"BillRefNumber":     "ADM001",
		"MSISDN":            "254708374149",
	}

	for _, body := range []any{c2b, c2b, map[string]any{"unexpected": true}} {
		resp := f.doAs(t, "", http.MethodPost, "/api/gateway/mpesa/c2b", body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		ack := decodeBody[map[string]any](t, resp)
		assert.EqualValues(t, 0, ack["ResultCode"])
	}

	entries, err := f.store.EntriesByStudent(context.Background(), f.student.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "redelivery and junk leave one entry")
}

func TestAPI_InitiatePush_NotConfigured(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.doAs(t, "", http.MethodPost, "/api/gateway/mpesa/push", map[string]any{
		"school_id":        f.school.ID,
		"admission_number": "ADM001",
		"phone":            "254708374149",
		"amount":           "500",
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// =============================================================================
// DEMO AND ADMIN
// =============================================================================

func TestAPI_SeedDemo(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.doAs(t, "", http.MethodPost, "/api/demo/seed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/schools/sch-demo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	school := decodeBody[api.SchoolDTO](t, resp)
	assert.Equal(t, "Elimisha Academy", school.Name)

	resp = f.doAs(t, "act-accounts", http.MethodGet, "/api/schools/sch-demo/students/ADM001/balance?year=2025", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bal := decodeBody[api.BalanceDTO](t, resp)
	assert.True(t, bal.TotalPaid.Equal(decimal.NewFromInt(1600)), "seeded payments total, got %s", bal.TotalPaid)
}

func TestAPI_Reset_NotConfigured(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.doAs(t, "", http.MethodPost, "/api/reset", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
