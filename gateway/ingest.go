/*
ingest.go - Inbound callback ingestion

Resolution pipeline for a normalized Notification:

  1. Match BusinessShortCode against active schools' paybill numbers.
  2. Resolve the student by admission number within that school.
  3. Idempotency: a receipt already in the ledger is dropped silently.
  4. Record the payment under the school's system accounts actor with
     the current calendar term and year.

Every path ends in an acknowledgment. Unmatched schools, unknown
students, duplicates, and even storage failures are logged and
dropped, never surfaced to the provider; the provider's retries are
harmless against the idempotent ledger, and operators pick up real
failures from the logs.
*/
package gateway

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/elimisha/fees-engine/fees"
)

// Outcome classifies what ingestion did with a callback. The provider
// sees success regardless; outcomes feed logs and tests.
type Outcome string

const (
	OutcomeRecorded     Outcome = "recorded"
	OutcomeBadPayload   Outcome = "dropped_bad_payload"
	OutcomeNoSchool     Outcome = "dropped_no_school"
	OutcomeNoStudent    Outcome = "dropped_no_student"
	OutcomeDuplicate    Outcome = "dropped_duplicate"
	OutcomeInternalFail Outcome = "dropped_internal_error"
)

// Result reports what a single ingestion did.
type Result struct {
	Outcome Outcome
	Entry   *fees.PaymentEntry
}

// Ingestor turns provider callbacks into ledger entries.
type Ingestor struct {
	schools fees.SchoolDirectory
	actors  fees.ActorDirectory
	ledger  *fees.Ledger
	now     func() time.Time
}

// NewIngestor creates an ingestor. now is overridable for tests; nil
// means time.Now.
func NewIngestor(schools fees.SchoolDirectory, actors fees.ActorDirectory, ledger *fees.Ledger, now func() time.Time) *Ingestor {
	if now == nil {
		now = time.Now
	}
	return &Ingestor{schools: schools, actors: actors, ledger: ledger, now: now}
}

// Ingest processes one raw callback body. It never returns an error:
// the HTTP handler acknowledges success on every Result.
func (i *Ingestor) Ingest(ctx context.Context, raw []byte) Result {
	n, ok := Parse(raw)
	if !ok {
		log.Printf("gateway: dropping unrecognized callback payload (%d bytes)", len(raw))
		return Result{Outcome: OutcomeBadPayload}
	}

	school, err := i.schools.SchoolByPaybill(ctx, n.ShortCode)
	if err != nil {
		log.Printf("gateway: dropping receipt %s: no active school for shortcode %s", n.Receipt, n.ShortCode)
		return Result{Outcome: OutcomeNoSchool}
	}

	actor, err := i.actors.SystemActor(ctx, school.ID)
	if err != nil {
		log.Printf("gateway: dropping receipt %s: system actor for school %s: %v", n.Receipt, school.ID, err)
		return Result{Outcome: OutcomeInternalFail}
	}

	term, year := fees.CurrentTerm(i.now().UTC())
	entry, err := i.ledger.RecordPayment(ctx, actor, fees.NewPayment{
		SchoolID:     school.ID,
		Admission:    n.Admission,
		Amount:       n.Amount,
		Method:       fees.MethodMpesa,
		Reference:    n.Receipt,
		Term:         term,
		AcademicYear: year,
	})
	switch {
	case err == nil:
		return Result{Outcome: OutcomeRecorded, Entry: &entry}
	case errors.Is(err, fees.ErrReferenceExists):
		// Redelivery of an already-recorded receipt.
		return Result{Outcome: OutcomeDuplicate}
	case errors.Is(err, fees.ErrStudentNotFound):
		log.Printf("gateway: dropping receipt %s: no student %q in school %s", n.Receipt, n.Admission, school.ID)
		return Result{Outcome: OutcomeNoStudent}
	default:
		// Silent data loss risk: the provider hears success while the
		// entry was not written. Operators must watch for this line.
		log.Printf("gateway: dropping receipt %s after internal error: %v", n.Receipt, err)
		return Result{Outcome: OutcomeInternalFail}
	}
}
