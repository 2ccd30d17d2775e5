/*
Package gateway normalizes mobile-money traffic into ledger operations.

Two inbound callback shapes arrive on the same pipeline:

  - "push" confirmations: the result of an STK push we initiated,
    with the interesting fields nested as CallbackMetadata items
    (Amount, MpesaReceiptNumber, PhoneNumber, AccountReference,
    BusinessShortCode).
  - "passive" C2B notifications: customer-initiated paybill payments,
    with flat fields (TransID, TransAmount, MSISDN, BillRefNumber,
    BusinessShortCode).

Both reduce to one internal Notification. The account reference and
bill reference carry the student's admission number; the business
short code identifies the school's paybill.

The adapter always acknowledges success to the provider. Gateways
retry aggressively on anything but success, and a retry of an
already-recorded receipt is harmless because the ledger is idempotent
on reference.
*/
package gateway

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Notification is the single internal shape both callback formats
// normalize into.
type Notification struct {
	Amount    decimal.Decimal
	Receipt   string
	Phone     string
	Admission string
	ShortCode string
}

// scalar accepts JSON strings and numbers interchangeably. Provider
// payloads are inconsistent about quoting numeric fields.
type scalar string

func (s *scalar) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = scalar(str)
		return nil
	}
	if string(b) == "null" {
		*s = ""
		return nil
	}
	*s = scalar(b)
	return nil
}

func (s scalar) String() string { return string(s) }

type metadataItem struct {
	Name  string `json:"Name"`
	Value scalar `json:"Value"`
}

type pushPayload struct {
	Body struct {
		StkCallback struct {
			ResultCode       int `json:"ResultCode"`
			CallbackMetadata struct {
				Item []metadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type passivePayload struct {
	TransID           scalar `json:"TransID"`
	TransAmount       scalar `json:"TransAmount"`
	MSISDN            scalar `json:"MSISDN"`
	BillRefNumber     scalar `json:"BillRefNumber"`
	BusinessShortCode scalar `json:"BusinessShortCode"`
}

// Parse detects the payload shape and extracts a Notification. The
// second return is false for unknown shapes, failed push results, and
// payloads missing a receipt or short code; callers acknowledge and
// drop those rather than rejecting them.
func Parse(raw []byte) (Notification, bool) {
	if n, ok := parsePush(raw); ok {
		return n, true
	}
	return parsePassive(raw)
}

func parsePush(raw []byte) (Notification, bool) {
	var p pushPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Notification{}, false
	}
	cb := p.Body.StkCallback
	if len(cb.CallbackMetadata.Item) == 0 {
		return Notification{}, false
	}
	// A non-zero result code means the push failed and no money moved.
	if cb.ResultCode != 0 {
		return Notification{}, false
	}

	var n Notification
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			n.Amount, _ = decimal.NewFromString(item.Value.String())
		case "MpesaReceiptNumber":
			n.Receipt = item.Value.String()
		case "PhoneNumber":
			n.Phone = item.Value.String()
		case "AccountReference":
			n.Admission = item.Value.String()
		case "BusinessShortCode":
			n.ShortCode = item.Value.String()
		}
	}
	return n, n.complete()
}

func parsePassive(raw []byte) (Notification, bool) {
	var p passivePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Notification{}, false
	}
	if p.TransID == "" || p.BusinessShortCode == "" {
		return Notification{}, false
	}

	amount, err := decimal.NewFromString(p.TransAmount.String())
	if err != nil {
		return Notification{}, false
	}
	n := Notification{
		Amount:    amount,
		Receipt:   p.TransID.String(),
		Phone:     p.MSISDN.String(),
		Admission: strings.TrimSpace(p.BillRefNumber.String()),
		ShortCode: p.BusinessShortCode.String(),
	}
	return n, n.complete()
}

func (n Notification) complete() bool {
	return n.Receipt != "" && n.ShortCode != "" && n.Admission != "" && n.Amount.IsPositive()
}
