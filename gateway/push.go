/*
push.go - Outbound STK push initiation

Asks the provider to prompt a phone for payment. The confirmation
comes back later through the push callback handled by ingest.go, so
initiation is best-effort: bounded retry with exponential backoff on
network errors and 5xx responses, then give up and let the customer
retry from their handset.
*/
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// PushRequest describes one payment prompt.
type PushRequest struct {
	ShortCode   string          `json:"BusinessShortCode"`
	Phone       string          `json:"PhoneNumber"`
	Amount      decimal.Decimal `json:"Amount"`
	Admission   string          `json:"AccountReference"`
	Description string          `json:"TransactionDesc"`
	CallbackURL string          `json:"CallBackURL"`
}

// PushClient initiates STK pushes against the provider API.
type PushClient struct {
	baseURL     string
	httpc       *http.Client
	maxAttempts int
	baseBackoff time.Duration
}

// NewPushClient creates a push client for the given provider base URL.
func NewPushClient(baseURL string) *PushClient {
	return &PushClient{
		baseURL:     baseURL,
		httpc:       &http.Client{Timeout: 15 * time.Second},
		maxAttempts: 3,
		baseBackoff: 500 * time.Millisecond,
	}
}

// Initiate sends the push request, retrying transient failures with
// exponential backoff. A 4xx response is terminal; the request itself
// is wrong and retrying cannot help.
func (c *PushClient) Initiate(ctx context.Context, req PushRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode push request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.send(ctx, body)
		if lastErr == nil {
			return nil
		}
		var terminal *terminalError
		if errors.As(lastErr, &terminal) {
			return lastErr
		}
	}
	return fmt.Errorf("push initiation failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *PushClient) send(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode < 500:
		return &terminalError{status: resp.StatusCode}
	default:
		return fmt.Errorf("provider returned %d", resp.StatusCode)
	}
}

type terminalError struct {
	status int
}

func (e *terminalError) Error() string {
	return fmt.Sprintf("provider rejected push request with %d", e.status)
}
