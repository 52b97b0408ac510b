// Package payment wraps the external payment provider. The scheduling core
// only ever asks it to execute refunds; payment capture is confirmed by the
// provider calling back into the API.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrProviderUnavailable means the refund call did not complete. Callers
// treat it as retryable; the local cancellation has already committed.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

type RefundRequest struct {
	AppointmentID uuid.UUID
	Reason        string
}

type Provider interface {
	Refund(ctx context.Context, req RefundRequest) error
}

// HTTPProvider talks to the provider's refund endpoint.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPProvider) Refund(ctx context.Context, req RefundRequest) error {
	// The key is derived from the appointment id alone so retries of the
	// same refund are idempotent on the provider side.
	body := map[string]any{
		"idempotency_key": fmt.Sprintf("refund-%s", req.AppointmentID),
		"appointment_id":  req.AppointmentID.String(),
		"reason":          req.Reason,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode refund request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/refunds", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build refund request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, snippet)
	}

	return nil
}
