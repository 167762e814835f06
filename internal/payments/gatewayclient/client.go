// Package gatewayclient implements payments.Verifier against the payment
// gateway's HTTP verification endpoint. It is the sole trusted source for
// charged amounts; failures are classified into typed kinds at this boundary.
package gatewayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scriptorium-ai/creditd/internal/faults"
	"github.com/scriptorium-ai/creditd/internal/payments"
)

const (
	defaultTimeout    = 10 * time.Second
	headerAPIKey      = "X-Api-Key"
	maxResponseBytes  = 1 << 20
	verifyPathPattern = "/v1/invoices/%s/verify"
)

// Client calls the gateway verification endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithTimeout bounds the verification call.
func WithTimeout(timeout time.Duration) Option {
	return func(client *Client) {
		if timeout > 0 {
			client.httpClient.Timeout = timeout
		}
	}
}

// New wires a Client.
func New(baseURL string, apiKey string, options ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gateway api key is required")
	}
	client := &Client{
		baseURL:    trimmed,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// verifyResponse mirrors the gateway wire format. Monetary fields arrive as
// decimal numbers and are converted to integer cents at this boundary.
type verifyResponse struct {
	Status        string  `json:"status"`
	InvoiceID     string  `json:"invoice_id"`
	ChargedAmount float64 `json:"charged_amount"`
	Amount        float64 `json:"amount"`
	Fee           float64 `json:"fee"`
	PaymentMethod string  `json:"payment_method"`
	TransactionID string  `json:"transaction_id"`
	Metadata      struct {
		OrderID string `json:"order_id"`
	} `json:"metadata"`
}

// Verify fetches the authoritative charge details for an invoice.
func (client *Client) Verify(ctx context.Context, invoiceID string) (payments.Verification, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return payments.Verification{}, faults.Newf(faults.KindInvalid, "empty invoice id")
	}
	endpoint := client.baseURL + fmt.Sprintf(verifyPathPattern, url.PathEscape(invoiceID))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return payments.Verification{}, faults.New(faults.KindInvalid, err)
	}
	request.Header.Set(headerAPIKey, client.apiKey)
	request.Header.Set("Accept", "application/json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		return payments.Verification{}, classifyTransportError(err)
	}
	defer response.Body.Close()

	if err := classifyStatus(response.StatusCode); err != nil {
		return payments.Verification{}, err
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return payments.Verification{}, faults.New(faults.KindTransient, err)
	}
	var decoded verifyResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return payments.Verification{}, faults.Newf(faults.KindInvalid, "decode verify response: %v", err)
	}
	return payments.Verification{
		Status:             decoded.Status,
		InvoiceID:          decoded.InvoiceID,
		OrderID:            decoded.Metadata.OrderID,
		ChargedAmountCents: centsFromDecimal(decoded.ChargedAmount),
		AmountCents:        centsFromDecimal(decoded.Amount),
		FeeCents:           centsFromDecimal(decoded.Fee),
		PaymentMethod:      decoded.PaymentMethod,
		TransactionID:      decoded.TransactionID,
	}, nil
}

// Transport failures (timeouts, refused connections, DNS hiccups) are all
// retryable; a settlement deferred on timeout is retried later rather than
// guessed into a terminal state.
func classifyTransportError(err error) error {
	return faults.New(faults.KindTransient, err)
}

func classifyStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusOK:
		return nil
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return faults.Newf(faults.KindAuthFailed, "gateway rejected credentials: status %d", statusCode)
	case statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError:
		return faults.Newf(faults.KindTransient, "gateway unavailable: status %d", statusCode)
	default:
		return faults.Newf(faults.KindInvalid, "unexpected gateway status %d", statusCode)
	}
}

func centsFromDecimal(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
