// internal/services/payments/processor.go
package payments

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"trades-marketplace/internal/common/config"
	apperrors "trades-marketplace/internal/common/errors"
	commonhttp "trades-marketplace/internal/common/http"
)

// Processor intent statuses as reported by the payment processor.
const (
	ProcessorSucceeded      = "succeeded"
	ProcessorRequiresAction = "requires_action"
	ProcessorFailed         = "failed"
)

// Processor is the external payment processor.
type Processor interface {
	CreateIntent(ctx context.Context, p IntentParams) (*ProcessorIntent, error)
	ConfirmIntent(ctx context.Context, processorRef, idempotencyKey string) (*ProcessorIntent, error)
	Transfer(ctx context.Context, p TransferParams) (string, error)
	Refund(ctx context.Context, p RefundParams) (string, error)
}

type IntentParams struct {
	IdempotencyKey string
	AmountCents    int64
	FeeCents       int64
	Currency       string
	JobID          string
}

type TransferParams struct {
	IdempotencyKey string
	AmountCents    int64
	Currency       string
	Destination    string
	JobID          string
}

type RefundParams struct {
	IdempotencyKey string
	ProcessorRef   string
	AmountCents    int64
}

type ProcessorIntent struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	ClientSecret  string `json:"client_secret"`
	DeclineReason string `json:"decline_reason,omitempty"`
}

// HTTPProcessor talks to the processor's REST API.
type HTTPProcessor struct {
	client    *commonhttp.Client
	baseURL   string
	secretKey string
}

func NewHTTPProcessor(cfg config.PaymentsConfig) *HTTPProcessor {
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProcessor{
		client:    commonhttp.NewClient(timeout),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
	}
}

func (p *HTTPProcessor) CreateIntent(ctx context.Context, params IntentParams) (*ProcessorIntent, error) {
	body := map[string]interface{}{
		"amount":                 params.AmountCents,
		"currency":               params.Currency,
		"application_fee_amount": params.FeeCents,
		"capture_method":         "automatic",
		"metadata":               map[string]string{"job_id": params.JobID},
	}
	var out ProcessorIntent
	if err := p.post(ctx, "/v1/payment_intents", params.IdempotencyKey, body, &out); err != nil {
		return nil, processorError("create_intent", err)
	}
	return &out, nil
}

func (p *HTTPProcessor) ConfirmIntent(ctx context.Context, processorRef, idempotencyKey string) (*ProcessorIntent, error) {
	var out ProcessorIntent
	if err := p.post(ctx, "/v1/payment_intents/"+processorRef+"/confirm", idempotencyKey, map[string]interface{}{}, &out); err != nil {
		return nil, processorError("confirm_intent", err)
	}
	return &out, nil
}

func (p *HTTPProcessor) Transfer(ctx context.Context, params TransferParams) (string, error) {
	body := map[string]interface{}{
		"amount":         params.AmountCents,
		"currency":       params.Currency,
		"destination":    params.Destination,
		"transfer_group": params.JobID,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := p.post(ctx, "/v1/transfers", params.IdempotencyKey, body, &out); err != nil {
		return "", processorError("transfer", err)
	}
	return out.ID, nil
}

func (p *HTTPProcessor) Refund(ctx context.Context, params RefundParams) (string, error) {
	body := map[string]interface{}{
		"payment_intent": params.ProcessorRef,
		"amount":         params.AmountCents,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := p.post(ctx, "/v1/refunds", params.IdempotencyKey, body, &out); err != nil {
		return "", processorError("refund", err)
	}
	return out.ID, nil
}

func (p *HTTPProcessor) post(ctx context.Context, path, idempotencyKey string, body, out interface{}) error {
	headers := map[string]string{
		"Authorization":   "Bearer " + p.secretKey,
		"Idempotency-Key": idempotencyKey,
	}
	return p.client.DoJSON(ctx, http.MethodPost, p.baseURL+path, headers, body, out)
}

// processorError maps a card decline (402) to PAYMENT_DECLINED and everything else to a
// retryable PAYMENT_PROCESSOR_ERROR.
func processorError(operation string, err error) error {
	var statusErr *commonhttp.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusPaymentRequired {
		return apperrors.NewPaymentDeclinedError(string(statusErr.Body))
	}
	return apperrors.NewPaymentProcessorError(operation, err)
}
