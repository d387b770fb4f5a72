package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trades-marketplace/internal/common/config"
	apperrors "trades-marketplace/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProcessor(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotKey  string
		gotBody map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		gotBody = map[string]interface{}{}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/payment_intents":
			_, _ = w.Write([]byte(`{"id":"pi_1","status":"requires_confirmation","client_secret":"cs_1"}`))
		case "/v1/payment_intents/pi_declined/confirm":
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"error":"card_declined"}`))
		case "/v1/transfers":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(`{"id":"re_1"}`))
		}
	}))
	defer srv.Close()

	p := NewHTTPProcessor(config.PaymentsConfig{BaseURL: srv.URL + "/", SecretKey: "sk_test", Timeout: 2000})
	ctx := context.Background()

	t.Run("create intent", func(t *testing.T) {
		pi, err := p.CreateIntent(ctx, IntentParams{IdempotencyKey: "key-1", AmountCents: 15000, FeeCents: 1500, Currency: "usd", JobID: "job-1"})
		require.NoError(t, err)
		assert.Equal(t, "pi_1", pi.ID)
		assert.Equal(t, "cs_1", pi.ClientSecret)
		assert.Equal(t, "/v1/payment_intents", gotPath)
		assert.Equal(t, "Bearer sk_test", gotAuth)
		assert.Equal(t, "key-1", gotKey)
		assert.Equal(t, float64(15000), gotBody["amount"])
		assert.Equal(t, float64(1500), gotBody["application_fee_amount"])
	})

	t.Run("decline", func(t *testing.T) {
		_, err := p.ConfirmIntent(ctx, "pi_declined", "key-2")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePaymentDeclined))
	})

	t.Run("outage is retryable", func(t *testing.T) {
		_, err := p.Transfer(ctx, TransferParams{IdempotencyKey: "key-3", AmountCents: 100, Currency: "usd", Destination: "w"})
		require.Error(t, err)
		stdErr, ok := apperrors.AsStandardError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodePaymentProcessorError, stdErr.Code)
		assert.True(t, stdErr.Retryable)
	})

	t.Run("refund", func(t *testing.T) {
		ref, err := p.Refund(ctx, RefundParams{IdempotencyKey: "key-4", ProcessorRef: "pi_1", AmountCents: 100})
		require.NoError(t, err)
		assert.Equal(t, "re_1", ref)
		assert.Equal(t, "pi_1", gotBody["payment_intent"])
	})
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1_780_000_000, 0)

	assert.NoError(t, VerifySignature(payload, SignPayload(payload, "secret", now), "secret", time.Minute, now))

	t.Run("rotated secrets", func(t *testing.T) {
		header := SignPayload(payload, "old", now) + ",v1=" + computeSignature(payload, "secret", "1780000000")
		assert.NoError(t, VerifySignature(payload, header, "secret", time.Minute, now))
	})

	failures := map[string]string{
		"tampered body": SignPayload([]byte(`{"id":"evt_2"}`), "secret", now),
		"too old":       SignPayload(payload, "secret", now.Add(-10*time.Minute)),
		"from future":   SignPayload(payload, "secret", now.Add(10*time.Minute)),
		"malformed":     "garbage",
		"bad timestamp": "t=abc,v1=00",
	}
	for name, header := range failures {
		t.Run(name, func(t *testing.T) {
			err := VerifySignature(payload, header, "secret", 5*time.Minute, now)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuthentication), "%v", err)
		})
	}

	assert.Error(t, VerifySignature(payload, SignPayload(payload, "", now), "", time.Minute, now))
}
