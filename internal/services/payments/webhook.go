// internal/services/payments/webhook.go
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "trades-marketplace/internal/common/errors"
)

const (
	SignatureHeader         = "Processor-Signature"
	DefaultWebhookTolerance = 5 * time.Minute
)

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// WebhookEvent is the subset of a processor event the marketplace reacts to.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object ProcessorIntent `json:"object"`
	} `json:"data"`
}

// SignPayload produces a signature header value for payload at ts.
func SignPayload(payload []byte, secret string, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", unix, computeSignature(payload, secret, unix))
}

// VerifySignature checks a "t=<unix>,v1=<hex>" header against payload. Any v1 entry may match.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return apperrors.NewAuthenticationError("webhook secret not configured")
	}

	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return apperrors.NewAuthenticationError("malformed signature header")
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apperrors.NewAuthenticationError("malformed signature timestamp")
	}
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > tolerance || age < -tolerance {
		return apperrors.NewAuthenticationError("signature timestamp outside tolerance")
	}

	expected := []byte(computeSignature(payload, secret, timestamp))
	for _, sig := range signatures {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return apperrors.NewAuthenticationError("signature mismatch")
}

func computeSignature(payload []byte, secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
