// internal/services/notifications/templates.go
package notifications

import (
	"fmt"
	"strings"

	"trades-marketplace/internal/models"
)

const (
	TypeApplicationReceived = "application_received"
	TypeApplicationAccepted = "application_accepted"
	TypeApplicationRejected = "application_rejected"
	TypeJobCancelled        = "job_cancelled"
	TypePaymentReleased     = "payment_released"
	TypePaymentRefunded     = "payment_refunded"
	TypeReviewRequest       = "review_request"
	TypeReviewReceived      = "review_received"
)

func defaultTemplates() map[string]models.NotificationTemplate {
	list := []models.NotificationTemplate{
		{
			Type:    TypeApplicationReceived,
			Subject: "New application for {{jobTitle}}",
			Body:    "Hi {{recipientName}}, a worker applied to \"{{jobTitle}}\" proposing {{amount}}.",
		},
		{
			Type:    TypeApplicationAccepted,
			Subject: "Your application was accepted",
			Body:    "Hi {{recipientName}}, your application for \"{{jobTitle}}\" was accepted. The job is now in progress.",
		},
		{
			Type:    TypeApplicationRejected,
			Subject: "Update on {{jobTitle}}",
			Body:    "Hi {{recipientName}}, the hirer went with another worker for \"{{jobTitle}}\".",
		},
		{
			Type:    TypeJobCancelled,
			Subject: "Job cancelled: {{jobTitle}}",
			Body:    "Hi {{recipientName}}, \"{{jobTitle}}\" was cancelled by the hirer.",
		},
		{
			Type:    TypePaymentReleased,
			Subject: "Payment released",
			Body:    "Hi {{recipientName}}, {{amount}} for \"{{jobTitle}}\" has been released to you.",
		},
		{
			Type:    TypePaymentRefunded,
			Subject: "Payment refunded",
			Body:    "Hi {{recipientName}}, {{amount}} held for \"{{jobTitle}}\" has been refunded.",
		},
		{
			Type:    TypeReviewRequest,
			Subject: "How did {{jobTitle}} go?",
			Body:    "Hi {{recipientName}}, \"{{jobTitle}}\" is complete. Leave a review so others know what to expect.",
		},
		{
			Type:    TypeReviewReceived,
			Subject: "You received a {{rating}}-star review",
			Body:    "Hi {{recipientName}}, you received a {{rating}}-star review for \"{{jobTitle}}\".",
		},
	}

	out := make(map[string]models.NotificationTemplate, len(list))
	for _, t := range list {
		out[t.Type] = t
	}
	return out
}

// renderTemplate substitutes {{key}} placeholders and drops the ones data has no value for.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		result = strings.ReplaceAll(result, "{{"+k+"}}", stringify(v))
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return result
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatCents renders an amount in minor units as 123.45.
func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func toCents(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
