package notifyuser

type Input struct {
	NotificationType string                 `json:"notificationType"`
	RecipientIDs     []string               `json:"recipientIds"`
	Priority         string                 `json:"priority,omitempty"`
	Data             map[string]interface{} `json:"data,omitempty"`
}

type Output struct {
	NotificationIDs    []string `json:"notificationIds"`
	NotificationStatus string   `json:"notificationStatus"`
	Delivered          int      `json:"delivered"`
}

// Aggregate statuses across all recipients.
const (
	StatusSent     = "sent"
	StatusPartial  = "partial"
	StatusDisabled = "disabled"
	StatusSkipped  = "skipped"
)
