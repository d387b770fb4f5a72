// internal/realtime/event.go
package realtime

import (
	"encoding/json"
	"time"
)

const (
	EventMessageNew      = "message.new"
	EventMessageRead     = "message.read"
	EventTypingStart     = "typing.start"
	EventTypingStop      = "typing.stop"
	EventNotificationNew = "notification.new"
)

// Frame is what a WebSocket client receives.
type Frame struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	SentAt         time.Time       `json:"sentAt"`
}

// Envelope travels over Redis and tells every instance which users should get the frame.
type Envelope struct {
	Recipients []string `json:"recipients"`
	Frame      Frame    `json:"frame"`
}

// InboundFrame is what a client may send: typing indicators and read receipts.
type InboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}
