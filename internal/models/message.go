// internal/models/message.go
package models

import "time"

type Conversation struct {
	ID            string    `json:"id" db:"id"`
	JobID         *string   `json:"jobId,omitempty" db:"job_id"`
	ParticipantA  string    `json:"participantA" db:"participant_a"`
	ParticipantB  string    `json:"participantB" db:"participant_b"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	LastMessageAt time.Time `json:"lastMessageAt" db:"last_message_at"`

	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

type Message struct {
	ID             string     `json:"id" db:"id"`
	ConversationID string     `json:"conversationId" db:"conversation_id"`
	SenderID       string     `json:"senderId" db:"sender_id"`
	Body           string     `json:"body" db:"body"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	ReadAt         *time.Time `json:"readAt,omitempty" db:"read_at"`
}

// ReadReceipt is emitted when a participant marks a conversation read.
type ReadReceipt struct {
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	ReadAt         time.Time `json:"readAt"`
	Count          int64     `json:"count"`
}
