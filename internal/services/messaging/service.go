// internal/services/messaging/service.go
package messaging

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/common/database"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/common/validation"
	"trades-marketplace/internal/models"
	"trades-marketplace/internal/realtime"

	"github.com/google/uuid"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 100
)

const conversationColumns = `id, job_id, participant_a, participant_b, created_at, last_message_at`

// Publisher delivers realtime events to users.
type Publisher interface {
	Publish(ctx context.Context, eventType, conversationID string, payload interface{}, recipients ...string) error
}

type StartRequest struct {
	ParticipantID string  `json:"participantId,omitempty"`
	JobID         *string `json:"jobId,omitempty"`
}

type SendRequest struct {
	Body string `json:"body"`
}

// TypingEvent is the payload of typing.start and typing.stop frames.
type TypingEvent struct {
	UserID string `json:"userId"`
}

type Service struct {
	db        *sql.DB
	publisher Publisher
	logger    logger.Logger
	now       func() time.Time
}

func NewService(db *sql.DB, publisher Publisher, log logger.Logger) *Service {
	return &Service{db: db, publisher: publisher, logger: log, now: time.Now}
}

// StartConversation opens a conversation between actor and another user, optionally about a
// job. The second return value is false when the conversation already existed.
func (s *Service) StartConversation(ctx context.Context, actor auth.Principal, req StartRequest) (*models.Conversation, bool, error) {
	if err := validation.ConversationCreateSchema.Check(req); err != nil {
		return nil, false, err
	}
	other := strings.ToLower(req.ParticipantID)
	if other == strings.ToLower(actor.UserID) {
		return nil, false, apperrors.NewValidationError("participantId: cannot start a conversation with yourself")
	}

	var suspended bool
	err := s.db.QueryRowContext(ctx, `SELECT suspended FROM users WHERE id = $1`, other).Scan(&suspended)
	if err != nil {
		return nil, false, database.NotFound("user", other, err)
	}
	if suspended {
		return nil, false, apperrors.NewForbiddenError("user is not available for messaging")
	}
	if req.JobID != nil {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = $1`, *req.JobID).Scan(&exists); err != nil {
			return nil, false, database.NotFound("job", *req.JobID, err)
		}
	}

	a, b := sortedPair(actor.UserID, other)
	now := s.now().UTC()
	conv := &models.Conversation{
		ID:            uuid.NewString(),
		JobID:         req.JobID,
		ParticipantA:  a,
		ParticipantB:  b,
		CreatedAt:     now,
		LastMessageAt: now,
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, job_id, participant_a, participant_b, created_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT DO NOTHING
		RETURNING id`,
		conv.ID, conv.JobID, a, b, now,
	).Scan(&id)
	switch {
	case err == nil:
		return conv, true, nil
	case err != sql.ErrNoRows:
		return nil, false, apperrors.NewDatabaseInsertFailedError(err)
	}

	existing, err := scanConversation(s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE participant_a = $1 AND participant_b = $2 AND job_id IS NOT DISTINCT FROM $3`,
		a, b, conv.JobID))
	if err != nil {
		return nil, false, database.QueryError("find-conversation", err)
	}
	return existing, false, nil
}

// ListConversations returns actor's conversations with a preview of the latest message,
// most recently active first.
func (s *Service) ListConversations(ctx context.Context, actor auth.Principal) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.job_id, c.participant_a, c.participant_b, c.created_at, c.last_message_at,
			lm.id, lm.sender_id, lm.body, lm.created_at, lm.read_at,
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.read_at IS NULL) AS unread
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT id, sender_id, body, created_at, read_at FROM messages
			WHERE conversation_id = c.id ORDER BY created_at DESC LIMIT 1
		) lm ON TRUE
		WHERE c.participant_a = $1 OR c.participant_b = $1
		ORDER BY c.last_message_at DESC`, actor.UserID)
	if err != nil {
		return nil, database.QueryError("list-conversations", err)
	}
	defer rows.Close()

	out := []models.Conversation{}
	for rows.Next() {
		var (
			c      models.Conversation
			jobID  sql.NullString
			msgID  sql.NullString
			sender sql.NullString
			body   sql.NullString
			sentAt sql.NullTime
			readAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &jobID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt, &c.LastMessageAt,
			&msgID, &sender, &body, &sentAt, &readAt, &c.UnreadCount); err != nil {
			return nil, database.QueryError("list-conversations", err)
		}
		if jobID.Valid {
			c.JobID = &jobID.String
		}
		if msgID.Valid {
			c.LastMessage = &models.Message{
				ID:             msgID.String,
				ConversationID: c.ID,
				SenderID:       sender.String,
				Body:           body.String,
				CreatedAt:      sentAt.Time,
			}
			if readAt.Valid {
				c.LastMessage.ReadAt = &readAt.Time
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, database.QueryError("list-conversations", err)
	}
	return out, nil
}

// Send stores a message from actor and pushes it to both participants.
func (s *Service) Send(ctx context.Context, actor auth.Principal, conversationID string, req SendRequest) (*models.Message, error) {
	body := strings.TrimSpace(req.Body)
	if err := validation.MessageSendSchema.Check(SendRequest{Body: body}); err != nil {
		return nil, err
	}

	conv, err := s.participantConversation(ctx, actor.UserID, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       actor.UserID,
		Body:           body,
		CreatedAt:      s.now().UTC(),
	}
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			msg.ID, msg.ConversationID, msg.SenderID, msg.Body, msg.CreatedAt); err != nil {
			return apperrors.NewDatabaseInsertFailedError(err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE conversations SET last_message_at = $2 WHERE id = $1`,
			conv.ID, msg.CreatedAt); err != nil {
			return database.QueryError("touch-conversation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, realtime.EventMessageNew, conv.ID, msg, conv.ParticipantA, conv.ParticipantB)
	return msg, nil
}

// ListMessages pages backwards through a conversation, newest first.
func (s *Service) ListMessages(ctx context.Context, actor auth.Principal, conversationID string, before *time.Time, limit int) ([]models.Message, error) {
	if _, err := s.participantConversation(ctx, actor.UserID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}

	query := `SELECT id, conversation_id, sender_id, body, created_at, read_at FROM messages WHERE conversation_id = $1`
	args := []interface{}{conversationID}
	if before != nil {
		query += ` AND created_at < $2 ORDER BY created_at DESC LIMIT $3`
		args = append(args, *before, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.QueryError("list-messages", err)
	}
	defer rows.Close()

	out := make([]models.Message, 0, limit)
	for rows.Next() {
		var (
			m      models.Message
			readAt sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt, &readAt); err != nil {
			return nil, database.QueryError("list-messages", err)
		}
		if readAt.Valid {
			m.ReadAt = &readAt.Time
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, database.QueryError("list-messages", err)
	}
	return out, nil
}

// MarkRead stamps every unread message from the other participant and emits a read receipt.
func (s *Service) MarkRead(ctx context.Context, actor auth.Principal, conversationID string) (*models.ReadReceipt, error) {
	conv, err := s.participantConversation(ctx, actor.UserID, conversationID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read_at = $3
		WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL AND created_at <= $3`,
		conv.ID, actor.UserID, now)
	if err != nil {
		return nil, database.QueryError("mark-read", err)
	}
	count, _ := res.RowsAffected()

	receipt := &models.ReadReceipt{
		ConversationID: conv.ID,
		ReaderID:       actor.UserID,
		ReadAt:         now,
		Count:          count,
	}
	if count > 0 {
		s.publish(ctx, realtime.EventMessageRead, conv.ID, receipt, conv.ParticipantA, conv.ParticipantB)
	}
	return receipt, nil
}

// Typing relays a typing indicator to the other participant. Nothing is stored.
func (s *Service) Typing(ctx context.Context, actor auth.Principal, conversationID string, started bool) error {
	conv, err := s.participantConversation(ctx, actor.UserID, conversationID)
	if err != nil {
		return err
	}
	eventType := realtime.EventTypingStop
	if started {
		eventType = realtime.EventTypingStart
	}
	s.publish(ctx, eventType, conv.ID, TypingEvent{UserID: actor.UserID}, conv.Other(actor.UserID))
	return nil
}

// HandleInbound serves frames sent over the realtime channel.
func (s *Service) HandleInbound(ctx context.Context, userID string, frame realtime.InboundFrame) error {
	if frame.ConversationID == "" || !validation.ValidateUUID(frame.ConversationID) {
		return apperrors.NewValidationError("conversationId: must be a uuid")
	}
	actor := auth.Principal{UserID: userID}
	switch frame.Type {
	case realtime.EventTypingStart:
		return s.Typing(ctx, actor, frame.ConversationID, true)
	case realtime.EventTypingStop:
		return s.Typing(ctx, actor, frame.ConversationID, false)
	case "read":
		_, err := s.MarkRead(ctx, actor, frame.ConversationID)
		return err
	default:
		return apperrors.NewValidationError("type: unsupported frame type " + frame.Type)
	}
}

func (s *Service) participantConversation(ctx context.Context, userID, id string) (*models.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		return nil, database.NotFound("conversation", id, err)
	}
	if !conv.HasParticipant(userID) {
		return nil, apperrors.NewForbiddenError("not a participant of this conversation")
	}
	return conv, nil
}

func (s *Service) publish(ctx context.Context, eventType, conversationID string, payload interface{}, recipients ...string) {
	if err := s.publisher.Publish(ctx, eventType, conversationID, payload, recipients...); err != nil {
		logger.FromContext(ctx, s.logger).Warn("failed to publish realtime event", map[string]interface{}{
			"type":           eventType,
			"conversationId": conversationID,
			"error":          err.Error(),
		})
	}
}

func scanConversation(row database.Scanner) (*models.Conversation, error) {
	var (
		c     models.Conversation
		jobID sql.NullString
	)
	if err := row.Scan(&c.ID, &jobID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt, &c.LastMessageAt); err != nil {
		return nil, err
	}
	if jobID.Valid {
		c.JobID = &jobID.String
	}
	return &c, nil
}

// sortedPair orders two user ids the way the conversations table stores them.
func sortedPair(x, y string) (string, string) {
	x, y = strings.ToLower(x), strings.ToLower(y)
	if x < y {
		return x, y
	}
	return y, x
}
