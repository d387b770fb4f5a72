// internal/services/notifications/service.go
package notifications

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/common/config"
	"trades-marketplace/internal/common/database"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/models"
	"trades-marketplace/internal/realtime"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	StatusSent      = "sent"
	StatusDisabled  = "disabled"
	StatusPartial   = "partial"
	StatusDuplicate = "duplicate"

	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

const notificationColumns = `id, user_id, type, title, body, channels, status, read_at, created_at`

var priorityLevels = map[string]int{"low": 0, "normal": 1, "high": 2}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, eventType, conversationID string, payload interface{}, recipients ...string) error
}

// Request asks for one notification type to be delivered to a set of users.
type Request struct {
	Type         string
	RecipientIDs []string
	Priority     string
	Data         map[string]interface{}
	// DedupeKey makes the request safe to repeat: recipients already notified under the
	// same key are skipped.
	DedupeKey string
}

// Delivery is the outcome for one recipient.
type Delivery struct {
	UserID         string   `json:"userId"`
	NotificationID string   `json:"notificationId,omitempty"`
	Status         string   `json:"status"`
	Channels       []string `json:"channels"`
}

type Service struct {
	db        *sql.DB
	email     EmailSender
	sms       SMSSender
	publisher Publisher
	cfg       config.NotificationConfig
	templates map[string]models.NotificationTemplate
	logger    logger.Logger
	now       func() time.Time
}

// NewService wires the delivery channels. email and sms may be nil when those channels are off.
func NewService(db *sql.DB, email EmailSender, sms SMSSender, publisher Publisher, cfg config.NotificationConfig, log logger.Logger) *Service {
	return &Service{
		db:        db,
		email:     email,
		sms:       sms,
		publisher: publisher,
		cfg:       cfg,
		templates: defaultTemplates(),
		logger:    log,
		now:       time.Now,
	}
}

// Send renders the template once per recipient, stores the in-app notification and fans out
// to email and SMS where enabled. Every recipient is attempted; the first failure is returned.
func (s *Service) Send(ctx context.Context, req Request) ([]Delivery, error) {
	tmpl, ok := s.templates[req.Type]
	if !ok {
		return nil, apperrors.NewValidationError("notificationType: unknown type " + req.Type)
	}
	if req.Priority == "" {
		req.Priority = "normal"
	}

	var firstErr error
	deliveries := make([]Delivery, 0, len(req.RecipientIDs))
	for _, userID := range req.RecipientIDs {
		d, err := s.sendOne(ctx, tmpl, userID, req)
		if err != nil {
			logger.FromContext(ctx, s.logger).Error("notification failed", map[string]interface{}{
				"recipientId": userID,
				"type":        req.Type,
				"error":       err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, firstErr
}

// sendOne stores the notification before any external channel is used, so a repeated
// request with the same dedupe key stops at the insert.
func (s *Service) sendOne(ctx context.Context, tmpl models.NotificationTemplate, userID string, req Request) (Delivery, error) {
	log := logger.FromContext(ctx, s.logger)

	var email, phone, name string
	err := s.db.QueryRowContext(ctx, `SELECT email, phone, full_name FROM users WHERE id = $1`, userID).
		Scan(&email, &phone, &name)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn("notification recipient not found", map[string]interface{}{
			"recipientId": userID,
			"type":        req.Type,
		})
		return Delivery{UserID: userID, Status: StatusDisabled, Channels: []string{}}, nil
	}
	if err != nil {
		return Delivery{}, database.QueryError("notification-recipient", err)
	}

	data := map[string]interface{}{"recipientName": name}
	for k, v := range req.Data {
		data[k] = v
	}
	if _, has := data["amount"]; !has {
		if cents, ok := toCents(data["amountCents"]); ok {
			data["amount"] = formatCents(cents)
		}
	}

	n := models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      req.Type,
		Title:     renderTemplate(tmpl.Subject, data),
		Body:      renderTemplate(tmpl.Body, data),
		Channels:  []string{ChannelInApp},
		Status:    StatusSent,
		CreatedAt: s.now().UTC(),
	}
	var dedupe sql.NullString
	if req.DedupeKey != "" {
		dedupe = sql.NullString{String: req.DedupeKey + ":" + userID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, body, channels, status, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, pq.Array(n.Channels), n.Status, dedupe, n.CreatedAt)
	if err != nil {
		return Delivery{}, apperrors.NewDatabaseInsertFailedError(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		log.Debug("notification already delivered", map[string]interface{}{
			"recipientId": userID,
			"dedupeKey":   dedupe.String,
		})
		return Delivery{UserID: userID, Status: StatusDuplicate, Channels: []string{}}, nil
	}

	external := false
	if s.cfg.Email.Enabled && s.email != nil && email != "" {
		external = true
		if _, err := s.email.SendEmail(ctx, email, n.Title, n.Body); err != nil {
			log.Error("email send failed", map[string]interface{}{"recipientId": userID, "error": err.Error()})
			n.Status = StatusPartial
		} else {
			n.Channels = append(n.Channels, ChannelEmail)
		}
	}

	if s.cfg.SMS.Enabled && s.sms != nil && phone != "" && s.meetsSMSThreshold(req.Priority) {
		external = true
		if _, err := s.sms.SendSMS(ctx, phone, n.Body); err != nil {
			log.Error("sms send failed", map[string]interface{}{"recipientId": userID, "error": err.Error()})
			n.Status = StatusPartial
		} else {
			n.Channels = append(n.Channels, ChannelSMS)
		}
	}

	if external {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE notifications SET channels = $2, status = $3 WHERE id = $1`,
			n.ID, pq.Array(n.Channels), n.Status); err != nil {
			log.Warn("failed to record notification channels", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err.Error(),
			})
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, realtime.EventNotificationNew, "", n, userID); err != nil {
			log.Warn("failed to publish notification", map[string]interface{}{"recipientId": userID, "error": err.Error()})
		}
	}

	return Delivery{UserID: userID, NotificationID: n.ID, Status: n.Status, Channels: n.Channels}, nil
}

func (s *Service) meetsSMSThreshold(priority string) bool {
	threshold := s.cfg.SMS.PriorityThreshold
	if threshold == "" {
		threshold = "high"
	}
	return priorityLevels[priority] >= priorityLevels[threshold]
}

// List returns actor's notifications, newest first.
func (s *Service) List(ctx context.Context, actor auth.Principal, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, actor.UserID, limit, offset)
	if err != nil {
		return nil, database.QueryError("list-notifications", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var (
			n        models.Notification
			channels pq.StringArray
			readAt   sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &channels, &n.Status, &readAt, &n.CreatedAt); err != nil {
			return nil, database.QueryError("list-notifications", err)
		}
		n.Channels = []string(channels)
		if readAt.Valid {
			n.ReadAt = &readAt.Time
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, database.QueryError("list-notifications", err)
	}
	return out, nil
}

// MarkRead marks one of actor's notifications read. Marking twice is harmless.
func (s *Service) MarkRead(ctx context.Context, actor auth.Principal, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2`, id, actor.UserID, s.now().UTC())
	if err != nil {
		return database.QueryError("mark-notification-read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewResourceNotFoundError("notification", "notification "+id+" not found")
	}
	return nil
}
