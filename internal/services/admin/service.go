package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/common/database"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/common/validation"
	"trades-marketplace/internal/models"
	"trades-marketplace/internal/services/jobs"
	"trades-marketplace/internal/services/users"

	"github.com/google/uuid"
)

const (
	EventUserSuspended   = "user_suspended"
	EventUserUnsuspended = "user_unsuspended"
	EventJobRemoved      = "job_removed"
)

// SearchIndexer is the part of the search indexer moderation needs.
type SearchIndexer interface {
	Apply(ctx context.Context, documentType, documentID, operation string) (string, error)
}

type UserFilter struct {
	Role      string
	Suspended *bool
	Q         string
	Limit     int
	Offset    int
}

type ModerationRequest struct {
	Reason string `json:"reason"`
}

type AuditFilter struct {
	ResourceType string
	Limit        int
	Offset       int
}

// Stats is the admin dashboard summary. Money is in cents.
type Stats struct {
	UsersByRole          map[string]int   `json:"usersByRole"`
	SuspendedUsers       int              `json:"suspendedUsers"`
	JobsByStatus         map[string]int   `json:"jobsByStatus"`
	ApplicationsByStatus map[string]int   `json:"applicationsByStatus"`
	EscrowTotalsCents    map[string]int64 `json:"escrowTotalsCents"`
	PlatformFeesCents    int64            `json:"platformFeesCents"`
	AverageRating        float64          `json:"averageRating"`
	GeneratedAt          time.Time        `json:"generatedAt"`
}

type Service struct {
	db      *sql.DB
	indexer SearchIndexer
	logger  logger.Logger
	now     func() time.Time
}

func NewService(db *sql.DB, indexer SearchIndexer, log logger.Logger) *Service {
	return &Service{
		db:      db,
		indexer: indexer,
		logger:  log.WithFields(map[string]interface{}{"component": "admin"}),
		now:     time.Now,
	}
}

func (s *Service) ListUsers(ctx context.Context, f UserFilter) (*models.Page[models.User], error) {
	f.Limit, f.Offset = jobs.NormalizePage(f.Limit, f.Offset)

	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Role != "" {
		where = append(where, "role = "+arg(f.Role))
	}
	if f.Suspended != nil {
		where = append(where, "suspended = "+arg(*f.Suspended))
	}
	if q := strings.TrimSpace(f.Q); q != "" {
		pattern := arg("%" + jobs.EscapeLike(q) + "%")
		where = append(where, "(email ILIKE "+pattern+" OR full_name ILIKE "+pattern+")")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+clause, args...).Scan(&total); err != nil {
		return nil, database.QueryError("count-users", err)
	}

	query := `SELECT ` + users.Columns() + ` FROM users` + clause +
		` ORDER BY created_at DESC LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.QueryError("list-users", err)
	}
	defer rows.Close()

	items := make([]models.User, 0, f.Limit)
	for rows.Next() {
		u, err := users.ScanUser(rows)
		if err != nil {
			return nil, database.QueryError("list-users", err)
		}
		items = append(items, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, database.QueryError("list-users", err)
	}

	return &models.Page[models.User]{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Suspend blocks a hirer or worker. Admin accounts, including the caller's own, cannot be suspended.
func (s *Service) Suspend(ctx context.Context, actor auth.Principal, userID string, req ModerationRequest) (*models.User, error) {
	if userID == actor.UserID {
		return nil, apperrors.NewForbiddenError("admins cannot suspend themselves")
	}
	return s.setSuspended(ctx, actor, userID, true, req)
}

func (s *Service) Unsuspend(ctx context.Context, actor auth.Principal, userID string, req ModerationRequest) (*models.User, error) {
	return s.setSuspended(ctx, actor, userID, false, req)
}

func (s *Service) setSuspended(ctx context.Context, actor auth.Principal, userID string, suspended bool, req ModerationRequest) (*models.User, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validation.SuspendSchema.Check(req); err != nil {
		return nil, err
	}

	event := EventUserUnsuspended
	if suspended {
		event = EventUserSuspended
	}

	var user *models.User
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+users.Columns()+` FROM users WHERE id = $1 FOR UPDATE`, userID)
		var err error
		user, err = users.ScanUser(row)
		if err != nil {
			return database.NotFound("user", userID, err)
		}
		if user.Role == models.RoleAdmin {
			return apperrors.NewForbiddenError("admin accounts cannot be suspended")
		}

		user.Suspended = suspended
		user.UpdatedAt = s.now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE users SET suspended = $2, updated_at = $3 WHERE id = $1`,
			user.ID, suspended, user.UpdatedAt); err != nil {
			return database.QueryError("suspend-user", err)
		}
		return s.audit(ctx, tx, event, "user", user.ID, actor.UserID, map[string]interface{}{
			"reason": req.Reason,
			"role":   string(user.Role),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("user moderation applied", map[string]interface{}{
		"event":   event,
		"userId":  user.ID,
		"actorId": actor.UserID,
	})

	if user.Role == models.RoleWorker {
		s.reindex(ctx, "worker", user.ID, "upsert")
	}
	return user, nil
}

// RemoveJob takes a job down for a policy violation and drops it from search.
func (s *Service) RemoveJob(ctx context.Context, actor auth.Principal, jobID string, req ModerationRequest) (*models.Job, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validation.SuspendSchema.Check(req); err != nil {
		return nil, err
	}

	var job *models.Job
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+jobs.Columns()+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
		var err error
		job, err = jobs.ScanJob(row)
		if err != nil {
			return database.NotFound("job", jobID, err)
		}
		if job.Status == models.JobStatusRemoved {
			return apperrors.NewInvalidStateTransitionError("job", string(job.Status), string(models.JobStatusRemoved))
		}

		previous := job.Status
		job.Status = models.JobStatusRemoved
		job.UpdatedAt = s.now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $2, updated_at = $3 WHERE id = $1`,
			job.ID, string(job.Status), job.UpdatedAt); err != nil {
			return database.QueryError("remove-job", err)
		}
		return s.audit(ctx, tx, EventJobRemoved, "job", job.ID, actor.UserID, map[string]interface{}{
			"reason":         req.Reason,
			"previousStatus": string(previous),
		})
	})
	if err != nil {
		return nil, err
	}

	s.reindex(ctx, "job", job.ID, "delete")
	return job, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		UsersByRole:          map[string]int{},
		JobsByStatus:         map[string]int{},
		ApplicationsByStatus: map[string]int{},
		EscrowTotalsCents:    map[string]int64{},
		GeneratedAt:          s.now().UTC(),
	}

	if err := s.countBy(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`, stats.UsersByRole); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE suspended`).Scan(&stats.SuspendedUsers); err != nil {
		return nil, database.QueryError("stats-suspended", err)
	}
	if err := s.countBy(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`, stats.JobsByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, `SELECT status, COUNT(*) FROM applications GROUP BY status`, stats.ApplicationsByStatus); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COALESCE(SUM(amount_cents), 0) FROM escrow_accounts GROUP BY status`)
	if err != nil {
		return nil, database.QueryError("stats-escrow", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			total  int64
		)
		if err := rows.Scan(&status, &total); err != nil {
			return nil, database.QueryError("stats-escrow", err)
		}
		stats.EscrowTotalsCents[status] = total
	}
	if err := rows.Err(); err != nil {
		return nil, database.QueryError("stats-escrow", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(fee_cents), 0) FROM escrow_accounts WHERE status = 'released'`).
		Scan(&stats.PlatformFeesCents); err != nil {
		return nil, database.QueryError("stats-fees", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(ROUND(AVG(rating), 2), 0) FROM reviews`).
		Scan(&stats.AverageRating); err != nil {
		return nil, database.QueryError("stats-rating", err)
	}
	return stats, nil
}

func (s *Service) countBy(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return database.QueryError("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return database.QueryError("stats", err)
		}
		into[key] = count
	}
	return database.QueryError("stats", rows.Err())
}

func (s *Service) AuditLog(ctx context.Context, f AuditFilter) (*models.Page[models.AuditEntry], error) {
	f.Limit, f.Offset = jobs.NormalizePage(f.Limit, f.Offset)

	clause := ""
	args := []interface{}{}
	if f.ResourceType != "" {
		clause = ` WHERE resource_type = $1`
		args = append(args, f.ResourceType)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+clause, args...).Scan(&total); err != nil {
		return nil, database.QueryError("count-audit", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT id, event_type, resource_type, resource_id, actor_id, details, created_at
		FROM audit_log%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.QueryError("list-audit", err)
	}
	defer rows.Close()

	items := make([]models.AuditEntry, 0, f.Limit)
	for rows.Next() {
		var (
			e       models.AuditEntry
			actorID sql.NullString
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.ResourceType, &e.ResourceID, &actorID, &details, &e.CreatedAt); err != nil {
			return nil, database.QueryError("list-audit", err)
		}
		if actorID.Valid {
			e.ActorID = &actorID.String
		}
		e.Details = map[string]interface{}{}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, database.QueryError("list-audit", err)
			}
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, database.QueryError("list-audit", err)
	}

	return &models.Page[models.AuditEntry]{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func (s *Service) audit(ctx context.Context, tx *sql.Tx, event, resourceType, resourceID, actorID string, details map[string]interface{}) error {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte("{}")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, event_type, resource_type, resource_id, actor_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), event, resourceType, resourceID, actorID, payload, s.now().UTC(),
	)
	if err != nil {
		return apperrors.NewDatabaseInsertFailedError(err)
	}
	return nil
}

func (s *Service) reindex(ctx context.Context, documentType, id, operation string) {
	if s.indexer == nil {
		return
	}
	if _, err := s.indexer.Apply(ctx, documentType, id, operation); err != nil {
		logger.FromContext(ctx, s.logger).Warn("search update failed", map[string]interface{}{
			"documentType": documentType,
			"documentId":   id,
			"error":        err.Error(),
		})
	}
}
