// internal/services/jobs/service.go
package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/common/camunda"
	"trades-marketplace/internal/common/database"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/common/validation"
	"trades-marketplace/internal/models"
	"trades-marketplace/pkg/registry"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

const jobColumns = `id, hirer_id, title, description, trade, location, budget_min_cents, budget_max_cents,
	status, worker_id, agreed_amount_cents, starts_at, completed_at, created_at, updated_at`

type CreateRequest struct {
	Title          string     `json:"title,omitempty"`
	Description    string     `json:"description,omitempty"`
	Trade          string     `json:"trade,omitempty"`
	Location       string     `json:"location,omitempty"`
	BudgetMinCents int64      `json:"budgetMinCents"`
	BudgetMaxCents int64      `json:"budgetMaxCents"`
	StartsAt       *time.Time `json:"startsAt,omitempty"`
}

type UpdateRequest struct {
	Title          *string `json:"title,omitempty"`
	Description    *string `json:"description,omitempty"`
	Trade          *string `json:"trade,omitempty"`
	Location       *string `json:"location,omitempty"`
	BudgetMinCents *int64  `json:"budgetMinCents,omitempty"`
	BudgetMaxCents *int64  `json:"budgetMaxCents,omitempty"`
}

type Filter struct {
	Status   string
	Trade    string
	Location string
	HirerID  string
	WorkerID string
	Limit    int
	Offset   int
}

type Service struct {
	db     *sql.DB
	engine camunda.Engine
	logger logger.Logger
	now    func() time.Time
}

func NewService(db *sql.DB, engine camunda.Engine, log logger.Logger) *Service {
	return &Service{db: db, engine: engine, logger: log, now: time.Now}
}

func (s *Service) Create(ctx context.Context, actor auth.Principal, req CreateRequest) (*models.Job, error) {
	if actor.Role != models.RoleHirer {
		return nil, apperrors.NewForbiddenError("only hirers can post jobs")
	}
	if err := validation.JobCreateSchema.Check(req); err != nil {
		return nil, err
	}
	if req.BudgetMinCents > req.BudgetMaxCents {
		return nil, apperrors.NewValidationError("budgetMinCents must not exceed budgetMaxCents")
	}

	now := s.now().UTC()
	job := &models.Job{
		ID:             uuid.NewString(),
		HirerID:        actor.UserID,
		Title:          strings.TrimSpace(req.Title),
		Description:    strings.TrimSpace(req.Description),
		Trade:          req.Trade,
		Location:       strings.TrimSpace(req.Location),
		BudgetMinCents: req.BudgetMinCents,
		BudgetMaxCents: req.BudgetMaxCents,
		Status:         models.JobStatusOpen,
		StartsAt:       req.StartsAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, hirer_id, title, description, trade, location, budget_min_cents,
			budget_max_cents, status, starts_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.HirerID, job.Title, job.Description, job.Trade, job.Location, job.BudgetMinCents,
		job.BudgetMaxCents, string(job.Status), job.StartsAt, now, now,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseInsertFailedError(err)
	}

	s.startProcess(ctx, registry.ProcessJobPosted, map[string]interface{}{
		"jobId":        job.ID,
		"documentType": "job",
		"documentId":   job.ID,
		"operation":    "upsert",
	})
	return job, nil
}

// Get returns a job. Removed jobs are only visible to their owner and admins.
func (s *Service) Get(ctx context.Context, viewer auth.Principal, id string) (*models.Job, error) {
	job, err := s.load(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusRemoved && !viewer.IsAdmin() && job.HirerID != viewer.UserID {
		return nil, apperrors.NewResourceNotFoundError("job", "job "+id+" not found")
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, f Filter) (*models.Page[models.Job], error) {
	f.Limit, f.Offset = NormalizePage(f.Limit, f.Offset)

	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	} else {
		where = append(where, "status <> 'removed'")
	}
	if f.Trade != "" {
		where = append(where, "trade = "+arg(f.Trade))
	}
	if f.Location != "" {
		where = append(where, "location ILIKE "+arg("%"+EscapeLike(f.Location)+"%"))
	}
	if f.HirerID != "" {
		where = append(where, "hirer_id = "+arg(f.HirerID))
	}
	if f.WorkerID != "" {
		where = append(where, "worker_id = "+arg(f.WorkerID))
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+clause, args...).Scan(&total); err != nil {
		return nil, database.QueryError("count-jobs", err)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + clause +
		` ORDER BY created_at DESC LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.QueryError("list-jobs", err)
	}
	defer rows.Close()

	items := make([]models.Job, 0, f.Limit)
	for rows.Next() {
		job, err := ScanJob(rows)
		if err != nil {
			return nil, database.QueryError("list-jobs", err)
		}
		items = append(items, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, database.QueryError("list-jobs", err)
	}

	return &models.Page[models.Job]{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Update edits an open job owned by actor.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id string, req UpdateRequest) (*models.Job, error) {
	if err := validation.JobUpdateSchema.Check(req); err != nil {
		return nil, err
	}

	job, err := s.load(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if job.HirerID != actor.UserID {
		return nil, apperrors.NewForbiddenError("only the job owner can edit it")
	}
	if job.Status != models.JobStatusOpen {
		return nil, apperrors.NewInvalidStateTransitionError("job", string(job.Status), "edited")
	}

	if req.Title != nil {
		job.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		job.Description = strings.TrimSpace(*req.Description)
	}
	if req.Trade != nil {
		job.Trade = *req.Trade
	}
	if req.Location != nil {
		job.Location = strings.TrimSpace(*req.Location)
	}
	if req.BudgetMinCents != nil {
		job.BudgetMinCents = *req.BudgetMinCents
	}
	if req.BudgetMaxCents != nil {
		job.BudgetMaxCents = *req.BudgetMaxCents
	}
	if job.BudgetMinCents > job.BudgetMaxCents {
		return nil, apperrors.NewValidationError("budgetMinCents must not exceed budgetMaxCents")
	}
	job.UpdatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET title = $2, description = $3, trade = $4, location = $5, budget_min_cents = $6,
			budget_max_cents = $7, updated_at = $8
		WHERE id = $1 AND status = 'open'`,
		job.ID, job.Title, job.Description, job.Trade, job.Location, job.BudgetMinCents, job.BudgetMaxCents, job.UpdatedAt,
	)
	if err != nil {
		return nil, database.QueryError("update-job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperrors.NewInvalidStateTransitionError("job", "changed concurrently", "edited")
	}

	s.startProcess(ctx, registry.ProcessJobPosted, map[string]interface{}{
		"jobId":        job.ID,
		"documentType": "job",
		"documentId":   job.ID,
		"operation":    "upsert",
	})
	return job, nil
}

// Cancel moves an open or in-progress job to cancelled and rejects its pending applications.
func (s *Service) Cancel(ctx context.Context, actor auth.Principal, id string) (*models.Job, error) {
	var job *models.Job
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		job, err = s.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if job.HirerID != actor.UserID {
			return apperrors.NewForbiddenError("only the job owner can cancel it")
		}
		if job.Status != models.JobStatusOpen && job.Status != models.JobStatusInProgress {
			return apperrors.NewInvalidStateTransitionError("job", string(job.Status), string(models.JobStatusCancelled))
		}

		job.Status = models.JobStatusCancelled
		job.UpdatedAt = s.now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $2, updated_at = $3 WHERE id = $1`,
			job.ID, string(job.Status), job.UpdatedAt); err != nil {
			return database.QueryError("cancel-job", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE applications SET status = 'rejected', updated_at = $2
			WHERE job_id = $1 AND status = 'pending'`, job.ID, job.UpdatedAt); err != nil {
			return database.QueryError("reject-applications", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recipients := []interface{}{}
	if job.WorkerID != nil {
		recipients = append(recipients, *job.WorkerID)
	}
	s.startProcess(ctx, registry.ProcessJobCancelled, map[string]interface{}{
		"jobId":            job.ID,
		"documentType":     "job",
		"documentId":       job.ID,
		"operation":        "delete",
		"notificationType": "job_cancelled",
		"recipientIds":     recipients,
		"priority":         "high",
		"data":             map[string]interface{}{"jobTitle": job.Title},
	})
	return job, nil
}

// Complete marks an in-progress job done. Only the hirer confirms completion.
func (s *Service) Complete(ctx context.Context, actor auth.Principal, id string) (*models.Job, error) {
	job, err := s.load(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if job.HirerID != actor.UserID {
		return nil, apperrors.NewForbiddenError("only the job owner can mark it completed")
	}
	if job.Status != models.JobStatusInProgress {
		return nil, apperrors.NewInvalidStateTransitionError("job", string(job.Status), string(models.JobStatusCompleted))
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'in_progress'`, job.ID, now)
	if err != nil {
		return nil, database.QueryError("complete-job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperrors.NewInvalidStateTransitionError("job", "changed concurrently", string(models.JobStatusCompleted))
	}
	job.Status = models.JobStatusCompleted
	job.CompletedAt = &now
	job.UpdatedAt = now

	recipients := []interface{}{job.HirerID}
	if job.WorkerID != nil {
		recipients = append(recipients, *job.WorkerID)
	}
	s.startProcess(ctx, registry.ProcessJobCompleted, map[string]interface{}{
		"jobId":            job.ID,
		"documentType":     "job",
		"documentId":       job.ID,
		"operation":        "upsert",
		"notificationType": "review_request",
		"recipientIds":     recipients,
		"priority":         "normal",
		"data":             map[string]interface{}{"jobTitle": job.Title},
	})
	return job, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Service) load(ctx context.Context, q queryer, id string, forUpdate bool) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	job, err := ScanJob(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, database.NotFound("job", id, err)
	}
	return job, nil
}

func (s *Service) startProcess(ctx context.Context, processID string, vars map[string]interface{}) {
	if err := s.engine.StartProcess(ctx, processID, vars); err != nil {
		logger.FromContext(ctx, s.logger).Warn("failed to start process", map[string]interface{}{
			"process": processID,
			"jobId":   vars["jobId"],
			"error":   err.Error(),
		})
	}
}

// ScanJob reads a row selected with Columns().
func ScanJob(row database.Scanner) (*models.Job, error) {
	var (
		j        models.Job
		status   string
		workerID sql.NullString
		agreed   sql.NullInt64
		startsAt sql.NullTime
		doneAt   sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.HirerID, &j.Title, &j.Description, &j.Trade, &j.Location, &j.BudgetMinCents,
		&j.BudgetMaxCents, &status, &workerID, &agreed, &startsAt, &doneAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	if workerID.Valid {
		j.WorkerID = &workerID.String
	}
	if agreed.Valid {
		j.AgreedAmountCents = &agreed.Int64
	}
	if startsAt.Valid {
		j.StartsAt = &startsAt.Time
	}
	if doneAt.Valid {
		j.CompletedAt = &doneAt.Time
	}
	return &j, nil
}

func Columns() string {
	return jobColumns
}

// NormalizePage applies the default and maximum page size.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// EscapeLike escapes LIKE wildcards in user input.
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
