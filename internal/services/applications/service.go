// internal/services/applications/service.go
package applications

import (
	"context"
	"database/sql"
	"time"

	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/common/camunda"
	"trades-marketplace/internal/common/database"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/common/validation"
	"trades-marketplace/internal/models"
	"trades-marketplace/internal/services/jobs"
	"trades-marketplace/pkg/registry"

	"github.com/google/uuid"
)

const applicationColumns = `id, job_id, worker_id, cover_letter, proposed_amount_cents, status, created_at, updated_at`

type CreateRequest struct {
	JobID               string `json:"jobId,omitempty"`
	CoverLetter         string `json:"coverLetter,omitempty"`
	ProposedAmountCents int64  `json:"proposedAmountCents,omitempty"`
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

// Apply submits the worker's application to an open job.
func (s *Service) Apply(ctx context.Context, actor auth.Principal, req CreateRequest) (*models.Application, error) {
	if actor.Role != models.RoleWorker {
		return nil, apperrors.NewForbiddenError("only workers can apply to jobs")
	}
	if err := validation.ApplicationCreateSchema.Check(req); err != nil {
		return nil, err
	}

	job, err := loadJob(ctx, s.db, req.JobID, false)
	if err != nil {
		return nil, err
	}
	if job.HirerID == actor.UserID {
		return nil, apperrors.NewForbiddenError("cannot apply to your own job")
	}
	if job.Status != models.JobStatusOpen {
		return nil, apperrors.NewInvalidStateTransitionError("job", string(job.Status), "applied")
	}

	now := s.now().UTC()
	app := &models.Application{
		ID:                  uuid.NewString(),
		JobID:               job.ID,
		WorkerID:            actor.UserID,
		CoverLetter:         req.CoverLetter,
		ProposedAmountCents: req.ProposedAmountCents,
		Status:              models.ApplicationPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applications (id, job_id, worker_id, cover_letter, proposed_amount_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		app.ID, app.JobID, app.WorkerID, app.CoverLetter, app.ProposedAmountCents, string(app.Status), now, now,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperrors.NewDuplicateApplicationError(job.ID)
		}
		return nil, apperrors.NewDatabaseInsertFailedError(err)
	}

	s.startProcess(ctx, registry.ProcessApplicationSubmitted, map[string]interface{}{
		"applicationId":    app.ID,
		"jobId":            job.ID,
		"notificationType": "application_received",
		"recipientIds":     []interface{}{job.HirerID},
		"priority":         "normal",
		"data": map[string]interface{}{
			"jobTitle":    job.Title,
			"amountCents": app.ProposedAmountCents,
		},
	})
	return app, nil
}

// ListForJob returns a job's applications to its owner or an admin.
func (s *Service) ListForJob(ctx context.Context, actor auth.Principal, jobID, status string) ([]models.Application, error) {
	job, err := loadJob(ctx, s.db, jobID, false)
	if err != nil {
		return nil, err
	}
	if job.HirerID != actor.UserID && !actor.IsAdmin() {
		return nil, apperrors.NewForbiddenError("only the job owner can see its applications")
	}
	return s.list(ctx, "job_id", jobID, status)
}

// ListMine returns the caller's own applications.
func (s *Service) ListMine(ctx context.Context, actor auth.Principal, status string) ([]models.Application, error) {
	return s.list(ctx, "worker_id", actor.UserID, status)
}

func (s *Service) list(ctx context.Context, column, id, status string) ([]models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE ` + column + ` = $1`
	args := []interface{}{id}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.QueryError("list-applications", err)
	}
	defer rows.Close()

	out := []models.Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, database.QueryError("list-applications", err)
		}
		out = append(out, *app)
	}
	return out, database.QueryError("list-applications", rows.Err())
}

// Accept assigns the job to the applicant. Every other pending application is rejected and
// the job moves to in_progress at the proposed amount, all in one transaction.
func (s *Service) Accept(ctx context.Context, actor auth.Principal, applicationID string) (*models.Application, error) {
	var (
		app      *models.Application
		job      *models.Job
		rejected []interface{}
	)

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if app, err = loadApplication(ctx, tx, applicationID, true); err != nil {
			return err
		}
		if job, err = loadJob(ctx, tx, app.JobID, true); err != nil {
			return err
		}
		if job.HirerID != actor.UserID {
			return apperrors.NewForbiddenError("only the job owner can accept applications")
		}
		if app.Status != models.ApplicationPending {
			return apperrors.NewInvalidStateTransitionError("application", string(app.Status), string(models.ApplicationAccepted))
		}
		if job.Status != models.JobStatusOpen {
			return apperrors.NewInvalidStateTransitionError("job", string(job.Status), string(models.JobStatusInProgress))
		}

		now := s.now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE applications SET status = 'accepted', updated_at = $2 WHERE id = $1`, app.ID, now); err != nil {
			return database.QueryError("accept-application", err)
		}

		rows, err := tx.QueryContext(ctx, `
			UPDATE applications SET status = 'rejected', updated_at = $3
			WHERE job_id = $1 AND id <> $2 AND status = 'pending'
			RETURNING worker_id`, job.ID, app.ID, now)
		if err != nil {
			return database.QueryError("reject-applications", err)
		}
		for rows.Next() {
			var workerID string
			if err := rows.Scan(&workerID); err != nil {
				rows.Close()
				return database.QueryError("reject-applications", err)
			}
			rejected = append(rejected, workerID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return database.QueryError("reject-applications", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'in_progress', worker_id = $2, agreed_amount_cents = $3, updated_at = $4
			WHERE id = $1`, job.ID, app.WorkerID, app.ProposedAmountCents, now); err != nil {
			return database.QueryError("assign-job", err)
		}

		app.Status = models.ApplicationAccepted
		app.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.startProcess(ctx, registry.ProcessApplicationDecided, decidedVars(job, map[string]interface{}{
		"applicationId":    app.ID,
		"notificationType": "application_accepted",
		"recipientIds":     []interface{}{app.WorkerID},
		"priority":         "high",
	}))
	if len(rejected) > 0 {
		s.startProcess(ctx, registry.ProcessApplicationDecided, decidedVars(job, map[string]interface{}{
			"notificationType": "application_rejected",
			"recipientIds":     rejected,
			"priority":         "normal",
		}))
	}
	return app, nil
}

// Reject declines a pending application.
func (s *Service) Reject(ctx context.Context, actor auth.Principal, applicationID string) (*models.Application, error) {
	app, job, err := s.transition(ctx, applicationID, models.ApplicationRejected, func(app *models.Application, job *models.Job) error {
		if job.HirerID != actor.UserID {
			return apperrors.NewForbiddenError("only the job owner can reject applications")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.startProcess(ctx, registry.ProcessApplicationDecided, decidedVars(job, map[string]interface{}{
		"applicationId":    app.ID,
		"notificationType": "application_rejected",
		"recipientIds":     []interface{}{app.WorkerID},
		"priority":         "normal",
	}))
	return app, nil
}

// Withdraw lets the applicant pull a pending application.
func (s *Service) Withdraw(ctx context.Context, actor auth.Principal, applicationID string) (*models.Application, error) {
	app, _, err := s.transition(ctx, applicationID, models.ApplicationWithdrawn, func(app *models.Application, _ *models.Job) error {
		if app.WorkerID != actor.UserID {
			return apperrors.NewForbiddenError("only the applicant can withdraw an application")
		}
		return nil
	})
	return app, err
}

func (s *Service) transition(
	ctx context.Context,
	applicationID string,
	to models.ApplicationStatus,
	authorize func(*models.Application, *models.Job) error,
) (*models.Application, *models.Job, error) {
	app, err := loadApplication(ctx, s.db, applicationID, false)
	if err != nil {
		return nil, nil, err
	}
	job, err := loadJob(ctx, s.db, app.JobID, false)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(app, job); err != nil {
		return nil, nil, err
	}
	if app.Status != models.ApplicationPending {
		return nil, nil, apperrors.NewInvalidStateTransitionError("application", string(app.Status), string(to))
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE applications SET status = $2, updated_at = $3 WHERE id = $1 AND status = 'pending'`,
		app.ID, string(to), now)
	if err != nil {
		return nil, nil, database.QueryError("update-application", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil, apperrors.NewInvalidStateTransitionError("application", "changed concurrently", string(to))
	}

	app.Status = to
	app.UpdatedAt = now
	return app, job, nil
}

// decidedVars adds the job's search document to an application-decided instance, so the
// listing follows the job's status.
func decidedVars(job *models.Job, vars map[string]interface{}) map[string]interface{} {
	vars["jobId"] = job.ID
	vars["documentType"] = "job"
	vars["documentId"] = job.ID
	vars["operation"] = "upsert"
	vars["data"] = map[string]interface{}{"jobTitle": job.Title}
	return vars
}

func (s *Service) startProcess(ctx context.Context, processID string, vars map[string]interface{}) {
	if err := s.engine.StartProcess(ctx, processID, vars); err != nil {
		logger.FromContext(ctx, s.logger).Warn("failed to start process", map[string]interface{}{
			"process": processID,
			"error":   err.Error(),
		})
	}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func loadJob(ctx context.Context, q queryer, id string, forUpdate bool) (*models.Job, error) {
	query := `SELECT ` + jobs.Columns() + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	job, err := jobs.ScanJob(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, database.NotFound("job", id, err)
	}
	return job, nil
}

func loadApplication(ctx context.Context, q queryer, id string, forUpdate bool) (*models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	app, err := scanApplication(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, database.NotFound("application", id, err)
	}
	return app, nil
}

func scanApplication(row database.Scanner) (*models.Application, error) {
	var (
		a      models.Application
		status string
	)
	if err := row.Scan(&a.ID, &a.JobID, &a.WorkerID, &a.CoverLetter, &a.ProposedAmountCents, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = models.ApplicationStatus(status)
	return &a, nil
}
