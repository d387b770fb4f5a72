package jobs

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"trades-marketplace/internal/common/auth"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/models"
	"trades-marketplace/internal/testutil"
	"trades-marketplace/pkg/registry"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hirerID  = "11111111-1111-4111-8111-111111111111"
	workerID = "22222222-2222-4222-8222-222222222222"
	jobID    = "33333333-3333-4333-8333-333333333333"
)

var (
	hirer  = auth.Principal{UserID: hirerID, Role: models.RoleHirer}
	worker = auth.Principal{UserID: workerID, Role: models.RoleWorker}
	now    = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

var jobCols = []string{
	"id", "hirer_id", "title", "description", "trade", "location", "budget_min_cents", "budget_max_cents",
	"status", "worker_id", "agreed_amount_cents", "starts_at", "completed_at", "created_at", "updated_at",
}

func jobRow(status models.JobStatus, assigned bool) *sqlmock.Rows {
	var worker, agreed interface{}
	if assigned {
		worker, agreed = workerID, int64(15000)
	}
	return sqlmock.NewRows(jobCols).AddRow(
		jobID, hirerID, "Replace bathroom tiles", "Retile a small bathroom floor, about four square metres.",
		"masonry", "Leeds", 10000, 20000, string(status), worker, agreed, nil, nil, now, now,
	)
}

func newService(t *testing.T) (*Service, sqlmock.Sqlmock, *testutil.FakeEngine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine := &testutil.FakeEngine{}
	svc := NewService(db, engine, logger.NewTestLogger(t))
	svc.now = testutil.FixedClock(now)
	return svc, mock, engine
}

func validCreate() CreateRequest {
	return CreateRequest{
		Title:          "Replace bathroom tiles",
		Description:    "Retile a small bathroom floor, about four square metres.",
		Trade:          "masonry",
		Location:       "Leeds",
		BudgetMinCents: 10000,
		BudgetMaxCents: 20000,
	}
}

func TestCreate(t *testing.T) {
	t.Run("hirer posts job", func(t *testing.T) {
		svc, mock, engine := newService(t)
		mock.ExpectExec("INSERT INTO jobs").
			WithArgs(sqlmock.AnyArg(), hirerID, "Replace bathroom tiles", sqlmock.AnyArg(), "masonry", "Leeds",
				int64(10000), int64(20000), "open", nil, now, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		job, err := svc.Create(context.Background(), hirer, validCreate())
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusOpen, job.Status)
		require.Len(t, engine.Calls, 1)
		assert.Equal(t, registry.ProcessJobPosted, engine.Calls[0].ProcessID)
		assert.Equal(t, job.ID, engine.Calls[0].Vars["documentId"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("workers cannot post", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.Create(context.Background(), worker, validCreate())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	})

	t.Run("budget range inverted", func(t *testing.T) {
		svc, _, _ := newService(t)
		req := validCreate()
		req.BudgetMinCents = 30000
		_, err := svc.Create(context.Background(), hirer, req)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	})

	t.Run("zero budget is allowed", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectExec("INSERT INTO jobs").WillReturnResult(sqlmock.NewResult(0, 1))
		req := validCreate()
		req.BudgetMinCents = 0
		_, err := svc.Create(context.Background(), hirer, req)
		assert.NoError(t, err)
	})

	t.Run("engine failure does not fail the request", func(t *testing.T) {
		svc, mock, engine := newService(t)
		engine.Err = apperrors.NewExternalServiceError("zeebe", assert.AnError)
		mock.ExpectExec("INSERT INTO jobs").WillReturnResult(sqlmock.NewResult(0, 1))
		_, err := svc.Create(context.Background(), hirer, validCreate())
		assert.NoError(t, err)
	})
}

func TestList(t *testing.T) {
	svc, mock, _ := newService(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs WHERE status = \$1 AND trade = \$2 AND location ILIKE \$3`).
		WithArgs("open", "masonry", "%lee%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT (.+) FROM jobs WHERE (.+) ORDER BY created_at DESC LIMIT \$4 OFFSET \$5`).
		WithArgs("open", "masonry", "%lee%", 100, 0).
		WillReturnRows(jobRow(models.JobStatusOpen, false))

	page, err := svc.List(context.Background(), Filter{Status: "open", Trade: "masonry", Location: "lee", Limit: 500, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 100, page.Limit)
	require.Len(t, page.Items, 1)
	assert.Nil(t, page.Items[0].WorkerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_DefaultsExcludeRemoved(t *testing.T) {
	svc, mock, _ := newService(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs WHERE status <> 'removed'`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`LIMIT \$1 OFFSET \$2`).
		WithArgs(DefaultLimit, 0).
		WillReturnRows(sqlmock.NewRows(jobCols))

	page, err := svc.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
}

func TestGet_RemovedHiddenFromOthers(t *testing.T) {
	svc, mock, _ := newService(t)

	mock.ExpectQuery("FROM jobs WHERE id = \\$1").WithArgs(jobID).WillReturnRows(jobRow(models.JobStatusRemoved, false))
	_, err := svc.Get(context.Background(), worker, jobID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound))

	mock.ExpectQuery("FROM jobs WHERE id = \\$1").WithArgs(jobID).WillReturnRows(jobRow(models.JobStatusRemoved, false))
	job, err := svc.Get(context.Background(), hirer, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRemoved, job.Status)

	mock.ExpectQuery("FROM jobs WHERE id = \\$1").WillReturnError(sql.ErrNoRows)
	_, err = svc.Get(context.Background(), hirer, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound))
}

func TestUpdate(t *testing.T) {
	t.Run("owner edits open job", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery("FROM jobs WHERE id").WillReturnRows(jobRow(models.JobStatusOpen, false))
		mock.ExpectExec("UPDATE jobs").
			WithArgs(jobID, "Replace bathroom tiles", sqlmock.AnyArg(), "masonry", "York", int64(10000), int64(20000), now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		loc := "York"
		job, err := svc.Update(context.Background(), hirer, jobID, UpdateRequest{Location: &loc})
		require.NoError(t, err)
		assert.Equal(t, "York", job.Location)
	})

	t.Run("not owner", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery("FROM jobs WHERE id").WillReturnRows(jobRow(models.JobStatusOpen, false))
		_, err := svc.Update(context.Background(), worker, jobID, UpdateRequest{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	})

	t.Run("not open", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery("FROM jobs WHERE id").WillReturnRows(jobRow(models.JobStatusInProgress, true))
		_, err := svc.Update(context.Background(), hirer, jobID, UpdateRequest{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition))
	})
}

func TestCancel(t *testing.T) {
	t.Run("in progress job notifies worker", func(t *testing.T) {
		svc, mock, engine := newService(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM jobs WHERE id = \\$1 FOR UPDATE").WillReturnRows(jobRow(models.JobStatusInProgress, true))
		mock.ExpectExec("UPDATE jobs SET status").WithArgs(jobID, "cancelled", now).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE applications SET status = 'rejected'").WithArgs(jobID, now).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		job, err := svc.Cancel(context.Background(), hirer, jobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCancelled, job.Status)

		require.Len(t, engine.Calls, 1)
		call := engine.Calls[0]
		assert.Equal(t, registry.ProcessJobCancelled, call.ProcessID)
		assert.Equal(t, "delete", call.Vars["operation"])
		assert.Equal(t, []interface{}{workerID}, call.Vars["recipientIds"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completed job cannot be cancelled", func(t *testing.T) {
		svc, mock, engine := newService(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(jobRow(models.JobStatusCompleted, true))
		mock.ExpectRollback()

		_, err := svc.Cancel(context.Background(), hirer, jobID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition))
		assert.Empty(t, engine.Calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestComplete(t *testing.T) {
	t.Run("hirer completes", func(t *testing.T) {
		svc, mock, engine := newService(t)
		mock.ExpectQuery("FROM jobs WHERE id").WillReturnRows(jobRow(models.JobStatusInProgress, true))
		mock.ExpectExec("UPDATE jobs SET status = 'completed'").WithArgs(jobID, now).WillReturnResult(sqlmock.NewResult(0, 1))

		job, err := svc.Complete(context.Background(), hirer, jobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, job.Status)
		require.NotNil(t, job.CompletedAt)

		require.Len(t, engine.Calls, 1)
		assert.Equal(t, registry.ProcessJobCompleted, engine.Calls[0].ProcessID)
		assert.Equal(t, []interface{}{hirerID, workerID}, engine.Calls[0].Vars["recipientIds"])
		assert.Equal(t, "job", engine.Calls[0].Vars["documentType"])
		assert.Equal(t, jobID, engine.Calls[0].Vars["documentId"])
		assert.Equal(t, "upsert", engine.Calls[0].Vars["operation"])
	})

	t.Run("worker cannot complete", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery("FROM jobs WHERE id").WillReturnRows(jobRow(models.JobStatusInProgress, true))
		_, err := svc.Complete(context.Background(), worker, jobID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	})

	t.Run("open job cannot complete", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery("FROM jobs WHERE id").WillReturnRows(jobRow(models.JobStatusOpen, false))
		_, err := svc.Complete(context.Background(), hirer, jobID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition))
	})
}
