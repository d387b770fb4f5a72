package reviews

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"trades-marketplace/internal/common/auth"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/models"
	"trades-marketplace/internal/testutil"
	"trades-marketplace/pkg/registry"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/lib/pq"
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

func jobRow(status models.JobStatus) *sqlmock.Rows {
	return sqlmock.NewRows(jobCols).AddRow(
		jobID, hirerID, "Paint hallway", "Two coats on the hallway and landing walls, ceiling excluded.",
		"painting", "Bristol", 20000, 40000, string(status), workerID, int64(30000), nil, now, now, now,
	)
}

type fixture struct {
	svc    *Service
	mock   sqlmock.Sqlmock
	cache  redismock.ClientMock
	engine *testutil.FakeEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rdb, cache := redismock.NewClientMock()
	engine := &testutil.FakeEngine{}
	svc := NewService(db, rdb, engine, logger.NewTestLogger(t))
	svc.now = testutil.FixedClock(now)
	return &fixture{svc: svc, mock: mock, cache: cache, engine: engine}
}

func TestCreate(t *testing.T) {
	t.Run("hirer reviews worker", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = \\$1").WithArgs(jobID).WillReturnRows(jobRow(models.JobStatusCompleted))
		f.mock.ExpectExec("INSERT INTO reviews").
			WithArgs(sqlmock.AnyArg(), jobID, hirerID, workerID, 5, "Tidy and quick", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		review, err := f.svc.Create(context.Background(), hirer, CreateRequest{JobID: jobID, Rating: 5, Comment: " Tidy and quick "})
		require.NoError(t, err)
		assert.Equal(t, workerID, review.RevieweeID)

		require.Equal(t, []string{registry.ProcessReviewSubmitted}, f.engine.Started())
		vars := f.engine.Calls[0].Vars
		assert.Equal(t, workerID, vars["revieweeId"])
		assert.Equal(t, []interface{}{workerID}, vars["recipientIds"])
		assert.Equal(t, "worker", vars["documentType"])
		assert.Equal(t, workerID, vars["documentId"])
		assert.Equal(t, "upsert", vars["operation"])
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("worker reviews hirer", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusCompleted))
		f.mock.ExpectExec("INSERT INTO reviews").WillReturnResult(sqlmock.NewResult(0, 1))

		review, err := f.svc.Create(context.Background(), worker, CreateRequest{JobID: jobID, Rating: 4})
		require.NoError(t, err)
		assert.Equal(t, hirerID, review.RevieweeID)
	})

	t.Run("job not completed", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))

		_, err := f.svc.Create(context.Background(), hirer, CreateRequest{JobID: jobID, Rating: 5})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition))
	})

	t.Run("outsider", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusCompleted))

		outsider := auth.Principal{UserID: "44444444-4444-4444-8444-444444444444", Role: models.RoleWorker}
		_, err := f.svc.Create(context.Background(), outsider, CreateRequest{JobID: jobID, Rating: 5})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	})

	t.Run("duplicate", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusCompleted))
		f.mock.ExpectExec("INSERT INTO reviews").WillReturnError(&pq.Error{Code: "23505"})

		_, err := f.svc.Create(context.Background(), hirer, CreateRequest{JobID: jobID, Rating: 3})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDuplicateReview))
		assert.Empty(t, f.engine.Started())
	})

	t.Run("rating out of range", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(context.Background(), hirer, CreateRequest{JobID: jobID, Rating: 6})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	})
}

func expectedSummary() *models.RatingSummary {
	return &models.RatingSummary{
		UserID:       workerID,
		Average:      4.33,
		Count:        3,
		Distribution: map[string]int{"1": 0, "2": 0, "3": 0, "4": 2, "5": 1},
	}
}

func summaryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"rating", "count"}).AddRow(4, 2).AddRow(5, 1)
}

func TestSummary(t *testing.T) {
	t.Run("cache miss computes and caches", func(t *testing.T) {
		f := newFixture(t)
		key := SummaryCacheKey(workerID)
		f.cache.ExpectGet(key).RedisNil()
		f.mock.ExpectQuery("SELECT rating, COUNT\\(\\*\\) FROM reviews").WithArgs(workerID).WillReturnRows(summaryRows())
		cached, _ := json.Marshal(expectedSummary())
		f.cache.ExpectSet(key, cached, SummaryCacheTTL).SetVal("OK")

		summary, err := f.svc.Summary(context.Background(), workerID)
		require.NoError(t, err)
		assert.Equal(t, expectedSummary(), summary)
		assert.NoError(t, f.mock.ExpectationsWereMet())
		assert.NoError(t, f.cache.ExpectationsWereMet())
	})

	t.Run("cache hit skips the database", func(t *testing.T) {
		f := newFixture(t)
		cached, _ := json.Marshal(expectedSummary())
		f.cache.ExpectGet(SummaryCacheKey(workerID)).SetVal(string(cached))

		summary, err := f.svc.Summary(context.Background(), workerID)
		require.NoError(t, err)
		assert.Equal(t, 4.33, summary.Average)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("cache outage falls back to database", func(t *testing.T) {
		f := newFixture(t)
		key := SummaryCacheKey(workerID)
		f.cache.ExpectGet(key).SetErr(errors.New("connection refused"))
		f.mock.ExpectQuery("SELECT rating").WillReturnRows(sqlmock.NewRows([]string{"rating", "count"}))
		empty, _ := json.Marshal(&models.RatingSummary{
			UserID:       workerID,
			Distribution: map[string]int{"1": 0, "2": 0, "3": 0, "4": 0, "5": 0},
		})
		f.cache.ExpectSet(key, empty, SummaryCacheTTL).SetErr(errors.New("connection refused"))

		summary, err := f.svc.Summary(context.Background(), workerID)
		require.NoError(t, err)
		assert.Zero(t, summary.Count)
		assert.Zero(t, summary.Average)
	})
}

func TestRecalculateRating(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT rating").WithArgs(workerID).WillReturnRows(summaryRows())
	f.mock.ExpectExec("UPDATE users SET rating_avg").
		WithArgs(workerID, 4.33, 3, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.cache.ExpectDel(SummaryCacheKey(workerID)).SetVal(1)

	summary, err := f.svc.RecalculateRating(context.Background(), workerID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Count)
	assert.NoError(t, f.mock.ExpectationsWereMet())
	assert.NoError(t, f.cache.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM reviews").WithArgs(workerID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	f.mock.ExpectQuery("SELECT (.+) FROM reviews WHERE reviewee_id = \\$1 ORDER BY created_at DESC").
		WithArgs(workerID, 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_id", "reviewer_id", "reviewee_id", "rating", "comment", "created_at"}).
			AddRow("r-1", jobID, hirerID, workerID, 5, "Great", now))

	page, err := f.svc.List(context.Background(), workerID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 5, page.Items[0].Rating)
}
