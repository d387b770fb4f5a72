// internal/services/reviews/service.go
package reviews

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
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
	"github.com/redis/go-redis/v9"
)

const SummaryCacheTTL = 10 * time.Minute

type CreateRequest struct {
	JobID   string `json:"jobId,omitempty"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

type Service struct {
	db     *sql.DB
	cache  redis.Cmdable
	engine camunda.Engine
	logger logger.Logger
	now    func() time.Time
}

func NewService(db *sql.DB, cache redis.Cmdable, engine camunda.Engine, log logger.Logger) *Service {
	return &Service{db: db, cache: cache, engine: engine, logger: log, now: time.Now}
}

// SummaryCacheKey is where a user's rating summary is cached.
func SummaryCacheKey(userID string) string {
	return "rating:" + userID
}

// Create records actor's review of the other party to a completed job.
func (s *Service) Create(ctx context.Context, actor auth.Principal, req CreateRequest) (*models.Review, error) {
	if err := validation.ReviewCreateSchema.Check(req); err != nil {
		return nil, err
	}

	job, err := jobs.ScanJob(s.db.QueryRowContext(ctx, `SELECT `+jobs.Columns()+` FROM jobs WHERE id = $1`, req.JobID))
	if err != nil {
		return nil, database.NotFound("job", req.JobID, err)
	}
	if job.Status != models.JobStatusCompleted {
		return nil, apperrors.NewInvalidStateTransitionError("job", string(job.Status), "reviewed")
	}

	var reviewee string
	switch {
	case actor.UserID == job.HirerID && job.WorkerID != nil:
		reviewee = *job.WorkerID
	case job.WorkerID != nil && actor.UserID == *job.WorkerID:
		reviewee = job.HirerID
	default:
		return nil, apperrors.NewForbiddenError("only the hirer and the assigned worker can review this job")
	}

	review := &models.Review{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		ReviewerID: actor.UserID,
		RevieweeID: reviewee,
		Rating:     req.Rating,
		Comment:    strings.TrimSpace(req.Comment),
		CreatedAt:  s.now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, job_id, reviewer_id, reviewee_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		review.ID, review.JobID, review.ReviewerID, review.RevieweeID, review.Rating, review.Comment, review.CreatedAt)
	if database.IsUniqueViolation(err) {
		return nil, apperrors.NewDuplicateReviewError(job.ID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseInsertFailedError(err)
	}

	if err := s.engine.StartProcess(ctx, registry.ProcessReviewSubmitted, map[string]interface{}{
		"reviewId":         review.ID,
		"jobId":            job.ID,
		"revieweeId":       reviewee,
		"documentType":     "worker",
		"documentId":       reviewee,
		"operation":        "upsert",
		"notificationType": "review_received",
		"recipientIds":     []interface{}{reviewee},
		"priority":         "normal",
		"data": map[string]interface{}{
			"jobTitle": job.Title,
			"rating":   review.Rating,
		},
	}); err != nil {
		logger.FromContext(ctx, s.logger).Warn("failed to start process", map[string]interface{}{
			"process": registry.ProcessReviewSubmitted,
			"jobId":   job.ID,
			"error":   err.Error(),
		})
	}
	return review, nil
}

// List returns reviews received by userID, newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) (*models.Page[models.Review], error) {
	limit, offset = jobs.NormalizePage(limit, offset)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews WHERE reviewee_id = $1`, userID).Scan(&total); err != nil {
		return nil, database.QueryError("count-reviews", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, reviewer_id, reviewee_id, rating, comment, created_at
		FROM reviews WHERE reviewee_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, database.QueryError("list-reviews", err)
	}
	defer rows.Close()

	items := make([]models.Review, 0, limit)
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.JobID, &r.ReviewerID, &r.RevieweeID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, database.QueryError("list-reviews", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, database.QueryError("list-reviews", err)
	}
	return &models.Page[models.Review]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Summary serves the rating summary from cache, computing and caching it on a miss.
func (s *Service) Summary(ctx context.Context, userID string) (*models.RatingSummary, error) {
	log := logger.FromContext(ctx, s.logger)
	key := SummaryCacheKey(userID)

	if val, err := s.cache.Get(ctx, key).Result(); err == nil {
		var cached models.RatingSummary
		if json.Unmarshal([]byte(val), &cached) == nil {
			return &cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Warn("rating cache read failed", map[string]interface{}{"userId": userID, "error": err.Error()})
	}

	summary, err := s.compute(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(summary)
	if err == nil {
		if err := s.cache.Set(ctx, key, data, SummaryCacheTTL).Err(); err != nil {
			log.Warn("rating cache write failed", map[string]interface{}{"userId": userID, "error": err.Error()})
		}
	}
	return summary, nil
}

// RecalculateRating refreshes the denormalised rating on the user row and drops the cached summary.
func (s *Service) RecalculateRating(ctx context.Context, userID string) (*models.RatingSummary, error) {
	summary, err := s.compute(ctx, userID)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET rating_avg = $2, rating_count = $3, updated_at = $4 WHERE id = $1`,
		userID, summary.Average, summary.Count, s.now().UTC())
	if err != nil {
		return nil, database.QueryError("update-rating", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperrors.NewResourceNotFoundError("user", "user "+userID+" not found")
	}

	if err := s.cache.Del(ctx, SummaryCacheKey(userID)).Err(); err != nil {
		logger.FromContext(ctx, s.logger).Warn("rating cache invalidation failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
	return summary, nil
}

func (s *Service) compute(ctx context.Context, userID string) (*models.RatingSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rating, COUNT(*) FROM reviews WHERE reviewee_id = $1 GROUP BY rating`, userID)
	if err != nil {
		return nil, database.QueryError("rating-summary", err)
	}
	defer rows.Close()

	summary := &models.RatingSummary{UserID: userID, Distribution: map[string]int{}}
	for star := 1; star <= 5; star++ {
		summary.Distribution[strconv.Itoa(star)] = 0
	}

	total := 0
	for rows.Next() {
		var rating, count int
		if err := rows.Scan(&rating, &count); err != nil {
			return nil, database.QueryError("rating-summary", err)
		}
		summary.Distribution[strconv.Itoa(rating)] = count
		summary.Count += count
		total += rating * count
	}
	if err := rows.Err(); err != nil {
		return nil, database.QueryError("rating-summary", err)
	}

	if summary.Count > 0 {
		summary.Average = math.Round(float64(total)/float64(summary.Count)*100) / 100
	}
	return summary, nil
}
