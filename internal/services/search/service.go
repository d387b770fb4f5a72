package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"trades-marketplace/internal/common/config"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	DefaultSize = 20
	MaxSize     = 50

	DefaultJobsIndex    = "jobs"
	DefaultWorkersIndex = "workers"
)

// JobDocument is the jobs index representation of a job.
type JobDocument struct {
	ID             string    `json:"id"`
	HirerID        string    `json:"hirer_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Trade          string    `json:"trade"`
	Location       string    `json:"location"`
	BudgetMinCents int64     `json:"budget_min_cents"`
	BudgetMaxCents int64     `json:"budget_max_cents"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// WorkerDocument is the workers index representation of a worker profile.
type WorkerDocument struct {
	ID              string   `json:"id"`
	FullName        string   `json:"full_name"`
	Bio             string   `json:"bio"`
	Skills          []string `json:"skills"`
	Trade           string   `json:"trade"`
	Location        string   `json:"location"`
	HourlyRateCents int64    `json:"hourly_rate_cents"`
	RatingAvg       float64  `json:"rating_avg"`
	RatingCount     int      `json:"rating_count"`
	Suspended       bool     `json:"suspended"`
}

type Result[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
}

type searchResponse struct {
	Took int `json:"took"`
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type Service struct {
	client *elasticsearch.Client
	cfg    config.SearchConfig
	logger logger.Logger
}

func NewService(client *elasticsearch.Client, cfg config.SearchConfig, log logger.Logger) *Service {
	return &Service{
		client: client,
		cfg:    cfg,
		logger: log.WithFields(map[string]interface{}{"component": "search"}),
	}
}

func (s *Service) SearchJobs(ctx context.Context, q JobQuery) (*Result[JobDocument], error) {
	page, size := normalizePage(q.Page, q.Size)
	if q.MinBudget != nil && q.MaxBudget != nil && *q.MinBudget > *q.MaxBudget {
		return nil, apperrors.NewValidationError("minBudget must not exceed maxBudget")
	}

	resp, err := s.search(ctx, "search-jobs", jobsIndex(s.cfg), buildJobQuery(q), page, size)
	if err != nil {
		return nil, err
	}

	out := &Result[JobDocument]{Items: []JobDocument{}, Total: resp.Hits.Total.Value, Page: page, Size: size}
	for _, hit := range resp.Hits.Hits {
		var doc JobDocument
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			return nil, apperrors.NewSearchQueryFailedError("search-jobs", fmt.Errorf("decode hit %s: %w", hit.ID, err))
		}
		out.Items = append(out.Items, doc)
	}
	return out, nil
}

func (s *Service) SearchWorkers(ctx context.Context, q WorkerQuery) (*Result[WorkerDocument], error) {
	page, size := normalizePage(q.Page, q.Size)

	resp, err := s.search(ctx, "search-workers", workersIndex(s.cfg), buildWorkerQuery(q), page, size)
	if err != nil {
		return nil, err
	}

	out := &Result[WorkerDocument]{Items: []WorkerDocument{}, Total: resp.Hits.Total.Value, Page: page, Size: size}
	for _, hit := range resp.Hits.Hits {
		var doc WorkerDocument
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			return nil, apperrors.NewSearchQueryFailedError("search-workers", fmt.Errorf("decode hit %s: %w", hit.ID, err))
		}
		if doc.Skills == nil {
			doc.Skills = []string{}
		}
		out.Items = append(out.Items, doc)
	}
	return out, nil
}

func (s *Service) search(ctx context.Context, queryType, index string, query map[string]interface{}, page, size int) (*searchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout(s.cfg))
	defer cancel()

	body, err := json.Marshal(query)
	if err != nil {
		return nil, apperrors.NewSearchQueryFailedError(queryType, err)
	}

	from := (page - 1) * size
	start := time.Now()
	res, err := esapi.SearchRequest{
		Index:          []string{index},
		Body:           bytes.NewReader(body),
		From:           &from,
		Size:           &size,
		TrackTotalHits: true,
	}.Do(ctx, s.client)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.NewSearchTimeoutError(queryType)
		}
		return nil, apperrors.NewSearchQueryFailedError(queryType, err)
	}
	defer res.Body.Close()

	// An index that was never created simply has no documents yet.
	if res.StatusCode == http.StatusNotFound {
		return &searchResponse{}, nil
	}
	if res.IsError() {
		return nil, apperrors.NewSearchQueryFailedError(queryType, fmt.Errorf("elasticsearch: %s", res.String()))
	}

	var resp searchResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, apperrors.NewSearchQueryFailedError(queryType, fmt.Errorf("decode response: %w", err))
	}

	logger.FromContext(ctx, s.logger).Debug("search executed", map[string]interface{}{
		"queryType": queryType,
		"index":     index,
		"hits":      resp.Hits.Total.Value,
		"took":      resp.Took,
		"duration":  time.Since(start).Milliseconds(),
	})
	return &resp, nil
}

func jobsIndex(cfg config.SearchConfig) string {
	if cfg.JobsIndex != "" {
		return cfg.JobsIndex
	}
	return DefaultJobsIndex
}

func workersIndex(cfg config.SearchConfig) string {
	if cfg.WorkersIndex != "" {
		return cfg.WorkersIndex
	}
	return DefaultWorkersIndex
}

func timeout(cfg config.SearchConfig) time.Duration {
	if cfg.Timeout > 0 {
		return time.Duration(cfg.Timeout) * time.Millisecond
	}
	return 5 * time.Second
}
