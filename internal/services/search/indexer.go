package search

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"trades-marketplace/internal/common/config"
	"trades-marketplace/internal/common/database"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/models"
	"trades-marketplace/internal/services/jobs"
	"trades-marketplace/internal/services/users"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	DocumentJob    = "job"
	DocumentWorker = "worker"

	OperationUpsert = "upsert"
	OperationDelete = "delete"

	ActionIndexed = "indexed"
	ActionDeleted = "deleted"
)

// Indexer keeps the search indices in line with Postgres. It loads the current row for
// every document it writes, so stale workflow variables never reach the index.
type Indexer struct {
	db     *sql.DB
	client *elasticsearch.Client
	cfg    config.SearchConfig
	logger logger.Logger
}

func NewIndexer(db *sql.DB, client *elasticsearch.Client, cfg config.SearchConfig, log logger.Logger) *Indexer {
	return &Indexer{
		db:     db,
		client: client,
		cfg:    cfg,
		logger: log.WithFields(map[string]interface{}{"component": "search-indexer"}),
	}
}

// EnsureIndices creates the jobs and workers indices with their mappings when missing.
func (i *Indexer) EnsureIndices(ctx context.Context) error {
	es := &database.ElasticsearchClient{Client: i.client}
	if err := es.EnsureIndex(ctx, jobsIndex(i.cfg), jobsMapping); err != nil {
		return apperrors.NewSearchQueryFailedError("ensure-index", err)
	}
	if err := es.EnsureIndex(ctx, workersIndex(i.cfg), workersMapping); err != nil {
		return apperrors.NewSearchQueryFailedError("ensure-index", err)
	}
	return nil
}

// Apply runs one index-document operation and reports whether the document ended up
// indexed or deleted. Upserting a job that is no longer open, a removed user or a
// suspended worker deletes it instead.
func (i *Indexer) Apply(ctx context.Context, documentType, documentID, operation string) (string, error) {
	if operation == "" {
		operation = OperationUpsert
	}
	switch documentType {
	case DocumentJob, DocumentWorker:
	default:
		return "", apperrors.NewValidationError(fmt.Sprintf("unknown document type %q", documentType))
	}

	if operation == OperationDelete {
		return ActionDeleted, i.Delete(ctx, documentType, documentID)
	}
	if operation != OperationUpsert {
		return "", apperrors.NewValidationError(fmt.Sprintf("unknown operation %q", operation))
	}

	if documentType == DocumentJob {
		return i.upsertJob(ctx, documentID)
	}
	return i.upsertWorker(ctx, documentID)
}

func (i *Indexer) upsertJob(ctx context.Context, id string) (string, error) {
	row := i.db.QueryRowContext(ctx, `SELECT `+jobs.Columns()+` FROM jobs WHERE id = $1`, id)
	job, err := jobs.ScanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ActionDeleted, i.Delete(ctx, DocumentJob, id)
	}
	if err != nil {
		return "", database.QueryError("load-job", err)
	}
	if job.Status != models.JobStatusOpen {
		return ActionDeleted, i.Delete(ctx, DocumentJob, id)
	}
	return ActionIndexed, i.put(ctx, jobsIndex(i.cfg), id, JobDocumentFrom(job))
}

func (i *Indexer) upsertWorker(ctx context.Context, id string) (string, error) {
	row := i.db.QueryRowContext(ctx, `SELECT `+users.Columns()+` FROM users WHERE id = $1`, id)
	user, err := users.ScanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ActionDeleted, i.Delete(ctx, DocumentWorker, id)
	}
	if err != nil {
		return "", database.QueryError("load-user", err)
	}
	if user.Role != models.RoleWorker || user.Suspended {
		return ActionDeleted, i.Delete(ctx, DocumentWorker, id)
	}
	return ActionIndexed, i.put(ctx, workersIndex(i.cfg), id, WorkerDocumentFrom(user))
}

// Delete removes a document. Deleting a document that is not indexed succeeds.
func (i *Indexer) Delete(ctx context.Context, documentType, id string) error {
	index := jobsIndex(i.cfg)
	if documentType == DocumentWorker {
		index = workersIndex(i.cfg)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout(i.cfg))
	defer cancel()

	res, err := esapi.DeleteRequest{Index: index, DocumentID: id}.Do(ctx, i.client)
	if err != nil {
		return apperrors.NewSearchQueryFailedError("delete-document", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return apperrors.NewSearchQueryFailedError("delete-document", fmt.Errorf("elasticsearch: %s", res.String()))
	}

	i.logger.Debug("document deleted", map[string]interface{}{"index": index, "id": id})
	return nil
}

func (i *Indexer) put(ctx context.Context, index, id string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return apperrors.NewSearchQueryFailedError("index-document", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout(i.cfg))
	defer cancel()

	res, err := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	}.Do(ctx, i.client)
	if err != nil {
		return apperrors.NewSearchQueryFailedError("index-document", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewSearchQueryFailedError("index-document", fmt.Errorf("elasticsearch: %s", res.String()))
	}

	i.logger.Debug("document indexed", map[string]interface{}{"index": index, "id": id})
	return nil
}

func JobDocumentFrom(j *models.Job) JobDocument {
	return JobDocument{
		ID:             j.ID,
		HirerID:        j.HirerID,
		Title:          j.Title,
		Description:    j.Description,
		Trade:          j.Trade,
		Location:       j.Location,
		BudgetMinCents: j.BudgetMinCents,
		BudgetMaxCents: j.BudgetMaxCents,
		Status:         string(j.Status),
		CreatedAt:      j.CreatedAt,
	}
}

func WorkerDocumentFrom(u *models.User) WorkerDocument {
	skills := u.Skills
	if skills == nil {
		skills = []string{}
	}
	return WorkerDocument{
		ID:              u.ID,
		FullName:        u.FullName,
		Bio:             u.Bio,
		Skills:          skills,
		Trade:           u.Trade,
		Location:        u.Location,
		HourlyRateCents: u.HourlyRateCents,
		RatingAvg:       u.RatingAvg,
		RatingCount:     u.RatingCount,
		Suspended:       u.Suspended,
	}
}
