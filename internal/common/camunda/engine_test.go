package camunda

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	taskType string
	output   map[string]interface{}
	errs     []error

	mu    sync.Mutex
	calls int
	seen  []map[string]interface{}
	keys  []string
}

func (s *stubRunner) TaskType() string { return s.taskType }

func (s *stubRunner) Run(ctx context.Context, vars map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = append(s.keys, TaskKey(ctx))

	copied := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	s.seen = append(s.seen, copied)

	call := s.calls
	s.calls++
	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	return s.output, nil
}

const jobID = "4f1c2b7e-8d8a-4f43-9a0c-2c1b0b9e7a11"

func TestLocalEngine_RunsTasksInOrderAndMergesOutput(t *testing.T) {
	release := &stubRunner{taskType: registry.TaskReleaseEscrow, output: map[string]interface{}{"released": true}}
	notify := &stubRunner{taskType: registry.TaskNotifyUser}

	engine := NewLocalEngine(registry.BuiltinProcesses(), registry.NewValidator(registry.Builtin()), logger.NewTestLogger(t), release, notify)

	err := engine.StartProcess(context.Background(), registry.ProcessJobCompleted, map[string]interface{}{
		"jobId":            jobID,
		"notificationType": "job_completed",
	})
	require.NoError(t, err)
	engine.Wait()

	require.Equal(t, 1, release.calls)
	require.Equal(t, 1, notify.calls)
	assert.Equal(t, true, notify.seen[0]["released"])
	assert.Equal(t, jobID, notify.seen[0]["jobId"])
}

func TestLocalEngine_UnknownProcess(t *testing.T) {
	engine := NewLocalEngine(registry.BuiltinProcesses(), nil, logger.NewNoOpLogger())
	err := engine.StartProcess(context.Background(), "does-not-exist", nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeResourceNotFound))
}

func TestLocalEngine_RetriesTechnicalErrors(t *testing.T) {
	index := &stubRunner{
		taskType: registry.TaskIndexDocument,
		errs:     []error{errors.NewSearchQueryFailedError("upsert", stderrors.New("503"))},
	}
	engine := NewLocalEngine(registry.BuiltinProcesses(), nil, logger.NewTestLogger(t), index)
	engine.SetBackoff(time.Millisecond)

	require.NoError(t, engine.StartProcess(context.Background(), registry.ProcessJobPosted, map[string]interface{}{
		"documentType": "job",
		"documentId":   jobID,
	}))
	engine.Wait()
	assert.Equal(t, 2, index.calls)
}

func TestLocalEngine_BusinessErrorStopsInstance(t *testing.T) {
	refund := &stubRunner{
		taskType: registry.TaskRefundEscrow,
		errs:     []error{errors.NewInvalidStateTransitionError("escrow", "released", "refunded")},
	}
	index := &stubRunner{taskType: registry.TaskIndexDocument}
	engine := NewLocalEngine(registry.BuiltinProcesses(), nil, logger.NewTestLogger(t), refund, index)
	engine.SetBackoff(time.Millisecond)

	require.NoError(t, engine.StartProcess(context.Background(), registry.ProcessJobCancelled, map[string]interface{}{"jobId": jobID}))
	engine.Wait()

	assert.Equal(t, 1, refund.calls)
	assert.Equal(t, 0, index.calls)
}

func TestLocalEngine_InvalidInputIsNotRun(t *testing.T) {
	release := &stubRunner{taskType: registry.TaskReleaseEscrow}
	engine := NewLocalEngine(registry.BuiltinProcesses(), registry.NewValidator(registry.Builtin()), logger.NewTestLogger(t), release)

	require.NoError(t, engine.StartProcess(context.Background(), registry.ProcessJobCompleted, map[string]interface{}{}))
	engine.Wait()
	assert.Equal(t, 0, release.calls)
}

func TestLocalEngine_RecoversAfterQueryFailures(t *testing.T) {
	queryErr := errors.NewQueryExecutionFailedError("recalculate", stderrors.New("connection reset"))
	recalc := &stubRunner{
		taskType: registry.TaskRecalculateRating,
		output:   map[string]interface{}{"ratingAvg": 4.5},
		errs:     []error{queryErr, queryErr, queryErr},
	}
	notify := &stubRunner{taskType: registry.TaskNotifyUser}
	engine := NewLocalEngine(registry.BuiltinProcesses(), nil, logger.NewTestLogger(t), recalc, notify)
	engine.SetBackoff(time.Millisecond)

	require.NoError(t, engine.StartProcess(context.Background(), registry.ProcessReviewSubmitted, map[string]interface{}{
		"revieweeId": jobID,
	}))
	engine.Wait()

	assert.Equal(t, 4, recalc.calls)
	require.Equal(t, 1, notify.calls)
	assert.Equal(t, 4.5, notify.seen[0]["ratingAvg"])

	// retries share a key; the next task gets its own
	require.Len(t, recalc.keys, 4)
	assert.NotEmpty(t, recalc.keys[0])
	for _, k := range recalc.keys[1:] {
		assert.Equal(t, recalc.keys[0], k)
	}
	assert.NotEqual(t, recalc.keys[0], notify.keys[0])
}

func TestLocalEngine_GivesUpAfterRetries(t *testing.T) {
	queryErr := errors.NewQueryExecutionFailedError("recalculate", stderrors.New("connection reset"))
	recalc := &stubRunner{
		taskType: registry.TaskRecalculateRating,
		errs:     []error{queryErr, queryErr, queryErr, queryErr, nil},
	}
	notify := &stubRunner{taskType: registry.TaskNotifyUser}
	engine := NewLocalEngine(registry.BuiltinProcesses(), nil, logger.NewTestLogger(t), recalc, notify)
	engine.SetBackoff(time.Millisecond)

	require.NoError(t, engine.StartProcess(context.Background(), registry.ProcessReviewSubmitted, map[string]interface{}{
		"revieweeId": jobID,
	}))
	engine.Wait()

	assert.Equal(t, 4, recalc.calls)
	assert.Equal(t, 0, notify.calls)
}
