// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/common/metrics"
	"trades-marketplace/internal/common/observability"
	"trades-marketplace/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.opentelemetry.io/otel/attribute"
)

// Runner is one service task. Workers implement it and both the Zeebe adapter and the
// in-process engine drive it.
type Runner interface {
	TaskType() string
	Run(ctx context.Context, vars map[string]interface{}) (map[string]interface{}, error)
}

// JobHandler adapts a Runner to Zeebe job activation.
type JobHandler struct {
	runner     Runner
	validator  *registry.Validator
	errHandler *errors.ErrorHandler
	obs        *observability.Observability
	timeout    time.Duration
	logger     logger.Logger
}

func NewJobHandler(
	runner Runner,
	validator *registry.Validator,
	obs *observability.Observability,
	timeout time.Duration,
	log logger.Logger,
) *JobHandler {
	log = log.WithFields(map[string]interface{}{"taskType": runner.TaskType()})
	return &JobHandler{
		runner:     runner,
		validator:  validator,
		errHandler: errors.NewErrorHandler(log),
		obs:        obs,
		timeout:    timeout,
		logger:     log,
	}
}

func (h *JobHandler) Handle(client worker.JobClient, job entities.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	ctx = WithTaskKey(ctx, strconv.FormatInt(job.Key, 10))

	if h.obs != nil {
		spanCtx, span := h.obs.StartSpan(ctx, "job "+h.runner.TaskType(),
			attribute.Int64("zeebe.job_key", job.Key),
			attribute.Int64("zeebe.process_instance_key", job.ProcessInstanceKey),
		)
		defer span.End()
		ctx = spanCtx
	}

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	output, err := h.Process(ctx, job.Variables)
	if err != nil {
		h.errHandler.HandleJobError(ctx, client, job, err)
		return
	}

	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromMap(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err.Error()})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err.Error()})
	}
}

// Process decodes job variables, validates them and runs the task with metrics recorded.
func (h *JobHandler) Process(ctx context.Context, variables string) (map[string]interface{}, error) {
	taskType := h.runner.TaskType()
	start := time.Now()

	metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()

	output, err := h.process(ctx, variables)

	metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
	status := "completed"
	if err != nil {
		status = "failed"
		metrics.WorkerJobsFailed.WithLabelValues(taskType, string(errors.Normalize(err).Code)).Inc()
	} else {
		metrics.WorkerJobsCompleted.WithLabelValues(taskType).Inc()
	}
	if h.obs != nil {
		h.obs.RecordJobProcessed(ctx, taskType, status)
		h.obs.RecordJobDuration(ctx, taskType, time.Since(start), status)
	}
	return output, err
}

func (h *JobHandler) process(ctx context.Context, variables string) (map[string]interface{}, error) {
	vars := map[string]interface{}{}
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &vars); err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("parse job variables: %v", err))
		}
	}

	if h.validator != nil {
		if err := h.validator.ValidateInput(h.runner.TaskType(), vars); err != nil {
			return nil, err
		}
	}

	output, err := h.runner.Run(ctx, vars)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewTimeoutError(h.runner.TaskType(), err)
		}
		return nil, err
	}
	if output == nil {
		output = map[string]interface{}{}
	}
	return output, nil
}

type CamundaWorker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

func NewWorker(
	client zbc.Client,
	taskType string,
	maxJobsActive int,
	handler *JobHandler,
	log logger.Logger,
) *CamundaWorker {
	jobWorker := client.NewJobWorker().
		JobType(taskType).
		Handler(handler.Handle).
		MaxJobsActive(maxJobsActive).
		Open()

	return &CamundaWorker{
		worker:   jobWorker,
		logger:   log,
		taskType: taskType,
	}
}

func (w *CamundaWorker) Start() {
	w.logger.Info("worker started", map[string]interface{}{"taskType": w.taskType})
}

func (w *CamundaWorker) Stop() {
	w.logger.Info("stopping worker", map[string]interface{}{"taskType": w.taskType})
	w.worker.Close()
	w.worker.AwaitClose()
}
