// internal/common/camunda/engine.go
package camunda

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/pkg/registry"

	"github.com/google/uuid"
)

// Engine starts marketplace processes. The Zeebe Client and LocalEngine both satisfy it.
type Engine interface {
	StartProcess(ctx context.Context, processID string, vars map[string]interface{}) error
}

// LocalEngine runs process task chains in-process when no broker is configured.
// Each task's output variables are merged into the input of the next task.
type LocalEngine struct {
	processes map[string][]string
	runners   map[string]Runner
	validator *registry.Validator
	logger    logger.Logger
	backoff   time.Duration

	wg sync.WaitGroup
}

func NewLocalEngine(processes []registry.Process, validator *registry.Validator, log logger.Logger, runners ...Runner) *LocalEngine {
	e := &LocalEngine{
		processes: make(map[string][]string, len(processes)),
		runners:   make(map[string]Runner, len(runners)),
		validator: validator,
		logger:    log,
		backoff:   500 * time.Millisecond,
	}
	for _, p := range processes {
		e.processes[p.ID] = p.Tasks
	}
	for _, r := range runners {
		e.runners[r.TaskType()] = r
	}
	return e
}

// SetBackoff changes the delay between retries of a failed task.
func (e *LocalEngine) SetBackoff(d time.Duration) {
	e.backoff = d
}

// StartProcess returns once the instance is accepted; tasks run in the background.
func (e *LocalEngine) StartProcess(_ context.Context, processID string, vars map[string]interface{}) error {
	tasks, ok := e.processes[processID]
	if !ok {
		return errors.NewResourceNotFoundError("process", fmt.Sprintf("process %s is not deployed", processID))
	}

	instance := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		instance[k] = v
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(context.Background(), processID, tasks, instance)
	}()
	return nil
}

// Wait blocks until every started instance has finished.
func (e *LocalEngine) Wait() {
	e.wg.Wait()
}

func (e *LocalEngine) run(ctx context.Context, processID string, tasks []string, vars map[string]interface{}) {
	instanceID := uuid.NewString()
	log := e.logger.WithFields(map[string]interface{}{"process": processID, "instanceId": instanceID})

	for _, taskType := range tasks {
		runner, ok := e.runners[taskType]
		if !ok {
			log.Warn("no runner registered, skipping task", map[string]interface{}{"taskType": taskType})
			continue
		}

		output, err := e.runTask(WithTaskKey(ctx, instanceID+":"+taskType), runner, vars)
		if err != nil {
			stdErr := errors.Normalize(err)
			log.Error("process instance stopped", map[string]interface{}{
				"taskType":  taskType,
				"errorCode": string(stdErr.Code),
				"details":   stdErr.Details,
			})
			return
		}
		for k, v := range output {
			vars[k] = v
		}
	}
	log.Debug("process instance completed", nil)
}

func (e *LocalEngine) runTask(ctx context.Context, runner Runner, vars map[string]interface{}) (map[string]interface{}, error) {
	if e.validator != nil {
		if err := e.validator.ValidateInput(runner.TaskType(), vars); err != nil {
			return nil, err
		}
	}

	var lastErr error
	retries := 0
	for attempt := 0; ; attempt++ {
		output, err := runner.Run(ctx, vars)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if attempt == 0 {
			retries = errors.GetRetryCount(errors.Normalize(err).Code)
		}
		if attempt >= retries {
			return nil, lastErr
		}

		select {
		case <-time.After(e.backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
