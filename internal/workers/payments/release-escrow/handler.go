package releaseescrow

import (
	"context"

	"trades-marketplace/internal/common/camunda"
	"trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/models"
	"trades-marketplace/pkg/registry"
)

const TaskType = registry.TaskReleaseEscrow

type Releaser interface {
	ReleaseEscrow(ctx context.Context, jobID string) (*models.EscrowAccount, error)
}

type Handler struct {
	config   *Config
	releaser Releaser
	logger   logger.Logger
}

func NewHandler(config *Config, releaser Releaser, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		releaser: releaser,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) TaskType() string { return TaskType }

func (h *Handler) Run(ctx context.Context, vars map[string]interface{}) (map[string]interface{}, error) {
	var input Input
	if err := camunda.DecodeVariables(vars, &input); err != nil {
		return nil, err
	}
	output, err := h.Execute(ctx, &input)
	if err != nil {
		return nil, err
	}
	return camunda.EncodeVariables(output)
}

// Execute pays the worker out of escrow. Jobs settled outside escrow complete with
// status none so the rest of the process still runs.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	escrow, err := h.releaser.ReleaseEscrow(ctx, input.JobID)
	if errors.HasCode(err, errors.ErrCodeEscrowNotFunded) {
		h.logger.Info("job has no escrow, release skipped", map[string]interface{}{"jobId": input.JobID})
		return &Output{EscrowStatus: StatusNone}, nil
	}
	if err != nil {
		return nil, err
	}

	h.logger.Info("escrow released", map[string]interface{}{
		"jobId":       input.JobID,
		"escrowId":    escrow.ID,
		"payoutCents": escrow.PayoutCents(),
	})
	return &Output{
		EscrowID:     escrow.ID,
		EscrowStatus: string(escrow.Status),
		PayoutCents:  escrow.PayoutCents(),
		TransferRef:  escrow.TransferRef,
	}, nil
}
