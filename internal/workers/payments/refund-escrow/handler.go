package refundescrow

import (
	"context"

	"trades-marketplace/internal/common/camunda"
	"trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/models"
	"trades-marketplace/pkg/registry"
)

const TaskType = registry.TaskRefundEscrow

type Refunder interface {
	RefundEscrow(ctx context.Context, jobID string) (*models.EscrowAccount, error)
}

type Handler struct {
	config   *Config
	refunder Refunder
	logger   logger.Logger
}

func NewHandler(config *Config, refunder Refunder, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		refunder: refunder,
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

// Execute returns the escrowed amount to the hirer of a cancelled job. Most cancelled
// jobs were never funded; those complete with status none.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	escrow, err := h.refunder.RefundEscrow(ctx, input.JobID)
	if errors.HasCode(err, errors.ErrCodeEscrowNotFunded) {
		h.logger.Debug("job has no escrow, refund skipped", map[string]interface{}{"jobId": input.JobID})
		return &Output{EscrowStatus: StatusNone}, nil
	}
	if err != nil {
		return nil, err
	}

	h.logger.Info("escrow refunded", map[string]interface{}{
		"jobId":       input.JobID,
		"escrowId":    escrow.ID,
		"amountCents": escrow.AmountCents,
	})
	return &Output{
		EscrowID:      escrow.ID,
		EscrowStatus:  string(escrow.Status),
		RefundedCents: escrow.AmountCents,
	}, nil
}
