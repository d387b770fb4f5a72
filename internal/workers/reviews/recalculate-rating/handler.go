package recalculaterating

import (
	"context"

	"trades-marketplace/internal/common/camunda"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/models"
	"trades-marketplace/pkg/registry"
)

const TaskType = registry.TaskRecalculateRating

type Recalculator interface {
	RecalculateRating(ctx context.Context, userID string) (*models.RatingSummary, error)
}

type Handler struct {
	config  *Config
	ratings Recalculator
	logger  logger.Logger
}

func NewHandler(config *Config, ratings Recalculator, log logger.Logger) *Handler {
	return &Handler{
		config:  config,
		ratings: ratings,
		logger:  log.WithFields(map[string]interface{}{"taskType": TaskType}),
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

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	summary, err := h.ratings.RecalculateRating(ctx, input.RevieweeID)
	if err != nil {
		return nil, err
	}

	h.logger.Info("rating recalculated", map[string]interface{}{
		"userId":  input.RevieweeID,
		"average": summary.Average,
		"count":   summary.Count,
	})
	return &Output{RatingAvg: summary.Average, RatingCount: summary.Count}, nil
}
