package indexdocument

import (
	"context"

	"trades-marketplace/internal/common/camunda"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/pkg/registry"
)

const TaskType = registry.TaskIndexDocument

type Indexer interface {
	Apply(ctx context.Context, documentType, documentID, operation string) (string, error)
}

type Handler struct {
	config  *Config
	indexer Indexer
	logger  logger.Logger
}

func NewHandler(config *Config, indexer Indexer, log logger.Logger) *Handler {
	return &Handler{
		config:  config,
		indexer: indexer,
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

	action, err := h.indexer.Apply(ctx, input.DocumentType, input.DocumentID, input.Operation)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("search index updated", map[string]interface{}{
		"documentType": input.DocumentType,
		"documentId":   input.DocumentID,
		"action":       action,
	})
	return &Output{IndexAction: action}, nil
}
