package notifyuser

import (
	"context"

	"trades-marketplace/internal/common/camunda"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/services/notifications"
	"trades-marketplace/pkg/registry"
)

const TaskType = registry.TaskNotifyUser

type Notifier interface {
	Send(ctx context.Context, req notifications.Request) ([]notifications.Delivery, error)
}

type Handler struct {
	config   *Config
	notifier Notifier
	logger   logger.Logger
}

func NewHandler(config *Config, notifier Notifier, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		notifier: notifier,
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

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	if len(input.RecipientIDs) == 0 {
		h.logger.Info("no recipients, notification skipped", map[string]interface{}{
			"notificationType": input.NotificationType,
		})
		return &Output{NotificationIDs: []string{}, NotificationStatus: StatusSkipped}, nil
	}

	deliveries, err := h.notifier.Send(ctx, notifications.Request{
		Type:         input.NotificationType,
		RecipientIDs: input.RecipientIDs,
		Priority:     input.Priority,
		Data:         input.Data,
		DedupeKey:    camunda.TaskKey(ctx),
	})
	if err != nil {
		return nil, err
	}

	output := &Output{NotificationIDs: []string{}, NotificationStatus: aggregate(deliveries)}
	for _, d := range deliveries {
		if d.NotificationID != "" {
			output.NotificationIDs = append(output.NotificationIDs, d.NotificationID)
		}
		if d.Status != notifications.StatusDisabled {
			output.Delivered++
		}
	}

	h.logger.Info("notification delivered", map[string]interface{}{
		"notificationType": input.NotificationType,
		"recipients":       len(input.RecipientIDs),
		"status":           output.NotificationStatus,
	})
	return output, nil
}

// aggregate is sent only when every recipient got every channel, disabled when nobody
// could be reached and partial otherwise.
func aggregate(deliveries []notifications.Delivery) string {
	if len(deliveries) == 0 {
		return StatusDisabled
	}
	sent, disabled := 0, 0
	for _, d := range deliveries {
		switch d.Status {
		case notifications.StatusSent, notifications.StatusDuplicate:
			sent++
		case notifications.StatusDisabled:
			disabled++
		}
	}
	switch {
	case sent == len(deliveries):
		return StatusSent
	case disabled == len(deliveries):
		return StatusDisabled
	default:
		return StatusPartial
	}
}
