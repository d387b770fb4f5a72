package registry

const (
	TaskNotifyUser        = "notify-user"
	TaskReleaseEscrow     = "release-escrow"
	TaskRefundEscrow      = "refund-escrow"
	TaskIndexDocument     = "index-document"
	TaskRecalculateRating = "recalculate-rating"
)

const (
	ProcessJobPosted            = "job-posted"
	ProcessProfileUpdated       = "profile-updated"
	ProcessJobCancelled         = "job-cancelled"
	ProcessJobCompleted         = "job-completed"
	ProcessApplicationSubmitted = "application-submitted"
	ProcessApplicationDecided   = "application-decided"
	ProcessReviewSubmitted      = "review-submitted"
)

const uuidPattern = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`

func uuidProp() map[string]interface{} {
	return map[string]interface{}{"type": "string", "pattern": uuidPattern}
}

// Builtin returns the activities and processes this service deploys.
func Builtin() *ActivityRegistry {
	return &ActivityRegistry{
		Version:     "1.0.0",
		LastUpdated: "2026-10-01",
		Activities: []Activity{
			{
				ID:          "marketplace.notification.send",
				DisplayName: "Notify User",
				Description: "Stores an in-app notification and delivers it by email and SMS",
				Category:    "communication",
				Version:     "1.0.0",
				TaskType:    TaskNotifyUser,
				InputSchema: map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"notificationType"},
					"properties": map[string]interface{}{
						"notificationType": map[string]interface{}{"type": "string", "minLength": 1},
						"recipientIds":     map[string]interface{}{"type": "array", "items": uuidProp()},
						"priority":         map[string]interface{}{"type": "string", "enum": []interface{}{"low", "normal", "high"}},
						"data":             map[string]interface{}{"type": "object"},
					},
				},
				ErrorCodes: []string{"NOTIFICATION_SEND_FAILED", "DATABASE_INSERT_FAILED"},
				Timeout:    "30s",
				Retries:    3,
				Workflows: []string{
					ProcessJobCancelled, ProcessJobCompleted, ProcessApplicationSubmitted,
					ProcessApplicationDecided, ProcessReviewSubmitted,
				},
				Tags: []string{"notification", "email", "sms"},
			},
			{
				ID:          "marketplace.escrow.release",
				DisplayName: "Release Escrow",
				Description: "Transfers the escrowed amount minus the platform fee to the worker",
				Category:    "payments",
				Version:     "1.0.0",
				TaskType:    TaskReleaseEscrow,
				InputSchema: map[string]interface{}{
					"type":       "object",
					"required":   []interface{}{"jobId"},
					"properties": map[string]interface{}{"jobId": uuidProp()},
				},
				ErrorCodes: []string{"PAYMENT_PROCESSOR_ERROR", "ESCROW_NOT_FUNDED", "INVALID_STATE_TRANSITION"},
				Timeout:    "30s",
				Retries:    3,
				Workflows:  []string{ProcessJobCompleted},
				Tags:       []string{"payments", "escrow"},
			},
			{
				ID:          "marketplace.escrow.refund",
				DisplayName: "Refund Escrow",
				Description: "Refunds a funded escrow to the hirer",
				Category:    "payments",
				Version:     "1.0.0",
				TaskType:    TaskRefundEscrow,
				InputSchema: map[string]interface{}{
					"type":       "object",
					"required":   []interface{}{"jobId"},
					"properties": map[string]interface{}{"jobId": uuidProp()},
				},
				ErrorCodes: []string{"PAYMENT_PROCESSOR_ERROR", "INVALID_STATE_TRANSITION"},
				Timeout:    "30s",
				Retries:    3,
				Workflows:  []string{ProcessJobCancelled},
				Tags:       []string{"payments", "escrow"},
			},
			{
				ID:          "marketplace.search.index",
				DisplayName: "Index Document",
				Description: "Upserts or deletes a job or worker profile in the search indices",
				Category:    "search",
				Version:     "1.0.0",
				TaskType:    TaskIndexDocument,
				InputSchema: map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"documentType", "documentId"},
					"properties": map[string]interface{}{
						"documentType": map[string]interface{}{"type": "string", "enum": []interface{}{"job", "worker"}},
						"documentId":   uuidProp(),
						"operation":    map[string]interface{}{"type": "string", "enum": []interface{}{"upsert", "delete"}},
					},
				},
				ErrorCodes: []string{"SEARCH_QUERY_FAILED", "QUERY_EXECUTION_FAILED"},
				Timeout:    "15s",
				Retries:    3,
				Workflows: []string{
					ProcessJobPosted, ProcessProfileUpdated, ProcessJobCancelled, ProcessJobCompleted,
					ProcessApplicationDecided, ProcessReviewSubmitted,
				},
				Tags: []string{"search", "elasticsearch"},
			},
			{
				ID:          "marketplace.review.recalculate",
				DisplayName: "Recalculate Rating",
				Description: "Recomputes a user's average rating and invalidates the cached summary",
				Category:    "reviews",
				Version:     "1.0.0",
				TaskType:    TaskRecalculateRating,
				InputSchema: map[string]interface{}{
					"type":       "object",
					"required":   []interface{}{"revieweeId"},
					"properties": map[string]interface{}{"revieweeId": uuidProp()},
				},
				ErrorCodes: []string{"QUERY_EXECUTION_FAILED"},
				Timeout:    "15s",
				Retries:    3,
				Workflows:  []string{ProcessReviewSubmitted},
				Tags:       []string{"reviews"},
			},
		},
	}
}

// BuiltinProcesses mirrors the deployed BPMN models for the in-process engine.
func BuiltinProcesses() []Process {
	return []Process{
		{ID: ProcessJobPosted, Tasks: []string{TaskIndexDocument}},
		{ID: ProcessProfileUpdated, Tasks: []string{TaskIndexDocument}},
		{ID: ProcessJobCancelled, Tasks: []string{TaskRefundEscrow, TaskIndexDocument, TaskNotifyUser}},
		{ID: ProcessJobCompleted, Tasks: []string{TaskReleaseEscrow, TaskIndexDocument, TaskNotifyUser}},
		{ID: ProcessApplicationSubmitted, Tasks: []string{TaskNotifyUser}},
		{ID: ProcessApplicationDecided, Tasks: []string{TaskIndexDocument, TaskNotifyUser}},
		{ID: ProcessReviewSubmitted, Tasks: []string{TaskRecalculateRating, TaskIndexDocument, TaskNotifyUser}},
	}
}
