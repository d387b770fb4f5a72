// internal/models/job.go
package models

import "time"

type JobStatus string

const (
	JobStatusOpen       JobStatus = "open"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusRemoved    JobStatus = "removed"
)

var Trades = []string{
	"plumbing", "electrical", "carpentry", "painting", "roofing",
	"hvac", "landscaping", "cleaning", "masonry", "general",
}

type Job struct {
	ID                string     `json:"id" db:"id"`
	HirerID           string     `json:"hirerId" db:"hirer_id"`
	Title             string     `json:"title" db:"title"`
	Description       string     `json:"description" db:"description"`
	Trade             string     `json:"trade" db:"trade"`
	Location          string     `json:"location" db:"location"`
	BudgetMinCents    int64      `json:"budgetMinCents" db:"budget_min_cents"`
	BudgetMaxCents    int64      `json:"budgetMaxCents" db:"budget_max_cents"`
	Status            JobStatus  `json:"status" db:"status"`
	WorkerID          *string    `json:"workerId,omitempty" db:"worker_id"`
	AgreedAmountCents *int64     `json:"agreedAmountCents,omitempty" db:"agreed_amount_cents"`
	StartsAt          *time.Time `json:"startsAt,omitempty" db:"starts_at"`
	CompletedAt       *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsParty reports whether userID is the hirer or the assigned worker.
func (j *Job) IsParty(userID string) bool {
	return j.HirerID == userID || (j.WorkerID != nil && *j.WorkerID == userID)
}

// Page is a generic offset-paginated result.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
