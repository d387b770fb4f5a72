// internal/models/application.go
package models

import "time"

type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationAccepted  ApplicationStatus = "accepted"
	ApplicationRejected  ApplicationStatus = "rejected"
	ApplicationWithdrawn ApplicationStatus = "withdrawn"
)

type Application struct {
	ID                  string            `json:"id" db:"id"`
	JobID               string            `json:"jobId" db:"job_id"`
	WorkerID            string            `json:"workerId" db:"worker_id"`
	CoverLetter         string            `json:"coverLetter" db:"cover_letter"`
	ProposedAmountCents int64             `json:"proposedAmountCents" db:"proposed_amount_cents"`
	Status              ApplicationStatus `json:"status" db:"status"`
	CreatedAt           time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time         `json:"updatedAt" db:"updated_at"`
}
