// internal/models/review.go
package models

import "time"

type Review struct {
	ID         string    `json:"id" db:"id"`
	JobID      string    `json:"jobId" db:"job_id"`
	ReviewerID string    `json:"reviewerId" db:"reviewer_id"`
	RevieweeID string    `json:"revieweeId" db:"reviewee_id"`
	Rating     int       `json:"rating" db:"rating"`
	Comment    string    `json:"comment" db:"comment"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

type RatingSummary struct {
	UserID       string         `json:"userId"`
	Average      float64        `json:"average"`
	Count        int            `json:"count"`
	Distribution map[string]int `json:"distribution"`
}
