// internal/models/payment.go
package models

import "time"

type IntentStatus string

const (
	IntentRequiresConfirmation IntentStatus = "requires_confirmation"
	IntentSucceeded            IntentStatus = "succeeded"
	IntentFailed               IntentStatus = "failed"
	IntentCanceled             IntentStatus = "canceled"
)

type EscrowStatus string

const (
	EscrowFunded   EscrowStatus = "funded"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

type PaymentIntent struct {
	ID           string       `json:"id" db:"id"`
	JobID        string       `json:"jobId" db:"job_id"`
	HirerID      string       `json:"hirerId" db:"hirer_id"`
	AmountCents  int64        `json:"amountCents" db:"amount_cents"`
	FeeCents     int64        `json:"feeCents" db:"fee_cents"`
	Currency     string       `json:"currency" db:"currency"`
	Status       IntentStatus `json:"status" db:"status"`
	ProcessorRef string       `json:"processorRef,omitempty" db:"processor_ref"`
	ClientSecret string       `json:"clientSecret,omitempty" db:"client_secret"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" db:"updated_at"`
}

type EscrowAccount struct {
	ID          string       `json:"id" db:"id"`
	JobID       string       `json:"jobId" db:"job_id"`
	IntentID    string       `json:"intentId" db:"intent_id"`
	HirerID     string       `json:"hirerId" db:"hirer_id"`
	WorkerID    string       `json:"workerId" db:"worker_id"`
	AmountCents int64        `json:"amountCents" db:"amount_cents"`
	FeeCents    int64        `json:"feeCents" db:"fee_cents"`
	Currency    string       `json:"currency" db:"currency"`
	Status      EscrowStatus `json:"status" db:"status"`
	TransferRef string       `json:"transferRef,omitempty" db:"transfer_ref"`
	FundedAt    time.Time    `json:"fundedAt" db:"funded_at"`
	ReleasedAt  *time.Time   `json:"releasedAt,omitempty" db:"released_at"`
	RefundedAt  *time.Time   `json:"refundedAt,omitempty" db:"refunded_at"`
}

// PayoutCents is what the worker receives when the escrow is released.
func (e *EscrowAccount) PayoutCents() int64 {
	return e.AmountCents - e.FeeCents
}
