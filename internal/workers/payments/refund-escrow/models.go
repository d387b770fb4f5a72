package refundescrow

type Input struct {
	JobID string `json:"jobId"`
}

type Output struct {
	EscrowID      string `json:"escrowId,omitempty"`
	EscrowStatus  string `json:"escrowStatus"`
	RefundedCents int64  `json:"refundedCents,omitempty"`
}

const StatusNone = "none"
