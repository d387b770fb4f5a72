package releaseescrow

type Input struct {
	JobID string `json:"jobId"`
}

type Output struct {
	EscrowID     string `json:"escrowId,omitempty"`
	EscrowStatus string `json:"escrowStatus"`
	PayoutCents  int64  `json:"payoutCents,omitempty"`
	TransferRef  string `json:"transferRef,omitempty"`
}

// StatusNone means the job was never paid through escrow.
const StatusNone = "none"
