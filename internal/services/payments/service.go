// internal/services/payments/service.go
package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/common/config"
	"trades-marketplace/internal/common/database"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/common/metrics"
	"trades-marketplace/internal/common/validation"
	"trades-marketplace/internal/models"
	"trades-marketplace/internal/services/jobs"
	"trades-marketplace/internal/services/notifications"

	"github.com/google/uuid"
)

const (
	intentColumns = `id, job_id, hirer_id, amount_cents, fee_cents, currency, status, processor_ref,
		client_secret, created_at, updated_at`
	escrowColumns = `id, job_id, intent_id, hirer_id, worker_id, amount_cents, fee_cents, currency, status,
		transfer_ref, funded_at, released_at, refunded_at`
)

// Notifier tells users about money movements.
type Notifier interface {
	Send(ctx context.Context, req notifications.Request) ([]notifications.Delivery, error)
}

type CreateIntentRequest struct {
	JobID       string `json:"jobId,omitempty"`
	AmountCents *int64 `json:"amountCents,omitempty"`
}

type ConfirmResult struct {
	Intent *models.PaymentIntent `json:"intent"`
	Escrow *models.EscrowAccount `json:"escrow,omitempty"`
}

type Service struct {
	db        *sql.DB
	processor Processor
	notifier  Notifier
	cfg       config.PaymentsConfig
	logger    logger.Logger
	now       func() time.Time
}

func NewService(db *sql.DB, processor Processor, notifier Notifier, cfg config.PaymentsConfig, log logger.Logger) *Service {
	return &Service{db: db, processor: processor, notifier: notifier, cfg: cfg, logger: log, now: time.Now}
}

// PlatformFee is amount x bps / 10000 rounded half up.
func PlatformFee(amountCents int64, bps int) int64 {
	return (amountCents*int64(bps) + 5000) / 10000
}

// CreateIntent starts paying for an in-progress job. The amount defaults to the agreed price.
func (s *Service) CreateIntent(ctx context.Context, actor auth.Principal, req CreateIntentRequest) (*models.PaymentIntent, error) {
	if actor.Role != models.RoleHirer {
		return nil, apperrors.NewForbiddenError("only hirers can pay for jobs")
	}
	if err := validation.PaymentIntentCreateSchema.Check(req); err != nil {
		return nil, err
	}

	job, err := s.loadJob(ctx, s.db, req.JobID, false)
	if err != nil {
		return nil, err
	}
	if job.HirerID != actor.UserID {
		return nil, apperrors.NewForbiddenError("only the job owner can pay for it")
	}
	if job.Status != models.JobStatusInProgress || job.WorkerID == nil {
		return nil, apperrors.NewInvalidStateTransitionError("job", string(job.Status), "funded")
	}

	var amount int64
	switch {
	case req.AmountCents != nil:
		amount = *req.AmountCents
	case job.AgreedAmountCents != nil:
		amount = *job.AgreedAmountCents
	}
	if amount <= 0 {
		return nil, apperrors.NewValidationError("amountCents: must be greater than zero")
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM escrow_accounts WHERE job_id = $1`, job.ID).Scan(&exists)
	switch {
	case err == nil:
		return nil, apperrors.NewInvalidStateTransitionError("escrow", string(models.EscrowFunded), string(models.EscrowFunded))
	case !errors.Is(err, sql.ErrNoRows):
		return nil, database.QueryError("find-escrow", err)
	}

	// A repeated request gets the intent that is still waiting for confirmation.
	pending, err := s.loadIntent(ctx, `job_id = $1 AND status = 'requires_confirmation'`, job.ID)
	switch {
	case err == nil && pending.AmountCents == amount:
		return pending, nil
	case err == nil:
		return nil, apperrors.NewInvalidStateTransitionError("payment intent",
			string(models.IntentRequiresConfirmation), string(models.IntentRequiresConfirmation))
	case !apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound):
		return nil, err
	}

	now := s.now().UTC()
	intent := &models.PaymentIntent{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		HirerID:     actor.UserID,
		AmountCents: amount,
		FeeCents:    PlatformFee(amount, s.cfg.PlatformFeeBps),
		Currency:    s.currency(),
		Status:      models.IntentRequiresConfirmation,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	pi, err := s.processor.CreateIntent(ctx, IntentParams{
		IdempotencyKey: intent.ID,
		AmountCents:    intent.AmountCents,
		FeeCents:       intent.FeeCents,
		Currency:       intent.Currency,
		JobID:          job.ID,
	})
	s.record("create_intent", err)
	if err != nil {
		return nil, err
	}
	intent.ProcessorRef = pi.ID
	intent.ClientSecret = pi.ClientSecret

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_intents (id, job_id, hirer_id, amount_cents, fee_cents, currency, status,
			processor_ref, client_secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		intent.ID, intent.JobID, intent.HirerID, intent.AmountCents, intent.FeeCents, intent.Currency,
		string(intent.Status), intent.ProcessorRef, intent.ClientSecret, now, now)
	if database.IsUniqueViolation(err) {
		return nil, apperrors.NewInvalidStateTransitionError("payment intent",
			string(models.IntentRequiresConfirmation), string(models.IntentRequiresConfirmation))
	}
	if err != nil {
		return nil, apperrors.NewDatabaseInsertFailedError(err)
	}
	return intent, nil
}

// Confirm confirms an intent with the processor and funds the escrow on success.
func (s *Service) Confirm(ctx context.Context, actor auth.Principal, intentID string) (*ConfirmResult, error) {
	intent, err := s.loadIntent(ctx, `id = $1`, intentID)
	if err != nil {
		return nil, err
	}
	if intent.HirerID != actor.UserID {
		return nil, apperrors.NewForbiddenError("only the payer can confirm this payment")
	}

	switch intent.Status {
	case models.IntentSucceeded:
		escrow, err := s.loadEscrow(ctx, s.db, intent.JobID, false)
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{Intent: intent, Escrow: escrow}, nil
	case models.IntentRequiresConfirmation:
	default:
		return nil, apperrors.NewInvalidStateTransitionError("payment intent", string(intent.Status), string(models.IntentSucceeded))
	}

	pi, err := s.processor.ConfirmIntent(ctx, intent.ProcessorRef, intent.ID+":confirm")
	s.record("confirm_intent", err)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodePaymentDeclined) {
			s.markFailed(ctx, intent)
		}
		return nil, err
	}
	if pi.Status != ProcessorSucceeded {
		s.markFailed(ctx, intent)
		reason := pi.DeclineReason
		if reason == "" {
			reason = "processor status: " + pi.Status
		}
		return nil, apperrors.NewPaymentDeclinedError(reason)
	}

	escrow, err := s.fund(ctx, intent)
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Intent: intent, Escrow: escrow}, nil
}

// GetEscrow is visible to the job's hirer, its assigned worker and admins.
func (s *Service) GetEscrow(ctx context.Context, actor auth.Principal, jobID string) (*models.EscrowAccount, error) {
	escrow, err := s.loadEscrow(ctx, s.db, jobID, false)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && escrow.HirerID != actor.UserID && escrow.WorkerID != actor.UserID {
		return nil, apperrors.NewForbiddenError("not a party to this payment")
	}
	return escrow, nil
}

// Release pays out a completed job on behalf of its hirer or an admin.
func (s *Service) Release(ctx context.Context, actor auth.Principal, jobID string) (*models.EscrowAccount, error) {
	job, err := s.loadJob(ctx, s.db, jobID, false)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && job.HirerID != actor.UserID {
		return nil, apperrors.NewForbiddenError("only the job owner can release payment")
	}
	return s.ReleaseEscrow(ctx, jobID)
}

// ReleaseEscrow transfers amount minus fee to the worker. Releasing twice returns the
// released escrow unchanged.
func (s *Service) ReleaseEscrow(ctx context.Context, jobID string) (*models.EscrowAccount, error) {
	var (
		escrow   *models.EscrowAccount
		job      *models.Job
		released bool
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		escrow, err = s.loadEscrow(ctx, tx, jobID, true)
		if err != nil {
			return err
		}
		switch escrow.Status {
		case models.EscrowReleased:
			return nil
		case models.EscrowRefunded:
			return apperrors.NewInvalidStateTransitionError("escrow", string(escrow.Status), string(models.EscrowReleased))
		}

		job, err = s.loadJob(ctx, tx, jobID, false)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusCompleted {
			return apperrors.NewInvalidStateTransitionError("job", string(job.Status), "paid out")
		}

		ref, err := s.processor.Transfer(ctx, TransferParams{
			IdempotencyKey: "release:" + escrow.ID,
			AmountCents:    escrow.PayoutCents(),
			Currency:       escrow.Currency,
			Destination:    escrow.WorkerID,
			JobID:          jobID,
		})
		s.record("release", err)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE escrow_accounts SET status = 'released', transfer_ref = $2, released_at = $3
			WHERE id = $1`, escrow.ID, ref, now); err != nil {
			return database.QueryError("release-escrow", err)
		}
		escrow.Status = models.EscrowReleased
		escrow.TransferRef = ref
		escrow.ReleasedAt = &now
		released = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if released {
		s.notify(ctx, notifications.TypePaymentReleased, escrow.WorkerID, map[string]interface{}{
			"jobTitle":    job.Title,
			"amountCents": escrow.PayoutCents(),
		})
	}
	return escrow, nil
}

// Refund returns the escrowed amount to the hirer. Admins may refund any job; the owner only
// a cancelled one.
func (s *Service) Refund(ctx context.Context, actor auth.Principal, jobID string) (*models.EscrowAccount, error) {
	job, err := s.loadJob(ctx, s.db, jobID, false)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		if job.HirerID != actor.UserID {
			return nil, apperrors.NewForbiddenError("only the job owner or an admin can refund")
		}
		if job.Status != models.JobStatusCancelled {
			return nil, apperrors.NewInvalidStateTransitionError("job", string(job.Status), "refunded")
		}
	}
	return s.RefundEscrow(ctx, jobID)
}

// RefundEscrow refunds the funding intent. Refunding twice returns the refunded escrow unchanged.
func (s *Service) RefundEscrow(ctx context.Context, jobID string) (*models.EscrowAccount, error) {
	var (
		escrow   *models.EscrowAccount
		refunded bool
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		escrow, err = s.loadEscrow(ctx, tx, jobID, true)
		if err != nil {
			return err
		}
		switch escrow.Status {
		case models.EscrowRefunded:
			return nil
		case models.EscrowReleased:
			return apperrors.NewInvalidStateTransitionError("escrow", string(escrow.Status), string(models.EscrowRefunded))
		}

		var processorRef string
		if err := tx.QueryRowContext(ctx, `SELECT processor_ref FROM payment_intents WHERE id = $1`, escrow.IntentID).
			Scan(&processorRef); err != nil {
			return database.NotFound("payment intent", escrow.IntentID, err)
		}

		ref, err := s.processor.Refund(ctx, RefundParams{
			IdempotencyKey: "refund:" + escrow.ID,
			ProcessorRef:   processorRef,
			AmountCents:    escrow.AmountCents,
		})
		s.record("refund", err)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE escrow_accounts SET status = 'refunded', transfer_ref = $2, refunded_at = $3
			WHERE id = $1`, escrow.ID, ref, now); err != nil {
			return database.QueryError("refund-escrow", err)
		}
		escrow.Status = models.EscrowRefunded
		escrow.TransferRef = ref
		escrow.RefundedAt = &now
		refunded = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if refunded {
		data := map[string]interface{}{"amountCents": escrow.AmountCents}
		if job, err := s.loadJob(ctx, s.db, jobID, false); err == nil {
			data["jobTitle"] = job.Title
		}
		s.notify(ctx, notifications.TypePaymentRefunded, escrow.HirerID, data)
	}
	return escrow, nil
}

// HandleWebhook reconciles intent state from a signed processor event. Events for unknown
// intents are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	tolerance := time.Duration(s.cfg.WebhookTolerance) * time.Second
	if err := VerifySignature(payload, signature, s.cfg.WebhookSecret, tolerance, s.now()); err != nil {
		return err
	}

	var evt WebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return apperrors.NewValidationError("malformed webhook event")
	}
	log := logger.FromContext(ctx, s.logger).WithFields(map[string]interface{}{
		"eventId":   evt.ID,
		"eventType": evt.Type,
	})

	if evt.Type != EventIntentSucceeded && evt.Type != EventIntentFailed {
		log.Debug("ignoring webhook event", nil)
		return nil
	}

	intent, err := s.loadIntent(ctx, `processor_ref = $1`, evt.Data.Object.ID)
	if apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound) {
		log.Warn("webhook for unknown intent", map[string]interface{}{"processorRef": evt.Data.Object.ID})
		return nil
	}
	if err != nil {
		return err
	}

	switch evt.Type {
	case EventIntentSucceeded:
		_, err := s.fund(ctx, intent)
		if apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition) {
			log.Warn("succeeded intent not funded", map[string]interface{}{"intentId": intent.ID, "error": err.Error()})
			return nil
		}
		if err != nil {
			return err
		}
	case EventIntentFailed:
		if intent.Status == models.IntentRequiresConfirmation {
			s.markFailed(ctx, intent)
		}
	}
	log.Info("webhook reconciled", map[string]interface{}{"intentId": intent.ID})
	return nil
}

// fund marks the intent succeeded and opens the job's escrow. Safe to repeat. Other intents
// still waiting for confirmation are cancelled. When another intent already funded the escrow,
// this intent's charge is refunded and an invalid state transition is returned.
func (s *Service) fund(ctx context.Context, intent *models.PaymentIntent) (*models.EscrowAccount, error) {
	var (
		escrow  *models.EscrowAccount
		surplus bool
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.now().UTC()
		job, err := s.loadJob(ctx, tx, intent.JobID, true)
		if err != nil {
			return err
		}

		existing, err := s.loadEscrow(ctx, tx, intent.JobID, false)
		switch {
		case err == nil && existing.IntentID == intent.ID:
			escrow = existing
			return nil
		case err == nil:
			surplus = true
			return s.refundSurplus(ctx, tx, intent, now)
		case !apperrors.HasCode(err, apperrors.ErrCodeEscrowNotFunded):
			return err
		}
		if job.WorkerID == nil {
			return apperrors.NewInvalidStateTransitionError("job", string(job.Status), "funded")
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE payment_intents SET status = 'canceled', updated_at = $3
			WHERE job_id = $1 AND id <> $2 AND status = 'requires_confirmation'`,
			intent.JobID, intent.ID, now); err != nil {
			return database.QueryError("cancel-intents", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE payment_intents SET status = 'succeeded', updated_at = $2
			WHERE id = $1 AND status <> 'succeeded'`, intent.ID, now); err != nil {
			return database.QueryError("succeed-intent", err)
		}

		escrow = &models.EscrowAccount{
			ID:          uuid.NewString(),
			JobID:       intent.JobID,
			IntentID:    intent.ID,
			HirerID:     intent.HirerID,
			WorkerID:    *job.WorkerID,
			AmountCents: intent.AmountCents,
			FeeCents:    intent.FeeCents,
			Currency:    intent.Currency,
			Status:      models.EscrowFunded,
			FundedAt:    now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO escrow_accounts (id, job_id, intent_id, hirer_id, worker_id, amount_cents, fee_cents,
				currency, status, funded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			escrow.ID, escrow.JobID, escrow.IntentID, escrow.HirerID, escrow.WorkerID, escrow.AmountCents,
			escrow.FeeCents, escrow.Currency, string(escrow.Status), now); err != nil {
			return apperrors.NewDatabaseInsertFailedError(err)
		}
		return nil
	})
	s.record("fund", err)
	if err != nil {
		return nil, err
	}
	if surplus {
		intent.Status = models.IntentCanceled
		return nil, apperrors.NewInvalidStateTransitionError("payment intent", "charged", "refunded")
	}
	intent.Status = models.IntentSucceeded
	return escrow, nil
}

// refundSurplus gives back the charge of an intent whose job is already funded.
func (s *Service) refundSurplus(ctx context.Context, tx *sql.Tx, intent *models.PaymentIntent, now time.Time) error {
	_, err := s.processor.Refund(ctx, RefundParams{
		IdempotencyKey: "surplus:" + intent.ID,
		ProcessorRef:   intent.ProcessorRef,
		AmountCents:    intent.AmountCents,
	})
	s.record("refund_surplus", err)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE payment_intents SET status = 'canceled', updated_at = $2 WHERE id = $1`, intent.ID, now); err != nil {
		return database.QueryError("cancel-intent", err)
	}
	logger.FromContext(ctx, s.logger).Warn("duplicate charge refunded", map[string]interface{}{
		"intentId": intent.ID,
		"jobId":    intent.JobID,
	})
	return nil
}

func (s *Service) markFailed(ctx context.Context, intent *models.PaymentIntent) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents SET status = 'failed', updated_at = $2
		WHERE id = $1 AND status = 'requires_confirmation'`, intent.ID, s.now().UTC())
	if err != nil {
		logger.FromContext(ctx, s.logger).Error("failed to mark intent failed", map[string]interface{}{
			"intentId": intent.ID,
			"error":    err.Error(),
		})
		return
	}
	intent.Status = models.IntentFailed
}

func (s *Service) notify(ctx context.Context, notificationType, userID string, data map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	_, err := s.notifier.Send(ctx, notifications.Request{
		Type:         notificationType,
		RecipientIDs: []string{userID},
		Priority:     "high",
		Data:         data,
	})
	if err != nil {
		logger.FromContext(ctx, s.logger).Warn("payment notification failed", map[string]interface{}{
			"type":  notificationType,
			"error": err.Error(),
		})
	}
}

func (s *Service) record(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.PaymentOperations.WithLabelValues(operation, status).Inc()
}

func (s *Service) currency() string {
	if s.cfg.Currency == "" {
		return "usd"
	}
	return s.cfg.Currency
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Service) loadJob(ctx context.Context, q queryer, id string, forUpdate bool) (*models.Job, error) {
	query := `SELECT ` + jobs.Columns() + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	job, err := jobs.ScanJob(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, database.NotFound("job", id, err)
	}
	return job, nil
}

func (s *Service) loadIntent(ctx context.Context, where string, arg string) (*models.PaymentIntent, error) {
	var (
		pi     models.PaymentIntent
		status string
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE `+where, arg).Scan(
		&pi.ID, &pi.JobID, &pi.HirerID, &pi.AmountCents, &pi.FeeCents, &pi.Currency, &status,
		&pi.ProcessorRef, &pi.ClientSecret, &pi.CreatedAt, &pi.UpdatedAt,
	)
	if err != nil {
		return nil, database.NotFound("payment intent", arg, err)
	}
	pi.Status = models.IntentStatus(status)
	return &pi, nil
}

func (s *Service) loadEscrow(ctx context.Context, q queryer, jobID string, forUpdate bool) (*models.EscrowAccount, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_accounts WHERE job_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		e          models.EscrowAccount
		status     string
		releasedAt sql.NullTime
		refundedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, jobID).Scan(
		&e.ID, &e.JobID, &e.IntentID, &e.HirerID, &e.WorkerID, &e.AmountCents, &e.FeeCents, &e.Currency,
		&status, &e.TransferRef, &e.FundedAt, &releasedAt, &refundedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewEscrowNotFundedError(jobID)
	}
	if err != nil {
		return nil, database.QueryError("load-escrow", err)
	}
	e.Status = models.EscrowStatus(status)
	if releasedAt.Valid {
		e.ReleasedAt = &releasedAt.Time
	}
	if refundedAt.Valid {
		e.RefundedAt = &refundedAt.Time
	}
	return &e, nil
}
