package payments

import (
	"context"
	"testing"
	"time"

	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/common/config"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/models"
	"trades-marketplace/internal/services/notifications"
	"trades-marketplace/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hirerID       = "11111111-1111-4111-8111-111111111111"
	workerID      = "22222222-2222-4222-8222-222222222222"
	jobID         = "33333333-3333-4333-8333-333333333333"
	intentID      = "66666666-6666-4666-8666-666666666666"
	escrowID      = "77777777-7777-4777-8777-777777777777"
	otherIntentID = "99999999-9999-4999-8999-999999999999"
	adminID       = "88888888-8888-4888-8888-888888888888"
)

var (
	hirer  = auth.Principal{UserID: hirerID, Role: models.RoleHirer}
	worker = auth.Principal{UserID: workerID, Role: models.RoleWorker}
	admin  = auth.Principal{UserID: adminID, Role: models.RoleAdmin}
	now    = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

var (
	jobCols = []string{
		"id", "hirer_id", "title", "description", "trade", "location", "budget_min_cents", "budget_max_cents",
		"status", "worker_id", "agreed_amount_cents", "starts_at", "completed_at", "created_at", "updated_at",
	}
	intentCols = []string{
		"id", "job_id", "hirer_id", "amount_cents", "fee_cents", "currency", "status", "processor_ref",
		"client_secret", "created_at", "updated_at",
	}
	escrowCols = []string{
		"id", "job_id", "intent_id", "hirer_id", "worker_id", "amount_cents", "fee_cents", "currency", "status",
		"transfer_ref", "funded_at", "released_at", "refunded_at",
	}
)

func jobRow(status models.JobStatus) *sqlmock.Rows {
	return sqlmock.NewRows(jobCols).AddRow(
		jobID, hirerID, "Rewire garage", "Replace the old fuse box and run new circuits to the garage.",
		"electrical", "York", 10000, 20000, string(status), workerID, int64(15000), nil, nil, now, now,
	)
}

func intentRow(status models.IntentStatus) *sqlmock.Rows {
	return sqlmock.NewRows(intentCols).AddRow(
		intentID, jobID, hirerID, int64(15000), int64(1500), "usd", string(status), "pi_123", "secret_abc", now, now,
	)
}

func escrowRowFor(fundingIntentID string) *sqlmock.Rows {
	return sqlmock.NewRows(escrowCols).AddRow(
		escrowID, jobID, fundingIntentID, hirerID, workerID, int64(15000), int64(1500), "usd", "funded", "", now, nil, nil,
	)
}

func escrowRow(status models.EscrowStatus) *sqlmock.Rows {
	return sqlmock.NewRows(escrowCols).AddRow(
		escrowID, jobID, intentID, hirerID, workerID, int64(15000), int64(1500), "usd", string(status), "", now, nil, nil,
	)
}

type fakeProcessor struct {
	intent        *ProcessorIntent
	err           error
	intentParams  []IntentParams
	transfers     []TransferParams
	refunds       []RefundParams
	confirmedRefs []string
}

func (f *fakeProcessor) CreateIntent(_ context.Context, p IntentParams) (*ProcessorIntent, error) {
	f.intentParams = append(f.intentParams, p)
	return f.intent, f.err
}

func (f *fakeProcessor) ConfirmIntent(_ context.Context, ref, _ string) (*ProcessorIntent, error) {
	f.confirmedRefs = append(f.confirmedRefs, ref)
	return f.intent, f.err
}

func (f *fakeProcessor) Transfer(_ context.Context, p TransferParams) (string, error) {
	f.transfers = append(f.transfers, p)
	return "tr_1", f.err
}

func (f *fakeProcessor) Refund(_ context.Context, p RefundParams) (string, error) {
	f.refunds = append(f.refunds, p)
	return "re_1", f.err
}

type fakeNotifier struct {
	requests []notifications.Request
}

func (f *fakeNotifier) Send(_ context.Context, req notifications.Request) ([]notifications.Delivery, error) {
	f.requests = append(f.requests, req)
	return nil, nil
}

type fixture struct {
	svc       *Service
	mock      sqlmock.Sqlmock
	processor *fakeProcessor
	notifier  *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{mock: mock, processor: &fakeProcessor{}, notifier: &fakeNotifier{}}
	cfg := config.PaymentsConfig{PlatformFeeBps: 1000, Currency: "usd", WebhookSecret: "whsec_test", WebhookTolerance: 300}
	f.svc = NewService(db, f.processor, f.notifier, cfg, logger.NewTestLogger(t))
	f.svc.now = testutil.FixedClock(now)
	return f
}

func TestPlatformFee(t *testing.T) {
	tests := []struct {
		amount int64
		bps    int
		want   int64
	}{
		{10000, 1000, 1000},
		{12345, 250, 309},
		{10, 500, 1},
		{9, 500, 0},
		{10000, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PlatformFee(tt.amount, tt.bps), "amount=%d bps=%d", tt.amount, tt.bps)
	}
}

func TestCreateIntent(t *testing.T) {
	t.Run("defaults to agreed amount", func(t *testing.T) {
		f := newFixture(t)
		f.processor.intent = &ProcessorIntent{ID: "pi_123", Status: "requires_confirmation", ClientSecret: "secret_abc"}
		f.mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = \\$1").WithArgs(jobID).WillReturnRows(jobRow(models.JobStatusInProgress))
		f.mock.ExpectQuery("SELECT 1 FROM escrow_accounts").WithArgs(jobID).WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents WHERE job_id = \\$1 AND status = 'requires_confirmation'").
			WithArgs(jobID).WillReturnRows(sqlmock.NewRows(intentCols))
		f.mock.ExpectExec("INSERT INTO payment_intents").
			WithArgs(sqlmock.AnyArg(), jobID, hirerID, int64(15000), int64(1500), "usd", "requires_confirmation",
				"pi_123", "secret_abc", now, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		intent, err := f.svc.CreateIntent(context.Background(), hirer, CreateIntentRequest{JobID: jobID})
		require.NoError(t, err)
		assert.Equal(t, "secret_abc", intent.ClientSecret)
		assert.Equal(t, models.IntentRequiresConfirmation, intent.Status)
		require.Len(t, f.processor.intentParams, 1)
		assert.Equal(t, intent.ID, f.processor.intentParams[0].IdempotencyKey)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("job not in progress", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusOpen))

		_, err := f.svc.CreateIntent(context.Background(), hirer, CreateIntentRequest{JobID: jobID})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition))
		assert.Empty(t, f.processor.intentParams)
	})

	t.Run("already funded", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))
		f.mock.ExpectQuery("SELECT 1 FROM escrow_accounts").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		_, err := f.svc.CreateIntent(context.Background(), hirer, CreateIntentRequest{JobID: jobID})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition))
	})

	t.Run("repeated request returns the pending intent", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))
		f.mock.ExpectQuery("SELECT 1 FROM escrow_accounts").WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents WHERE job_id = \\$1").WithArgs(jobID).
			WillReturnRows(intentRow(models.IntentRequiresConfirmation))

		intent, err := f.svc.CreateIntent(context.Background(), hirer, CreateIntentRequest{JobID: jobID})
		require.NoError(t, err)
		assert.Equal(t, intentID, intent.ID)
		assert.Equal(t, "secret_abc", intent.ClientSecret)
		assert.Empty(t, f.processor.intentParams)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("pending intent for another amount", func(t *testing.T) {
		f := newFixture(t)
		amount := int64(20000)
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))
		f.mock.ExpectQuery("SELECT 1 FROM escrow_accounts").WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents WHERE job_id = \\$1").
			WillReturnRows(intentRow(models.IntentRequiresConfirmation))

		_, err := f.svc.CreateIntent(context.Background(), hirer, CreateIntentRequest{JobID: jobID, AmountCents: &amount})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition))
		assert.Empty(t, f.processor.intentParams)
	})

	t.Run("concurrent request loses on the live intent index", func(t *testing.T) {
		f := newFixture(t)
		f.processor.intent = &ProcessorIntent{ID: "pi_456", Status: "requires_confirmation", ClientSecret: "secret_def"}
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))
		f.mock.ExpectQuery("SELECT 1 FROM escrow_accounts").WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents WHERE job_id = \\$1").WillReturnRows(sqlmock.NewRows(intentCols))
		f.mock.ExpectExec("INSERT INTO payment_intents").WillReturnError(&pq.Error{Code: "23505"})

		_, err := f.svc.CreateIntent(context.Background(), hirer, CreateIntentRequest{JobID: jobID})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("workers cannot pay", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateIntent(context.Background(), worker, CreateIntentRequest{JobID: jobID})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	})
}

func TestConfirm(t *testing.T) {
	t.Run("funds escrow", func(t *testing.T) {
		f := newFixture(t)
		f.processor.intent = &ProcessorIntent{ID: "pi_123", Status: ProcessorSucceeded}
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents WHERE id = \\$1").WithArgs(intentID).
			WillReturnRows(intentRow(models.IntentRequiresConfirmation))
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = \\$1 FOR UPDATE").WillReturnRows(jobRow(models.JobStatusInProgress))
		f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts WHERE job_id = \\$1").WithArgs(jobID).
			WillReturnRows(sqlmock.NewRows(escrowCols))
		f.mock.ExpectExec("UPDATE payment_intents SET status = 'canceled'").
			WithArgs(jobID, intentID, now).WillReturnResult(sqlmock.NewResult(0, 0))
		f.mock.ExpectExec("UPDATE payment_intents SET status = 'succeeded'").
			WithArgs(intentID, now).WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec("INSERT INTO escrow_accounts").
			WithArgs(sqlmock.AnyArg(), jobID, intentID, hirerID, workerID, int64(15000), int64(1500), "usd", "funded", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		res, err := f.svc.Confirm(context.Background(), hirer, intentID)
		require.NoError(t, err)
		assert.Equal(t, models.IntentSucceeded, res.Intent.Status)
		assert.Equal(t, models.EscrowFunded, res.Escrow.Status)
		assert.Equal(t, workerID, res.Escrow.WorkerID)
		assert.Equal(t, []string{"pi_123"}, f.processor.confirmedRefs)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("second charge for a funded job is refunded", func(t *testing.T) {
		f := newFixture(t)
		f.processor.intent = &ProcessorIntent{ID: "pi_123", Status: ProcessorSucceeded}
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents WHERE id = \\$1").
			WillReturnRows(intentRow(models.IntentRequiresConfirmation))
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))
		f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts").WillReturnRows(escrowRowFor(otherIntentID))
		f.mock.ExpectExec("UPDATE payment_intents SET status = 'canceled'").
			WithArgs(intentID, now).WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		_, err := f.svc.Confirm(context.Background(), hirer, intentID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition))
		require.Len(t, f.processor.refunds, 1)
		assert.Equal(t, "surplus:"+intentID, f.processor.refunds[0].IdempotencyKey)
		assert.Equal(t, "pi_123", f.processor.refunds[0].ProcessorRef)
		assert.Equal(t, int64(15000), f.processor.refunds[0].AmountCents)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("declined", func(t *testing.T) {
		f := newFixture(t)
		f.processor.intent = &ProcessorIntent{ID: "pi_123", Status: ProcessorRequiresAction}
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents").WillReturnRows(intentRow(models.IntentRequiresConfirmation))
		f.mock.ExpectExec("UPDATE payment_intents SET status = 'failed'").
			WithArgs(intentID, now).WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := f.svc.Confirm(context.Background(), hirer, intentID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePaymentDeclined))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("someone else's intent", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents").WillReturnRows(intentRow(models.IntentRequiresConfirmation))

		_, err := f.svc.Confirm(context.Background(), auth.Principal{UserID: workerID, Role: models.RoleHirer}, intentID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	})
}

func TestReleaseEscrow(t *testing.T) {
	t.Run("pays out amount minus fee", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts WHERE job_id = \\$1 FOR UPDATE").WithArgs(jobID).
			WillReturnRows(escrowRow(models.EscrowFunded))
		f.mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = \\$1").WillReturnRows(jobRow(models.JobStatusCompleted))
		f.mock.ExpectExec("UPDATE escrow_accounts SET status = 'released'").
			WithArgs(escrowID, "tr_1", now).WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		escrow, err := f.svc.ReleaseEscrow(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, models.EscrowReleased, escrow.Status)
		require.Len(t, f.processor.transfers, 1)
		assert.Equal(t, int64(13500), f.processor.transfers[0].AmountCents)
		assert.Equal(t, workerID, f.processor.transfers[0].Destination)
		assert.Equal(t, "release:"+escrowID, f.processor.transfers[0].IdempotencyKey)

		require.Len(t, f.notifier.requests, 1)
		assert.Equal(t, notifications.TypePaymentReleased, f.notifier.requests[0].Type)
		assert.Equal(t, []string{workerID}, f.notifier.requests[0].RecipientIDs)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("already released is a no-op", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts").WillReturnRows(escrowRow(models.EscrowReleased))
		f.mock.ExpectCommit()

		escrow, err := f.svc.ReleaseEscrow(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, models.EscrowReleased, escrow.Status)
		assert.Empty(t, f.processor.transfers)
		assert.Empty(t, f.notifier.requests)
	})

	t.Run("not funded", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts").WillReturnRows(sqlmock.NewRows(escrowCols))
		f.mock.ExpectRollback()

		_, err := f.svc.ReleaseEscrow(context.Background(), jobID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEscrowNotFunded))
	})

	t.Run("job still in progress", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts").WillReturnRows(escrowRow(models.EscrowFunded))
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))
		f.mock.ExpectRollback()

		_, err := f.svc.ReleaseEscrow(context.Background(), jobID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition))
		assert.Empty(t, f.processor.transfers)
	})
}

func TestRelease_Authorization(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusCompleted))

	_, err := f.svc.Release(context.Background(), worker, jobID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestRefund(t *testing.T) {
	t.Run("owner of open job cannot refund", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))

		_, err := f.svc.Refund(context.Background(), hirer, jobID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition))
	})

	t.Run("admin refunds funded escrow", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts").WillReturnRows(escrowRow(models.EscrowFunded))
		f.mock.ExpectQuery("SELECT processor_ref FROM payment_intents").WithArgs(intentID).
			WillReturnRows(sqlmock.NewRows([]string{"processor_ref"}).AddRow("pi_123"))
		f.mock.ExpectExec("UPDATE escrow_accounts SET status = 'refunded'").
			WithArgs(escrowID, "re_1", now).WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))

		escrow, err := f.svc.Refund(context.Background(), admin, jobID)
		require.NoError(t, err)
		assert.Equal(t, models.EscrowRefunded, escrow.Status)
		require.Len(t, f.processor.refunds, 1)
		assert.Equal(t, "pi_123", f.processor.refunds[0].ProcessorRef)
		assert.Equal(t, int64(15000), f.processor.refunds[0].AmountCents)

		require.Len(t, f.notifier.requests, 1)
		assert.Equal(t, []string{hirerID}, f.notifier.requests[0].RecipientIDs)
		assert.Equal(t, "Rewire garage", f.notifier.requests[0].Data["jobTitle"])
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("released escrow cannot be refunded", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts").WillReturnRows(escrowRow(models.EscrowReleased))
		f.mock.ExpectRollback()

		_, err := f.svc.RefundEscrow(context.Background(), jobID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidStateTransition))
	})
}

func TestGetEscrow(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts").WillReturnRows(escrowRow(models.EscrowFunded))
	f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts").WillReturnRows(escrowRow(models.EscrowFunded))

	escrow, err := f.svc.GetEscrow(context.Background(), worker, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(13500), escrow.PayoutCents())

	_, err = f.svc.GetEscrow(context.Background(), auth.Principal{UserID: "someone", Role: models.RoleHirer}, jobID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestHandleWebhook(t *testing.T) {
	succeeded := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","status":"succeeded"}}}`)

	t.Run("bad signature", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.HandleWebhook(context.Background(), succeeded, SignPayload(succeeded, "wrong", now))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuthentication))
	})

	t.Run("succeeded funds escrow", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents WHERE processor_ref = \\$1").WithArgs("pi_123").
			WillReturnRows(intentRow(models.IntentRequiresConfirmation))
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))
		f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts").WillReturnRows(sqlmock.NewRows(escrowCols))
		f.mock.ExpectExec("UPDATE payment_intents SET status = 'canceled'").WillReturnResult(sqlmock.NewResult(0, 0))
		f.mock.ExpectExec("UPDATE payment_intents SET status = 'succeeded'").WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec("INSERT INTO escrow_accounts").WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		require.NoError(t, f.svc.HandleWebhook(context.Background(), succeeded, SignPayload(succeeded, "whsec_test", now)))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("replayed success is a no-op", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents").WillReturnRows(intentRow(models.IntentSucceeded))
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))
		f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts").WillReturnRows(escrowRow(models.EscrowFunded))
		f.mock.ExpectCommit()

		require.NoError(t, f.svc.HandleWebhook(context.Background(), succeeded, SignPayload(succeeded, "whsec_test", now)))
		assert.Empty(t, f.processor.refunds)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("late success after another intent funded the job is refunded", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents").WillReturnRows(intentRow(models.IntentFailed))
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnRows(jobRow(models.JobStatusInProgress))
		f.mock.ExpectQuery("SELECT (.+) FROM escrow_accounts").WillReturnRows(escrowRowFor(otherIntentID))
		f.mock.ExpectExec("UPDATE payment_intents SET status = 'canceled'").
			WithArgs(intentID, now).WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		require.NoError(t, f.svc.HandleWebhook(context.Background(), succeeded, SignPayload(succeeded, "whsec_test", now)))
		require.Len(t, f.processor.refunds, 1)
		assert.Equal(t, "surplus:"+intentID, f.processor.refunds[0].IdempotencyKey)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unknown intent is acknowledged", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents").WillReturnRows(sqlmock.NewRows(intentCols))

		assert.NoError(t, f.svc.HandleWebhook(context.Background(), succeeded, SignPayload(succeeded, "whsec_test", now)))
	})

	t.Run("failed marks intent", func(t *testing.T) {
		f := newFixture(t)
		failed := []byte(`{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_123"}}}`)
		f.mock.ExpectQuery("SELECT (.+) FROM payment_intents").WillReturnRows(intentRow(models.IntentRequiresConfirmation))
		f.mock.ExpectExec("UPDATE payment_intents SET status = 'failed'").WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, f.svc.HandleWebhook(context.Background(), failed, SignPayload(failed, "whsec_test", now)))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("other events ignored", func(t *testing.T) {
		f := newFixture(t)
		other := []byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)
		assert.NoError(t, f.svc.HandleWebhook(context.Background(), other, SignPayload(other, "whsec_test", now)))
	})
}
