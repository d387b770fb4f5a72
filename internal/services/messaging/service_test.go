package messaging

import (
	"context"
	"testing"
	"time"

	"trades-marketplace/internal/common/auth"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/models"
	"trades-marketplace/internal/realtime"
	"trades-marketplace/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceID = "11111111-1111-4111-8111-111111111111"
	bobID   = "22222222-2222-4222-8222-222222222222"
	carolID = "44444444-4444-4444-8444-444444444444"
	convID  = "55555555-5555-4555-8555-555555555555"
)

var (
	alice = auth.Principal{UserID: aliceID, Role: models.RoleHirer}
	bob   = auth.Principal{UserID: bobID, Role: models.RoleWorker}
	carol = auth.Principal{UserID: carolID, Role: models.RoleWorker}
	now   = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

var convCols = []string{"id", "job_id", "participant_a", "participant_b", "created_at", "last_message_at"}

func newService(t *testing.T) (*Service, sqlmock.Sqlmock, *testutil.FakePublisher) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pub := &testutil.FakePublisher{}
	svc := NewService(db, pub, logger.NewTestLogger(t))
	svc.now = testutil.FixedClock(now)
	return svc, mock, pub
}

func expectConversation(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE id = \\$1").
		WithArgs(convID).
		WillReturnRows(sqlmock.NewRows(convCols).AddRow(convID, nil, aliceID, bobID, now, now))
}

func TestStartConversation(t *testing.T) {
	t.Run("creates with sorted participants", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery("SELECT suspended FROM users").WithArgs(aliceID).
			WillReturnRows(sqlmock.NewRows([]string{"suspended"}).AddRow(false))
		mock.ExpectQuery("INSERT INTO conversations").
			WithArgs(sqlmock.AnyArg(), nil, aliceID, bobID, now).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(convID))

		conv, created, err := svc.StartConversation(context.Background(), bob, StartRequest{ParticipantID: aliceID})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, aliceID, conv.ParticipantA)
		assert.Equal(t, bobID, conv.ParticipantB)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns existing conversation", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery("SELECT suspended FROM users").WithArgs(bobID).
			WillReturnRows(sqlmock.NewRows([]string{"suspended"}).AddRow(false))
		mock.ExpectQuery("INSERT INTO conversations").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery("SELECT (.+) FROM conversations\\s+WHERE participant_a = \\$1").
			WithArgs(aliceID, bobID, nil).
			WillReturnRows(sqlmock.NewRows(convCols).AddRow(convID, nil, aliceID, bobID, now, now))

		conv, created, err := svc.StartConversation(context.Background(), alice, StartRequest{ParticipantID: bobID})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, convID, conv.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("with yourself", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, _, err := svc.StartConversation(context.Background(), alice, StartRequest{ParticipantID: aliceID})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	})

	t.Run("unknown participant", func(t *testing.T) {
		svc, mock, _ := newService(t)
		mock.ExpectQuery("SELECT suspended FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"suspended"}))

		_, _, err := svc.StartConversation(context.Background(), alice, StartRequest{ParticipantID: bobID})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound))
	})
}

func TestSend(t *testing.T) {
	t.Run("persists and notifies both participants", func(t *testing.T) {
		svc, mock, pub := newService(t)
		expectConversation(mock)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO messages").
			WithArgs(sqlmock.AnyArg(), convID, aliceID, "On my way", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE conversations SET last_message_at").
			WithArgs(convID, now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		msg, err := svc.Send(context.Background(), alice, convID, SendRequest{Body: "  On my way \n"})
		require.NoError(t, err)
		assert.Equal(t, "On my way", msg.Body)
		assert.NoError(t, mock.ExpectationsWereMet())

		require.Len(t, pub.Events, 1)
		assert.Equal(t, realtime.EventMessageNew, pub.Events[0].Type)
		assert.ElementsMatch(t, []string{aliceID, bobID}, pub.Events[0].Recipients)
	})

	t.Run("blank body", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.Send(context.Background(), alice, convID, SendRequest{Body: "   "})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	})

	t.Run("outsider", func(t *testing.T) {
		svc, mock, pub := newService(t)
		expectConversation(mock)

		_, err := svc.Send(context.Background(), carol, convID, SendRequest{Body: "hello"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
		assert.Empty(t, pub.Events)
	})
}

func TestListMessages(t *testing.T) {
	svc, mock, _ := newService(t)
	before := now.Add(-time.Hour)
	expectConversation(mock)
	mock.ExpectQuery("SELECT (.+) FROM messages WHERE conversation_id = \\$1 AND created_at < \\$2").
		WithArgs(convID, before, MaxMessageLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "sender_id", "body", "created_at", "read_at"}).
			AddRow("m-2", convID, bobID, "second", before.Add(-time.Minute), nil).
			AddRow("m-1", convID, aliceID, "first", before.Add(-2*time.Minute), now))

	msgs, err := svc.ListMessages(context.Background(), alice, convID, &before, 500)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Nil(t, msgs[0].ReadAt)
	assert.NotNil(t, msgs[1].ReadAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListConversations(t *testing.T) {
	svc, mock, _ := newService(t)
	mock.ExpectQuery("FROM conversations c").
		WithArgs(aliceID).
		WillReturnRows(sqlmock.NewRows(append(convCols,
			"lm_id", "sender_id", "body", "sent_at", "read_at", "unread")).
			AddRow(convID, nil, aliceID, bobID, now, now, "m-1", bobID, "Quote attached", now, nil, 2).
			AddRow("c-empty", nil, aliceID, carolID, now, now, nil, nil, nil, nil, nil, 0))

	convs, err := svc.ListConversations(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "Quote attached", convs[0].LastMessage.Body)
	assert.Equal(t, 2, convs[0].UnreadCount)
	assert.Nil(t, convs[1].LastMessage)
}

func TestMarkRead(t *testing.T) {
	t.Run("emits receipt", func(t *testing.T) {
		svc, mock, pub := newService(t)
		expectConversation(mock)
		mock.ExpectExec("UPDATE messages SET read_at").
			WithArgs(convID, bobID, now).
			WillReturnResult(sqlmock.NewResult(0, 3))

		receipt, err := svc.MarkRead(context.Background(), bob, convID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), receipt.Count)
		require.Len(t, pub.Events, 1)
		assert.Equal(t, realtime.EventMessageRead, pub.Events[0].Type)
	})

	t.Run("nothing unread stays quiet", func(t *testing.T) {
		svc, mock, pub := newService(t)
		expectConversation(mock)
		mock.ExpectExec("UPDATE messages SET read_at").WillReturnResult(sqlmock.NewResult(0, 0))

		receipt, err := svc.MarkRead(context.Background(), bob, convID)
		require.NoError(t, err)
		assert.Zero(t, receipt.Count)
		assert.Empty(t, pub.Events)
	})
}

func TestHandleInbound(t *testing.T) {
	t.Run("typing goes to the other participant only", func(t *testing.T) {
		svc, mock, pub := newService(t)
		expectConversation(mock)

		err := svc.HandleInbound(context.Background(), aliceID, realtime.InboundFrame{Type: realtime.EventTypingStart, ConversationID: convID})
		require.NoError(t, err)
		require.Len(t, pub.Events, 1)
		assert.Equal(t, []string{bobID}, pub.Events[0].Recipients)
		assert.Equal(t, TypingEvent{UserID: aliceID}, pub.Events[0].Payload)
	})

	t.Run("unknown type", func(t *testing.T) {
		svc, _, _ := newService(t)
		err := svc.HandleInbound(context.Background(), aliceID, realtime.InboundFrame{Type: "shout", ConversationID: convID})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	})

	t.Run("bad conversation id", func(t *testing.T) {
		svc, _, _ := newService(t)
		err := svc.HandleInbound(context.Background(), aliceID, realtime.InboundFrame{Type: "read", ConversationID: "x"})
		assert.Error(t, err)
	})
}

func TestSortedPair(t *testing.T) {
	a, b := sortedPair(bobID, aliceID)
	assert.Equal(t, aliceID, a)
	assert.Equal(t, bobID, b)
}
