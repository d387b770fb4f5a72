package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChannel = "realtime:events"

type recordingInbound struct {
	mu     sync.Mutex
	frames []InboundFrame
	users  []string
}

func (r *recordingInbound) HandleInbound(_ context.Context, userID string, frame InboundFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingInbound) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// withUser stands in for the auth middleware: ?user=<id> becomes the principal.
func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("user"); id != "" {
			r = r.WithContext(auth.WithPrincipal(r.Context(), auth.Principal{UserID: id, Role: models.RoleWorker}))
		}
		next.ServeHTTP(w, r)
	})
}

type fixture struct {
	hub     *Hub
	inbound *recordingInbound
	server  *httptest.Server
}

func newFixture(t *testing.T, maxPerUser int) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	hub := NewHub(maxPerUser, 8, log)
	inbound := &recordingInbound{}
	srv := httptest.NewServer(withUser(NewHandler(hub, inbound, nil, log)))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return &fixture{hub: hub, inbound: inbound, server: srv}
}

func (f *fixture) dial(t *testing.T, user string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?user=" + user
	return websocket.DefaultDialer.Dial(url, nil)
}

func (f *fixture) connect(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := f.dial(t, user)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return f.hub.ConnectionCount(user) >= 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestHub_DeliverToRecipientsOnly(t *testing.T) {
	f := newFixture(t, 5)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.hub.Deliver(Envelope{
		Recipients: []string{"alice"},
		Frame:      Frame{Type: EventTypingStart, ConversationID: "c-1", Payload: json.RawMessage(`{"userId":"bob"}`)},
	})

	frame := readFrame(t, alice)
	assert.Equal(t, EventTypingStart, frame.Type)
	assert.Equal(t, "c-1", frame.ConversationID)
	assert.JSONEq(t, `{"userId":"bob"}`, string(frame.Payload))

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err)
}

func TestHandler_ConnectionLimit(t *testing.T) {
	f := newFixture(t, 1)
	f.connect(t, "alice")

	second, _, err := f.dial(t, "alice")
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), err.Error())
	assert.Equal(t, 1, f.hub.ConnectionCount("alice"))
}

func TestHandler_RequiresPrincipal(t *testing.T) {
	f := newFixture(t, 5)

	_, resp, err := f.dial(t, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_InboundFrames(t *testing.T) {
	f := newFixture(t, 5)
	conn := f.connect(t, "alice")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteJSON(InboundFrame{Type: "typing.start", ConversationID: "c-9"}))

	require.Eventually(t, func() bool { return f.inbound.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.inbound.mu.Lock()
	defer f.inbound.mu.Unlock()
	assert.Equal(t, "alice", f.inbound.users[0])
	assert.Equal(t, "c-9", f.inbound.frames[0].ConversationID)
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	f := newFixture(t, 5)
	conn := f.connect(t, "alice")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.hub.ConnectionCount("alice") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_EvictsClientThatStopsReading(t *testing.T) {
	f := newFixture(t, 5)
	f.connect(t, "alice")

	// Frames big enough to fill the socket buffers so the writer blocks and the queue overflows.
	payload := json.RawMessage(`"` + strings.Repeat("x", 512<<10) + `"`)
	for i := 0; i < 64; i++ {
		f.hub.Deliver(Envelope{Recipients: []string{"alice"}, Frame: Frame{Type: EventMessageNew, Payload: payload}})
	}

	require.Eventually(t, func() bool { return f.hub.ConnectionCount("alice") == 0 }, 5*time.Second, 20*time.Millisecond)
}

// upgradeServer hands every accepted server-side connection to the test.
func upgradeServer(t *testing.T) (*httptest.Server, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func TestHub_RegisterTimeoutWithdrawsConnection(t *testing.T) {
	hub := NewHub(5, 8, logger.NewTestLogger(t))
	t.Cleanup(hub.Stop)
	hub.timeout = 50 * time.Millisecond

	srv, conns := upgradeServer(t)
	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()
	serverConn := <-conns

	// Hold the hub loop on an unread reply so the registration cannot be answered in time.
	held := make(chan int)
	hub.cmdCh <- countCmd{userID: "alice", reply: held}

	err = hub.Register("alice", serverConn)
	require.Error(t, err)
	<-held

	require.Eventually(t, func() bool { return hub.ConnectionCount("alice") == 0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "%v", err)
}

func TestHub_PanicStopsAcceptingCommands(t *testing.T) {
	hub := NewHub(5, 8, logger.NewTestLogger(t))

	closed := make(chan int)
	close(closed)
	hub.cmdCh <- countCmd{userID: "alice", reply: closed}

	select {
	case <-hub.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub loop did not exit after panic")
	}
	assert.ErrorIs(t, hub.Register("alice", nil), ErrHubStopped)
	assert.Equal(t, -1, hub.ConnectionCount("alice"))
	hub.Deliver(Envelope{Recipients: []string{"alice"}})
	hub.Stop()
}

func TestBroker_FanOutThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	f := newFixture(t, 5)
	conn := f.connect(t, "bob")

	broker := NewBroker(rdb, testChannel, f.hub, logger.NewTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = broker.Run(ctx) }()

	require.Eventually(t, func() bool {
		subs, err := rdb.PubSubNumSub(ctx, testChannel).Result()
		return err == nil && subs[testChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	receipt := models.ReadReceipt{ConversationID: "c-1", ReaderID: "alice", Count: 3}
	require.NoError(t, broker.Publish(ctx, EventMessageRead, "c-1", receipt, "bob"))

	frame := readFrame(t, conn)
	assert.Equal(t, EventMessageRead, frame.Type)
	var got models.ReadReceipt
	require.NoError(t, json.Unmarshal(frame.Payload, &got))
	assert.Equal(t, int64(3), got.Count)
	assert.Equal(t, "alice", got.ReaderID)
}

func TestBroker_PublishWithoutRecipientsIsNoop(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	broker := NewBroker(rdb, testChannel, nil, logger.NewNoOpLogger())
	assert.NoError(t, broker.Publish(context.Background(), EventMessageNew, "c-1", map[string]string{}))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
