// internal/realtime/hub.go
package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/common/metrics"

	"github.com/gorilla/websocket"
)

const commandTimeout = 5 * time.Second

var (
	ErrTooManyConnections = errors.New("too many realtime connections for user")
	ErrHubStopped         = errors.New("realtime hub stopped")
)

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	userID string
	conn   *websocket.Conn
	reply  chan error
}

type unregisterCmd struct {
	baseHubCmd
	userID string
	conn   *websocket.Conn
}

type deliverCmd struct {
	baseHubCmd
	envelope Envelope
}

type countCmd struct {
	baseHubCmd
	userID string
	reply  chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub tracks this instance's WebSocket connections per user. A single goroutine owns the
// connection map; everything else talks to it through commands.
type Hub struct {
	cmdCh      chan hubCmd
	clients    map[string]map[*websocket.Conn]*clientWriter
	maxPerUser int
	sendBuffer int
	timeout    time.Duration
	logger     logger.Logger
	done       chan struct{}
	doneOnce   sync.Once
	stopped    chan struct{}
}

func NewHub(maxPerUser, sendBuffer int, log logger.Logger) *Hub {
	h := &Hub{
		cmdCh:      make(chan hubCmd, 256),
		clients:    make(map[string]map[*websocket.Conn]*clientWriter),
		maxPerUser: maxPerUser,
		sendBuffer: sendBuffer,
		timeout:    commandTimeout,
		logger:     log,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Register adds a connection for userID. On timeout the registration is withdrawn, since
// the caller will treat the connection as rejected.
func (h *Hub) Register(userID string, conn *websocket.Conn) error {
	reply := make(chan error, 1)
	if !h.enqueue(registerCmd{userID: userID, conn: conn, reply: reply}) {
		return ErrHubStopped
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case err := <-reply:
		return err
	case <-timer.C:
		h.Unregister(userID, conn)
		return errors.New("register timed out")
	}
}

func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.enqueue(unregisterCmd{userID: userID, conn: conn})
}

// Deliver sends the envelope's frame to every local connection of its recipients.
func (h *Hub) Deliver(env Envelope) {
	h.enqueue(deliverCmd{envelope: env})
}

// ConnectionCount returns the local connections of userID, -1 on timeout.
func (h *Hub) ConnectionCount(userID string) int {
	reply := make(chan int, 1)
	if !h.enqueue(countCmd{userID: userID, reply: reply}) {
		return -1
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case n := <-reply:
		return n
	case <-timer.C:
		return -1
	}
}

// Stop closes every connection and waits for the hub goroutine to exit.
func (h *Hub) Stop() {
	if h.enqueue(stopCmd{}) {
		<-h.stopped
	}
}

func (h *Hub) enqueue(cmd hubCmd) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) run() {
	defer close(h.stopped)
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("realtime hub panic recovered", map[string]interface{}{"panic": r})
			h.closeDone()
			h.closeAll("server error")
		}
	}()

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			c.reply <- h.handleRegister(c)
		case unregisterCmd:
			h.handleUnregister(c.userID, c.conn, "")
		case deliverCmd:
			h.handleDeliver(c.envelope)
		case countCmd:
			c.reply <- len(h.clients[c.userID])
		case stopCmd:
			h.closeDone()
			h.closeAll("server shutting down")
			return
		}
	}
}

// closeDone makes every later command fail fast instead of blocking on a dead loop.
func (h *Hub) closeDone() {
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *Hub) handleRegister(c registerCmd) error {
	conns := h.clients[c.userID]
	if h.maxPerUser > 0 && len(conns) >= h.maxPerUser {
		return ErrTooManyConnections
	}
	if conns == nil {
		conns = make(map[*websocket.Conn]*clientWriter)
		h.clients[c.userID] = conns
	}
	conns[c.conn] = newClientWriter(c.userID, c.conn, h.sendBuffer)
	metrics.RealtimeConnections.Inc()
	return nil
}

func (h *Hub) handleUnregister(userID string, conn *websocket.Conn, reason string) {
	conns := h.clients[userID]
	cw, ok := conns[conn]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.clients, userID)
	}
	metrics.RealtimeConnections.Dec()
	go cw.stop(reason)
}

func (h *Hub) handleDeliver(env Envelope) {
	msg, err := json.Marshal(env.Frame)
	if err != nil {
		h.logger.Error("failed to encode realtime frame", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, userID := range env.Recipients {
		for conn, cw := range h.clients[userID] {
			if !cw.offer(msg) {
				h.logger.Warn("evicting slow realtime client", map[string]interface{}{"userId": userID})
				h.handleUnregister(userID, conn, "too slow")
			}
		}
	}
}

func (h *Hub) closeAll(reason string) {
	for userID, conns := range h.clients {
		for conn := range conns {
			h.handleUnregister(userID, conn, reason)
		}
	}
}
