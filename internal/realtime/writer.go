// internal/realtime/writer.go
package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second
)

// clientWriter owns all writes to one connection.
type clientWriter struct {
	userID     string
	connection *websocket.Conn
	send       chan []byte
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func newClientWriter(userID string, connection *websocket.Conn, buffer int) *clientWriter {
	cw := &clientWriter{
		userID:     userID,
		connection: connection,
		send:       make(chan []byte, buffer),
		done:       make(chan struct{}),
	}
	cw.configurePongHandler()
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.send:
			_ = cw.connection.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = cw.connection.Close()
				return
			}
		case <-ticker.C:
			_ = cw.connection.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = cw.connection.Close()
				return
			}
		case <-cw.done:
			return
		}
	}
}

// offer queues msg without blocking. False means the client is too slow.
func (cw *clientWriter) offer(msg []byte) bool {
	select {
	case cw.send <- msg:
		return true
	default:
		return false
	}
}

func (cw *clientWriter) stop(reason string) {
	cw.stopOnce.Do(func() {
		close(cw.done)
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = cw.connection.SetWriteDeadline(time.Now().Add(writeDeadline))
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
}

func (cw *clientWriter) configurePongHandler() {
	_ = cw.connection.SetReadDeadline(time.Now().Add(pongDeadline))
	cw.connection.SetPongHandler(func(string) error {
		return cw.connection.SetReadDeadline(time.Now().Add(pongDeadline))
	})
}
