// internal/realtime/handler.go
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"trades-marketplace/internal/common/auth"
	apperrors "trades-marketplace/internal/common/errors"
	commonhttp "trades-marketplace/internal/common/http"
	"trades-marketplace/internal/common/logger"

	"github.com/gorilla/websocket"
)

const maxInboundFrameBytes = 4096

// InboundHandler reacts to frames sent by clients.
type InboundHandler interface {
	HandleInbound(ctx context.Context, userID string, frame InboundFrame) error
}

// Handler upgrades authenticated requests to WebSocket connections registered with the hub.
type Handler struct {
	hub      *Hub
	inbound  InboundHandler
	upgrader websocket.Upgrader
	logger   logger.Logger
}

func NewHandler(hub *Hub, inbound InboundHandler, allowedOrigins []string, log logger.Logger) *Handler {
	return &Handler{
		hub:     hub,
		inbound: inbound,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		commonhttp.WriteError(w, apperrors.NewAuthenticationError("missing bearer token"))
		return
	}
	log := logger.FromContext(r.Context(), h.logger)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	if err := h.hub.Register(p.UserID, conn); err != nil {
		reason := "registration failed"
		if errors.Is(err, ErrTooManyConnections) {
			reason = "too many connections"
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
		_ = conn.Close()
		return
	}
	defer h.hub.Unregister(p.UserID, conn)

	conn.SetReadLimit(maxInboundFrameBytes)
	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Debug("ignoring malformed realtime frame", map[string]interface{}{"error": err.Error()})
			continue
		}
		if err := h.inbound.HandleInbound(ctx, p.UserID, frame); err != nil {
			log.Debug("realtime frame rejected", map[string]interface{}{
				"type":  frame.Type,
				"error": err.Error(),
			})
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
