package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	middleware "github.com/markdave123-py/docuchat/internal/api/middlewares"
	"github.com/markdave123-py/docuchat/internal/core/chat"
	"github.com/markdave123-py/docuchat/internal/core/ratelimit"
	"github.com/markdave123-py/docuchat/internal/logger"
	"github.com/markdave123-py/docuchat/internal/services"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 64 << 10
	inboundBuffer  = 16
)

type ChatHandler struct {
	auth     *middleware.Authenticator
	limiter  ratelimit.Limiter
	manager  *chat.Manager
	history  *services.HistoryService
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func NewChatHandler(auth *middleware.Authenticator, limiter ratelimit.Limiter, manager *chat.Manager, history *services.HistoryService, allowedOrigin string) *ChatHandler {
	return &ChatHandler{
		auth:    auth,
		limiter: limiter,
		manager: manager,
		history: history,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
		log: logger.New("chat_ws"),
	}
}

// wsWriter sends frames as JSON text messages.
type wsWriter struct {
	conn *websocket.Conn
}

func (w wsWriter) WriteFrame(f chat.Frame) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(f)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// Stream upgrades to a WebSocket and runs chat turns until the client leaves.
// Authentication failures close the socket with 1008, rate limiting with 1013.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, authErr := h.auth.FromRequest(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if authErr != nil {
		closeWith(conn, websocket.ClosePolicyViolation, authErr.Error())
		return
	}
	if ok, _ := h.limiter.Allow(r.Context(), id.RateKey()); !ok {
		closeWith(conn, websocket.CloseTryAgainLater, "rate limit exceeded")
		return
	}

	log := h.log.WithFields(logrus.Fields{"tenant_id": id.TenantID, "user_id": id.UserID})
	log.Info("chat connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxInboundSize)
	inbound := make(chan []byte, inboundBuffer)
	go func() {
		defer cancel()
		defer close(inbound)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.WithError(err).Debug("chat connection read ended")
				}
				return
			}
			select {
			case inbound <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	h.manager.Serve(ctx, id, inbound, wsWriter{conn: conn})

	if ctx.Err() == nil {
		closeWith(conn, websocket.CloseNormalClosure, "")
	}
	log.Info("chat connection closed")
}

func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	sessions, err := h.history.Sessions(r.Context(), id)
	if err != nil {
		h.log.WithError(err).Error("list sessions failed")
		writeError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *ChatHandler) SessionMessages(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	sessionID, ok := idParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	msgs, err := h.history.Messages(r.Context(), id, sessionID)
	if errors.Is(err, services.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.WithError(err).Error("load messages failed")
		writeError(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
