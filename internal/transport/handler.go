// ABOUTME: WebSocket transport handler: upgrade, lifecycle hooks, frame dispatch
// ABOUTME: One reader goroutine per connection invokes router operations synchronously

package transport

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/enkrip/parley/internal/auth"
	"github.com/enkrip/parley/internal/config"
	"github.com/enkrip/parley/internal/conversation"
	"github.com/enkrip/parley/internal/protocol"
	"github.com/enkrip/parley/internal/registry"
)

// sessionCookie carries the principal session id across reconnects.
const sessionCookie = "session_id"

// Handler upgrades HTTP requests to websocket connections and drives the
// per-connection read loop.
type Handler struct {
	registry *registry.Registry
	router   *conversation.Router
	verifier auth.IdentityVerifier // optional
	upgrader websocket.Upgrader
	logger   *slog.Logger

	readLimit    int64
	writeTimeout time.Duration
	pongTimeout  time.Duration
}

// NewHandler wires a transport handler. Pass nil verifier to disable bearer
// token identity claims.
func NewHandler(reg *registry.Registry, router *conversation.Router, verifier auth.IdentityVerifier, tcfg config.TransportConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: reg,
		router:   router,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:       logger.With("component", "transport"),
		readLimit:    tcfg.ReadLimitBytes,
		writeTimeout: tcfg.WriteTimeout,
		pongTimeout:  tcfg.PongTimeout,
	}
}

// ServeHTTP establishes the connection: resolve the identity claim and the
// principal session id, upgrade, bind, then read frames until the connection
// dies. Unbinding happens on the way out.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := h.identityFor(r)
	sessionID := sessionIDFor(r)

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := &wsConn{
		id:           uuid.New().String(),
		sessionID:    sessionID,
		sock:         sock,
		writeTimeout: h.writeTimeout,
	}

	if _, err := h.registry.Bind(conn, identity); err != nil {
		h.logger.Error("binding connection", "conn_id", conn.id, "error", err)
		conn.close()
		return
	}

	done := make(chan struct{})
	go h.keepAlive(conn, done)

	h.readLoop(conn)

	close(done)
	h.registry.Unbind(conn)
	conn.close()
}

// identityFor resolves the out-of-band identity claim: a bearer token's sub
// claim when a verifier is configured, else the X-Username header, else a
// synthesized random identity.
func (h *Handler) identityFor(r *http.Request) string {
	if h.verifier != nil {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token := strings.TrimPrefix(header, "Bearer ")
			identity, err := h.verifier.Verify(token)
			if err == nil {
				return identity
			}
			h.logger.Warn("rejected identity token", "remote", r.RemoteAddr, "error", err)
		}
	}

	if username := r.Header.Get("X-Username"); username != "" {
		return username
	}
	return uuid.New().String()
}

// sessionIDFor resolves the principal session id from the session cookie,
// synthesizing one for cookie-less clients.
func sessionIDFor(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return uuid.New().String()
}

// readLoop decodes inbound frames and dispatches them. Validation failures
// answer the requester and keep the connection open; structural failures
// (non-request frames, malformed frames, missing session binding) end the
// loop, which closes the connection.
func (h *Handler) readLoop(conn *wsConn) {
	conn.sock.SetReadLimit(h.readLimit)
	conn.sock.SetReadDeadline(time.Now().Add(h.pongTimeout))
	conn.sock.SetPongHandler(func(string) error {
		conn.sock.SetReadDeadline(time.Now().Add(h.pongTimeout))
		return nil
	})

	for {
		_, data, err := conn.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read failed", "conn_id", conn.id, "error", err)
			}
			return
		}

		requestID, req, err := protocol.DecodeRequest(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownOperation) {
				// Soft: log and ignore, no response
				h.logger.Warn("ignoring unknown operation", "conn_id", conn.id, "error", err)
				continue
			}
			h.logger.Warn("closing connection on bad frame", "conn_id", conn.id, "error", err)
			return
		}

		identity, err := h.registry.CurrentIdentity(conn)
		if err != nil {
			h.logger.Error("request without session binding", "conn_id", conn.id, "error", err)
			return
		}

		resp := h.dispatch(identity, requestID, req)
		if resp == nil {
			continue
		}

		payload, err := resp.Encode()
		if err != nil {
			h.logger.Error("encoding response", "conn_id", conn.id, "error", err)
			continue
		}
		if err := conn.Send(payload); err != nil {
			h.logger.Debug("response send failed", "conn_id", conn.id, "error", err)
			return
		}
	}
}

// dispatch routes the typed request to its router operation. The switch is
// exhaustive over the closed request union; router errors become failed
// responses addressed to the requester only.
func (h *Handler) dispatch(identity, requestID string, req protocol.Request) *protocol.ResponseEnvelope {
	switch req := req.(type) {
	case *protocol.StartConversationRequest:
		result, err := h.router.StartConversation(identity, req)
		if err != nil {
			return protocol.ErrorResponse(requestID, req.Op(), err.Error())
		}
		return &protocol.ResponseEnvelope{
			Type:              protocol.EnvelopeResponse,
			RequestID:         requestID,
			Op:                req.Op(),
			Success:           true,
			StartConversation: result,
		}

	case *protocol.GetConversationListRequest:
		result, err := h.router.ConversationList(identity, req)
		if err != nil {
			return protocol.ErrorResponse(requestID, req.Op(), err.Error())
		}
		return &protocol.ResponseEnvelope{
			Type:             protocol.EnvelopeResponse,
			RequestID:        requestID,
			Op:               req.Op(),
			Success:          true,
			ConversationList: result,
		}

	case *protocol.SendMessageRequest:
		result, err := h.router.SendMessage(identity, req)
		if err != nil {
			return protocol.ErrorResponse(requestID, req.Op(), err.Error())
		}
		return &protocol.ResponseEnvelope{
			Type:        protocol.EnvelopeResponse,
			RequestID:   requestID,
			Op:          req.Op(),
			Success:     true,
			SendMessage: result,
		}

	default:
		// Unreachable: DecodeRequest only produces the cases above.
		h.logger.Error("unhandled request type", "op", req.Op())
		return nil
	}
}

// keepAlive pings the peer so proxies keep the connection open and dead peers
// are detected by the read deadline.
func (h *Handler) keepAlive(conn *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(h.pongTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
