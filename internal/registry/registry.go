// ABOUTME: Session registry binding transport connections to user identities
// ABOUTME: Owns the identity/session/connection maps and fans out deliveries

package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrUnboundSession indicates a connection without a principal session id.
// This is a structural precondition violation: every connection must carry a
// session id before any protocol request executes.
var ErrUnboundSession = errors.New("connection has no principal session")

// Conn is what the registry needs from a transport connection. Send must be
// safe for concurrent use; a failed send is swallowed by Deliver and only
// reduces the returned count.
type Conn interface {
	ID() string
	SessionID() string
	Send(payload []byte) error
}

// Registry tracks which identities are currently reachable and multiplexes
// several simultaneous connections per identity. It exclusively owns these
// mappings; no other component mutates them.
type Registry struct {
	mu                sync.RWMutex
	identityBySession map[string]string          // principal session id -> identity
	sessionByIdentity map[string]string          // identity -> principal session id
	connsBySession    map[string]map[string]Conn // principal session id -> conn id -> conn
	logger            *slog.Logger
}

// New creates an empty registry. Pass nil logger for the default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		identityBySession: make(map[string]string),
		sessionByIdentity: make(map[string]string),
		connsBySession:    make(map[string]map[string]Conn),
		logger:            logger.With("component", "registry"),
	}
}

// Bind registers a connection under its principal session id and records the
// claimed identity. A later claim for a re-used principal session overwrites
// the earlier identity binding (last writer wins, no conflict rejection).
// Returns the principal session id the connection was registered under.
func (r *Registry) Bind(conn Conn, claimedIdentity string) (string, error) {
	sessionID := conn.SessionID()
	if sessionID == "" {
		return "", ErrUnboundSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.identityBySession[sessionID]; ok && prev != claimedIdentity {
		if r.sessionByIdentity[prev] == sessionID {
			delete(r.sessionByIdentity, prev)
		}
	}
	r.identityBySession[sessionID] = claimedIdentity
	r.sessionByIdentity[claimedIdentity] = sessionID

	conns, ok := r.connsBySession[sessionID]
	if !ok {
		conns = make(map[string]Conn)
		r.connsBySession[sessionID] = conns
	}
	conns[conn.ID()] = conn

	r.logger.Info("connection bound",
		"conn_id", conn.ID(),
		"session_id", sessionID,
		"identity", claimedIdentity,
		"session_conns", len(conns),
	)
	return sessionID, nil
}

// Unbind removes the connection from its principal session's connection set.
// Closing the last connection for an identity removes the identity from the
// reachable set.
func (r *Registry) Unbind(conn Conn) {
	sessionID := conn.SessionID()
	if sessionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.connsBySession[sessionID]
	if !ok {
		return
	}
	delete(conns, conn.ID())
	if len(conns) > 0 {
		return
	}

	delete(r.connsBySession, sessionID)
	identity, bound := r.identityBySession[sessionID]
	delete(r.identityBySession, sessionID)
	if bound && r.sessionByIdentity[identity] == sessionID {
		delete(r.sessionByIdentity, identity)
	}

	r.logger.Info("connection unbound",
		"conn_id", conn.ID(),
		"session_id", sessionID,
		"identity", identity,
	)
}

// Reachable returns the identities with at least one live connection,
// ordered by identity value for stable client display.
func (r *Registry) Reachable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identities := make([]string, 0, len(r.sessionByIdentity))
	for identity, sessionID := range r.sessionByIdentity {
		if len(r.connsBySession[sessionID]) > 0 {
			identities = append(identities, identity)
		}
	}
	sort.Strings(identities)
	return identities
}

// IsReachable reports whether the identity has at least one live connection.
func (r *Registry) IsReachable(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionID, ok := r.sessionByIdentity[identity]
	return ok && len(r.connsBySession[sessionID]) > 0
}

// Deliver sends payload to every live connection bound to identity and
// returns the number of connections that accepted the write. Zero means the
// identity is effectively unreachable for live notification purposes; the
// caller decides how to react. Transport failures are swallowed here.
func (r *Registry) Deliver(identity string, payload []byte) int {
	r.mu.RLock()
	sessionID, ok := r.sessionByIdentity[identity]
	var targets []Conn
	if ok {
		for _, conn := range r.connsBySession[sessionID] {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			r.logger.Debug("delivery failed",
				"identity", identity,
				"conn_id", conn.ID(),
				"error", err,
			)
			continue
		}
		delivered++
	}
	return delivered
}

// CurrentIdentity resolves the identity bound to the connection's principal
// session. Fails with ErrUnboundSession when the connection carries no
// session id or the session was never bound.
func (r *Registry) CurrentIdentity(conn Conn) (string, error) {
	sessionID := conn.SessionID()
	if sessionID == "" {
		return "", ErrUnboundSession
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.identityBySession[sessionID]
	if !ok {
		return "", ErrUnboundSession
	}
	return identity, nil
}

// ConnectionCount returns the number of live connections across all sessions.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.connsBySession {
		total += len(conns)
	}
	return total
}
