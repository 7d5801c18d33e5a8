// Package telemetry implements the HTTP ingest side-channel that receives
// OTLP logs/metrics/traces from managed subprocesses, demultiplexes them to
// sessions via per-session tokens, deduplicates, applies a lifecycle-fast
// filter, and drives the session status engine. Wire payloads are decoded
// with protojson against go.opentelemetry.io/proto/otlp's generated
// types, served over the same Echo HTTP stack as the rest of the daemon.
package telemetry

import (
	"sync"
)

// TokenRegistry maps single-use telemetry tokens minted at pty.start to the
// session id they authenticate requests for. A token is 1:1 with a session
// for the session's lifetime; it is revoked when the session exits.
type TokenRegistry struct {
	mu     sync.RWMutex
	tokens map[string]string // token -> sessionID
}

// NewTokenRegistry constructs an empty registry.
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{tokens: make(map[string]string)}
}

// Register binds token to sessionID, overwriting any prior binding for
// that token.
func (r *TokenRegistry) Register(token, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = sessionID
}

// Resolve returns the session id bound to token, if any.
func (r *TokenRegistry) Resolve(token string) (sessionID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok = r.tokens[token]
	return sessionID, ok
}

// Revoke removes the binding for token.
func (r *TokenRegistry) Revoke(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, token)
}

// RevokeSession removes every token bound to sessionID, used when a
// session exits or is removed.
func (r *TokenRegistry) RevokeSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, id := range r.tokens {
		if id == sessionID {
			delete(r.tokens, token)
		}
	}
}
