package admission

import (
	"sync"

	"github.com/qterm/qterm/internal/wire"
)

// TokenStore holds the set of AuthTokens the server will accept on a
// Hello. It is a plain in-memory set; persistence to disk is handled by
// internal/config, which loads the set at startup and can hot-reload it
// via fsnotify without restarting the server.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[wire.AuthToken]struct{}
}

func NewTokenStore(initial ...wire.AuthToken) *TokenStore {
	ts := &TokenStore{tokens: make(map[wire.AuthToken]struct{}, len(initial))}
	for _, t := range initial {
		ts.tokens[t] = struct{}{}
	}
	return ts
}

// Valid reports whether tok is currently accepted.
func (ts *TokenStore) Valid(tok wire.AuthToken) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	_, ok := ts.tokens[tok]
	return ok
}

// Add admits a new token.
func (ts *TokenStore) Add(tok wire.AuthToken) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tokens[tok] = struct{}{}
}

// Remove revokes a token so future Hello attempts using it are rejected.
func (ts *TokenStore) Remove(tok wire.AuthToken) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.tokens, tok)
}

// Replace atomically swaps the whole accepted set, used by the config
// hot-reload watcher when the token file on disk changes.
func (ts *TokenStore) Replace(tokens []wire.AuthToken) {
	next := make(map[wire.AuthToken]struct{}, len(tokens))
	for _, t := range tokens {
		next[t] = struct{}{}
	}
	ts.mu.Lock()
	ts.tokens = next
	ts.mu.Unlock()
}

// Len reports how many tokens are currently accepted.
func (ts *TokenStore) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.tokens)
}
