package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/qterm/qterm/internal/wire"
)

// reapInterval is how often the manager sweeps for exited sessions whose
// owning connection never cleaned them up explicitly (spec §4.6).
const reapInterval = 30 * time.Second

// DefaultDetachedTTL bounds how long a session may sit detached (its
// owning connection dropped without an explicit Close) waiting for a
// reconnect before the reaper kills it, mirroring config.Config's
// idle_timeout.
const DefaultDetachedTTL = 30 * time.Second

// entry tracks one session plus whether a connection currently owns it,
// so the reaper can tell "detached, might reconnect" apart from "dead
// process, clean up now".
type entry struct {
	pty        *PTY
	attached   bool
	detachedAt time.Time
}

// Manager owns the set of live PTY sessions on a server, allocating
// monotonic session ids and reaping exited or long-detached ones on a
// fixed interval.
type Manager struct {
	nextID      atomic.Uint64
	detachedTTL time.Duration
	mu          sync.Mutex
	sessions    map[uint64]*entry
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewManager starts a manager whose reaper kills sessions left detached
// (no attached connection) for longer than detachedTTL. A zero value
// falls back to DefaultDetachedTTL.
func NewManager(detachedTTL ...time.Duration) *Manager {
	ttl := DefaultDetachedTTL
	if len(detachedTTL) > 0 && detachedTTL[0] > 0 {
		ttl = detachedTTL[0]
	}
	m := &Manager{
		detachedTTL: ttl,
		sessions:    make(map[uint64]*entry),
		stop:        make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// Spawn allocates the next SessionId, starts a new PTY under it, and
// marks it attached (owned by the caller's connection).
func (m *Manager) Spawn(cfg Config) (*PTY, error) {
	id := m.nextID.Add(1)
	p, err := Spawn(id, cfg)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[id] = &entry{pty: p, attached: true}
	m.mu.Unlock()
	return p, nil
}

// Get returns the session for id, if it is still tracked, without
// changing its attached/detached bookkeeping.
func (m *Manager) Get(id uint64) (*PTY, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.pty, true
}

// Attach marks a tracked, still-alive session as owned by a connection
// again, used when a Hello.ReconnectToken names it. Returns false if the
// session is unknown or its process has already exited.
func (m *Manager) Attach(id uint64) (*PTY, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok || !e.pty.IsAlive() {
		return nil, false
	}
	e.attached = true
	return e.pty, true
}

// Detach marks a session as no longer owned by any connection, starting
// its detached-TTL clock, instead of killing it outright — the session
// survives so a reconnect can resume it.
func (m *Manager) Detach(id uint64) {
	m.mu.Lock()
	if e, ok := m.sessions[id]; ok {
		e.attached = false
		e.detachedAt = time.Now()
	}
	m.mu.Unlock()
}

// Remove drops a session from the tracked set without killing it —
// callers that already called Kill use this to finish bookkeeping.
func (m *Manager) Remove(id uint64) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Kill terminates and untracks a session.
func (m *Manager) Kill(id uint64) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return wire.NewError(wire.ErrKindTerminal, "unknown session id")
	}
	return e.pty.Kill()
}

// Count returns the number of currently tracked sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List returns the ids of all currently tracked sessions (spec §4.6's
// list_sessions() -> [id]), in no particular order.
func (m *Manager) List() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// reapLoop periodically removes sessions whose child process has exited,
// or that have sat detached (no owning connection, e.g. a crashed client
// that dropped its QUIC connection without reconnecting) past the
// detached TTL.
func (m *Manager) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reapOnce()
		}
	}
}

func (m *Manager) reapOnce() {
	m.mu.Lock()
	var dead []*PTY
	now := time.Now()
	for id, e := range m.sessions {
		if !e.pty.IsAlive() {
			dead = append(dead, e.pty)
			delete(m.sessions, id)
			continue
		}
		if !e.attached && now.Sub(e.detachedAt) > m.detachedTTL {
			dead = append(dead, e.pty)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, p := range dead {
		// Kill tolerates an already-exited process; detached-TTL
		// expiry needs the SIGTERM path, a dead readLoop does not.
		_ = p.Kill()
	}
}

// Close stops the reaper goroutine. It does not kill live sessions.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// NewCorrelationID returns a short id for correlating log lines and ban
// records across a session's lifetime, grounded on the teacher's
// uuid.New().String()[:8] convention in internal/relay/pty_relay.go.
func NewCorrelationID() string {
	return uuid.New().String()[:8]
}
