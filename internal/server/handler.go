// Package server implements the Server Connection Handler (spec §4.4):
// the per-connection admission sequence, state machine, and message
// dispatch loop that drives one client's PTY session.
package server

import (
	"context"
	"log"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/qterm/qterm/internal/admission"
	"github.com/qterm/qterm/internal/session"
	"github.com/qterm/qterm/internal/transport"
	"github.com/qterm/qterm/internal/wire"
)

// ProtocolVersion is the wire protocol version this build speaks. A Hello
// naming a different version is rejected (spec invariant, §4.4).
const ProtocolVersion = 1

// defaultRows, defaultCols size a session spawned with no pending_resize
// stashed ahead of it (spec invariant 8 only applies once a Resize has
// actually arrived before the first Input).
const (
	defaultRows = 24
	defaultCols = 80
)

// connState names where a connection is in the state machine spec §4.4
// describes: AwaitingHello -> Authenticated -> HasSession -> Terminated.
type connState int

const (
	stateAwaitingHello connState = iota
	stateAuthenticated
	stateHasSession
	stateTerminated
)

func (s connState) String() string {
	switch s {
	case stateAwaitingHello:
		return "AwaitingHello"
	case stateAuthenticated:
		return "Authenticated"
	case stateHasSession:
		return "HasSession"
	case stateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Config bundles the admission primitives and session manager a Handler
// needs; callers construct one per listening server.
type Config struct {
	Manager     *session.Manager
	Tokens      *admission.TokenStore
	Bans        *admission.BanTracker
	RateLimiter *admission.RateLimiter
	Reconnect   *admission.ReconnectIssuer
	Shell       string
}

// Handler drives the admission sequence and dispatch loop for every
// accepted QUIC connection.
type Handler struct {
	cfg Config
}

// connectionContext mirrors spec's ConnectionContext entity: the
// at-most-one session this connection may create (spec invariant 1), plus
// any Resize received before that session exists, stashed as
// pending_resize (spec invariant 8) until the first Input spawns it
// (spec invariant 9).
type connectionContext struct {
	pty           *session.PTY
	pendingResize *wire.Resize
}

func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

// Serve runs the accept loop against ln until ctx is cancelled.
func (h *Handler) Serve(ctx context.Context, ln *quic.Listener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return wire.WrapError(wire.ErrKindConnection, "accept", err)
		}
		go h.handleConnection(ctx, conn)
	}
}

func (h *Handler) handleConnection(ctx context.Context, conn quic.Connection) {
	defer conn.CloseWithError(0, "")

	remote := conn.RemoteAddr()
	if h.cfg.Bans != nil && h.cfg.Bans.IsBanned(remote) {
		log.Printf("qterm/server: rejecting banned address %s", remote)
		return
	}
	if h.cfg.RateLimiter != nil && !h.cfg.RateLimiter.Allow(remote) {
		log.Printf("qterm/server: rate limit exceeded for %s", remote)
		return
	}

	stream, err := transport.AcceptSessionStream(ctx, conn)
	if err != nil {
		log.Printf("qterm/server: accept stream from %s: %v", remote, err)
		return
	}
	gs := transport.NewGuardedStream(stream)
	state := stateAwaitingHello

	hello, err := h.awaitHello(gs)
	if err != nil {
		log.Printf("qterm/server: hello from %s: %v", remote, err)
		return
	}

	if hello.ProtocolVersion != ProtocolVersion {
		h.sendErr(gs, wire.ErrKindProtocolVersionMismatch, "unsupported protocol version")
		return
	}

	pty, resumed := h.resumeSession(hello)
	cc := &connectionContext{pty: pty}
	if !resumed {
		if !h.authenticate(hello) {
			if h.cfg.Bans != nil && h.cfg.Bans.RecordFailure(remote) {
				log.Printf("qterm/server: banning %s after repeated auth failures", remote)
			}
			h.sendErr(gs, wire.ErrKindAuthFailed, "authentication failed")
			return
		}
		state = stateAuthenticated
		// Session creation is deferred to the first Input (spec invariant
		// 9, scenario S3) rather than happening here, so a Resize arriving
		// first can be stashed as pending_resize and applied at spawn.
	} else {
		log.Printf("qterm/server: %s resumed %s", remote, cc.pty)
		state = stateHasSession
	}
	if h.cfg.Bans != nil {
		h.cfg.Bans.RecordSuccess(remote)
	}
	if err := gs.Send(wire.Hello{ProtocolVersion: ProtocolVersion, AppVersion: "qtermd"}); err != nil {
		log.Printf("qterm/server: send hello to %s: %v", remote, err)
		return
	}

	var pumpDone chan struct{}
	if cc.pty != nil {
		h.issueSessionToken(gs, cc.pty, remote)
		pumpDone = make(chan struct{})
		go h.pumpOutput(gs, cc.pty, pumpDone)
	}

	closed := h.dispatchLoop(gs, cc, remote, &pumpDone)
	state = stateTerminated
	log.Printf("qterm/server: connection from %s reached state %v", remote, state)

	if pumpDone != nil {
		<-pumpDone
	}

	if cc.pty == nil {
		// The connection never sent an Input, so no session was ever
		// created — nothing to kill or detach.
		return
	}
	if closed {
		h.cfg.Manager.Kill(cc.pty.ID)
	} else {
		// Transport dropped without an explicit Close: leave the session
		// running so a reconnect within the detached TTL can resume it.
		h.cfg.Manager.Detach(cc.pty.ID)
	}
}

// spawnSession creates this connection's one-and-only session (spec
// invariant 1) in response to its first Input, applying any Resize
// stashed as pending_resize before spawn and re-asserting it via the
// native resize call immediately after (spec invariant 8), then starts
// the output pump and issues a fresh SessionToken.
func (h *Handler) spawnSession(gs *transport.GuardedStream, cc *connectionContext, remote net.Addr, pumpDone *chan struct{}) error {
	rows, cols := uint16(defaultRows), uint16(defaultCols)
	if cc.pendingResize != nil {
		rows, cols = cc.pendingResize.Rows, cc.pendingResize.Cols
	}

	pty, err := h.cfg.Manager.Spawn(session.Config{
		Shell: h.cfg.Shell,
		Rows:  rows,
		Cols:  cols,
	})
	if err != nil {
		h.sendErr(gs, wire.ErrKindPtySpawn, "failed to start session")
		return err
	}
	if cc.pendingResize != nil {
		if err := pty.Resize(cc.pendingResize.Rows, cc.pendingResize.Cols); err != nil {
			log.Printf("qterm/server: re-assert pending resize for %s: %v", pty, err)
		}
	}
	cc.pty = pty
	log.Printf("qterm/server: %s started %s", remote, pty)

	h.issueSessionToken(gs, pty, remote)
	*pumpDone = make(chan struct{})
	go h.pumpOutput(gs, pty, *pumpDone)
	return nil
}

// issueSessionToken hands the client a fresh reconnect token bound to
// pty's id, if a ReconnectIssuer is configured.
func (h *Handler) issueSessionToken(gs *transport.GuardedStream, pty *session.PTY, remote net.Addr) {
	if h.cfg.Reconnect == nil {
		return
	}
	tok, err := h.cfg.Reconnect.Issue(pty.ID)
	if err != nil {
		log.Printf("qterm/server: issue reconnect token for %s: %v", pty, err)
		return
	}
	if err := gs.Send(wire.SessionToken{Token: tok}); err != nil {
		log.Printf("qterm/server: send session token to %s: %v", remote, err)
	}
}

// resumeSession looks up the session named by hello.ReconnectToken, if
// any. A missing, expired, or dead-process token falls through to normal
// AuthToken authentication and a fresh Spawn.
func (h *Handler) resumeSession(hello wire.Hello) (*session.PTY, bool) {
	if hello.ReconnectToken == nil || h.cfg.Reconnect == nil {
		return nil, false
	}
	id, err := h.cfg.Reconnect.Verify(*hello.ReconnectToken)
	if err != nil {
		return nil, false
	}
	pty, ok := h.cfg.Manager.Attach(id)
	return pty, ok
}

func (h *Handler) awaitHello(gs *transport.GuardedStream) (wire.Hello, error) {
	msg, err := gs.Receive()
	if err != nil {
		return wire.Hello{}, err
	}
	hello, ok := msg.(wire.Hello)
	if !ok {
		return wire.Hello{}, wire.NewError(wire.ErrKindInvalidHandshake, "first frame was not Hello")
	}
	return hello, nil
}

func (h *Handler) authenticate(hello wire.Hello) bool {
	if hello.AuthToken == nil || h.cfg.Tokens == nil {
		return false
	}
	return h.cfg.Tokens.Valid(*hello.AuthToken)
}

func (h *Handler) sendErr(gs *transport.GuardedStream, kind wire.ErrorKind, msg string) {
	log.Printf("qterm/server: closing connection: %s: %s", kind, msg)
	_ = gs.Send(wire.Close{})
}

func (h *Handler) pumpOutput(gs *transport.GuardedStream, pty *session.PTY, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case data, ok := <-pty.Output:
			if !ok {
				return
			}
			if err := gs.Send(wire.Output{Data: data}); err != nil {
				return
			}
		case <-pty.Done():
			return
		}
	}
}

// dispatchLoop reads control/input messages until the stream errors out
// or the client sends Close. cc.pty may be nil on entry (a fresh
// connection whose session hasn't been spawned yet); the first Input
// spawns it (spec invariant 9) via spawnSession, applying any Resize
// stashed as pending_resize in the meantime (spec invariant 8). It
// reports whether the session ended via an explicit Close (true) versus
// the transport simply dropping (false) — handleConnection uses this to
// decide between Kill and Detach.
func (h *Handler) dispatchLoop(gs *transport.GuardedStream, cc *connectionContext, remote net.Addr, pumpDone *chan struct{}) bool {
	for {
		msg, err := gs.Receive()
		if err != nil {
			return false
		}
		switch m := msg.(type) {
		case wire.Input:
			if cc.pty == nil {
				if err := h.spawnSession(gs, cc, remote, pumpDone); err != nil {
					log.Printf("qterm/server: %s: spawn on first input: %v", remote, err)
					return false
				}
			}
			if len(m.Data) > 0 {
				if err := cc.pty.Write(m.Data); err != nil {
					log.Printf("qterm/server: pty write: %v", err)
					return false
				}
			}
		case wire.Resize:
			if cc.pty != nil {
				if err := cc.pty.Resize(m.Rows, m.Cols); err != nil {
					log.Printf("qterm/server: pty resize: %v", err)
				}
			} else {
				resize := m
				cc.pendingResize = &resize
			}
		case wire.Ping:
			if err := gs.Send(wire.Pong{Timestamp: m.Timestamp}); err != nil {
				return false
			}
		case wire.RequestSnapshot:
			if cc.pty == nil {
				log.Printf("qterm/server: %s requested a snapshot before any session existed, ignoring", remote)
				continue
			}
			data, rows, cols := cc.pty.Snapshot()
			if err := gs.Send(wire.Snapshot{Data: data, Rows: rows, Cols: cols}); err != nil {
				return false
			}
		case wire.Close:
			return true
		default:
			log.Printf("qterm/server: unexpected message type %v after handshake", msg.MessageType())
		}
	}
}
