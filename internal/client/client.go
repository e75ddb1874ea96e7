package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/qterm/qterm/internal/transport"
	"github.com/qterm/qterm/internal/wire"
)

const (
	// heartbeatInterval is how often the ping sender wakes to check
	// liveness and, if the connection is still alive, send a Ping (spec
	// §4.8's "periodic ping sender that wakes every 5 s").
	heartbeatInterval = 5 * time.Second

	// livenessTimeout is the idle threshold the ping sender compares
	// against on each wake; it mirrors the QUIC transport's own idle
	// timeout so the application-level heartbeat gives an equally-timed,
	// independent signal rather than one that lags behind QUIC's.
	livenessTimeout = 30 * time.Second

	// defaultBackoffBase, defaultBackoffMax are spec §4.8's initial_backoff
	// and max_backoff defaults.
	defaultBackoffBase = 1 * time.Second
	defaultBackoffMax  = 30 * time.Second

	// defaultMaxAttempts is spec §4.8's max_attempts default; a caller
	// opts into unbounded retries by setting Client.MaxAttempts to 0.
	defaultMaxAttempts = 10
)

// ErrAuthRejected makes Run stop retrying and return at once when
// connectAndServe reports it. Nothing in this package produces it: the
// server answers a rejected AuthToken with a bare Close, which the receive
// loop reports as an ordinary disconnect.
var ErrAuthRejected = errors.New("qterm: server rejected authentication")

// ErrMaxAttemptsExceeded is returned by Run once MaxAttempts consecutive
// reconnect attempts have failed without a single successful connection.
var ErrMaxAttemptsExceeded = errors.New("qterm: exceeded maximum reconnect attempts")

// OutputFunc receives PTY output bytes as they arrive.
type OutputFunc func(data []byte)

// StateFunc is called on every connection state transition, mirroring the
// teacher's OnStateChange hook.
type StateFunc func(state string, err error)

// Client drives one reconnecting qterm session from the client side.
type Client struct {
	Addr      string
	TLSConfig *tls.Config
	AuthToken wire.AuthToken
	AppVersion string

	// MaxAttempts caps consecutive failed reconnect attempts before Run
	// gives up and returns ErrMaxAttemptsExceeded (spec §4.8's
	// max_attempts, default 10). New sets this to defaultMaxAttempts; a
	// caller opts into unbounded retries ("None = infinite") by setting
	// it to 0 explicitly.
	MaxAttempts int

	OnOutput OutputFunc
	OnState  StateFunc

	input  chan []byte
	resize chan wire.Resize

	mu           sync.Mutex
	gs           *transport.GuardedStream
	sessionToken string      // set once the server issues a SessionToken; presented on reconnect to resume the same session
	geometry     wire.Resize // last known terminal geometry; resent synchronously on every fresh (non-resumed) connect
	haveGeometry bool
}

func New(addr string, tlsConf *tls.Config, tok wire.AuthToken) *Client {
	return &Client{
		Addr:        addr,
		TLSConfig:   tlsConf,
		AuthToken:   tok,
		MaxAttempts: defaultMaxAttempts,
		input:       make(chan []byte, 256),
		resize:      make(chan wire.Resize, 4),
	}
}

// SendInput queues raw bytes to forward to the remote PTY's stdin.
func (c *Client) SendInput(data []byte) {
	select {
	case c.input <- data:
	default:
		log.Printf("qterm/client: input queue full, dropping %d bytes", len(data))
	}
}

// SendResize queues a terminal geometry change and remembers it as the
// client's current geometry, so a fresh connection can hand it to the
// server as pending_resize before the eager-spawn Input (spec invariant
// 8) instead of the server falling back to its own default.
func (c *Client) SendResize(rows, cols uint16) {
	r := wire.Resize{Rows: rows, Cols: cols}
	c.mu.Lock()
	c.geometry, c.haveGeometry = r, true
	c.mu.Unlock()
	select {
	case c.resize <- r:
	default:
	}
}

// Run connects and serves until ctx is cancelled, reconnecting with
// exponential backoff on every failure. A rejected AuthToken is not told
// apart from other failures and is retried like them. It returns
// ErrMaxAttemptsExceeded once MaxAttempts
// consecutive attempts fail without a successful connection in between
// (a connection that did succeed, however briefly, resets the count); any
// other return means ctx was cancelled.
func (c *Client) Run(ctx context.Context) error {
	c.notifyState("connecting", nil)
	backoff := NewBackoff(defaultBackoffBase, defaultBackoffMax)
	attempts := 0

	for {
		err := c.connectAndServe(ctx, backoff)
		if ctx.Err() != nil {
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthRejected) {
			c.notifyState("auth_failed", err)
			return ErrAuthRejected
		}

		// connectAndServe resets backoff the moment a connection actually
		// came up, so attempt 0 there means this failure followed a live
		// connection rather than piling onto a string of dial failures.
		if backoff.Attempt() == 0 {
			attempts = 0
		}

		delay := backoff.Next()
		c.notifyState("disconnected", err)
		log.Printf("qterm/client: disconnected: %v — reconnecting in %s", err, delay)

		attempts++
		if c.MaxAttempts > 0 && attempts >= c.MaxAttempts {
			c.notifyState("given_up", ErrMaxAttemptsExceeded)
			return ErrMaxAttemptsExceeded
		}

		select {
		case <-ctx.Done():
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
		c.notifyState("connecting", nil)
	}
}

func (c *Client) notifyState(state string, err error) {
	if c.OnState != nil {
		c.OnState(state, err)
	}
}

func (c *Client) connectAndServe(ctx context.Context, backoff *Backoff) error {
	conn, err := transport.Dial(ctx, c.Addr, c.TLSConfig)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := transport.OpenSessionStream(ctx, conn)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	gs := transport.NewGuardedStream(stream)

	c.mu.Lock()
	c.gs = gs
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.gs = nil
		c.mu.Unlock()
	}()

	tok := c.AuthToken
	hello := wire.Hello{ProtocolVersion: 1, AppVersion: c.AppVersion, AuthToken: &tok}
	c.mu.Lock()
	resumeToken := c.sessionToken
	geometry, haveGeometry := c.geometry, c.haveGeometry
	c.mu.Unlock()
	if resumeToken != "" {
		// Kept alongside AuthToken: if the server's reconnect token has
		// expired or its session already died, it falls back to
		// authenticating (and spawning fresh) with AuthToken alone.
		hello.ReconnectToken = &resumeToken
	}
	if err := gs.Send(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	if resumeToken == "" {
		// Fresh (non-resumed) connection: hand the server our current
		// geometry as pending_resize before the eager-spawn Input, so the
		// session spawns at the right size instead of the server's default
		// (spec invariant 8). Sent synchronously, ahead of sendLoop, so
		// ordering relative to the empty Input below is guaranteed.
		if haveGeometry {
			if err := gs.Send(geometry); err != nil {
				return fmt.Errorf("send initial resize: %w", err)
			}
		}
		// Eager-spawn trigger (spec invariant 9): an empty Input creates
		// the session without writing anything to the PTY.
		if err := gs.Send(wire.Input{}); err != nil {
			return fmt.Errorf("send eager-spawn input: %w", err)
		}
	}

	c.notifyState("connected", nil)
	backoff.Reset()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	activity := newActivityRecorder()
	errCh := make(chan error, 3)

	go c.pingLoop(connCtx, gs, activity, errCh)
	go c.sendLoop(connCtx, gs, errCh)
	go c.receiveLoop(connCtx, gs, activity, errCh)

	return <-errCh
}

// pingLoop is spec §4.8's "periodic ping sender that wakes every 5 s": on
// each wake it first checks whether the connection has gone idle past
// livenessTimeout (and bails out if so), then sends a Ping.
func (c *Client) pingLoop(ctx context.Context, gs *transport.GuardedStream, activity *activityRecorder, errCh chan<- error) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if activity.idleFor() > livenessTimeout {
				errCh <- errors.New("no activity from server within liveness timeout")
				return
			}
			if err := gs.Send(wire.Ping{Timestamp: secondsSinceOrigin()}); err != nil {
				errCh <- fmt.Errorf("send ping: %w", err)
				return
			}
		}
	}
}

func (c *Client) sendLoop(ctx context.Context, gs *transport.GuardedStream, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.input:
			if err := gs.Send(wire.Input{Data: data}); err != nil {
				errCh <- fmt.Errorf("send input: %w", err)
				return
			}
		case r := <-c.resize:
			if err := gs.Send(r); err != nil {
				errCh <- fmt.Errorf("send resize: %w", err)
				return
			}
		}
	}
}

func (c *Client) receiveLoop(ctx context.Context, gs *transport.GuardedStream, activity *activityRecorder, errCh chan<- error) {
	for {
		msg, err := gs.Receive()
		if err != nil {
			errCh <- fmt.Errorf("receive: %w", err)
			return
		}
		activity.touch()
		switch m := msg.(type) {
		case wire.Output:
			if c.OnOutput != nil {
				c.OnOutput(m.Data)
			}
		case wire.Snapshot:
			if c.OnOutput != nil {
				c.OnOutput(m.Data)
			}
		case wire.Pong:
			// liveness already recorded via activity.touch() above.
		case wire.SessionToken:
			c.mu.Lock()
			c.sessionToken = m.Token
			c.mu.Unlock()
		case wire.Close:
			errCh <- errors.New("server closed session")
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// RequestSnapshot asks the server to resend its output ring, used after a
// reconnect to repaint the client's local terminal (spec §8 S5).
func (c *Client) RequestSnapshot() error {
	c.mu.Lock()
	gs := c.gs
	c.mu.Unlock()
	if gs == nil {
		return errors.New("qterm: not connected")
	}
	return gs.Send(wire.RequestSnapshot{})
}
