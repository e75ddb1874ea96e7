// Package transport implements the Connection Configurator (spec §4.3):
// QUIC dial/listen helpers carrying the single bidirectional stream each
// qterm session uses, configured for QUIC's native connection migration
// and a fixed idle/keep-alive schedule.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/qterm/qterm/internal/wire"
)

const (
	// DefaultIdleTimeout matches quic-go's own zero-value default
	// (spec §4.3); set explicitly so the behavior doesn't depend on
	// library defaults silently changing across versions. Servers
	// normally override this from config.Config.IdleTimeout.
	DefaultIdleTimeout = 30 * time.Second

	// DefaultKeepAlivePeriod must be well under the idle timeout so
	// periodic PINGs keep NAT bindings and the idle timer alive across
	// silent stretches.
	DefaultKeepAlivePeriod = 5 * time.Second

	// MaxIncomingStreams is generous headroom over the single stream each
	// session actually uses; it exists only to cap a misbehaving peer.
	MaxIncomingStreams = 16
)

// ALPN is the application protocol clients and servers negotiate over
// TLS; it has no semantic meaning beyond pinning both sides to this wire
// protocol during the handshake.
const ALPN = "qterm/1"

func quicConfig(idleTimeout, keepAlive time.Duration) *quic.Config {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlivePeriod
	}
	return &quic.Config{
		MaxIdleTimeout:          idleTimeout,
		KeepAlivePeriod:         keepAlive,
		MaxIncomingStreams:      MaxIncomingStreams,
		MaxIncomingUniStreams:   0,
		DisablePathMTUDiscovery: false,
	}
}

// Listen binds a QUIC listener on addr (host:port) using tlsConf, which
// must carry the server's certificate (internal/trust.ServerTLSConfig).
// idleTimeout/keepAlive of zero fall back to the package defaults, so
// callers that don't care about config.Config's values may pass zero.
func Listen(addr string, tlsConf *tls.Config, idleTimeout, keepAlive time.Duration) (*quic.Listener, error) {
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig(idleTimeout, keepAlive))
	if err != nil {
		return nil, wire.WrapError(wire.ErrKindConnection, fmt.Sprintf("listen %s", addr), err)
	}
	return ln, nil
}

// Dial connects to a qterm server at addr using tlsConf, which must carry
// a TOFU verifier (internal/trust.ClientTLSConfig). QUIC's active
// connection migration means the returned Connection survives the
// client's local address changing mid-session (spec §4.3, §8 S5).
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (quic.Connection, error) {
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig(0, 0))
	if err != nil {
		return nil, wire.WrapError(wire.ErrKindConnection, fmt.Sprintf("dial %s", addr), err)
	}
	return conn, nil
}

// OpenSessionStream opens the single bidirectional stream a qterm client
// uses for its entire session.
func OpenSessionStream(ctx context.Context, conn quic.Connection) (quic.Stream, error) {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, wire.WrapError(wire.ErrKindConnection, "open session stream", err)
	}
	return stream, nil
}

// AcceptSessionStream blocks until the peer opens its session stream, or
// the connection is closed/ctx is cancelled.
func AcceptSessionStream(ctx context.Context, conn quic.Connection) (quic.Stream, error) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, wire.WrapError(wire.ErrKindConnection, "accept session stream", err)
	}
	return stream, nil
}
