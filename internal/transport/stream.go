package transport

import (
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/qterm/qterm/internal/wire"
)

// GuardedStream wraps a quic.Stream with a send-side mutex so the
// connection handler's dispatch loop and the PTY output pump can both
// write NetworkMessages onto the same stream without corrupting frames.
// Spec §4.4 picks a shared mutex over fanning writes through a channel so
// a Pong reply is never queued behind a burst of Output frames.
type GuardedStream struct {
	Stream quic.Stream

	writeMu sync.Mutex
	reader  *wire.MessageReader
}

func NewGuardedStream(s quic.Stream) *GuardedStream {
	return &GuardedStream{
		Stream: s,
		reader: wire.NewMessageReader(s),
	}
}

// Send serializes and writes one message, holding the send mutex for the
// duration of the write so frames from concurrent callers never interleave.
func (g *GuardedStream) Send(msg wire.NetworkMessage) error {
	buf, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if _, err := g.Stream.Write(buf); err != nil {
		return wire.WrapError(wire.ErrKindConnection, "write frame", err)
	}
	return nil
}

// Receive blocks for the next complete frame. Only one goroutine should
// call Receive at a time — unlike Send, reads are not fanned out.
func (g *GuardedStream) Receive() (wire.NetworkMessage, error) {
	return g.reader.ReadMessage()
}

// Close closes the underlying stream in both directions.
func (g *GuardedStream) Close() error {
	return g.Stream.Close()
}
