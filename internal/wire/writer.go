package wire

import "io"

// MessageWriter serializes NetworkMessages onto an io.Writer (a QUIC
// stream in production). It holds no lock itself — callers that share a
// single stream across goroutines (spec §4.4's send-mutex) must guard
// WriteMessage externally.
type MessageWriter struct {
	w io.Writer
}

func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{w: w}
}

func (mw *MessageWriter) WriteMessage(msg NetworkMessage) error {
	buf, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := mw.w.Write(buf); err != nil {
		return WrapError(ErrKindConnection, "write frame", err)
	}
	return nil
}
