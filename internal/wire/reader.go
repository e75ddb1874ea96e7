package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageReader performs the exact-read framing discipline spec §4.2
// demands: a naive single io.Reader.Read call on a stream can return
// fewer bytes than requested, so every read here loops via io.ReadFull
// until the full length prefix, then the full payload, has arrived.
type MessageReader struct {
	r io.Reader
}

func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{r: r}
}

// ReadMessage blocks until one complete frame has arrived and returns the
// decoded NetworkMessage. A clean peer disconnect between frames surfaces
// as io.EOF; a disconnect mid-frame surfaces as io.ErrUnexpectedEOF so
// callers can tell a graceful close from a truncated stream.
func (mr *MessageReader) ReadMessage() (NetworkMessage, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(mr.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, WrapError(ErrKindConnection, "read length prefix", err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxPayloadSize {
		return nil, NewError(ErrKindInvalidMessageFormat, fmt.Sprintf("frame length %d exceeds max %d", n, MaxPayloadSize))
	}

	buf := make([]byte, LengthPrefixSize+int(n))
	copy(buf, lenBuf[:])
	if _, err := io.ReadFull(mr.r, buf[LengthPrefixSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, WrapError(ErrKindConnection, "read payload", err)
	}

	return Decode(buf)
}
