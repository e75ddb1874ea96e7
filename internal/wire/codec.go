package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// LengthPrefixSize is the byte width of the big-endian frame length
	// prefix that precedes every encoded envelope on the wire.
	LengthPrefixSize = 4

	// MaxPayloadSize bounds a single frame's envelope body (excludes the
	// length prefix itself). A peer advertising more is rejected before
	// any allocation happens.
	MaxPayloadSize = 16 * 1024 * 1024
)

// envelope is the self-describing wrapper every NetworkMessage is encoded
// into: a type tag plus the raw CBOR of the concrete variant, so decoding
// can dispatch on Type before committing to a struct shape.
type envelope struct {
	Type    MessageType     `cbor:"1,keyasint"`
	Payload cbor.RawMessage `cbor:"2,keyasint"`
}

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: build cbor encode mode: %v", err))
	}
	return mode
}()

// Encode serializes a NetworkMessage into a fully framed buffer: a 4-byte
// big-endian length prefix followed by the CBOR-encoded envelope. The
// returned slice is ready to write to a stream as-is.
func Encode(msg NetworkMessage) ([]byte, error) {
	payload, err := encMode.Marshal(msg)
	if err != nil {
		return nil, WrapError(ErrKindInvalidMessageFormat, "marshal payload", err)
	}
	env := envelope{Type: msg.MessageType(), Payload: payload}
	body, err := encMode.Marshal(env)
	if err != nil {
		return nil, WrapError(ErrKindInvalidMessageFormat, "marshal envelope", err)
	}
	if len(body) > MaxPayloadSize {
		return nil, NewError(ErrKindInvalidMessageFormat, fmt.Sprintf("encoded frame %d bytes exceeds max %d", len(body), MaxPayloadSize))
	}

	buf := make([]byte, LengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(body)))
	copy(buf[LengthPrefixSize:], body)
	return buf, nil
}

// Decode parses a single fully-buffered frame (length prefix + envelope
// body) and returns the concrete NetworkMessage it carries.
func Decode(buf []byte) (NetworkMessage, error) {
	if len(buf) < LengthPrefixSize {
		return nil, NewError(ErrKindInvalidMessageFormat, "buffer too small for length prefix")
	}
	n := binary.BigEndian.Uint32(buf[:LengthPrefixSize])
	if n > MaxPayloadSize {
		return nil, NewError(ErrKindInvalidMessageFormat, fmt.Sprintf("frame length %d exceeds max %d", n, MaxPayloadSize))
	}
	if len(buf) < LengthPrefixSize+int(n) {
		return nil, NewError(ErrKindInvalidMessageFormat, "buffer too small for declared payload")
	}

	var env envelope
	if err := cbor.Unmarshal(buf[LengthPrefixSize:LengthPrefixSize+int(n)], &env); err != nil {
		return nil, WrapError(ErrKindInvalidMessageFormat, "unmarshal envelope", err)
	}
	return decodePayload(env.Type, env.Payload)
}

// DecodeStream decodes zero or more concatenated frames out of buf,
// returning every message it found. It does not tolerate a trailing
// partial frame — callers doing incremental reads should use MessageReader
// instead, which never hands DecodeStream anything but complete frames.
func DecodeStream(buf []byte) ([]NetworkMessage, error) {
	var msgs []NetworkMessage
	for len(buf) > 0 {
		if len(buf) < LengthPrefixSize {
			return nil, NewError(ErrKindInvalidMessageFormat, "trailing bytes too small for length prefix")
		}
		n := binary.BigEndian.Uint32(buf[:LengthPrefixSize])
		if n > MaxPayloadSize {
			return nil, NewError(ErrKindInvalidMessageFormat, fmt.Sprintf("frame length %d exceeds max %d", n, MaxPayloadSize))
		}
		frameLen := LengthPrefixSize + int(n)
		if len(buf) < frameLen {
			return nil, NewError(ErrKindInvalidMessageFormat, "buffer too small for declared payload")
		}
		msg, err := Decode(buf[:frameLen])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
		buf = buf[frameLen:]
	}
	return msgs, nil
}

func decodePayload(t MessageType, payload cbor.RawMessage) (NetworkMessage, error) {
	var (
		msg NetworkMessage
		err error
	)
	switch t {
	case MessageTypeHello:
		var m Hello
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case MessageTypeInput:
		var m Input
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case MessageTypeOutput:
		var m Output
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case MessageTypeResize:
		var m Resize
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case MessageTypePing:
		var m Ping
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case MessageTypePong:
		var m Pong
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case MessageTypeClose:
		var m Close
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case MessageTypeRequestSnapshot:
		var m RequestSnapshot
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case MessageTypeSnapshot:
		var m Snapshot
		err = cbor.Unmarshal(payload, &m)
		msg = m
	case MessageTypeSessionToken:
		var m SessionToken
		err = cbor.Unmarshal(payload, &m)
		msg = m
	default:
		return nil, NewError(ErrKindInvalidMessageFormat, fmt.Sprintf("unknown message type %d", t))
	}
	if err != nil {
		return nil, WrapError(ErrKindInvalidMessageFormat, "unmarshal payload", err)
	}
	return msg, nil
}
