package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tok, err := GenerateAuthToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	cases := []NetworkMessage{
		Hello{ProtocolVersion: 1, AppVersion: "0.1.0", Capabilities: 3, AuthToken: &tok},
		Input{Data: []byte("ls -la\n")},
		Output{Data: []byte("\x1b[2Jhello\r\n")},
		Resize{Rows: 24, Cols: 80},
		Ping{Timestamp: 12345},
		Pong{Timestamp: 12345},
		Close{},
		RequestSnapshot{},
		Snapshot{Data: []byte("previous output"), Rows: 24, Cols: 80},
		SessionToken{Token: "opaque-signed-token"},
	}

	for _, want := range cases {
		buf, err := Encode(want)
		if err != nil {
			t.Fatalf("encode %T: %v", want, err)
		}
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("decode %T: %v", want, err)
		}
		if got.MessageType() != want.MessageType() {
			t.Errorf("%T: message type = %v, want %v", want, got.MessageType(), want.MessageType())
		}
	}
}

func TestEncodeDecodeHelloReconnectToken(t *testing.T) {
	tokStr := "opaque-signed-token"
	want := Hello{ProtocolVersion: 1, AppVersion: "0.1.0", ReconnectToken: &tokStr}

	buf, err := Encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hello, ok := got.(Hello)
	if !ok {
		t.Fatalf("decoded type = %T, want Hello", got)
	}
	if hello.ReconnectToken == nil || *hello.ReconnectToken != tokStr {
		t.Errorf("ReconnectToken = %v, want %q", hello.ReconnectToken, tokStr)
	}
	if hello.AuthToken != nil {
		t.Errorf("AuthToken = %v, want nil", hello.AuthToken)
	}
}

func TestDecodeRejectsShortLengthPrefix(t *testing.T) {
	_, err := Decode([]byte{0, 1, 2})
	if err == nil {
		t.Fatal("expected error for buffer shorter than length prefix")
	}
	var wireErr *Error
	if !asError(err, &wireErr) || wireErr.Kind != ErrKindInvalidMessageFormat {
		t.Errorf("expected ErrKindInvalidMessageFormat, got %v", err)
	}
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	buf, err := Encode(Close{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	truncated := buf[:len(buf)-1]
	if _, err := Decode(truncated); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestDecodeRejectsOversizedLength(t *testing.T) {
	buf := make([]byte, LengthPrefixSize)
	binary.BigEndian.PutUint32(buf, MaxPayloadSize+1)
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected error for oversized declared length")
	}
}

func TestDecodeStreamMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	want := []NetworkMessage{
		Input{Data: []byte("a")},
		Input{Data: []byte("b")},
		Resize{Rows: 40, Cols: 120},
	}
	for _, m := range want {
		frame, err := Encode(m)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		buf.Write(frame)
	}

	got, err := DecodeStream(buf.Bytes())
	if err != nil {
		t.Fatalf("decode stream: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].MessageType() != want[i].MessageType() {
			t.Errorf("message %d: type = %v, want %v", i, got[i].MessageType(), want[i].MessageType())
		}
	}
}

func TestEncodeOutputPreservesBytesExactly(t *testing.T) {
	payload := []byte{0x00, 0x1b, 0x5b, 0x32, 0x4a, 0xff, 0x00, 0xfe}
	buf, err := Encode(Output{Data: payload})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, ok := msg.(Output)
	if !ok {
		t.Fatalf("decoded type = %T, want Output", msg)
	}
	if !bytes.Equal(out.Data, payload) {
		t.Errorf("data = %x, want %x", out.Data, payload)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
