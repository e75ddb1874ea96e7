package wire

import (
	"bytes"
	"io"
	"testing"
)

// fragmentedReader hands out at most chunkSize bytes per Read call,
// reproducing the partial-read behavior a real network stream exhibits
// even though bytes.Reader itself would happily return everything at once.
type fragmentedReader struct {
	buf       []byte
	chunkSize int
}

func (f *fragmentedReader) Read(p []byte) (int, error) {
	if len(f.buf) == 0 {
		return 0, io.EOF
	}
	n := f.chunkSize
	if n > len(p) {
		n = len(p)
	}
	if n > len(f.buf) {
		n = len(f.buf)
	}
	copy(p, f.buf[:n])
	f.buf = f.buf[n:]
	return n, nil
}

func TestMessageReaderHandlesFragmentedReads(t *testing.T) {
	frame, err := Encode(Output{Data: []byte("the quick brown fox jumps over the lazy dog")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	mr := NewMessageReader(&fragmentedReader{buf: frame, chunkSize: 1})
	msg, err := mr.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	out, ok := msg.(Output)
	if !ok {
		t.Fatalf("type = %T, want Output", msg)
	}
	if string(out.Data) != "the quick brown fox jumps over the lazy dog" {
		t.Errorf("data = %q", out.Data)
	}
}

func TestMessageReaderSequentialFrames(t *testing.T) {
	var buf bytes.Buffer
	frames := []NetworkMessage{
		Ping{Timestamp: 1},
		Ping{Timestamp: 2},
		Ping{Timestamp: 3},
	}
	for _, f := range frames {
		enc, err := Encode(f)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		buf.Write(enc)
	}

	mr := NewMessageReader(&fragmentedReader{buf: buf.Bytes(), chunkSize: 3})
	for i, want := range frames {
		got, err := mr.ReadMessage()
		if err != nil {
			t.Fatalf("read message %d: %v", i, err)
		}
		ping, ok := got.(Ping)
		if !ok {
			t.Fatalf("message %d: type = %T, want Ping", i, got)
		}
		if ping.Timestamp != want.(Ping).Timestamp {
			t.Errorf("message %d: timestamp = %d, want %d", i, ping.Timestamp, want.(Ping).Timestamp)
		}
	}

	if _, err := mr.ReadMessage(); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestMessageReaderTruncatedMidFrame(t *testing.T) {
	frame, err := Encode(Output{Data: []byte("some output that will get cut off")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	truncated := frame[:len(frame)-5]

	mr := NewMessageReader(bytes.NewReader(truncated))
	if _, err := mr.ReadMessage(); err == nil {
		t.Fatal("expected error for truncated mid-frame read")
	}
}

func TestMessageReaderRejectsOversizedDeclaredLength(t *testing.T) {
	buf := make([]byte, LengthPrefixSize)
	buf[0] = 0xFF
	buf[1] = 0xFF
	buf[2] = 0xFF
	buf[3] = 0xFF
	mr := NewMessageReader(bytes.NewReader(buf))
	_, err := mr.ReadMessage()
	if err == nil {
		t.Fatal("expected error for oversized declared length")
	}
}
