package wire

import (
	"bytes"
	"testing"
)

func TestMessageWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMessageWriter(&buf)

	msgs := []NetworkMessage{
		Hello{ProtocolVersion: 1, AppVersion: "0.1.0"},
		Resize{Rows: 50, Cols: 200},
		Close{},
	}
	for _, m := range msgs {
		if err := mw.WriteMessage(m); err != nil {
			t.Fatalf("write message: %v", err)
		}
	}

	mr := NewMessageReader(&buf)
	for i, want := range msgs {
		got, err := mr.ReadMessage()
		if err != nil {
			t.Fatalf("read message %d: %v", i, err)
		}
		if got.MessageType() != want.MessageType() {
			t.Errorf("message %d: type = %v, want %v", i, got.MessageType(), want.MessageType())
		}
	}
}
