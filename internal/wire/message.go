package wire

// MessageType tags the variant of a NetworkMessage on the wire.
type MessageType uint8

const (
	MessageTypeHello MessageType = iota + 1
	MessageTypeInput
	MessageTypeOutput
	MessageTypeResize
	MessageTypePing
	MessageTypePong
	MessageTypeClose
	MessageTypeRequestSnapshot
	MessageTypeSnapshot
	MessageTypeSessionToken
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeHello:
		return "Hello"
	case MessageTypeInput:
		return "Input"
	case MessageTypeOutput:
		return "Output"
	case MessageTypeResize:
		return "Resize"
	case MessageTypePing:
		return "Ping"
	case MessageTypePong:
		return "Pong"
	case MessageTypeClose:
		return "Close"
	case MessageTypeRequestSnapshot:
		return "RequestSnapshot"
	case MessageTypeSnapshot:
		return "Snapshot"
	case MessageTypeSessionToken:
		return "SessionToken"
	default:
		return "Unknown"
	}
}

// NetworkMessage is the tagged-sum wire message described in spec §3.
// Every variant knows its own tag so the codec doesn't need a parallel
// type-switch table at both encode and decode sites.
type NetworkMessage interface {
	MessageType() MessageType
}

// Hello is the mandatory first frame on every new bidirectional stream,
// in both directions.
type Hello struct {
	ProtocolVersion uint32     `cbor:"1,keyasint"`
	AppVersion      string     `cbor:"2,keyasint"`
	Capabilities    uint32     `cbor:"3,keyasint"`
	AuthToken       *AuthToken `cbor:"4,keyasint,omitempty"`

	// ReconnectToken, when set, names a live session to resume instead of
	// spawning a new one, issued to the client via a prior SessionToken
	// message. A server that finds it valid skips the AuthToken check
	// entirely for this handshake.
	ReconnectToken *string `cbor:"5,keyasint,omitempty"`
}

func (Hello) MessageType() MessageType { return MessageTypeHello }

// Input carries raw bytes from client to server PTY stdin. An empty Data
// is the eager-spawn trigger (spec invariant 9).
type Input struct {
	Data []byte `cbor:"1,keyasint"`
}

func (Input) MessageType() MessageType { return MessageTypeInput }

// Output carries raw PTY bytes from server to client, ANSI sequences intact.
type Output struct {
	Data []byte `cbor:"1,keyasint"`
}

func (Output) MessageType() MessageType { return MessageTypeOutput }

// Resize advises a new terminal geometry.
type Resize struct {
	Rows uint16 `cbor:"1,keyasint"`
	Cols uint16 `cbor:"2,keyasint"`
}

func (Resize) MessageType() MessageType { return MessageTypeResize }

// Ping carries a liveness timestamp (seconds since a stable monotonic
// origin — see internal/client).
type Ping struct {
	Timestamp uint64 `cbor:"1,keyasint"`
}

func (Ping) MessageType() MessageType { return MessageTypePing }

// Pong echoes the Ping's timestamp verbatim.
type Pong struct {
	Timestamp uint64 `cbor:"1,keyasint"`
}

func (Pong) MessageType() MessageType { return MessageTypePong }

// Close signals that the sender intends to end the session.
type Close struct{}

func (Close) MessageType() MessageType { return MessageTypeClose }

// RequestSnapshot asks the server to resend a Snapshot of its current
// output ring. Treated as a no-op by servers that don't implement resync.
type RequestSnapshot struct{}

func (RequestSnapshot) MessageType() MessageType { return MessageTypeRequestSnapshot }

// Snapshot carries a raw-byte resync dump plus the geometry it was
// captured at.
type Snapshot struct {
	Data []byte `cbor:"1,keyasint"`
	Rows uint16 `cbor:"2,keyasint"`
	Cols uint16 `cbor:"3,keyasint"`
}

func (Snapshot) MessageType() MessageType { return MessageTypeSnapshot }

// SessionToken carries a short-lived signed token binding to the session
// just established or resumed, sent server->client right after the Hello
// for a resumed session, or once the first Input has spawned the session
// on a fresh connection. The client presents it back as Hello.ReconnectToken on a
// later reconnect to resume the same session instead of starting a new
// shell.
type SessionToken struct {
	Token string `cbor:"1,keyasint"`
}

func (SessionToken) MessageType() MessageType { return MessageTypeSessionToken }
