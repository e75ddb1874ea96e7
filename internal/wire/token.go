package wire

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TokenSize is the byte length of an AuthToken (256 bits).
const TokenSize = 32

// AuthToken is an opaque, server-generated 256-bit credential. It is
// comparable (usable as a map key) and never user-chosen.
type AuthToken [TokenSize]byte

// GenerateAuthToken draws TokenSize random bytes from a CSPRNG.
func GenerateAuthToken() (AuthToken, error) {
	var t AuthToken
	if _, err := rand.Read(t[:]); err != nil {
		return AuthToken{}, fmt.Errorf("generate auth token: %w", err)
	}
	return t, nil
}

// Hex renders the token as a 64-character lowercase hex string.
func (t AuthToken) Hex() string {
	return hex.EncodeToString(t[:])
}

func (t AuthToken) String() string {
	return t.Hex()
}

// AuthTokenFromHex parses a 64-character hex string back into an AuthToken.
func AuthTokenFromHex(s string) (AuthToken, error) {
	var t AuthToken
	b, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("decode auth token: %w", err)
	}
	if len(b) != TokenSize {
		return t, fmt.Errorf("decode auth token: want %d bytes, got %d", TokenSize, len(b))
	}
	copy(t[:], b)
	return t, nil
}
