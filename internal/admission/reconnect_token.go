package admission

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// reconnectTokenTTL bounds how long a client may present a reconnect
// token before it must re-authenticate with its full AuthToken instead.
const reconnectTokenTTL = 5 * time.Minute

// SessionClaims identify which live session a reconnecting client is
// trying to re-attach to, without requiring the opaque AuthToken to
// travel again on every reconnect.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID uint64 `json:"sid"`
}

// ReconnectIssuer signs and verifies short-lived session-continuity
// tokens handed to a client after its initial Hello, so a dropped QUIC
// connection can resume the same PTY session without replaying the
// full AuthToken over the wire again.
type ReconnectIssuer struct {
	key *ecdsa.PrivateKey
}

func NewReconnectIssuer() (*ReconnectIssuer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate reconnect signing key: %w", err)
	}
	return &ReconnectIssuer{key: key}, nil
}

// Issue mints a token binding to sessionID, valid for reconnectTokenTTL.
func (ri *ReconnectIssuer) Issue(sessionID uint64) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(reconnectTokenTTL)),
		},
		SessionID: sessionID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(ri.key)
	if err != nil {
		return "", fmt.Errorf("sign reconnect token: %w", err)
	}
	return signed, nil
}

// Verify validates a reconnect token and returns the session id it names.
func (ri *ReconnectIssuer) Verify(tokenString string) (uint64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return &ri.key.PublicKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse reconnect token: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid reconnect token claims")
	}
	return claims.SessionID, nil
}

// PublicKeyDER returns the base64-DER public key, exposed only for
// diagnostics (qtermd serve logs it at startup) — nothing needs it to verify since
// ReconnectIssuer keeps both halves in-process.
func (ri *ReconnectIssuer) PublicKeyDER() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&ri.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("marshal reconnect public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}
