// Package trust implements trust-on-first-use server identity pinning
// (spec §4.9): instead of a CA chain, a client remembers the SHA-256
// fingerprint of the server's end-entity certificate from the first
// successful connection and refuses to proceed if a later handshake
// presents a different one.
//
// This is built directly on crypto/tls and crypto/x509 rather than a
// third-party library: quic-go itself requires a *tls.Config, and no
// library in the pack wraps certificate-chain verification in a way that
// fits a TOFU model (every candidate, e.g. teleport's CA-backed cert
// issuance, assumes a trusted CA rather than pinning a bare fingerprint).
package trust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/qterm/qterm/internal/wire"
)

// FingerprintSize is the byte length of a certificate fingerprint
// (SHA-256 digest of the DER end-entity certificate).
const FingerprintSize = sha256.Size

// Fingerprint identifies a server's end-entity certificate.
type Fingerprint [FingerprintSize]byte

// ComputeFingerprint hashes a certificate's raw DER bytes.
func ComputeFingerprint(der []byte) Fingerprint {
	return sha256.Sum256(der)
}

// String renders the fingerprint as colon-separated uppercase hex pairs,
// the form a user would copy off a server's startup banner.
func (f Fingerprint) String() string {
	hexStr := hex.EncodeToString(f[:])
	pairs := make([]string, 0, len(hexStr)/2)
	for i := 0; i < len(hexStr); i += 2 {
		pairs = append(pairs, strings.ToUpper(hexStr[i:i+2]))
	}
	return strings.Join(pairs, ":")
}

// ParseFingerprint accepts either colon/dash separated hex or a bare hex
// string, case-insensitively, and normalizes it into a Fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', ' ', '\t', '\n':
			return -1
		default:
			return r
		}
	}, s)
	raw, err := hex.DecodeString(strings.ToLower(cleaned))
	if err != nil {
		return fp, fmt.Errorf("parse fingerprint: %w", err)
	}
	if len(raw) != FingerprintSize {
		return fp, fmt.Errorf("parse fingerprint: want %d bytes, got %d", FingerprintSize, len(raw))
	}
	copy(fp[:], raw)
	return fp, nil
}

// Verifier implements the client side of TOFU pinning. Pass it as
// tls.Config.VerifyPeerCertificate with InsecureSkipVerify set — chain
// verification is deliberately skipped because qterm has no CA; identity
// rests entirely on the pinned fingerprint.
type Verifier struct {
	// Pinned is the fingerprint recorded from a prior connection. Nil
	// means "first use" — the next certificate seen is accepted and
	// reported via Observed.
	Pinned *Fingerprint

	// Observed is set to the fingerprint of the certificate that was
	// actually verified, whether this was a first-use accept or a match
	// against Pinned. Callers persist it for the next connection attempt.
	Observed Fingerprint
}

// VerifyPeerCertificate matches the tls.Config callback signature. It
// ignores the verifiedChains argument entirely since there is no chain to
// verify in TOFU mode.
func (v *Verifier) VerifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return wire.NewError(wire.ErrKindInvalidHandshake, "server presented no certificate")
	}
	leaf := rawCerts[0]
	if _, err := x509.ParseCertificate(leaf); err != nil {
		return wire.WrapError(wire.ErrKindInvalidHandshake, "parse server certificate", err)
	}

	v.Observed = ComputeFingerprint(leaf)
	if v.Pinned == nil {
		return nil
	}
	if v.Observed != *v.Pinned {
		return wire.NewError(wire.ErrKindInvalidHandshake,
			fmt.Sprintf("server fingerprint %s does not match pinned %s", v.Observed, *v.Pinned))
	}
	return nil
}

// ClientTLSConfig builds the tls.Config a client dials with: no system
// root verification (there is none to do), TLS 1.3 minimum, and the TOFU
// verifier wired in as VerifyPeerCertificate.
func ClientTLSConfig(v *Verifier, nextProtos []string) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify:    true,
		MinVersion:            tls.VersionTLS13,
		NextProtos:            nextProtos,
		VerifyPeerCertificate: v.VerifyPeerCertificate,
	}
}

// GenerateSelfSigned creates a fresh ECDSA P-256 key and a self-signed
// end-entity certificate valid for validFor, for servers that have no
// certificate on disk yet. It returns the tls.Certificate to serve with
// and the fingerprint clients should be told to pin.
func GenerateSelfSigned(commonName string, validFor time.Duration) (tls.Certificate, Fingerprint, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, Fingerprint{}, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, Fingerprint{}, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, Fingerprint{}, fmt.Errorf("create certificate: %w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}
	return cert, ComputeFingerprint(der), nil
}

// ServerTLSConfig wraps a pre-generated certificate for quic-go's server
// side; no verification is performed server-side since the server never
// authenticates the client's TLS identity (auth happens at the Hello
// message layer via the opaque token).
func ServerTLSConfig(cert tls.Certificate, nextProtos []string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   nextProtos,
	}
}
