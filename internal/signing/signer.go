// Package signing produces and verifies tamper-evident, replay-resistant
// HMAC signatures for webhook payloads. The signed string is the
// concatenation "<timestamp>.<nonce>.<canonical payload>"; the timestamp
// bounds the replay window and the nonce makes each signature unique.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"time"
)

type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

const (
	// DefaultSecretBytes yields 64 hex characters, the minimum IsValidSecret accepts.
	DefaultSecretBytes = 32

	// DefaultTolerance bounds how far a signature's timestamp may drift
	// from the verifier's clock before the signature is rejected.
	DefaultTolerance = 5 * time.Minute

	minSecretHexLen = 64
	nonceBytes      = 16
)

// SignedPayload is the transient product of one signing operation. It is
// recomputed on every delivery attempt since nonce and timestamp change.
type SignedPayload struct {
	Signature string
	Timestamp int64
	Nonce     string
	Algorithm Algorithm
}

// Result reports a verification outcome. Bad signatures are a structured
// result, not a Go error.
type Result struct {
	Valid bool
	Error string
}

func hashFor(alg Algorithm) (func() hash.Hash, error) {
	switch alg {
	case SHA256, "":
		return sha256.New, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported signature algorithm %q", alg)
	}
}

// GenerateSecret returns a cryptographically random hex string of length
// bytes. length <= 0 selects the default of 32 bytes (64 hex characters).
func GenerateSecret(length int) (string, error) {
	if length <= 0 {
		length = DefaultSecretBytes
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IsValidSecret reports whether s is long enough to serve as a signing
// secret: at least 64 hex characters.
func IsValidSecret(s string) bool {
	if len(s) < minSecretHexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func newNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func signedString(timestamp int64, nonce string, canonical []byte) []byte {
	return []byte(fmt.Sprintf("%d.%s.%s", timestamp, nonce, canonical))
}

func computeHMAC(alg Algorithm, secret string, msg []byte) (string, error) {
	h, err := hashFor(alg)
	if err != nil {
		return "", err
	}
	mac := hmac.New(h, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Sign canonicalizes payload (which must be valid JSON) and returns the hex
// HMAC digest under secret, together with the fresh timestamp and nonce the
// digest covers.
func Sign(payload []byte, secret string, alg Algorithm) (SignedPayload, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return SignedPayload{}, err
	}
	nonce, err := newNonce()
	if err != nil {
		return SignedPayload{}, err
	}
	ts := time.Now().Unix()
	sig, err := computeHMAC(alg, secret, signedString(ts, nonce, canonical))
	if err != nil {
		return SignedPayload{}, err
	}
	if alg == "" {
		alg = SHA256
	}
	return SignedPayload{Signature: sig, Timestamp: ts, Nonce: nonce, Algorithm: alg}, nil
}

// Verify checks signature against payload, secret, timestamp and nonce.
// The timestamp is checked first: anything outside tolerance is rejected
// before any HMAC work, bounding the replay window. tolerance <= 0 selects
// the default of 300 seconds.
func Verify(payload []byte, signature, secret string, timestamp int64, nonce string, alg Algorithm, tolerance time.Duration) Result {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	drift := time.Now().Unix() - timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(tolerance.Seconds()) {
		return Result{Error: "timestamp outside tolerance window"}
	}

	canonical, err := Canonicalize(payload)
	if err != nil {
		return Result{Error: fmt.Sprintf("payload is not valid JSON: %v", err)}
	}
	expected, err := computeHMAC(alg, secret, signedString(timestamp, nonce, canonical))
	if err != nil {
		return Result{Error: err.Error()}
	}

	// Signature length is fixed by the algorithm, so the length check leaks
	// nothing useful; it guards the constant-time compare below.
	if len(signature) != len(expected) {
		return Result{Error: "signature mismatch"}
	}
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return Result{Error: "signature mismatch"}
	}
	return Result{Valid: true}
}
