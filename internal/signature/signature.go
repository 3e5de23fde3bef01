// Package signature implements HMAC signing and verification for both webhook
// edges: plain body signatures on the outbound dispatch and the payment
// intake, and timestamp+nonce signatures with replay protection on the
// generation callback.
package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Prefix prepended to hex digests on the wire.
const Prefix = "sha256="

// Verification failure modes. All of them are authentication errors to the
// caller; no partial success exists.
var (
	ErrMissingHeader  = errors.New("missing signature header")
	ErrStaleTimestamp = errors.New("timestamp outside freshness window")
	ErrReplayedNonce  = errors.New("nonce already used")
	ErrBadSignature   = errors.New("signature mismatch")
)

// Sign computes the hex HMAC-SHA256 of body under secret, with the wire
// prefix. The body must be the exact byte serialization that is sent.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyBody recomputes the body signature and compares in constant time.
func VerifyBody(secret string, body []byte, provided string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(provided))
}

// NonceCache records single-use nonces. Claim returns false when the nonce
// was already present.
type NonceCache interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// Verifier checks inbound callback requests: header presence, timestamp
// freshness, nonce uniqueness, and a constant-time signature comparison over
// "timestamp.nonce.body".
type Verifier struct {
	secret   string
	window   time.Duration
	nonceTTL time.Duration
	nonces   NonceCache

	now func() time.Time // overridable in tests
}

// NewVerifier creates a Verifier. window bounds |now - timestamp|; nonceTTL
// is how long a claimed nonce stays blocked.
func NewVerifier(secret string, window, nonceTTL time.Duration, nonces NonceCache) *Verifier {
	return &Verifier{
		secret:   secret,
		window:   window,
		nonceTTL: nonceTTL,
		nonces:   nonces,
		now:      time.Now,
	}
}

// Verify validates a signed request. On success the nonce has been claimed
// and the request may proceed. Any failure leaves no state behind except a
// claimed nonce when the failure happened after the nonce check, which only
// tightens replay protection.
func (v *Verifier) Verify(ctx context.Context, body []byte, sig, timestamp, nonce string) error {
	if sig == "" || timestamp == "" || nonce == "" {
		return ErrMissingHeader
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrStaleTimestamp, timestamp)
	}
	drift := v.now().Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > v.window {
		return ErrStaleTimestamp
	}

	signed := make([]byte, 0, len(timestamp)+len(nonce)+len(body)+2)
	signed = append(signed, timestamp...)
	signed = append(signed, '.')
	signed = append(signed, nonce...)
	signed = append(signed, '.')
	signed = append(signed, body...)
	if !VerifyBody(v.secret, signed, sig) {
		return ErrBadSignature
	}

	claimed, err := v.nonces.Claim(ctx, nonce, v.nonceTTL)
	if err != nil {
		return fmt.Errorf("nonce cache: %w", err)
	}
	if !claimed {
		return ErrReplayedNonce
	}
	return nil
}
