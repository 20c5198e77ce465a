// Package signing implements the HMAC envelope used between the relay and the
// processing service.
//
// The signature is HMAC-SHA256, hex encoded, over the literal bytes
// timestamp + "." + nonce + "." + body, keyed by the shared secret.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderSignature = "X-Signature"

	nonceAlphabet = "0123456789abcdef"
	nonceLength   = 32
)

var (
	ErrMissingEnvelope = errors.New("signing: missing signature headers")
	ErrBadSignature    = errors.New("signing: signature mismatch")
	ErrStale           = errors.New("signing: timestamp outside acceptance window")
	ErrReplay          = errors.New("signing: nonce already used")
)

// Envelope is the authentication metadata of one signed request.
type Envelope struct {
	Timestamp int64  // unix seconds
	Nonce     string // one-time
	Signature string // hex HMAC-SHA256
}

// Compute returns the hex signature for the given inputs.
func Compute(secret string, timestamp int64, nonce string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte("."))
	h.Write([]byte(nonce))
	h.Write([]byte("."))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// NewNonce returns a random 32 character hex nonce.
func NewNonce() (string, error) {
	nonce, err := gonanoid.Generate(nonceAlphabet, nonceLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// Sign builds a fresh envelope for body at time now.
func Sign(secret string, body []byte, now time.Time) (Envelope, error) {
	nonce, err := NewNonce()
	if err != nil {
		return Envelope{}, err
	}
	ts := now.Unix()
	return Envelope{
		Timestamp: ts,
		Nonce:     nonce,
		Signature: Compute(secret, ts, nonce, body),
	}, nil
}

// Matches reports whether the envelope signature equals a recomputation over body.
func (e Envelope) Matches(secret string, body []byte) bool {
	expected := Compute(secret, e.Timestamp, e.Nonce, body)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(e.Signature)), []byte(expected)) == 1
}

// Apply writes the envelope into request headers.
func (e Envelope) Apply(h http.Header) {
	h.Set(HeaderTimestamp, strconv.FormatInt(e.Timestamp, 10))
	h.Set(HeaderNonce, e.Nonce)
	h.Set(HeaderSignature, e.Signature)
}

// FromHeader reads an envelope from request headers.
func FromHeader(h http.Header) (Envelope, error) {
	tsRaw := strings.TrimSpace(h.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(h.Get(HeaderNonce))
	sig := strings.TrimSpace(h.Get(HeaderSignature))
	if tsRaw == "" || nonce == "" || sig == "" {
		return Envelope{}, ErrMissingEnvelope
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: invalid timestamp", ErrMissingEnvelope)
	}
	return Envelope{Timestamp: ts, Nonce: nonce, Signature: sig}, nil
}
