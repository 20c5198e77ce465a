package signing

import (
	"sync"
	"time"
)

// DefaultWindow is the accepted clock skew when none is configured.
const DefaultWindow = 5 * time.Minute

// Verifier checks envelopes for integrity, freshness and nonce reuse.
type Verifier struct {
	secret string
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	nonces map[string]time.Time // nonce -> expiry
}

// NewVerifier creates a verifier accepting timestamps within ±window of now.
// A zero window means DefaultWindow.
func NewVerifier(secret string, window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Verifier{
		secret: secret,
		window: window,
		now:    time.Now,
		nonces: make(map[string]time.Time),
	}
}

// Verify validates env against body. The nonce is only recorded once the
// signature and timestamp checks pass.
func (v *Verifier) Verify(env Envelope, body []byte) error {
	if env.Nonce == "" || env.Signature == "" {
		return ErrMissingEnvelope
	}
	if !env.Matches(v.secret, body) {
		return ErrBadSignature
	}

	now := v.now()
	ts := time.Unix(env.Timestamp, 0)
	if ts.Before(now.Add(-v.window)) || ts.After(now.Add(v.window)) {
		return ErrStale
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.sweep(now)
	if _, seen := v.nonces[env.Nonce]; seen {
		return ErrReplay
	}
	// A nonce only needs remembering while its timestamp is still acceptable.
	v.nonces[env.Nonce] = ts.Add(v.window)
	return nil
}

func (v *Verifier) sweep(now time.Time) {
	for nonce, expiry := range v.nonces {
		if now.After(expiry) {
			delete(v.nonces, nonce)
		}
	}
}
