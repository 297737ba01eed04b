package envelope

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/sr-oliveiraa/prfi-api-tokenization/crypto"
	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
)

var logger = log.NewModuleLogger("envelope")

// Signer signs Events with an HMAC-SHA256 secret, per spec §4.2: the signed
// input is canonical_json(event_without_signature) || nonce.
type Signer struct {
	secret []byte
}

// NewSigner builds a Signer over secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign fills in e.Nonce (if empty) and e.Signature.
func (s *Signer) Sign(e *Event) error {
	if e.Nonce == "" {
		nonce, err := crypto.GenerateNonce(16)
		if err != nil {
			return errs.New(errs.KindTerminal, "envelope", "Sign", e.EventID, err)
		}
		e.Nonce = nonce
	}
	canon, err := e.CanonicalJSON()
	if err != nil {
		return errs.New(errs.KindTerminal, "envelope", "Sign", e.EventID, err)
	}
	input := append(canon, []byte(e.Nonce)...)
	e.Signature = crypto.HMACSHA256(s.secret, input)
	return nil
}

// Verifier verifies signed Events. It accepts either the active secret or,
// during a configured rotation grace period, a previous secret, so an
// operator rotating `secret_key` does not invalidate events already
// in flight (supplemented from original_source/prfi-core/seguranca.py's
// single-secret model, generalized for key rotation).
type Verifier struct {
	active          []byte
	previous        []byte
	rotatedAt       time.Time
	rotationWindow  time.Duration
	validityWindow  time.Duration
	replayGuard     *fastcache.Cache
}

// VerifierOption configures optional Verifier behavior.
type VerifierOption func(*Verifier)

// WithPreviousSecret installs a previous secret accepted for rotationWindow
// after rotatedAt.
func WithPreviousSecret(previous string, rotatedAt time.Time, rotationWindow time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.previous = []byte(previous)
		v.rotatedAt = rotatedAt
		v.rotationWindow = rotationWindow
	}
}

// NewVerifier builds a Verifier. validityWindow is the signature_validity_window
// from spec §4.2 (default 300s when zero); replayCacheBytes bounds the
// fastcache instance used to reject re-used nonces.
func NewVerifier(secret string, validityWindow time.Duration, replayCacheBytes int, opts ...VerifierOption) *Verifier {
	if validityWindow <= 0 {
		validityWindow = 300 * time.Second
	}
	if replayCacheBytes <= 0 {
		replayCacheBytes = 32 * 1024 * 1024
	}
	v := &Verifier{
		active:         []byte(secret),
		validityWindow: validityWindow,
		replayGuard:    fastcache.New(replayCacheBytes),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks signature, timestamp validity window, and nonce replay.
func (v *Verifier) Verify(e *Event, observedAt time.Time) error {
	age := observedAt.Sub(time.UnixMilli(e.CreatedAt))
	if age < 0 {
		age = -age
	}
	if age > v.validityWindow {
		return errs.New(errs.KindSignatureInvalid, "envelope", "Verify", e.EventID,
			fmt.Errorf("timestamp age %s exceeds validity window %s", age, v.validityWindow))
	}

	canon, err := e.CanonicalJSON()
	if err != nil {
		return errs.New(errs.KindSignatureInvalid, "envelope", "Verify", e.EventID, err)
	}
	input := append(canon, []byte(e.Nonce)...)

	expectedActive := crypto.HMACSHA256(v.active, input)
	valid := crypto.ConstantTimeEqual(expectedActive, e.Signature)

	if !valid && len(v.previous) > 0 && observedAt.Sub(v.rotatedAt) <= v.rotationWindow {
		expectedPrevious := crypto.HMACSHA256(v.previous, input)
		valid = crypto.ConstantTimeEqual(expectedPrevious, e.Signature)
	}

	if !valid {
		return errs.New(errs.KindSignatureInvalid, "envelope", "Verify", e.EventID,
			fmt.Errorf("HMAC mismatch"))
	}

	replayKey := []byte(e.EventID + ":" + e.Nonce)
	if v.replayGuard.Has(replayKey) {
		return errs.New(errs.KindSignatureInvalid, "envelope", "Verify", e.EventID,
			fmt.Errorf("nonce already observed (replay)"))
	}
	v.replayGuard.Set(replayKey, []byte{1})

	return nil
}
