package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedEvent(t *testing.T, secret string) *Event {
	t.Helper()
	e := NewEvent("order.created", "https://api.example.com/hook", MethodPost, nil, nil, 5)
	require.NoError(t, NewSigner(secret).Sign(e))
	return e
}

func TestSignVerify_RoundTrip(t *testing.T) {
	e := signedEvent(t, "top-secret")
	v := NewVerifier("top-secret", 0, 0)
	assert.NoError(t, v.Verify(e, time.Now()))
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	e := signedEvent(t, "top-secret")
	v := NewVerifier("different-secret", 0, 0)
	assert.Error(t, v.Verify(e, time.Now()))
}

func TestVerify_RejectsExpiredTimestamp(t *testing.T) {
	e := signedEvent(t, "top-secret")
	v := NewVerifier("top-secret", time.Second, 0)
	assert.Error(t, v.Verify(e, time.Now().Add(time.Hour)))
}

func TestVerify_RejectsReplayedNonce(t *testing.T) {
	e := signedEvent(t, "top-secret")
	v := NewVerifier("top-secret", 0, 0)
	require.NoError(t, v.Verify(e, time.Now()))
	assert.Error(t, v.Verify(e, time.Now()))
}

func TestVerify_AcceptsPreviousSecretDuringRotationWindow(t *testing.T) {
	e := signedEvent(t, "old-secret")
	v := NewVerifier("new-secret", 0, 0, WithPreviousSecret("old-secret", time.Now(), time.Hour))
	assert.NoError(t, v.Verify(e, time.Now()))
}

func TestVerify_RejectsPreviousSecretAfterRotationWindow(t *testing.T) {
	e := signedEvent(t, "old-secret")
	v := NewVerifier("new-secret", 0, 0, WithPreviousSecret("old-secret", time.Now().Add(-2*time.Hour), time.Hour))
	assert.Error(t, v.Verify(e, time.Now()))
}

func TestValidate_RejectsAttemptsExceedingMax(t *testing.T) {
	e := NewEvent("x", "https://example.com", MethodGet, nil, nil, 1)
	e.Attempts = 2
	assert.Error(t, e.Validate())
}

func TestValidate_RejectsUnsupportedMethod(t *testing.T) {
	e := NewEvent("x", "https://example.com", Method("TRACE"), nil, nil, 1)
	assert.Error(t, e.Validate())
}

func TestCanonicalJSON_KeyOrderIndependent(t *testing.T) {
	e1 := &Event{EventID: "a", EventType: "t", CreatedAt: 1, Headers: map[string]string{"b": "2", "a": "1"}}
	e2 := &Event{EventID: "a", EventType: "t", CreatedAt: 1, Headers: map[string]string{"a": "1", "b": "2"}}
	c1, err := e1.CanonicalJSON()
	require.NoError(t, err)
	c2, err := e2.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
}

func TestWireHeaders_CarriesSignaturePrefix(t *testing.T) {
	e := signedEvent(t, "top-secret")
	headers := e.WireHeaders()
	assert.Equal(t, "sha256="+e.Signature, headers["X-PRFI-Signature"])
	assert.Equal(t, e.EventID, headers["X-PRFI-Event-Id"])
}
