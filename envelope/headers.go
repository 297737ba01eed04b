package envelope

import "strconv"

// WireHeaders returns the X-PRFI-* headers spec §6 requires the retry
// engine to attach to every outbound HTTP request, in addition to any
// caller-supplied headers on the Event itself.
func (e *Event) WireHeaders() map[string]string {
	return map[string]string{
		"X-PRFI-Event-Id":   e.EventID,
		"X-PRFI-Nonce":      e.Nonce,
		"X-PRFI-Signature":  "sha256=" + e.Signature,
		"X-PRFI-Timestamp":  strconv.FormatInt(e.CreatedAt, 10),
	}
}
