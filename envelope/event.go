// Package envelope implements the signed event envelope and HMAC
// verification described in spec §3 (Event) and §4.2.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/sr-oliveiraa/prfi-api-tokenization/crypto"
	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
)

// Method is one of the HTTP verbs the envelope is allowed to carry.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Event is the outbound HTTP attempt envelope with metadata and signature,
// per spec §3.
type Event struct {
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	URL         string            `json:"url"`
	Method      Method            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	Data        json.RawMessage   `json:"data,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	Signature   string            `json:"signature,omitempty"`
	Nonce       string            `json:"nonce,omitempty"`
}

// NewEvent constructs an Event with a fresh UUIDv4 event_id and created_at
// stamped to now, leaving Signature/Nonce for Signer.Sign to fill in.
func NewEvent(eventType string, url string, method Method, headers map[string]string, data json.RawMessage, maxAttempts int) *Event {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Event{
		EventID:     uuid.NewV4().String(),
		EventType:   eventType,
		URL:         url,
		Method:      method,
		Headers:     headers,
		Data:        data,
		CreatedAt:   time.Now().UnixMilli(),
		MaxAttempts: maxAttempts,
	}
}

// Validate enforces the Event invariant from spec §3:
// attempts <= max_attempts.
func (e *Event) Validate() error {
	if e.Attempts > e.MaxAttempts {
		return errs.New(errs.KindTerminal, "envelope", "Validate", e.EventID,
			fmt.Errorf("attempts %d exceeds max_attempts %d", e.Attempts, e.MaxAttempts))
	}
	if e.MaxAttempts < 1 {
		return errs.New(errs.KindConfigInvalid, "envelope", "Validate", e.EventID,
			fmt.Errorf("max_attempts must be >= 1"))
	}
	switch e.Method {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
	default:
		return errs.New(errs.KindTerminal, "envelope", "Validate", e.EventID,
			fmt.Errorf("unsupported method %q", e.Method))
	}
	return nil
}

// canonicalFields is the JSON-serializable view of an Event minus its
// Signature and Nonce fields; the signer appends the nonce to this JSON to
// form the signing input.
type canonicalFields struct {
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	URL         string            `json:"url"`
	Method      Method            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	Data        json.RawMessage   `json:"data,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
}

// CanonicalJSON returns the sorted-key, whitespace-free JSON encoding of
// every field except Signature and Nonce, per spec §4.2.
func (e *Event) CanonicalJSON() ([]byte, error) {
	cf := canonicalFields{
		EventID:     e.EventID,
		EventType:   e.EventType,
		URL:         e.URL,
		Method:      e.Method,
		Headers:     e.Headers,
		Data:        e.Data,
		CreatedAt:   e.CreatedAt,
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
	}
	raw, err := json.Marshal(cf)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal canonical fields: %w", err)
	}
	return canonicalizeJSON(raw)
}

// canonicalizeJSON re-encodes an arbitrary JSON document with object keys
// sorted ascending and no insignificant whitespace. encoding/json already
// emits maps with sorted keys and no whitespace via Marshal, but struct
// field order follows declaration order, not lexical order, so objects are
// decoded generically and re-marshaled through an order-preserving sort.
func canonicalizeJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("envelope: canonicalize: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// PayloadHash returns SHA-256(canonical_json(event_without_signature)),
// the value stored as EventRecord.payload_hash in spec §3.
func (e *Event) PayloadHash() ([32]byte, error) {
	raw, err := e.CanonicalJSON()
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.SHA256(raw), nil
}
