// Package errs implements the error taxonomy from spec §7: a small set of
// well-known Kinds plus structured context (component, operation, entity
// IDs) attached with github.com/pkg/errors so every propagated error still
// carries a stack trace to its origin, matching the teacher's pervasive use
// of pkg/errors for contextualized propagation across blockchain/.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the error taxonomy from spec §7.
type Kind int

const (
	// KindRetryable covers transient network failures, 5xx, 408/425/429.
	KindRetryable Kind = iota
	// KindTerminal covers 4xx other than the retryable set, invalid
	// method, malformed URL.
	KindTerminal
	// KindSignatureInvalid is a constant-time HMAC mismatch.
	KindSignatureInvalid
	// KindFraudReject is a §4.3 rule trigger; terminal for the event but
	// not an error for the pipeline as a whole.
	KindFraudReject
	// KindMiningTimeout is a nonce not found within the iteration cap.
	KindMiningTimeout
	// KindStorageCorrupt is a CRC mismatch on block store read.
	KindStorageCorrupt
	// KindRpcUnavailable is an RPC call failure/timeout.
	KindRpcUnavailable
	// KindTxReverted is an on-chain status==0 receipt.
	KindTxReverted
	// KindConfigInvalid is a startup configuration constraint violation.
	KindConfigInvalid
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "Retryable"
	case KindTerminal:
		return "Terminal"
	case KindSignatureInvalid:
		return "SignatureInvalid"
	case KindFraudReject:
		return "FraudReject"
	case KindMiningTimeout:
		return "MiningTimeout"
	case KindStorageCorrupt:
		return "StorageCorrupt"
	case KindRpcUnavailable:
		return "RpcUnavailable"
	case KindTxReverted:
		return "TxReverted"
	case KindConfigInvalid:
		return "ConfigInvalid"
	default:
		return "Unknown"
	}
}

// Error is the structured error type propagated across component
// boundaries. Component and Operation identify where the failure
// originated; EntityID optionally names the event/batch/block/submission
// involved.
type Error struct {
	Kind      Kind
	Component string
	Operation string
	EntityID  string
	cause     error
}

func (e *Error) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s.%s[%s]: %v", e.Kind, e.Component, e.Operation, e.EntityID, e.cause)
	}
	return fmt.Sprintf("%s: %s.%s: %v", e.Kind, e.Component, e.Operation, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a structured Error, wrapping cause with a stack trace via
// pkg/errors so callers further up the stack can still recover the origin.
func New(kind Kind, component, operation, entityID string, cause error) *Error {
	if cause == nil {
		cause = errors.New(kind.String())
	} else {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Component: component, Operation: operation, EntityID: entityID, cause: cause}
}

// Is reports whether err is (or wraps) an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning ok=false if err is not (or
// does not wrap) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
