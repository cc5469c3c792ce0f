package ferrors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so callers can branch on cause rather than
// message text.
type Kind string

const (
	// InvalidInput means the caller supplied a malformed or out-of-range value.
	InvalidInput Kind = "invalid_input"
	// UpdateRejected means a mutation was well-formed but conflicts with an
	// invariant the store enforces (a rejected CRDT write, for example).
	UpdateRejected Kind = "update_rejected"
	// PinningViolation means an update tried to change the public key bound
	// to a peer's formnet IP.
	PinningViolation Kind = "pinning_violation"
	// NotFound means the referenced entity does not exist.
	NotFound Kind = "not_found"
	// Gone means the referenced entity existed but is no longer usable
	// (an already-redeemed invite).
	Gone Kind = "gone"
	// Unauthorized means the caller is not permitted to perform the operation.
	Unauthorized Kind = "unauthorized"
	// NoBackend means the reverse proxy has no route for the requested host.
	NoBackend Kind = "no_backend"
	// InvalidSignature means a build request's recoverable signature did
	// not verify against its claimed hash.
	InvalidSignature Kind = "invalid_signature"
	// NotResponsible means the capability matcher determined this node
	// should not execute a given build.
	NotResponsible Kind = "not_responsible"
	// BuildEnvironmentError means the sandboxed build container could not be
	// created, started or reached.
	BuildEnvironmentError Kind = "build_environment_error"
	// ImageExtractError means the disk image produced by a build could not
	// be downloaded or unpacked.
	ImageExtractError Kind = "image_extract_error"
	// ArtifactIngressError means the build context tarball could not be
	// uploaded into the sandbox.
	ArtifactIngressError Kind = "artifact_ingress_error"
	// Transport means a network call (queue, broadcast, upstream DNS) failed.
	Transport Kind = "transport"
	// Internal means an unexpected, non-classified failure.
	Internal Kind = "internal"
)

// Error is a Kind-tagged error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "state.CreatePeer"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given Kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an Error of the given Kind around an existing cause.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, returning Internal if err is not a
// *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}
