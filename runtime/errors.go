package runtime

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/quill/ipc"
)

// DispatchErrorKind classifies errors that end Dispatcher.Run.
type DispatchErrorKind int

const (
	// DispatchErrorProtocol indicates an unreadable inbound stream
	// (partial frame, oversized frame, malformed JSON).
	DispatchErrorProtocol DispatchErrorKind = iota
	// DispatchErrorUnknownType indicates an inbound message of a type the
	// host does not handle.
	DispatchErrorUnknownType
	// DispatchErrorInvariant indicates a host logic bug, such as deleting a
	// temp file twice.
	DispatchErrorInvariant
)

func (k DispatchErrorKind) String() string {
	switch k {
	case DispatchErrorProtocol:
		return "protocol"
	case DispatchErrorUnknownType:
		return "unknown_type"
	case DispatchErrorInvariant:
		return "invariant"
	default:
		return fmt.Sprintf("DispatchErrorKind(%d)", int(k))
	}
}

// DispatchError is a fatal dispatcher error. The channel to the browser can
// no longer be trusted once one occurs.
type DispatchError struct {
	Kind DispatchErrorKind
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsProtocolError returns true if err is a protocol-level dispatch error.
func IsProtocolError(err error) bool {
	return isDispatchKind(err, DispatchErrorProtocol)
}

// IsUnknownTypeError returns true if err reports an unhandled message type.
func IsUnknownTypeError(err error) bool {
	return isDispatchKind(err, DispatchErrorUnknownType)
}

// IsInvariantError returns true if err reports a host logic bug.
func IsInvariantError(err error) bool {
	return isDispatchKind(err, DispatchErrorInvariant)
}

func isDispatchKind(err error, kind DispatchErrorKind) bool {
	var dispErr *DispatchError
	if errors.As(err, &dispErr) {
		return dispErr.Kind == kind
	}
	return false
}

// classifyInbound maps a reader error onto a DispatchError.
func classifyInbound(err error) *DispatchError {
	if ipc.IsFrameError(err, ipc.FrameErrorUnknownType) {
		return &DispatchError{Kind: DispatchErrorUnknownType, Err: err}
	}
	return &DispatchError{Kind: DispatchErrorProtocol, Err: err}
}
