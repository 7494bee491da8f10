package goenip

import (
	"errors"
	"fmt"

	"goenip/batch"
	"goenip/cip"
	"goenip/session"
)

// Kind classifies an Error the way the donor driver's status tables name CIP
// and encapsulation failures, generalized into a single enum a host can
// switch on (via errors.As to *Error) instead of string-matching a
// formatted message.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectError
	KindDisconnected
	KindTimeout
	KindProtocolError
	KindCipStatus
	KindTypeMismatch
	KindEncodingError
	KindSyntaxError
	KindSemanticError
	KindOversizeOperation
	KindAborted
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindConnectError:
		return "ConnectError"
	case KindDisconnected:
		return "Disconnected"
	case KindTimeout:
		return "Timeout"
	case KindProtocolError:
		return "ProtocolError"
	case KindCipStatus:
		return "CipStatus"
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindEncodingError:
		return "EncodingError"
	case KindSyntaxError:
		return "SyntaxError"
	case KindSemanticError:
		return "SemanticError"
	case KindOversizeOperation:
		return "OversizeOperation"
	case KindAborted:
		return "Aborted"
	case KindUnsupported:
		return "Unsupported"
	default:
		return "Unknown"
	}
}

// Error is the single error type this package returns to hosts. It carries
// a Kind for programmatic dispatch plus the original subpackage error, so
// errors.As still reaches the kind-specific fields (e.g. *cip.CipStatusError's
// General/Extended) when a host needs them.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("goenip: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error of the same Kind, so
// errors.Is(err, &goenip.Error{Kind: goenip.KindTimeout}) matches any
// timeout regardless of its underlying cause. Host code that needs the
// Kind itself uses var e *goenip.Error; errors.As(err, &e) and switches on
// e.Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// classify wraps err, if non-nil, into a *Error with the Kind its concrete
// type implies. Unrecognized error types are wrapped as KindProtocolError
// rather than dropped, so no failure silently loses its cause.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var alreadyClassified *Error
	if errors.As(err, &alreadyClassified) {
		return err
	}

	var connectErr *session.ConnectError
	if errors.As(err, &connectErr) {
		return &Error{Kind: KindConnectError, Err: err}
	}
	var disconnectedErr *session.DisconnectedError
	if errors.As(err, &disconnectedErr) {
		return &Error{Kind: KindDisconnected, Err: err}
	}
	var timeoutErr *session.TimeoutError
	if errors.As(err, &timeoutErr) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var cipStatusErr *cip.CipStatusError
	if errors.As(err, &cipStatusErr) {
		return &Error{Kind: KindCipStatus, Err: err}
	}
	var typeMismatchErr *cip.TypeMismatchError
	if errors.As(err, &typeMismatchErr) {
		return &Error{Kind: KindTypeMismatch, Err: err}
	}
	var encodingErr *cip.EncodingError
	if errors.As(err, &encodingErr) {
		return &Error{Kind: KindEncodingError, Err: err}
	}
	var syntaxErr *cip.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &Error{Kind: KindSyntaxError, Err: err}
	}
	var semanticErr *cip.SemanticError
	if errors.As(err, &semanticErr) {
		return &Error{Kind: KindSemanticError, Err: err}
	}
	var unsupportedErr *cip.UnsupportedError
	if errors.As(err, &unsupportedErr) {
		return &Error{Kind: KindUnsupported, Err: err}
	}
	var oversizeErr *batch.OversizeOperationError
	if errors.As(err, &oversizeErr) {
		return &Error{Kind: KindOversizeOperation, Err: err}
	}
	var abortedErr *batch.AbortedError
	if errors.As(err, &abortedErr) {
		return &Error{Kind: KindAborted, Err: err}
	}

	return &Error{Kind: KindProtocolError, Err: err}
}
