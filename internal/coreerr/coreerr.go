// Package coreerr defines the error taxonomy shared by every Application
// Runtime Core component. A Kind identifies the category; the
// user-visible string attached to each error is fixed at construction so
// the Command Router never has to re-derive it at the boundary, matching
// the way hscontrol/api_key.go wraps sentinel errors with
// fmt.Errorf("...: %w", err) instead of inventing new strings per call
// site.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind is one entry of the error taxonomy.
type Kind string

const (
	KindUnknownCommand           Kind = "UnknownCommand"
	KindPermissionDenied         Kind = "PermissionDenied"
	KindGrantDenied              Kind = "GrantDenied"
	KindAlreadyRunning           Kind = "AlreadyRunning"
	KindNotRunning               Kind = "NotRunning"
	KindViewNotFound             Kind = "ViewNotFound"
	KindHandlerAlreadyRegistered Kind = "HandlerAlreadyRegistered"
	KindNoHandler                Kind = "NoHandler"
	KindRequestTimeout           Kind = "RequestTimeout"
	KindConnectionClosed         Kind = "ConnectionClosed"
	KindPortArrivalTimeout       Kind = "PortArrivalTimeout"
	KindManifestInvalid          Kind = "ManifestInvalid"
	KindUnsupportedMode          Kind = "UnsupportedMode"
	KindAuthFailed               Kind = "AuthFailed"
	KindIllegalRoleTransition    Kind = "IllegalRoleTransition"
	KindNotAuthorized            Kind = "NotAuthorized"
)

// CoreError carries a taxonomy Kind plus the user-visible message.
type CoreError struct {
	Kind    Kind
	Message string
	wrapped error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.wrapped
}

// Is allows errors.Is(err, &coreerr.CoreError{Kind: coreerr.KindX}) style
// checks via a comparison on Kind rather than pointer identity, since
// every call site constructs a fresh *CoreError.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds a CoreError with a formatted message.
func New(kind Kind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a CoreError around an existing error, preserving it for
// errors.Unwrap while still surfacing the taxonomy message.
func Wrap(kind Kind, wrapped error, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: wrapped}
}

// Sentinel helper constructors for the fixed error-message wording.

func UnknownCommand(cmd string) *CoreError {
	return New(KindUnknownCommand, "Unknown command: %s", cmd)
}

func PermissionDenied(perm, cmd string) *CoreError {
	return New(KindPermissionDenied, "Permission denied: %s required for %s", perm, cmd)
}

func GrantDenied(grantKey, cmd string) *CoreError {
	return New(KindGrantDenied, "Grant denied: %s required for %s", grantKey, cmd)
}

func AlreadyRunning(appID string) *CoreError {
	return New(KindAlreadyRunning, "App %s is already running", appID)
}

func NotRunning(appID string) *CoreError {
	return New(KindNotRunning, "App %s is not running", appID)
}

func ViewNotFound(viewID string) *CoreError {
	return New(KindViewNotFound, "View %s not found", viewID)
}

func HandlerAlreadyRegistered(method string) *CoreError {
	return New(KindHandlerAlreadyRegistered, "Handler already registered for method %s", method)
}

func RequestTimeout(method string) *CoreError {
	return New(KindRequestTimeout, "Request %s timed out", method)
}

func PortArrivalTimeout(connectionID string, ms int64) *CoreError {
	return New(KindPortArrivalTimeout, "Port for connection %s not received within %dms", connectionID, ms)
}

func NoHandler(method string) *CoreError {
	return New(KindNoHandler, "no handler registered for method %s", method)
}

func ConnectionClosed() *CoreError {
	return New(KindConnectionClosed, "connection closed")
}

func NotAuthorized(appID string) *CoreError {
	return New(KindNotAuthorized, "not authorized to launch %s", appID)
}
