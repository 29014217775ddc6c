package dbus

import (
	"fmt"
	"reflect"
)

// TypeError is the error returned when a type cannot be represented
// in the DBus wire format.
type TypeError struct {
	// Type is the name of the type that caused the error.
	Type string
	// Reason is an explanation of why the type isn't representable by
	// DBus.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("dbus cannot represent %s: %s", e.Type, e.Reason)
}

func (e TypeError) Unwrap() error {
	return e.Reason
}

func typeErr(t reflect.Type, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, fmt.Errorf(reason, args...)}
}

// CallError is the error returned from failed DBus method calls. It
// is the RemoteError(name, message) kind from the DBus error
// namespace: Name is the reverse-DNS error name reported by the
// remote peer, Detail is the free-text message that came with it.
type CallError struct {
	// Name is the error name provided by the remote peer.
	Name string
	// Detail is the human-readable explanation of what went wrong.
	Detail string
}

func (e CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call error %s", e.Name)
	}
	return fmt.Sprintf("call error %s: %s", e.Name, e.Detail)
}

// Is reports whether e represents the well-known error kind target,
// so that callers can write errors.Is(err, dbus.ErrUnknownMethod)
// instead of comparing e.Name by hand.
func (e CallError) Is(target error) bool {
	k, ok := target.(*errorKind)
	if !ok {
		return false
	}
	return e.Name == k.name
}

// errorKind is a well-known DBus error name, usable as an
// errors.Is target.
type errorKind struct {
	name string
}

func (k *errorKind) Error() string { return k.name }

// Well-known error kinds, matched against CallError.Name and against
// failures the core itself detects locally (timeouts, a closed
// connection, malformed replies). Remote peers that report one of
// these reverse-DNS names will satisfy errors.Is against the
// matching sentinel; errors with any other name match none of these
// sentinels, and are identified by inspecting the [CallError] itself
// (for example with errors.As).
var (
	// ErrTimeout is returned when a synchronous call does not receive
	// a reply within its deadline.
	ErrTimeout = &errorKind{"org.freedesktop.DBus.Error.Timeout"}
	// ErrDisconnected is returned when the connection to the bus is
	// closed while a call is outstanding.
	ErrDisconnected = &errorKind{"org.freedesktop.DBus.Error.Disconnected"}
	// ErrInvalidArgs is reported by a peer that rejected a method
	// call's arguments.
	ErrInvalidArgs = &errorKind{"org.freedesktop.DBus.Error.InvalidArgs"}
	// ErrInvalidReply indicates a reply message that doesn't match the
	// shape the caller asked for (wrong signature, wrong kind).
	ErrInvalidReply = &errorKind{"dbus: invalid reply"}
	// ErrDeserializationFailure indicates that a reply or signal body
	// could not be decoded into the caller's requested type.
	ErrDeserializationFailure = &errorKind{"dbus: deserialization failure"}
	// ErrUnknownMethod is reported by a peer that doesn't implement
	// the requested method.
	ErrUnknownMethod = &errorKind{"org.freedesktop.DBus.Error.UnknownMethod"}
	// ErrUnknownInterface is reported by a peer that doesn't implement
	// the requested interface.
	ErrUnknownInterface = &errorKind{"org.freedesktop.DBus.Error.UnknownInterface"}
	// ErrUnknownProperty is reported by a peer for a property name it
	// doesn't recognize.
	ErrUnknownProperty = &errorKind{"org.freedesktop.DBus.Error.UnknownProperty"}
	// ErrAccessDenied is reported by a peer (or the bus) that refused
	// a call on authorization grounds.
	ErrAccessDenied = &errorKind{"org.freedesktop.DBus.Error.AccessDenied"}
	// ErrInternal marks a failure in the local implementation, as
	// opposed to a remote or transport error.
	ErrInternal = &errorKind{"dbus: internal error"}
)
