package dbus

import "time"

// callOptions holds the effect of a set of CallOptions.
type callOptions struct {
	noReply     bool
	interactive bool
	timeout     time.Duration
}

// flags returns the DBus message flags byte implied by these options.
func (o callOptions) flags() byte {
	var f byte
	if o.noReply {
		f |= 0x1
	}
	if o.interactive {
		f |= 0x4
	}
	return f
}

func resolveCallOptions(opts []CallOption) callOptions {
	var ret callOptions
	for _, o := range opts {
		o(&ret)
	}
	return ret
}

// A CallOption adjusts the behavior of a single method call.
type CallOption func(*callOptions)

// NoReply marks a method call as fire-and-forget: the call returns as
// soon as the request is written to the transport, and no reply is
// requested from the peer.
func NoReply() CallOption {
	return func(o *callOptions) { o.noReply = true }
}

// WithTimeout bounds how long a method call may wait for a reply,
// independent of any deadline already present on the call's
// [context.Context].
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// AllowInteractiveAuthorization tells the peer that the caller is
// prepared to wait out an interactive authorization prompt (e.g. a
// polkit dialog) before the call completes.
func AllowInteractiveAuthorization() CallOption {
	return func(o *callOptions) { o.interactive = true }
}
