package dbus

import (
	"context"
	"strings"
)

type Peer struct {
	c    *Conn
	name string
}

func (p Peer) Ping(ctx context.Context, opts ...CallOption) error {
	return p.Conn().call(ctx, p.name, "/", "org.freedesktop.DBus.Peer", "Ping", nil, nil, opts...)
}

func (p Peer) Conn() *Conn  { return p.c }
func (p Peer) Name() string { return p.name }

func (p Peer) String() string {
	if p.c == nil {
		return "<no peer>"
	}
	return p.name
}

func (p Peer) Object(path ObjectPath) Object {
	return Object{
		p:    p,
		path: path,
	}
}

// IsUniqueName reports whether p's name is a unique connection name
// assigned by the bus (e.g. ":1.42"), rather than a well-known name
// that may be claimed and released over time.
func (p Peer) IsUniqueName() bool {
	return strings.HasPrefix(p.name, ":")
}

// Owner returns the Peer currently owning p's name.
//
// Owner is only meaningful for well-known names; calling it on a
// unique name returns that same name back.
func (p Peer) Owner(ctx context.Context) (Peer, error) {
	if p.IsUniqueName() {
		return p, nil
	}
	name, err := p.c.GetNameOwner(ctx, p.name)
	if err != nil {
		return Peer{}, err
	}
	return p.c.Peer(name), nil
}

// Identity returns the operating system level credentials of the
// process backing p, as reported by the bus.
func (p Peer) Identity(ctx context.Context) (*PeerCredentials, error) {
	return p.c.GetPeerCredentials(ctx, p.name)
}

// UID returns the Unix user ID of the process backing p.
//
// Deprecated: use [Peer.Identity] instead, which reports all
// available credentials in one round trip.
func (p Peer) UID(ctx context.Context) (uint32, error) {
	return p.c.GetPeerUID(ctx, p.name)
}

// PID returns the Unix process ID backing p.
//
// Deprecated: use [Peer.Identity] instead, which reports all
// available credentials in one round trip.
func (p Peer) PID(ctx context.Context) (uint32, error) {
	return p.c.GetPeerPID(ctx, p.name)
}

// Exists reports whether p's name currently has an owner on the bus.
func (p Peer) Exists(ctx context.Context) (bool, error) {
	return p.c.NameHasOwner(ctx, p.name)
}

// QueuedOwners returns the Peers waiting in line to become the owner
// of p's name, in queue order. The first entry, if any, is the
// current owner.
func (p Peer) QueuedOwners(ctx context.Context) ([]Peer, error) {
	names, err := p.c.ListQueuedOwners(ctx, p.name)
	if err != nil {
		return nil, err
	}
	ret := make([]Peer, 0, len(names))
	for _, n := range names {
		ret = append(ret, p.c.Peer(n))
	}
	return ret, nil
}
