package dbus

import (
	"context"
	"errors"
	"fmt"
)

type NameRequestFlags byte

const (
	NameRequestAllowReplacement NameRequestFlags = 1 << iota
	NameRequestReplace
	NameRequestNoQueue
)

func (c *Conn) RequestName(ctx context.Context, name string, flags NameRequestFlags) (isPrimaryOwner bool, err error) {
	resp, err := Call[uint32](ctx, c.bus.Interface(ifaceBus), "RequestName", struct {
		Name  string
		Flags uint32
	}{name, uint32(flags)})
	if err != nil {
		return false, err
	}
	switch resp {
	case 1:
		// Became primary owner.
		return true, nil
	case 2:
		// Placed in queue, but not primary.
		return false, nil
	case 3:
		// Couldn't become primary owner, and request flags asked to
		// not queue.
		return false, errors.New("requested name not available")
	case 4:
		// Already the primary owner.
		return true, nil
	default:
		return false, fmt.Errorf("unknown response code %d to RequestName", resp)
	}
}

func (c *Conn) ReleaseName(ctx context.Context, name string) error {
	_, err := Call[uint32](ctx, c.bus.Interface(ifaceBus), "ReleaseName", name)
	return err
}

func (c *Conn) ListQueuedOwners(ctx context.Context, name string) ([]string, error) {
	return Call[[]string](ctx, c.bus.Interface(ifaceBus), "ListQueuedOwners", name)
}

func (c *Conn) ListNames(ctx context.Context) ([]string, error) {
	return Call[[]string, any](ctx, c.bus.Interface(ifaceBus), "ListNames", nil)
}

// Peers returns a Peer for every bus name currently registered with
// the bus, as reported by ListNames.
func (c *Conn) Peers(ctx context.Context) ([]Peer, error) {
	names, err := c.ListNames(ctx)
	if err != nil {
		return nil, err
	}
	ret := make([]Peer, 0, len(names))
	for _, n := range names {
		ret = append(ret, c.Peer(n))
	}
	return ret, nil
}

func (c *Conn) ListActivatableNames(ctx context.Context) ([]string, error) {
	return Call[[]string, any](ctx, c.bus.Interface(ifaceBus), "ListActivatableNames", nil)
}

// ActivatablePeers returns a Peer for every bus name that the bus can
// activate on demand, as reported by ListActivatableNames.
func (c *Conn) ActivatablePeers(ctx context.Context) ([]Peer, error) {
	names, err := c.ListActivatableNames(ctx)
	if err != nil {
		return nil, err
	}
	ret := make([]Peer, 0, len(names))
	for _, n := range names {
		ret = append(ret, c.Peer(n))
	}
	return ret, nil
}

func (c *Conn) NameHasOwner(ctx context.Context, name string) (bool, error) {
	return Call[bool](ctx, c.bus.Interface(ifaceBus), "NameHasOwner", name)
}

func (c *Conn) GetNameOwner(ctx context.Context, name string) (string, error) {
	return Call[string](ctx, c.bus.Interface(ifaceBus), "GetNameOwner", name)
}

func (c *Conn) GetPeerUID(ctx context.Context, name string) (uint32, error) {
	return Call[uint32](ctx, c.bus.Interface(ifaceBus), "GetConnectionUnixUser", name)
}

func (c *Conn) GetPeerPID(ctx context.Context, name string) (uint32, error) {
	return Call[uint32](ctx, c.bus.Interface(ifaceBus), "GetConnectionUnixProcessID", name)
}

// PeerCredentials describes the operating system level identity of a
// bus peer, as reported by org.freedesktop.DBus.GetConnectionCredentials.
//
// Fields are pointers or nil-able types because not every platform or
// connection reports every credential; a nil/empty field means the
// bus did not supply that credential, not that it was zero.
type PeerCredentials struct {
	UID           *uint32  `dbus:"key=UnixUserID"`
	GIDs          []uint32 `dbus:"key=UnixGroupIDs"`
	PIDFD         *File    `dbus:"key=ProcessFD"`
	PID           *uint32  `dbus:"key=ProcessID"`
	SID           string   `dbus:"key=WindowsSID"`
	SecurityLabel []byte   `dbus:"key=LinuxSecurityLabel"`

	Unknown map[string]any `dbus:"vardict"`
}

func (c *Conn) GetPeerCredentials(ctx context.Context, name string) (*PeerCredentials, error) {
	return Call[*PeerCredentials](ctx, c.bus.Interface(ifaceBus), "GetConnectionCredentials", name)
}

func (c *Conn) GetBusID(ctx context.Context) (string, error) {
	return Call[string, any](ctx, c.bus.Interface(ifaceBus), "GetId", nil)
}

// BusID returns the UUID identifying the bus daemon's current
// runtime instance.
func (c *Conn) BusID(ctx context.Context) (string, error) {
	return c.GetBusID(ctx)
}

// GetMachineID returns the UUID identifying the machine the bus is
// running on, as maintained by systemd/dbus-daemon in
// /etc/machine-id. Unlike the bus ID, the machine ID is stable across
// both the system and session bus and across daemon restarts, so it's
// useful as a durable endpoint identifier.
func (c *Conn) GetMachineID(ctx context.Context) (string, error) {
	return Call[string, any](ctx, c.bus.Interface(ifacePeer), "GetMachineId", nil)
}

func (c *Conn) Features(ctx context.Context) ([]string, error) {
	return GetProperty[[]string](ctx, c.bus.Interface(ifaceBus), "Features")
}

// Not implemented:
//  - StartServiceByName, deprecated in favor of auto-start.
//  - UpdateActivationEnvironment, so locked down you can't really do
//    much with it any more, and should really be leaving environment
//    stuff to systemd anyway.
//  - GetAdtAuditSessionData, Solaris-only and so weird even the spec
//    doesn't know wtf it's for.
//  - GetConnectionSELinuxSecurityContext, deprecated in favor
//    of GetConnectionCredentials.
//  - AddMatch/RemoveMatch, exposed instead through [Conn.Watch] and
//    [Watcher.Match].

// NameOwnerChanged is the payload of org.freedesktop.DBus's
// NameOwnerChanged signal, reporting that a bus name gained or lost an
// owner.
type NameOwnerChanged struct {
	Name     string
	OldOwner string
	NewOwner string
}

// NameLost is the payload of org.freedesktop.DBus's NameLost signal,
// sent to a client that just lost ownership of name.
type NameLost struct {
	Name string
}

// NameAcquired is the payload of org.freedesktop.DBus's NameAcquired
// signal, sent to a client that just gained ownership of name.
type NameAcquired struct {
	Name string
}

// ActivatableServicesChanged is the payload of
// org.freedesktop.DBus's ActivatableServicesChanged signal.
type ActivatableServicesChanged struct{}

// PropertiesChanged is the payload of
// org.freedesktop.DBus.Properties's PropertiesChanged signal.
type PropertiesChanged struct {
	Interface   string
	Changed     map[string]Variant
	Invalidated []string
}

// InterfacesAdded is the payload of
// org.freedesktop.DBus.ObjectManager's InterfacesAdded signal.
type InterfacesAdded struct {
	Object     ObjectPath
	Interfaces map[string]map[string]Variant
}

// InterfacesRemoved is the payload of
// org.freedesktop.DBus.ObjectManager's InterfacesRemoved signal.
type InterfacesRemoved struct {
	Object     ObjectPath
	Interfaces []string
}
