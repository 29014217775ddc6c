package dbus

import (
	"cmp"
	"context"
	"encoding/xml"
	"fmt"
	"maps"
	"path"
)

type Object struct {
	p    Peer
	path ObjectPath
}

func (o Object) Conn() *Conn      { return o.p.Conn() }
func (o Object) Peer() Peer       { return o.p }
func (o Object) Path() ObjectPath { return o.path }

func (o Object) String() string {
	return o.p.String() + string(o.path)
}

// Child returns the Object at the given path relative to o.
func (o Object) Child(rel string) Object {
	return o.p.Object(ObjectPath(path.Join(string(o.path), rel)).Clean())
}

// Compare orders Objects by peer name, then by object path. It is
// suitable for use as a comparator with ordered containers such as
// [github.com/creachadair/mds/heapq.Queue].
func (o Object) Compare(other Object) int {
	if c := cmp.Compare(o.p.name, other.p.name); c != 0 {
		return c
	}
	return cmp.Compare(o.path, other.path)
}

func (o Object) Interface(name string) Interface {
	return Interface{
		o:    o,
		name: name,
	}
}

// Introspect retrieves and parses o's introspection XML, describing
// its exported interfaces and child objects.
func (o Object) Introspect(ctx context.Context, opts ...CallOption) (*ObjectDescription, error) {
	var raw string
	if err := o.Conn().call(ctx, o.p.name, o.path, "org.freedesktop.DBus.Introspectable", "Introspect", nil, &raw, opts...); err != nil {
		return nil, err
	}
	var desc ObjectDescription
	if err := xml.Unmarshal([]byte(raw), &desc); err != nil {
		return nil, fmt.Errorf("parsing introspection XML for %s: %w", o, err)
	}
	return &desc, nil
}

func (o Object) Interfaces(ctx context.Context, opts ...CallOption) ([]Interface, error) {
	names, err := GetProperty[[]string](ctx, o.Interface("org.freedesktop.DBus"), "Interfaces", opts...)
	if err != nil {
		return nil, err
	}
	ret := make([]Interface, 0, len(names))
	for _, n := range names {
		ret = append(ret, o.Interface(n))
	}
	return ret, nil
}

func (o Object) ManagedObjects(ctx context.Context, opts ...CallOption) (map[Object][]Interface, error) {
	// object path -> interface name -> map[property name]value
	var resp map[ObjectPath]map[string]map[string]Variant
	err := o.Conn().call(ctx, o.p.name, o.path, "org.freedesktop.DBus.ObjectManager", "GetManagedObjects", nil, &resp, opts...)
	if err != nil {
		return nil, err
	}
	ret := make(map[Object][]Interface, len(resp))
	for path, ifs := range resp {
		// TODO: validate that path is a subpath of the current object
		child := o.Peer().Object(path)
		ifaces := make([]Interface, 0, len(ifs))
		for ifname := range maps.Keys(ifs) {
			ifaces = append(ifaces, child.Interface(ifname))
		}
		ret[o.Peer().Object(path)] = ifaces
	}
	return ret, nil
}
