package dbus

import (
	"context"
	"path"
	"reflect"
	"strings"

	"github.com/quaylabs/dbus/fragments"
)

type ObjectPath string

// String returns the path as a plain string.
func (p ObjectPath) String() string { return string(p) }

// Clean returns the canonical form of p: duplicate and trailing
// slashes collapsed, with "" treated as the root object "/".
func (p ObjectPath) Clean() ObjectPath {
	if p == "" {
		return "/"
	}
	return ObjectPath(path.Clean(string(p)))
}

// IsChildOf reports whether p names an object nested under the object
// tree rooted at parent.
//
// A path is never a child of itself: IsChildOf("/a", "/a") is false.
func (p ObjectPath) IsChildOf(parent ObjectPath) bool {
	ps, pp := string(p.Clean()), string(parent.Clean())
	if pp == "/" {
		return ps != "/"
	}
	return strings.HasPrefix(ps, pp+"/")
}

func (p ObjectPath) MarshalDBus(ctx context.Context, st *fragments.Encoder) error {
	st.Value(ctx, string(p))
	return nil
}

func (p *ObjectPath) UnmarshalDBus(ctx context.Context, st *fragments.Decoder) error {
	var s string
	if err := st.Value(ctx, &s); err != nil {
		return err
	}
	*p = ObjectPath(s)
	return nil
}

func (p ObjectPath) IsDBusStruct() bool { return false }

var objectPathSignature = mkSignature(reflect.TypeFor[ObjectPath](), "o")

func (p ObjectPath) SignatureDBus() Signature { return objectPathSignature }
