package dbus

import (
	"context"
	"fmt"
	"reflect"

	"github.com/quaylabs/dbus/fragments"
)

// Variant is a DBus value of a type that isn't known until runtime.
type Variant struct {
	// Value is the variant's contained value. It may be any type that
	// is valid in a DBus message, including another Variant, which is
	// encoded on the wire as a variant nested inside this one.
	Value any
}

var variantType = reflect.TypeFor[Variant]()

var variantSignature = mkSignature(variantType, "v")

func (v Variant) IsDBusStruct() bool { return false }

func (v Variant) SignatureDBus() Signature { return variantSignature }

// MarshalDBus encodes the variant as its inner value's signature,
// followed by the value itself.
func (v Variant) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	sig, err := SignatureOf(v.Value)
	if err != nil {
		return err
	}
	if err := e.Value(ctx, sig); err != nil {
		return err
	}
	return e.Value(ctx, v.Value)
}

// UnmarshalDBus decodes a variant's signature and inner value, storing
// the decoded value in v.Value.
func (v *Variant) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	var sig Signature
	if err := d.Value(ctx, &sig); err != nil {
		return fmt.Errorf("reading Variant signature: %w", err)
	}
	if sig.IsZero() {
		return fmt.Errorf("unsupported Variant type signature %q", sig)
	}
	inner := reflect.New(sig.Type())
	if err := d.Value(ctx, inner.Interface()); err != nil {
		return fmt.Errorf("reading Variant value (signature %q): %w", sig, err)
	}
	v.Value = inner.Elem().Interface()
	return nil
}
