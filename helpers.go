package dbus

import "context"

// Call invokes method on iface, marshaling body as the request and
// unmarshaling the reply into a freshly allocated T.
//
// Call is a generic convenience wrapper around [Interface.Call] for
// methods with exactly one return value. Methods that return no value
// or several values still need [Interface.Call] directly, with a
// matching struct type for the response.
func Call[T, Req any](ctx context.Context, iface Interface, method string, body Req, opts ...CallOption) (T, error) {
	var resp T
	var reqArg any = body
	if err := iface.Call(ctx, method, reqArg, &resp, opts...); err != nil {
		var zero T
		return zero, err
	}
	return resp, nil
}

// GetProperty reads a property exported by iface into a freshly
// allocated T.
func GetProperty[T any](ctx context.Context, iface Interface, name string, opts ...CallOption) (T, error) {
	var val T
	if err := iface.GetProperty(ctx, name, &val, opts...); err != nil {
		var zero T
		return zero, err
	}
	return val, nil
}

// SetProperty sets a property exported by iface to value.
func SetProperty[T any](ctx context.Context, iface Interface, name string, value T, opts ...CallOption) error {
	return iface.SetProperty(ctx, name, value, opts...)
}
