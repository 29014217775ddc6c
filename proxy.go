package dbus

import (
	"context"
	"fmt"
	"time"

	"github.com/creachadair/mds/value"
)

// Proxy is a client-side handle folding a Peer and an interface name
// together, the entry point for the Builder Chain that issues method
// calls, subscribes to signals, and reads/writes properties against
// a remote object. It is the Message-based counterpart to Interface's
// existing convenience methods, which remain in place for direct,
// low-level use.
type Proxy struct {
	iface Interface
}

// NewProxy returns a Proxy for the given interface on obj.
func NewProxy(obj Object, iface string) Proxy {
	return Proxy{iface: obj.Interface(iface)}
}

func (p Proxy) Conn() *Conn       { return p.iface.Conn() }
func (p Proxy) Object() Object    { return p.iface.Object() }
func (p Proxy) Interface() string { return p.iface.Name() }

// CreateMethodCall returns a build-mode Message addressed to this
// proxy's peer, object and interface, ready for [Append] and
// [MethodInvoker]/[AsyncMethodInvoker].
func (p Proxy) CreateMethodCall(method string) *Message {
	return NewMethodCall(p.iface.Peer().Name(), p.Object().Path(), p.Interface(), method)
}

// Call returns a MethodInvoker for method on p.
func (p Proxy) Call(method string) *MethodInvoker {
	return &MethodInvoker{p: p, msg: p.CreateMethodCall(method)}
}

// CallAsync returns an AsyncMethodInvoker for method on p.
func (p Proxy) CallAsync(method string) *AsyncMethodInvoker {
	return &AsyncMethodInvoker{p: p, msg: p.CreateMethodCall(method)}
}

// MethodInvoker is the scope-committed builder behind a synchronous
// method call: callMethod(name).withArguments(args...).send(&out).
//
// Exactly like [SignalEmitter], Go has no scope-exit hook to observe,
// so the terminal step is an explicit Send, or Defer for the
// named-error-return idiom.
type MethodInvoker struct {
	p         Proxy
	msg       *Message
	timeout   time.Duration
	appendErr error
	noReply   bool
	sent      bool
}

// WithTimeout overrides the call's timeout. A zero duration means no
// timeout beyond the context passed to Send.
func (b *MethodInvoker) WithTimeout(d time.Duration) *MethodInvoker {
	b.timeout = d
	return b
}

// WithArguments appends args, in order, to the call's payload.
func (b *MethodInvoker) WithArguments(args ...any) *MethodInvoker {
	for _, a := range args {
		if err := Append(b.msg, a); err != nil {
			b.appendErr = err
			return b
		}
	}
	return b
}

// DontExpectReply marks the call as one-way: Send returns as soon as
// the call is written, without waiting for (or requesting) a reply.
func (b *MethodInvoker) DontExpectReply() *MethodInvoker {
	b.noReply = true
	b.msg.SetNoReply()
	return b
}

// Send commits the invoker: it performs the call and, if out is
// non-nil, decodes the reply body into it.
func (b *MethodInvoker) Send(ctx context.Context, out any) error {
	if b.sent {
		return fmt.Errorf("dbus: MethodInvoker already committed")
	}
	b.sent = true
	if b.appendErr != nil {
		return b.appendErr
	}
	reply, err := b.p.Conn().SendMethodCallSync(ctx, b.msg, b.timeout)
	if err != nil {
		return err
	}
	if b.noReply || reply == nil {
		return nil
	}
	if reply.Kind() == ErrorReply {
		return CallError{Name: reply.ErrName()}
	}
	return reply.DecodeBody(ctx, out)
}

// Defer commits the invoker on scope exit, writing the call's
// outcome into *errp unless it already holds an error from earlier in
// the enclosing scope.
func (b *MethodInvoker) Defer(ctx context.Context, out any, errp *error) {
	if *errp != nil {
		return
	}
	if err := b.Send(ctx, out); err != nil {
		*errp = err
	}
}

// AsyncMethodInvoker is the builder behind an asynchronous method
// call: callMethodAsync(name).withArguments(args...).uponReplyInvoke(cb),
// or .getResultAsFuture() for a Future-based alternative.
type AsyncMethodInvoker struct {
	p         Proxy
	msg       *Message
	timeout   time.Duration
	appendErr error
	sent      bool
}

func (b *AsyncMethodInvoker) WithTimeout(d time.Duration) *AsyncMethodInvoker {
	b.timeout = d
	return b
}

func (b *AsyncMethodInvoker) WithArguments(args ...any) *AsyncMethodInvoker {
	for _, a := range args {
		if err := Append(b.msg, a); err != nil {
			b.appendErr = err
			return b
		}
	}
	return b
}

// UponReplyInvoke commits the call, invoking cb exactly once when the
// reply, error, or timeout resolves it.
func (b *AsyncMethodInvoker) UponReplyInvoke(ctx context.Context, cb func(reply *Message, err error)) (*PendingAsyncCall, error) {
	if b.sent {
		return nil, fmt.Errorf("dbus: AsyncMethodInvoker already committed")
	}
	b.sent = true
	if b.appendErr != nil {
		return nil, b.appendErr
	}
	return b.p.Conn().SendMethodCallAsync(ctx, b.msg, func(reply *Message, err error) {
		if err == nil && reply != nil && reply.Kind() == ErrorReply {
			err = CallError{Name: reply.ErrName()}
			reply = nil
		}
		cb(reply, err)
	}, b.timeout)
}

// GetResultAsFuture commits the call and returns a Future that
// resolves with the sealed reply Message.
func (b *AsyncMethodInvoker) GetResultAsFuture(ctx context.Context) (*Future[*Message], error) {
	f := newFuture[*Message]()
	_, err := b.UponReplyInvoke(ctx, func(reply *Message, err error) {
		f.resolve(reply, err)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// SignalSubscriber is the builder behind subscribing to a signal on
// a Proxy's interface: onSignal(name).invoke(handler).
type SignalSubscriber struct {
	p      Proxy
	member string
}

// OnSignal returns a SignalSubscriber for member on p's interface.
func (p Proxy) OnSignal(member string) *SignalSubscriber {
	return &SignalSubscriber{p: p, member: member}
}

// Invoke registers handler to run for every delivery of this
// subscriber's signal from p's object, until the returned Slot is
// closed.
func (s *SignalSubscriber) Invoke(ctx context.Context, handler func(*Notification)) (*Slot, error) {
	m := MatchAllSignals().Object(s.p.Object().Path())
	return s.p.Conn().Subscribe(ctx, m, func(n *Notification) {
		if n.Sender.Name() != s.p.Interface() || n.Name != s.member {
			return
		}
		handler(n)
	})
}

// RegisterPropertyChangedHandler registers handler to run every time
// name changes on p's object and interface, until the returned Slot is
// closed. Unlike OnSignal, it filters the generic
// org.freedesktop.DBus.Properties PropertiesChanged signal down to a
// single named property, using the same property Match that
// Watcher's per-property delivery matches internally for
// RegisterPropertyChangeType'd types.
func (p Proxy) RegisterPropertyChangedHandler(ctx context.Context, name string, handler func(*Notification)) (*Slot, error) {
	m := &Match{
		object:   value.Just(p.Object().Path().Clean()),
		property: value.Just(interfaceMember{p.Interface(), name}),
	}
	return p.Conn().Subscribe(ctx, m, handler)
}

// PropertyGetter is the builder behind a synchronous property read:
// getProperty(name).get(&out).
type PropertyGetter struct {
	p    Proxy
	name string
}

// GetProperty returns a PropertyGetter for name on p's interface.
func (p Proxy) GetProperty(name string) *PropertyGetter {
	return &PropertyGetter{p: p, name: name}
}

// Get reads the property's value into out.
func (g *PropertyGetter) Get(ctx context.Context, out any) error {
	return g.p.iface.GetProperty(ctx, g.name, out)
}

// PropertySetter is the builder behind a synchronous property write:
// setProperty(name, value).dontExpectReply().set().
type PropertySetter struct {
	p       Proxy
	name    string
	value   any
	noReply bool
}

// SetProperty returns a PropertySetter for name on p's interface.
func (p Proxy) SetProperty(name string, value any) *PropertySetter {
	return &PropertySetter{p: p, name: name, value: value}
}

// DontExpectReply marks the write as one-way.
func (s *PropertySetter) DontExpectReply() *PropertySetter {
	s.noReply = true
	return s
}

// Set commits the write.
func (s *PropertySetter) Set(ctx context.Context) error {
	if s.noReply {
		req := struct {
			InterfaceName string
			PropertyName  string
			Value         Variant
		}{s.p.Interface(), s.name, Variant{s.value}}
		return s.p.Object().Interface(ifaceProps).OneWay(ctx, "Set", req)
	}
	return s.p.iface.SetProperty(ctx, s.name, s.value)
}

// AllPropertiesGetter is the builder behind reading every property
// of a Proxy's interface at once, synchronously or asynchronously.
type AllPropertiesGetter struct {
	p Proxy
}

// GetAllProperties returns an AllPropertiesGetter for p's interface.
func (p Proxy) GetAllProperties() *AllPropertiesGetter {
	return &AllPropertiesGetter{p: p}
}

// Get synchronously reads every property of the interface.
func (g *AllPropertiesGetter) Get(ctx context.Context) (map[string]Variant, error) {
	raw, err := g.p.iface.GetAllProperties(ctx)
	if err != nil {
		return nil, err
	}
	ret := make(map[string]Variant, len(raw))
	for k, v := range raw {
		ret[k] = Variant{v}
	}
	return ret, nil
}

// AsyncAllPropertiesGetter is the async counterpart of
// AllPropertiesGetter, following the same uponReplyInvoke/asFuture
// shape as AsyncMethodInvoker.
type AsyncAllPropertiesGetter struct {
	p Proxy
}

// GetAllPropertiesAsync returns an AsyncAllPropertiesGetter for p's
// interface.
func (p Proxy) GetAllPropertiesAsync() *AsyncAllPropertiesGetter {
	return &AsyncAllPropertiesGetter{p: p}
}

// UponReplyInvoke asynchronously reads every property and invokes cb
// exactly once with the result. GetAll is always sent to the
// org.freedesktop.DBus.Properties interface, never to p's own
// interface, so this issues the call through a second Proxy for that
// interface rather than through p.
func (g *AsyncAllPropertiesGetter) UponReplyInvoke(ctx context.Context, cb func(map[string]Variant, error)) (*PendingAsyncCall, error) {
	props := NewProxy(g.p.Object(), ifaceProps)
	call := props.CallAsync("GetAll").WithArguments(g.p.Interface())
	return call.UponReplyInvoke(ctx, func(reply *Message, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		var raw map[string]Variant
		if err := reply.DecodeBody(ctx, &raw); err != nil {
			cb(nil, err)
			return
		}
		cb(raw, nil)
	})
}

// GetResultAsFuture asynchronously reads every property and returns
// a Future resolving with the result.
func (g *AsyncAllPropertiesGetter) GetResultAsFuture(ctx context.Context) (*Future[map[string]Variant], error) {
	f := newFuture[map[string]Variant]()
	_, err := g.UponReplyInvoke(ctx, func(props map[string]Variant, err error) {
		f.resolve(props, err)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}
