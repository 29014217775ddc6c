package dbus

import (
	"context"
	"errors"
	"fmt"
)

// vtableDescriptor is the registered v-table for one (Object path ×
// interface) pair: the set of methods it answers, and the set of
// signal names it's allowed to emit.
type vtableDescriptor struct {
	interfaceName string
	methods       map[string]handlerFunc
	signals       map[string]bool
}

// registerVTable installs desc for (path, iface), enforcing the
// invariant that at most one v-table may exist per Object × interface.
func (c *Conn) registerVTable(path ObjectPath, iface string, desc *vtableDescriptor) (*Slot, error) {
	c.vtablesMu.Lock()
	if c.vtables[path] == nil {
		c.vtables[path] = map[string]*vtableDescriptor{}
	}
	if _, exists := c.vtables[path][iface]; exists {
		c.vtablesMu.Unlock()
		return nil, fmt.Errorf("dbus: a v-table is already registered for interface %s on object %s", iface, path)
	}
	c.vtables[path][iface] = desc
	c.vtablesMu.Unlock()

	return newSlot(func() {
		c.vtablesMu.Lock()
		defer c.vtablesMu.Unlock()
		if ifaces := c.vtables[path]; ifaces != nil {
			delete(ifaces, iface)
			if len(ifaces) == 0 {
				delete(c.vtables, path)
			}
		}
	}), nil
}

// vtableFor returns the v-table registered for (path, iface), or nil.
func (c *Conn) vtableFor(path ObjectPath, iface string) *vtableDescriptor {
	c.vtablesMu.Lock()
	defer c.vtablesMu.Unlock()
	ifaces := c.vtables[path]
	if ifaces == nil {
		return nil
	}
	return ifaces[iface]
}

// VTableAdder is the builder returned by [Object.AddVTable]. It
// accumulates the methods and declared signals of one interface's
// v-table before committing the whole thing in a single registration.
//
// VTableAdder requires ForInterface to be called before any method or
// signal is added; violating that order is a programming error and
// panics, per the Builder Chain's general ordering contract.
type VTableAdder struct {
	obj       Object
	iface     string
	methods   map[string]handlerFunc
	signals   map[string]bool
	committed bool
}

// AddVTable returns a VTableAdder for registering a v-table on o.
func (o Object) AddVTable() *VTableAdder {
	return &VTableAdder{
		obj:     o,
		methods: map[string]handlerFunc{},
		signals: map[string]bool{},
	}
}

// ForInterface sets the interface this v-table implements. It must be
// called exactly once, before any WithMethod/WithSignal call.
func (b *VTableAdder) ForInterface(name string) *VTableAdder {
	b.iface = name
	return b
}

// WithMethod registers fn as the implementation of method name on
// this v-table's interface. fn must satisfy the same shape
// [Conn.Handle] requires.
func (b *VTableAdder) WithMethod(name string, fn any) *VTableAdder {
	if b.iface == "" {
		panic("dbus: VTableAdder.WithMethod called before ForInterface")
	}
	b.methods[name] = handlerForFunc(fn)
	return b
}

// WithSignal declares that this v-table's interface may emit a
// signal named name. EmitSignal refuses to send signals that weren't
// declared this way.
func (b *VTableAdder) WithSignal(name string) *VTableAdder {
	if b.iface == "" {
		panic("dbus: VTableAdder.WithSignal called before ForInterface")
	}
	b.signals[name] = true
	return b
}

// Build commits the v-table as a registration owned internally by
// the connection (the "floating slot" case): it is torn down only
// when the connection closes.
func (b *VTableAdder) Build() error {
	slot, err := b.commit()
	if err != nil {
		return err
	}
	b.obj.Conn().trackFloating(slot)
	return nil
}

// BuildSlot commits the v-table and returns a Slot the caller owns
// (the "returned slot" case): closing it unregisters the v-table.
func (b *VTableAdder) BuildSlot() (*Slot, error) {
	return b.commit()
}

func (b *VTableAdder) commit() (*Slot, error) {
	if b.committed {
		return nil, errors.New("dbus: VTableAdder already committed")
	}
	if b.iface == "" {
		return nil, errors.New("dbus: ForInterface must be called before committing a VTableAdder")
	}
	b.committed = true
	desc := &vtableDescriptor{
		interfaceName: b.iface,
		methods:       b.methods,
		signals:       b.signals,
	}
	return b.obj.Conn().registerVTable(b.obj.Path(), b.iface, desc)
}

// CreateSignal constructs an unsealed Signal-kind Message bound to
// o's path, ready for [Append] and [Object.EmitSignal].
func (o Object) CreateSignal(iface, member string) *Message {
	return NewSignal(o.Path(), iface, member)
}

// EmitSignal publishes m, which must be a sealed or sealable Signal
// message originating from o's path, and whose member was declared
// via WithSignal on a v-table registered for its interface.
func (o Object) EmitSignal(ctx context.Context, m *Message) error {
	if m.Kind() != SignalMessage {
		return fmt.Errorf("dbus: EmitSignal requires a Signal message, got %s", m.Kind())
	}
	if m.Path() != o.Path() {
		return fmt.Errorf("dbus: signal message path %s does not match object %s", m.Path(), o.Path())
	}
	vt := o.Conn().vtableFor(o.Path(), m.Interface())
	if vt == nil || !vt.signals[m.Member()] {
		return fmt.Errorf("dbus: %s.%s was not declared in any v-table for %s", m.Interface(), m.Member(), o.Path())
	}
	return o.Conn().SendSignal(ctx, m)
}

// SignalEmitter is the scope-committed builder behind
// Object.EmitSignal's fluent form: emitSignal(member).onInterface(iface).withArguments(args...).
//
// Construction captures nothing special to detect scope failure —
// Go has no stack-unwinding signal to observe — so callers that want
// the "don't emit if the enclosing scope is failing" behavior use
// Defer with a named error return, per the builder chain's general
// scope-exit contract (see object.go and spec §4.6/§9).
type SignalEmitter struct {
	obj     Object
	member  string
	iface   string
	msg     *Message
	appendErr error
	sent    bool
}

// EmitSignalBuilder returns a SignalEmitter for member on o.
func (o Object) EmitSignalBuilder(member string) *SignalEmitter {
	return &SignalEmitter{obj: o, member: member}
}

// OnInterface sets the signal's interface. Required before Send,
// WithArguments, or Defer can do anything useful.
func (e *SignalEmitter) OnInterface(iface string) *SignalEmitter {
	e.iface = iface
	return e
}

// WithArguments appends args, in order, to the signal's payload.
func (e *SignalEmitter) WithArguments(args ...any) *SignalEmitter {
	if e.iface == "" {
		e.appendErr = errors.New("dbus: WithArguments called before OnInterface")
		return e
	}
	if e.msg == nil {
		e.msg = e.obj.CreateSignal(e.iface, e.member)
	}
	for _, a := range args {
		if err := Append(e.msg, a); err != nil {
			e.appendErr = err
			return e
		}
	}
	return e
}

// Send commits the emitter: it sends the accumulated signal now. A
// SignalEmitter that has already committed refuses a second Send.
func (e *SignalEmitter) Send(ctx context.Context) error {
	if e.sent {
		return errors.New("dbus: SignalEmitter already committed")
	}
	e.sent = true
	if e.appendErr != nil {
		return e.appendErr
	}
	if e.iface == "" {
		return errors.New("dbus: OnInterface was not called, signal message is invalid")
	}
	if e.msg == nil {
		e.msg = e.obj.CreateSignal(e.iface, e.member)
	}
	return e.obj.EmitSignal(ctx, e.msg)
}

// Defer commits the emitter on scope exit, in the Go idiom for the
// spec's "commit on scope exit unless an error is propagating":
// call it with defer and the enclosing function's named error
// return. If *errp already holds an error, the signal is not sent,
// mirroring the C++ original's exception-in-flight check.
func (e *SignalEmitter) Defer(ctx context.Context, errp *error) {
	if *errp != nil {
		return
	}
	if err := e.Send(ctx); err != nil {
		*errp = err
	}
}
