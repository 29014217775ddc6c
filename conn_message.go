package dbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// This file implements the bus-connection collaborator contract that
// the Message/Slot/Proxy/Object/Builder-Chain layer (message.go,
// slot.go, async.go, proxy.go, object.go and vtable.go)
// is built against: SendMethodCallSync, SendMethodCallAsync,
// SendSignal, RegisterObject, Subscribe, DispatchThreadInvoke. It
// sits directly on top of the low-level wire plumbing in conn.go,
// working with already-sealed Messages instead of arbitrary Go
// values.

func (c *Conn) nextSerial() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, false
	}
	c.lastSerial++
	return c.lastSerial, true
}

// writeRaw sends hdr followed by the pre-encoded body bytes. Unlike
// writeMsg, it never marshals a Go value: body must already match
// hdr.Signature.
func (c *Conn) writeRaw(ctx context.Context, hdr *header, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	hdr.Length = uint32(len(body))

	c.enc.Out = c.encHdr[:0]
	if err := c.enc.Value(ctx, hdr); err != nil {
		return err
	}
	c.encHdr = c.enc.Out

	if _, err := c.t.Write(c.encHdr); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := c.t.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// SendMethodCallSync implements the external bus-connection
// contract's send_method_call_sync: it seals m, sends it, and blocks
// until a reply or error arrives or timeout elapses (a zero timeout
// means no deadline beyond ctx). It returns the sealed reply Message.
func (c *Conn) SendMethodCallSync(ctx context.Context, m *Message, timeout time.Duration) (*Message, error) {
	if m.Kind() != MethodCall {
		return nil, fmt.Errorf("dbus: SendMethodCallSync requires a MethodCall message, got %s", m.Kind())
	}
	if err := m.Seal(); err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	serial, ok := c.nextSerial()
	if !ok {
		return nil, net.ErrClosed
	}
	pend := &pendingCall{
		notify:  make(chan struct{}, 1),
		wantRaw: true,
	}
	c.mu.Lock()
	c.calls[serial] = pend
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.calls[serial] == pend {
			delete(c.calls, serial)
		}
		c.mu.Unlock()
	}()

	hdr := m.hdr
	hdr.Serial = serial
	if err := hdr.Valid(); err != nil {
		return nil, err
	}
	if err := c.writeRaw(context.Background(), &hdr, m.buf); err != nil {
		return nil, err
	}
	if !hdr.WantReply() {
		return nil, nil
	}

	select {
	case <-pend.notify:
		if pend.err != nil {
			return nil, pend.err
		}
		return sealedFromWire(pend.rawResult.header, pend.rawResult.order, pend.rawResult.body), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, CallError{Name: ErrTimeout.name, Detail: ctx.Err().Error()}
		}
		return nil, ctx.Err()
	}
}

// SendMethodCallAsync implements the external bus-connection
// contract's send_method_call_async: it seals and sends m, then
// invokes handler exactly once when a reply, error or timeout
// resolves the call. Exactly one of the handler's arguments is
// non-nil on each invocation. The handler is never invoked for a call
// cancelled through the returned [PendingAsyncCall], nor for a
// message marked as expecting no reply.
func (c *Conn) SendMethodCallAsync(ctx context.Context, m *Message, handler func(*Message, error), timeout time.Duration) (*PendingAsyncCall, error) {
	if m.Kind() != MethodCall {
		return nil, fmt.Errorf("dbus: SendMethodCallAsync requires a MethodCall message, got %s", m.Kind())
	}
	if err := m.Seal(); err != nil {
		return nil, err
	}

	serial, ok := c.nextSerial()
	if !ok {
		return nil, net.ErrClosed
	}
	pend := &pendingCall{
		notify:  make(chan struct{}, 1),
		wantRaw: true,
	}
	c.mu.Lock()
	c.calls[serial] = pend
	c.mu.Unlock()

	hdr := m.hdr
	hdr.Serial = serial
	if err := hdr.Valid(); err != nil {
		c.mu.Lock()
		delete(c.calls, serial)
		c.mu.Unlock()
		return nil, err
	}

	p := newPendingAsyncCall(c, serial)

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	if err := c.writeRaw(context.Background(), &hdr, m.buf); err != nil {
		c.mu.Lock()
		delete(c.calls, serial)
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil, err
	}

	if !hdr.WantReply() {
		c.mu.Lock()
		delete(c.calls, serial)
		c.mu.Unlock()
		p.markDone()
		if cancel != nil {
			cancel()
		}
		return p, nil
	}

	go func() {
		if cancel != nil {
			defer cancel()
		}
		select {
		case <-pend.notify:
			// A reply, error, cancellation or timeout already claimed
			// this call and settled pend; read the outcome below.
		case <-callCtx.Done():
			c.mu.Lock()
			_, stillPending := c.calls[serial]
			if stillPending {
				delete(c.calls, serial)
				pend.err = timeoutErr(callCtx)
			}
			c.mu.Unlock()
			if stillPending {
				close(pend.notify)
			} else {
				// A reply or Cancel claimed the call first; wait for
				// it to finish settling pend before reading it.
				<-pend.notify
			}
		}
		p.markDone()
		if pend.cancelled {
			return
		}
		if pend.err != nil {
			handler(nil, pend.err)
			return
		}
		handler(sealedFromWire(pend.rawResult.header, pend.rawResult.order, pend.rawResult.body), nil)
	}()

	return p, nil
}

// timeoutErr converts a done context into the error an async call
// should report: a CallError naming the DBus timeout error if the
// context's own deadline elapsed, or the context's error verbatim
// otherwise (e.g. explicit cancellation by the caller).
func timeoutErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return CallError{Name: ErrTimeout.name, Detail: ctx.Err().Error()}
	}
	return ctx.Err()
}

// SendSignal implements the external bus-connection contract's
// send_signal: it seals and broadcasts m, which must be a Signal
// message.
func (c *Conn) SendSignal(ctx context.Context, m *Message) error {
	if m.Kind() != SignalMessage {
		return fmt.Errorf("dbus: SendSignal requires a Signal message, got %s", m.Kind())
	}
	if err := m.Seal(); err != nil {
		return err
	}
	serial, ok := c.nextSerial()
	if !ok {
		return net.ErrClosed
	}
	hdr := m.hdr
	hdr.Serial = serial
	if err := hdr.Valid(); err != nil {
		return err
	}
	return c.writeRaw(ctx, &hdr, m.buf)
}

// RegisterObject implements the external bus-connection contract's
// register_object: it installs desc as the v-table for interfaceName
// on path, returning a Slot that unregisters it on Close.
//
// It is a thin adapter over [Conn.Handle]/[Object.AddVTable]; see
// vtable.go for the full Object-side contract.
func (c *Conn) RegisterObject(path ObjectPath, interfaceName string, desc *vtableDescriptor) (*Slot, error) {
	return c.registerVTable(path, interfaceName, desc)
}

// Subscribe implements the external bus-connection contract's
// subscribe: it registers matchExpr with the bus and delivers
// matching signals and property changes to handler until the
// returned Slot is closed.
func (c *Conn) Subscribe(ctx context.Context, matchExpr *Match, handler func(*Notification)) (*Slot, error) {
	w := c.Watch()
	if _, err := w.Match(matchExpr); err != nil {
		w.Close()
		return nil, err
	}
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case n, ok := <-w.Chan():
				if !ok {
					return
				}
				handler(n)
			case <-stop:
				return
			}
		}
	}()
	return newSlot(func() {
		close(stop)
		w.Close()
	}), nil
}

// DispatchThreadInvoke implements the external bus-connection
// contract's dispatch_thread_invoke: it posts fn to run on c's
// dispatch worker, serialized with every other posted fn, and
// returns immediately without waiting for fn to run.
func (c *Conn) DispatchThreadInvoke(fn func()) {
	c.dispatchQueue.submit(fn)
}

// dispatchWorker runs posted funcs one at a time, in submission
// order, on a single goroutine — the "dispatch thread" that
// DispatchThreadInvoke posts to.
type dispatchWorker struct {
	work chan func()
}

func newDispatchWorker() *dispatchWorker {
	w := &dispatchWorker{work: make(chan func(), 64)}
	go w.run()
	return w
}

func (w *dispatchWorker) run() {
	for fn := range w.work {
		fn()
	}
}

func (w *dispatchWorker) submit(fn func()) {
	w.work <- fn
}

func (w *dispatchWorker) close() {
	close(w.work)
}
