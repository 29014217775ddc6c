package dbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quaylabs/dbus"
	"github.com/quaylabs/dbus/dbustest"
)

// fakeProps is a minimal org.freedesktop.DBus.Properties server backing
// one interface's worth of properties, enough to exercise
// PropertyGetter/PropertySetter/AllPropertiesGetter end to end without a
// real daemon.
type fakeProps struct {
	mu     sync.Mutex
	values map[string]dbus.Variant
}

func (p *fakeProps) get(_ context.Context, _ dbus.ObjectPath, req struct {
	InterfaceName string
	PropertyName  string
}) (dbus.Variant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[req.PropertyName], nil
}

func (p *fakeProps) set(_ context.Context, _ dbus.ObjectPath, req struct {
	InterfaceName string
	PropertyName  string
	Value         dbus.Variant
}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[req.PropertyName] = req.Value
	return nil
}

func (p *fakeProps) getAll(_ context.Context, _ dbus.ObjectPath, _ string) (map[string]dbus.Variant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ret := make(map[string]dbus.Variant, len(p.values))
	for k, v := range p.values {
		ret[k] = v
	}
	return ret, nil
}

func newFakeProps(obj dbus.Object) *fakeProps {
	p := &fakeProps{values: map[string]dbus.Variant{"Greeting": {Value: "hi"}}}
	if err := obj.AddVTable().
		ForInterface("org.freedesktop.DBus.Properties").
		WithMethod("Get", p.get).
		WithMethod("Set", p.set).
		WithMethod("GetAll", p.getAll).
		Build(); err != nil {
		panic(err)
	}
	return p
}

func TestProxyPropertyGetSet(t *testing.T) {
	bus := dbustest.New(t, true)
	server := bus.MustConn(t)
	defer server.Close()
	client := bus.MustConn(t)
	defer client.Close()

	const path = dbus.ObjectPath("/org/test/Thing")
	const iface = "org.test.Thing"

	obj := server.Peer(server.LocalName()).Object(path)
	newFakeProps(obj)

	proxy := dbus.NewProxy(client.Peer(server.LocalName()).Object(path), iface)

	var got string
	if err := proxy.GetProperty("Greeting").Get(context.Background(), &got); err != nil {
		t.Fatalf("GetProperty().Get() failed: %v", err)
	}
	if got != "hi" {
		t.Errorf("Greeting = %q, want %q", got, "hi")
	}

	if err := proxy.SetProperty("Greeting", "yo").Set(context.Background()); err != nil {
		t.Fatalf("SetProperty().Set() failed: %v", err)
	}
	if err := proxy.GetProperty("Greeting").Get(context.Background(), &got); err != nil {
		t.Fatalf("GetProperty().Get() after Set failed: %v", err)
	}
	if got != "yo" {
		t.Errorf("Greeting after Set = %q, want %q", got, "yo")
	}
}

func TestProxyAllProperties(t *testing.T) {
	bus := dbustest.New(t, true)
	server := bus.MustConn(t)
	defer server.Close()
	client := bus.MustConn(t)
	defer client.Close()

	const path = dbus.ObjectPath("/org/test/Thing")
	const iface = "org.test.Thing"

	obj := server.Peer(server.LocalName()).Object(path)
	newFakeProps(obj)

	proxy := dbus.NewProxy(client.Peer(server.LocalName()).Object(path), iface)

	props, err := proxy.GetAllProperties().Get(context.Background())
	if err != nil {
		t.Fatalf("GetAllProperties().Get() failed: %v", err)
	}
	if v, ok := props["Greeting"]; !ok || v.Value != "hi" {
		t.Errorf("GetAllProperties() = %v, want Greeting=hi", props)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	future, err := proxy.GetAllPropertiesAsync().GetResultAsFuture(ctx)
	if err != nil {
		t.Fatalf("GetAllPropertiesAsync().GetResultAsFuture() failed: %v", err)
	}
	asyncProps, err := future.Get(ctx)
	if err != nil {
		t.Fatalf("future.Get() failed: %v", err)
	}
	if v, ok := asyncProps["Greeting"]; !ok || v.Value != "hi" {
		t.Errorf("async GetAllProperties() = %v, want Greeting=hi", asyncProps)
	}
}

func TestProxyRegisterPropertyChangedHandler(t *testing.T) {
	const iface = "org.test.Announcer"
	const prop = "Greeting"
	dbus.RegisterPropertyChangeType[string](iface, prop)

	bus := dbustest.New(t, true)
	server := bus.MustConn(t)
	defer server.Close()
	client := bus.MustConn(t)
	defer client.Close()

	const path = dbus.ObjectPath("/org/test/Announcer")

	proxy := dbus.NewProxy(client.Peer(server.LocalName()).Object(path), iface)

	got := make(chan string, 1)
	slot, err := proxy.RegisterPropertyChangedHandler(context.Background(), prop, func(n *dbus.Notification) {
		got <- *(n.Body.(*string))
	})
	if err != nil {
		t.Fatalf("RegisterPropertyChangedHandler failed: %v", err)
	}
	defer slot.Close()

	err = server.EmitSignal(context.Background(), path, dbus.PropertiesChanged{
		Interface: iface,
		Changed:   map[string]dbus.Variant{prop: {Value: "hello"}},
	})
	if err != nil {
		t.Fatalf("EmitSignal failed: %v", err)
	}

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("property change delivered %q, want %q", v, "hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for property change notification")
	}
}

func TestProxyAsyncMethodCall(t *testing.T) {
	bus := dbustest.New(t, true)
	server := bus.MustConn(t)
	defer server.Close()
	client := bus.MustConn(t)
	defer client.Close()

	const path = dbus.ObjectPath("/org/test/Adder")
	const iface = "org.test.Adder"

	obj := server.Peer(server.LocalName()).Object(path)
	slot, err := obj.AddVTable().
		ForInterface(iface).
		WithMethod("Add", func(_ context.Context, _ dbus.ObjectPath, args struct{ A, B int32 }) (int32, error) {
			return args.A + args.B, nil
		}).
		BuildSlot()
	if err != nil {
		t.Fatalf("AddVTable().BuildSlot() failed: %v", err)
	}
	defer slot.Close()

	proxy := dbus.NewProxy(client.Peer(server.LocalName()).Object(path), iface)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	future, err := proxy.CallAsync("Add").WithArguments(int32(2), int32(3)).GetResultAsFuture(ctx)
	if err != nil {
		t.Fatalf("CallAsync().GetResultAsFuture() failed: %v", err)
	}
	reply, err := future.Get(ctx)
	if err != nil {
		t.Fatalf("future.Get() failed: %v", err)
	}
	var sum int32
	if err := reply.DecodeBody(ctx, &sum); err != nil {
		t.Fatalf("DecodeBody failed: %v", err)
	}
	if sum != 5 {
		t.Errorf("Add(2,3) = %d, want 5", sum)
	}

	done := make(chan struct{})
	var cbSum int32
	var cbErr error
	if _, err := proxy.CallAsync("Add").WithArguments(int32(10), int32(20)).UponReplyInvoke(ctx, func(reply *dbus.Message, err error) {
		defer close(done)
		if err != nil {
			cbErr = err
			return
		}
		cbErr = reply.DecodeBody(ctx, &cbSum)
	}); err != nil {
		t.Fatalf("UponReplyInvoke failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for async callback")
	}
	if cbErr != nil {
		t.Fatalf("callback error: %v", cbErr)
	}
	if cbSum != 30 {
		t.Errorf("Add(10,20) via callback = %d, want 30", cbSum)
	}
}
