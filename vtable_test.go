package dbus_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/quaylabs/dbus"
	"github.com/quaylabs/dbus/dbustest"
)

func TestVTableRegisterAndCall(t *testing.T) {
	bus := dbustest.New(t, true)

	server := bus.MustConn(t)
	defer server.Close()
	client := bus.MustConn(t)
	defer client.Close()

	const path = dbus.ObjectPath("/org/test/Greeter")
	const iface = "org.test.Greeter"

	obj := server.Peer(server.LocalName()).Object(path)
	slot, err := obj.AddVTable().
		ForInterface(iface).
		WithMethod("Greet", func(ctx context.Context, _ dbus.ObjectPath, name string) (string, error) {
			return "hello, " + name, nil
		}).
		BuildSlot()
	if err != nil {
		t.Fatalf("AddVTable().BuildSlot() failed: %v", err)
	}
	defer slot.Close()

	// A second registration for the same Object x interface must fail.
	if _, err := obj.AddVTable().ForInterface(iface).BuildSlot(); err == nil {
		t.Error("second v-table registration for the same interface should fail")
	}

	proxy := dbus.NewProxy(client.Peer(server.LocalName()).Object(path), iface)
	var reply string
	if err := proxy.Call("Greet").WithArguments("gopher").Send(context.Background(), &reply); err != nil {
		t.Fatalf("Call(Greet) failed: %v", err)
	}
	if reply != "hello, gopher" {
		t.Errorf("Greet reply = %q, want %q", reply, "hello, gopher")
	}

	slot.Close()
	if err := proxy.Call("Greet").WithArguments("gopher").Send(context.Background(), &reply); err == nil {
		t.Error("call after closing the v-table slot should fail")
	}
}

func TestVTableEmitSignal(t *testing.T) {
	bus := dbustest.New(t, true)

	server := bus.MustConn(t)
	defer server.Close()
	client := bus.MustConn(t)
	defer client.Close()

	const path = dbus.ObjectPath("/org/test/Emitter")
	const iface = "org.test.Emitter"

	obj := server.Peer(server.LocalName()).Object(path)
	if err := obj.AddVTable().ForInterface(iface).WithSignal("Pinged").Build(); err != nil {
		t.Fatalf("AddVTable().Build() failed: %v", err)
	}

	proxy := dbus.NewProxy(client.Peer(server.LocalName()).Object(path), iface)
	received := make(chan string, 1)
	slot, err := proxy.OnSignal("Pinged").Invoke(context.Background(), func(n *dbus.Notification) {
		// No type was registered for this signal, so Body holds the
		// decoder's default fallback: a pointer to a synthetic
		// single-field struct wrapping the signal's one string arg.
		v := reflect.ValueOf(n.Body)
		if v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		if v.Kind() == reflect.Struct && v.NumField() > 0 {
			received <- v.Field(0).String()
		}
	})
	if err != nil {
		t.Fatalf("OnSignal().Invoke() failed: %v", err)
	}
	defer slot.Close()

	sig := obj.CreateSignal(iface, "Pinged")
	if err := dbus.Append(sig, "pong"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := obj.EmitSignal(context.Background(), sig); err != nil {
		t.Fatalf("EmitSignal failed: %v", err)
	}

	select {
	case got := <-received:
		if got != "pong" {
			t.Errorf("signal body = %q, want %q", got, "pong")
		}
	case <-time.After(5 * time.Second):
		t.Error("timed out waiting for signal delivery")
	}
}

func TestVTableEmitUndeclaredSignalFails(t *testing.T) {
	bus := dbustest.New(t, true)
	server := bus.MustConn(t)
	defer server.Close()

	const path = dbus.ObjectPath("/org/test/Emitter")
	const iface = "org.test.Emitter"

	obj := server.Peer(server.LocalName()).Object(path)
	if err := obj.AddVTable().ForInterface(iface).Build(); err != nil {
		t.Fatalf("AddVTable().Build() failed: %v", err)
	}

	sig := obj.CreateSignal(iface, "NeverDeclared")
	if err := obj.EmitSignal(context.Background(), sig); err == nil {
		t.Error("emitting an undeclared signal should fail")
	}
}
