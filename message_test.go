package dbus

import "testing"

func TestMessageBuildAndRead(t *testing.T) {
	m := NewMethodCall("org.test.Peer", "/org/test/Object", "org.test.Iface", "DoThing")
	if m.Kind() != MethodCall {
		t.Fatalf("Kind() = %v, want MethodCall", m.Kind())
	}
	if err := Append(m, "hello"); err != nil {
		t.Fatalf("Append(string) failed: %v", err)
	}
	if err := Append(m, int32(7)); err != nil {
		t.Fatalf("Append(int32) failed: %v", err)
	}
	if err := m.Seal(); err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}
	if err := m.Seal(); err != nil {
		t.Fatalf("second Seal() should be a no-op, got: %v", err)
	}

	if !m.IsValid() {
		t.Error("sealed message with all required header fields should be valid")
	}

	gotStr, err := Read[string](m)
	if err != nil {
		t.Fatalf("Read[string] failed: %v", err)
	}
	if gotStr != "hello" {
		t.Errorf("Read[string] = %q, want %q", gotStr, "hello")
	}

	gotInt, err := Read[int32](m)
	if err != nil {
		t.Fatalf("Read[int32] failed: %v", err)
	}
	if gotInt != 7 {
		t.Errorf("Read[int32] = %d, want 7", gotInt)
	}

	if _, err := Read[int32](m); err == nil {
		t.Error("Read past the end of the payload should fail")
	}
}

type pair struct {
	S string
	I int32
}

func TestMessageStructRoundTrip(t *testing.T) {
	m := NewSignal("/org/test/Object", "org.test.Iface", "Changed")
	want := pair{S: "hi", I: 42}
	if err := Append(m, want); err != nil {
		t.Fatalf("Append(struct) failed: %v", err)
	}
	if err := m.Seal(); err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}
	got, err := Read[pair](m)
	if err != nil {
		t.Fatalf("Read[pair] failed: %v", err)
	}
	if got != want {
		t.Errorf("Read[pair] = %+v, want %+v", got, want)
	}
}

func TestMessageAppendAfterSealFails(t *testing.T) {
	m := NewSignal("/org/test/Object", "org.test.Iface", "Changed")
	if err := m.Seal(); err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}
	if err := Append(m, "too late"); err == nil {
		t.Error("Append on a sealed Message should fail")
	}
}

func TestMessageReadWrongTypeFails(t *testing.T) {
	m := NewSignal("/org/test/Object", "org.test.Iface", "Changed")
	if err := Append(m, "a string"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := m.Seal(); err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}
	if _, err := Read[int32](m); err == nil {
		t.Error("reading a string field as int32 should fail")
	}
}

func TestMessageSetNoReply(t *testing.T) {
	m := NewMethodCall("org.test.Peer", "/org/test/Object", "org.test.Iface", "Fire")
	if m.NoReply() {
		t.Fatal("fresh MethodCall should expect a reply")
	}
	m.SetNoReply()
	if !m.NoReply() {
		t.Error("SetNoReply should mark the message as not expecting a reply")
	}
}
