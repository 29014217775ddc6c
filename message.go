package dbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/quaylabs/dbus/fragments"
)

// MessageKind is the kind of a DBus [Message]: a method call, a
// method reply, a signal, or an error reply.
type MessageKind int

const (
	MethodCall MessageKind = iota + 1
	MethodReply
	SignalMessage
	ErrorReply
)

func (k MessageKind) String() string {
	switch k {
	case MethodCall:
		return "method_call"
	case MethodReply:
		return "method_return"
	case SignalMessage:
		return "signal"
	case ErrorReply:
		return "error"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(k))
	}
}

func (k MessageKind) wire() msgType {
	switch k {
	case MethodCall:
		return msgTypeCall
	case MethodReply:
		return msgTypeReturn
	case SignalMessage:
		return msgTypeSignal
	case ErrorReply:
		return msgTypeError
	default:
		return 0
	}
}

func kindFromWire(t msgType) MessageKind {
	switch t {
	case msgTypeCall:
		return MethodCall
	case msgTypeReturn:
		return MethodReply
	case msgTypeSignal:
		return SignalMessage
	case msgTypeError:
		return ErrorReply
	default:
		return 0
	}
}

// Message is an owning handle to a DBus wire message: a method call,
// method reply, signal, or error. A freshly constructed Message is in
// build mode: [Append] writes values to it in order, extending its
// declared signature as it goes. [Message.Seal] freezes it into
// sealed mode, in which [Read] consumes values back out in the same
// order they were written (or, for a message received off the wire,
// in the order its sender wrote them).
//
// A Message has unique-ownership semantics: it carries a cursor into
// a shared buffer, so passing it by value and using both copies
// concurrently is a programming error. Pass a *Message instead.
type Message struct {
	hdr    header
	sealed bool

	// build-mode state.
	enc    fragments.Encoder
	buf    []byte
	sigStr string

	// sealed-mode state.
	dec    *fragments.Decoder
	remSig string
}

func newMessage(kind MessageKind) *Message {
	return &Message{
		hdr: header{
			Type:    kind.wire(),
			Version: 1,
		},
	}
}

// NewMethodCall returns a build-mode Message of kind MethodCall,
// targeting the given destination, path, interface and method.
func NewMethodCall(destination string, path ObjectPath, iface, method string) *Message {
	m := newMessage(MethodCall)
	m.hdr.Destination = destination
	m.hdr.Path = path
	m.hdr.Interface = iface
	m.hdr.Member = method
	return m
}

// NewSignal returns a build-mode Message of kind Signal, originating
// from the given path, interface and member.
func NewSignal(path ObjectPath, iface, member string) *Message {
	m := newMessage(SignalMessage)
	m.hdr.Path = path
	m.hdr.Interface = iface
	m.hdr.Member = member
	return m
}

// newErrorReply returns a build-mode Message of kind Error, replying
// to replySerial with the given DBus error name.
func newErrorReply(replySerial uint32, errName string) *Message {
	m := newMessage(ErrorReply)
	m.hdr.ReplySerial = replySerial
	m.hdr.ErrName = errName
	return m
}

// newMethodReply returns a build-mode Message of kind MethodReply,
// replying to replySerial.
func newMethodReply(replySerial uint32) *Message {
	m := newMessage(MethodReply)
	m.hdr.ReplySerial = replySerial
	return m
}

// sealedFromWire wraps a fully received wire message (header already
// parsed, body bytes already read off the transport) as a sealed
// Message, ready for [Read].
func sealedFromWire(hdr header, order fragments.ByteOrder, body []byte) *Message {
	return &Message{
		hdr:    hdr,
		sealed: true,
		remSig: hdr.Signature.String(),
		dec: &fragments.Decoder{
			Order:  order,
			Mapper: decoderFor,
			In:     bytes.NewReader(body),
		},
	}
}

// Kind returns the message's kind.
func (m *Message) Kind() MessageKind { return kindFromWire(m.hdr.Type) }

// Destination returns the message's destination bus name, if any.
func (m *Message) Destination() string { return m.hdr.Destination }

// Path returns the object path the message targets (calls, signals)
// or originates from.
func (m *Message) Path() ObjectPath { return m.hdr.Path }

// Interface returns the message's interface name.
func (m *Message) Interface() string { return m.hdr.Interface }

// Member returns the message's method or signal name.
func (m *Message) Member() string { return m.hdr.Member }

// ReplySerial returns the serial of the call this reply or error
// message answers.
func (m *Message) ReplySerial() uint32 { return m.hdr.ReplySerial }

// ErrName returns the DBus error name of an Error-kind message.
func (m *Message) ErrName() string { return m.hdr.ErrName }

// Sender returns the unique bus name of the message's sender, as
// populated by the bus.
func (m *Message) Sender() string { return m.hdr.Sender }

// SetNoReply marks a build-mode MethodCall message as not expecting
// a reply. SetNoReply panics if called on a sealed message.
func (m *Message) SetNoReply() {
	if m.sealed {
		panic("dbus: SetNoReply called on a sealed Message")
	}
	m.hdr.Flags |= 0x1
}

// NoReply reports whether the message is marked as not expecting a
// reply.
func (m *Message) NoReply() bool { return m.hdr.Flags&0x1 != 0 }

// IsValid reports whether m carries everything its kind requires: a
// destination, path, interface and member for calls; a path,
// interface and member for signals; a reply serial for replies and
// errors, plus an error name for errors.
//
// IsValid ignores the wire serial, which is assigned when the
// message is actually sent, not while it's being built.
func (m *Message) IsValid() bool {
	h := m.hdr
	h.Serial = 1
	return h.Valid() == nil
}

// Seal freezes m, fixing its payload's declared signature and making
// it readable with [Read]. Sealing an already-sealed message is a
// no-op. Seal only freezes the signature and buffer, and fails only
// if the signature accumulated by [Append] does not parse.
func (m *Message) Seal() error {
	if m.sealed {
		return nil
	}
	if m.sigStr != "" {
		sig, err := ParseSignature(m.sigStr)
		if err != nil {
			return fmt.Errorf("dbus: invalid message payload signature %q: %w", m.sigStr, err)
		}
		m.hdr.Signature = sig
		if sig.String() != m.sigStr {
			// Several values were appended, and ParseSignature wrapped
			// them in a struct; the body signature has no outer parens.
			m.hdr.Signature = sig.asMsgBody()
		}
	}
	m.hdr.Length = uint32(len(m.buf))
	m.sealed = true
	m.remSig = m.hdr.Signature.String()
	m.dec = &fragments.Decoder{
		Order:  fragments.NativeEndian,
		Mapper: decoderFor,
		In:     bytes.NewReader(m.buf),
	}
	return nil
}

// Append encodes value as the next field of m's payload, in the
// order Append is called. It returns an error if m is sealed, or if
// value's type has no DBus representation.
func Append[T any](m *Message, value T) error {
	if m.sealed {
		return errors.New("dbus: Append called on a sealed Message")
	}
	sig, err := SignatureOf(value)
	if err != nil {
		return fmt.Errorf("dbus: cannot append value of type %T: %w", value, err)
	}
	m.enc.Order = fragments.NativeEndian
	m.enc.Mapper = encoderFor
	m.enc.Out = m.buf
	if err := m.enc.Value(context.Background(), value); err != nil {
		return err
	}
	m.buf = m.enc.Out
	m.sigStr += sig.String()
	return nil
}

// DecodeBody decodes m's entire remaining payload into out in one
// shot, the way a method reply with several out-arguments is
// conventionally unpacked into a single struct. It does not interact
// with the per-field cursor [Read] uses; mixing DecodeBody and Read
// calls on the same Message is a programming error.
func (m *Message) DecodeBody(ctx context.Context, out any) error {
	if !m.sealed {
		return errors.New("dbus: DecodeBody called on a non-sealed Message")
	}
	if out == nil {
		return nil
	}
	return m.dec.Value(ctx, out)
}

// Read decodes the next field of m's payload into a value of type T,
// advancing the read cursor. Read fails if m is not sealed, if T's
// signature doesn't match the value at the cursor, or if the payload
// is exhausted.
func Read[T any](m *Message) (T, error) {
	var zero T
	if !m.sealed {
		return zero, errors.New("dbus: Read called on a non-sealed Message")
	}
	if m.remSig == "" {
		return zero, fmt.Errorf("dbus: %w: no more fields in message payload", ErrInvalidReply)
	}
	wantSig, err := SignatureFor[T]()
	if err != nil {
		return zero, fmt.Errorf("dbus: cannot read value of type %T: %w", zero, err)
	}
	// Compare by signature string, not by reflect.Type: a struct-typed
	// field's wire type is a synthetic reflect.StructOf with fields
	// Field0, Field1, ..., which is never identical to (or convertible
	// to, since struct conversions require matching field names) the
	// caller's own named struct type even when the two describe the
	// same wire layout.
	_, rest, err := parseOne(m.remSig, false)
	if err != nil {
		return zero, fmt.Errorf("dbus: %w: %v", ErrInvalidReply, err)
	}
	gotSig := m.remSig[:len(m.remSig)-len(rest)]
	if gotSig != wantSig.String() {
		return zero, fmt.Errorf("dbus: %w: next field has signature %q, cannot read as %T (signature %q)", ErrInvalidReply, gotSig, zero, wantSig.String())
	}
	var val T
	if err := m.dec.Value(context.Background(), &val); err != nil {
		return zero, fmt.Errorf("dbus: %w: %v", ErrDeserializationFailure, err)
	}
	m.remSig = rest
	return val, nil
}
