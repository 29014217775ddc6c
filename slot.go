package dbus

import "sync"

// Slot is a type-erased, scoped registration handle. It governs the
// lifetime of exactly one registration against a [Conn]: an exported
// [Object] v-table, a signal subscription, or a pending async call.
//
// Releasing a Slot deregisters whatever it guards. Release happens
// at most once, no matter how many times or from how many goroutines
// Close is called. The zero Slot is already released.
type Slot struct {
	mu      sync.Mutex
	release func()
}

// newSlot returns a Slot whose Close invokes release exactly once.
func newSlot(release func()) *Slot {
	return &Slot{release: release}
}

// Close releases the registration, if it hasn't been released
// already.
func (s *Slot) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	release := s.release
	s.release = nil
	s.mu.Unlock()
	if release != nil {
		release()
	}
}

// Released reports whether the slot's registration has already been
// torn down, either by an explicit Close or because it was never
// armed in the first place.
func (s *Slot) Released() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.release == nil
}
