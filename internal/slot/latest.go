// Package slot provides a single-value mailbox with freshest-wins semantics.
//
// A Latest holds at most one value. Store replaces whatever is there, unread or
// not, so a stalled reader never causes a backlog. Load hands out a clone, so
// readers never share the stored value with each other or with the writer.
package slot

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Wait once the slot has been closed.
var ErrClosed = errors.New("slot closed")

// Value is implemented by types that can live in a slot.
type Value[T any] interface {
	Clone() T
	Close() error
}

// Latest is a latest-value mailbox. The zero value is not usable; use New.
type Latest[T Value[T]] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	value   T
	has     bool
	unread  bool
	version uint64
	drops   uint64
	closed  bool
}

// New creates an empty slot.
func New[T Value[T]]() *Latest[T] {
	s := &Latest[T]{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Store publishes v, taking ownership of it. The previous value, if any, is
// released. Returns the new version. Storing into a closed slot releases v
// immediately and returns 0.
func (s *Latest[T]) Store(v T) uint64 {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		v.Close()
		return 0
	}

	old, hadOld := s.value, s.has
	if s.unread {
		s.drops++
	}
	s.value = v
	s.has = true
	s.unread = true
	s.version++
	version := s.version
	s.cond.Broadcast()
	s.mu.Unlock()

	// Readers only ever clone the current value under the lock, so nothing
	// else can reference old at this point.
	if hadOld {
		old.Close()
	}
	return version
}

// Load returns a clone of the current value and its version.
func (s *Latest[T]) Load() (T, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked()
}

// LoadAfter is like Load but only returns a value whose version is greater
// than version.
func (s *Latest[T]) LoadAfter(version uint64) (T, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version <= version {
		var zero T
		return zero, s.version, false
	}
	return s.loadLocked()
}

// Wait blocks until a value newer than version is available, ctx is done or
// the slot is closed.
func (s *Latest[T]) Wait(ctx context.Context, version uint64) (T, uint64, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	for !s.closed && (!s.has || s.version <= version) {
		if err := ctx.Err(); err != nil {
			return zero, s.version, err
		}
		s.cond.Wait()
	}
	if s.closed {
		return zero, s.version, ErrClosed
	}

	v, ver, _ := s.loadLocked()
	return v, ver, nil
}

func (s *Latest[T]) loadLocked() (T, uint64, bool) {
	var zero T
	if !s.has {
		return zero, s.version, false
	}
	s.unread = false
	return s.value.Clone(), s.version, true
}

// Version returns the number of values stored so far.
func (s *Latest[T]) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Len returns 1 if the slot holds a value, 0 otherwise.
func (s *Latest[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.has {
		return 1
	}
	return 0
}

// Drops returns how many values were replaced before anyone read them.
func (s *Latest[T]) Drops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}

// Close releases the held value and wakes every waiter. Idempotent.
func (s *Latest[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	old, hadOld := s.value, s.has
	var zero T
	s.value = zero
	s.has = false
	s.cond.Broadcast()
	s.mu.Unlock()

	if hadOld {
		old.Close()
	}
}
