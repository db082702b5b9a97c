// Package observe provides a replay-one subject used by entities whose late
// subscribers need the last known state.
package observe

import "sync"

type subscriber[T any] struct {
	id   uint64
	next func(T)
	done func()
}

// Subject buffers the last value. New subscribers receive that value
// immediately and, when the subject is already completed, the completion.
type Subject[T any] struct {
	mu        sync.Mutex
	value     T
	hasValue  bool
	completed bool
	seq       uint64
	subs      []subscriber[T]
}

// New returns an empty subject.
func New[T any]() *Subject[T] {
	return &Subject[T]{}
}

// Next publishes v to every subscriber. It is ignored after Complete.
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.value = v
	s.hasValue = true
	subs := append([]subscriber[T](nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.next != nil {
			sub.next(v)
		}
	}
}

// Complete signals that no more values follow and drops the subscribers.
func (s *Subject[T]) Complete() {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.done != nil {
			sub.done()
		}
	}
}

// Subscribe registers next and done. Either may be nil. The returned func
// removes the subscription.
func (s *Subject[T]) Subscribe(next func(T), done func()) func() {
	s.mu.Lock()
	value, hasValue, completed := s.value, s.hasValue, s.completed
	s.seq++
	id := s.seq
	if !completed {
		s.subs = append(s.subs, subscriber[T]{id: id, next: next, done: done})
	}
	s.mu.Unlock()

	if hasValue && next != nil {
		next(value)
	}
	if completed {
		if done != nil {
			done()
		}
		return func() {}
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Value returns the last published value, if any.
func (s *Subject[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.hasValue
}

// Completed reports whether Complete was called.
func (s *Subject[T]) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}
