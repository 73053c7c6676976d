// Package notify holds listener sets that stores call synchronously after
// a committed write.
package notify

import "sync"

// Set is a set of listeners for events of type T. The zero value is ready
// to use.
type Set[T any] struct {
	mu   sync.Mutex
	fns  map[uint64]func(T)
	next uint64
}

// Add registers fn and returns a function that removes it.
func (s *Set[T]) Add(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[uint64]func(T))
	}
	key := s.next
	s.next++
	s.fns[key] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, key)
			s.mu.Unlock()
		})
	}
}

// Notify calls every listener with v on the caller's goroutine. Listeners
// run outside the lock and may add or remove listeners.
func (s *Set[T]) Notify(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of registered listeners.
func (s *Set[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}
