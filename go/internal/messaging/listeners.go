package messaging

import "sync"

// listenerSet fans connection state changes out to registered callbacks.
type listenerSet struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(online bool)
}

func newListenerSet() *listenerSet {
	return &listenerSet{fns: make(map[int]func(bool))}
}

func (s *listenerSet) add(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.fns[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *listenerSet) notify(online bool) {
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

func (s *listenerSet) clear() {
	s.mu.Lock()
	s.fns = make(map[int]func(bool))
	s.mu.Unlock()
}
