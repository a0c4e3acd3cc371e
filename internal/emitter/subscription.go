package emitter

import "sync"

// Subscription is the handle returned by AddListener.
type Subscription struct {
	name    string
	id      uint64
	emitter *Emitter
	once    sync.Once
}

// Name returns the routing name the listener was added for.
func (s *Subscription) Name() string {
	return s.name
}

// Remove unregisters the listener. Calling it again does nothing.
func (s *Subscription) Remove() {
	s.once.Do(func() {
		s.emitter.removeListener(s.name, s.id)
	})
}
