package db

import "sync"

type subscription struct {
	key string
	ch  chan struct{}
}

type subscribers struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]subscription
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]subscription)}
}

// Subscribe returns a channel that receives a signal after every change to
// the record at key. Signals coalesce: a slow reader sees at most one
// pending signal.
func (s *Store) Subscribe(key string) (int, <-chan struct{}) {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()

	s.subs.nextID++
	id := s.subs.nextID
	ch := make(chan struct{}, 1)
	s.subs.subs[id] = subscription{key: key, ch: ch}
	return id, ch
}

func (s *Store) Unsubscribe(id int) {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()
	delete(s.subs.subs, id)
}

func (s *Store) notify(key string) {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()
	for _, sub := range s.subs.subs {
		if sub.key != key {
			continue
		}
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}
