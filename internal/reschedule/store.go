package reschedule

import "github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"

// Store is an immutable snapshot of the local events. Every mutation returns
// a new Store, so an old snapshot can always be restored as-is.
type Store struct {
	events []domain.CanonicalEvent
	index  map[domain.EventKey]int
}

// NewStore copies events into a store. Later duplicates of a key are dropped.
func NewStore(events []domain.CanonicalEvent) Store {
	s := Store{
		events: make([]domain.CanonicalEvent, 0, len(events)),
		index:  make(map[domain.EventKey]int, len(events)),
	}
	for _, ev := range events {
		k := ev.Key()
		if _, dup := s.index[k]; dup {
			continue
		}
		s.index[k] = len(s.events)
		s.events = append(s.events, ev)
	}
	return s
}

func (s Store) Len() int { return len(s.events) }

func (s Store) Get(k domain.EventKey) (domain.CanonicalEvent, bool) {
	i, ok := s.index[k]
	if !ok {
		return domain.CanonicalEvent{}, false
	}
	return s.events[i], true
}

// Events returns a copy of the events in store order.
func (s Store) Events() []domain.CanonicalEvent {
	return append([]domain.CanonicalEvent(nil), s.events...)
}

// Put returns a store with ev replacing the event of the same key, or
// appended when the key is new.
func (s Store) Put(ev domain.CanonicalEvent) Store {
	k := ev.Key()
	events := append(make([]domain.CanonicalEvent, 0, len(s.events)+1), s.events...)
	if i, ok := s.index[k]; ok {
		events[i] = ev
		return Store{events: events, index: s.index}
	}
	index := make(map[domain.EventKey]int, len(s.index)+1)
	for key, i := range s.index {
		index[key] = i
	}
	index[k] = len(events)
	events = append(events, ev)
	return Store{events: events, index: index}
}

// Without returns a store lacking the event with key k.
func (s Store) Without(k domain.EventKey) Store {
	if _, ok := s.index[k]; !ok {
		return s
	}
	kept := make([]domain.CanonicalEvent, 0, len(s.events)-1)
	for _, ev := range s.events {
		if ev.Key() != k {
			kept = append(kept, ev)
		}
	}
	return NewStore(kept)
}
