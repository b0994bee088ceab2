package session

import "sync"

type EventKind int

const (
	Login EventKind = iota + 1
	Refresh
	Logout
)

func (k EventKind) String() string {
	switch k {
	case Login:
		return "login"
	case Refresh:
		return "refresh"
	case Logout:
		return "logout"
	default:
		return "unknown"
	}
}

// Event is published on every session transition. User is the profile after
// the transition, empty for Logout.
type Event struct {
	Kind EventKind
	User User
}

const subscriberBuffer = 8

// Broker fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Broker struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}

	id := b.next
	b.next++

	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			delete(b.subs, id)
			close(ch)
		})
	}
}

func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
