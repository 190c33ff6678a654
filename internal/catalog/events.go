package catalog

import (
	"sync"
	"time"
)

const (
	EventStateChanged     = "state.changed"
	EventVersionsChanged  = "versions.changed"
	EventSettingsChanged  = "settings.changed"
	EventDocumentExternal = "document.external"
)

type Event struct {
	Type      string   `json:"type"`
	Document  Document `json:"document"`
	Timestamp string   `json:"timestamp"`
}

func newEvent(eventType string, doc Document) Event {
	return Event{Type: eventType, Document: doc, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
}

func eventTypeFor(doc Document) string {
	switch doc {
	case DocumentVersions:
		return EventVersionsChanged
	case DocumentSettings:
		return EventSettingsChanged
	default:
		return EventStateChanged
	}
}

// broker fans events out to subscribers. Slow subscribers drop events rather
// than block writers.
type broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newBroker() *broker {
	return &broker{subs: map[int]chan Event{}}
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
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

func (b *broker) publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
