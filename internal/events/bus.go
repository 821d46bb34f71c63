// Package events is an in-process publish/subscribe bus for engine
// notifications. Publishing never blocks: a subscriber whose buffer is full
// misses the event.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"

	"securechat/internal/domain"
	"securechat/internal/logging"
)

// DefaultBuffer is the per-subscriber channel capacity used when none is given.
const DefaultBuffer = 32

type subscriber struct {
	names map[string]struct{} // empty means every event
	ch    chan domain.Event
}

// Bus fans events out to subscribers.
type Bus struct {
	log *logrus.Entry

	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
}

// NewBus returns an empty bus.
func NewBus(log *logrus.Entry) *Bus {
	return &Bus{log: logging.OrDiscard(log, "events"), subs: make(map[int]*subscriber)}
}

// Subscribe registers for the named events, or all events when names is
// empty. The returned cancel func closes the channel and is safe to call
// more than once.
func (b *Bus) Subscribe(buffer int, names ...string) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &subscriber{names: make(map[string]struct{}, len(names)), ch: make(chan domain.Event, buffer)}
	for _, n := range names {
		s.names[n] = struct{}{}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Emit delivers ev to every interested subscriber without blocking.
func (b *Bus) Emit(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if len(s.names) > 0 {
			if _, ok := s.names[ev.Name]; !ok {
				continue
			}
		}
		select {
		case s.ch <- ev:
		default:
			b.log.WithField("event", ev.Name).Warn("subscriber buffer full; event dropped")
		}
	}
}

var _ domain.EventBus = (*Bus)(nil)
