package event

import (
	"sync"
	"time"

	"github.com/soundbase/soundbase-go/internal/monitoring"
)

// defaultBufferSize is the per-subscriber channel depth.
const defaultBufferSize = 256

// Bus is an in-process typed pub/sub bus. Publish never blocks: when a
// subscriber's channel is full the event is dropped for that subscriber
// only. Slow observers lose events, they never stall a download.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	buffer int
}

type subscriber struct {
	types map[Type]bool // nil means all types
	ch    chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[int]*subscriber),
		buffer: defaultBufferSize,
	}
}

// Subscribe registers interest in the given event types (all types when
// none are given). The returned cancel func removes the subscription
// and closes the channel.
func (b *Bus) Subscribe(types ...Type) (<-chan Event, func()) {
	var filter map[Type]bool
	if len(types) > 0 {
		filter = make(map[Type]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}

	sub := &subscriber{
		types: filter,
		ch:    make(chan Event, b.buffer),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}

	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber without
// blocking.
func (b *Bus) Publish(t Type, payload interface{}) {
	evt := Event{
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	monitoring.RecordEventPublished(string(t))

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[t] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			monitoring.RecordEventDropped(string(t))
		}
	}
}
