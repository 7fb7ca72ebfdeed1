package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// EventBus fans events out to subscribers
type EventBus interface {
	// Publish delivers the event to every matching subscriber without blocking
	Publish(event Event)

	// Subscribe registers a buffered subscription
	Subscribe(filter EventFilter, buffer int) *Subscription
}

// Subscription receives matching events on C until Close is called
type Subscription struct {
	ID     string
	C      <-chan Event
	filter EventFilter
	ch     chan Event
	bus    *Bus
	once   sync.Once
}

// Close removes the subscription and closes its channel
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.ID)
	})
}

// Bus is an in-memory EventBus. Subscribers that fall behind lose events
// rather than stall publishers.
type Bus struct {
	logger  hclog.Logger
	mu      sync.RWMutex
	subs    map[string]*Subscription
	dropped atomic.Int64
}

// NewBus creates an event bus
func NewBus(logger hclog.Logger) *Bus {
	return &Bus{
		logger: logger.Named("event-bus"),
		subs:   make(map[string]*Subscription),
	}
}

// Publish implements EventBus
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber buffer full, dropping event",
				"subscription", sub.ID,
				"type", event.Type,
				"job_id", event.JobID)
		}
	}
}

// Subscribe implements EventBus
func (b *Bus) Subscribe(filter EventFilter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{
		ID:     uuid.New().String(),
		C:      ch,
		filter: filter,
		ch:     ch,
		bus:    b,
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscription added", "subscription", sub.ID)
	return sub
}

// Dropped returns how many deliveries were skipped for slow subscribers
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}
