package eventbus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	stocks "stockwatch/internal/domain/entity/stocks"
)

const defaultBufferSize = 64

// Event is a domain change notification carried by the bus. The set of
// events is closed; external packages cannot add variants.
type Event interface {
	busEvent()
}

// PriceChanged is published once per detected price movement.
type PriceChanged struct {
	Change stocks.PriceChange
}

// AnimationExpired is published when a price animation window elapses.
type AnimationExpired struct {
	StockID string
}

// MarketPhaseChanged is published on every open/close flip.
type MarketPhaseChanged struct {
	Phase stocks.MarketPhase
}

func (PriceChanged) busEvent()       {}
func (AnimationExpired) busEvent()   {}
func (MarketPhaseChanged) busEvent() {}

// Bus fans events out to independently-buffered subscribers. Publishing never
// blocks: a subscriber that falls behind loses its oldest buffered event, not
// the publisher's time. There is no replay; a late subscriber sees only
// events published after it joined.
type Bus struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	buffer int
	closed bool
	logger *logrus.Entry
}

func New(bufferSize int, logger *logrus.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Bus{
		subs:   make(map[uuid.UUID]*Subscription),
		buffer: bufferSize,
		logger: logger.WithField("component", "eventbus"),
	}
}

// Subscription is one subscriber's private delivery queue. Events arrive in
// publish order (per-subscriber FIFO).
type Subscription struct {
	id   uuid.UUID
	ch   chan Event
	bus  *Bus
	once sync.Once
}

// C returns the delivery channel. It is closed when the subscription or the
// bus closes.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscriber and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

// Subscribe registers a new subscriber. Subscribing to a closed bus returns
// a subscription whose channel is already closed.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		id:  uuid.New(),
		ch:  make(chan Event, b.buffer),
		bus: b,
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Publish delivers the event to every current subscriber. A full subscriber
// queue drops its oldest entry so the newest event always fits.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			select {
			case <-sub.ch:
				b.logger.WithField("subscriber", sub.id.String()).
					Warn("slow subscriber, dropped oldest event")
			default:
			}
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// Close shuts the bus down and closes every subscriber channel. Publish and
// Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
}
