package animations

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	stocks "stockwatch/internal/domain/entity/stocks"
	"stockwatch/internal/eventbus"
)

const defaultWindow = time.Second

// Config controls how long a price movement stays visually flagged.
type Config struct {
	// Window is how long an entry stays in the map after the last event.
	Window time.Duration
	// Stagger, when positive, delays each expiry by an extra random amount
	// in [0, Stagger). Cosmetic, off by default.
	Stagger time.Duration
}

type entry struct {
	direction  stocks.Direction
	generation uint64
	timer      *time.Timer
}

// Tracker converts discrete price-change events into a time-bounded map of
// stock id to movement direction. A newer event for the same id restarts the
// window; a superseded expiry timer that still fires is a no-op, guarded by
// the per-entry generation counter.
type Tracker struct {
	cfg    Config
	bus    *eventbus.Bus
	logger *logrus.Entry

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	stopped  chan struct{}
	sub      *eventbus.Subscription
	done     chan struct{}
}

func NewTracker(cfg Config, bus *eventbus.Bus, logger *logrus.Logger) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	return &Tracker{
		cfg:     cfg,
		bus:     bus,
		logger:  logger.WithField("component", "animations"),
		entries: make(map[string]*entry),
		stopped: make(chan struct{}),
	}
}

// Start subscribes to the bus and begins tracking price changes. Calling
// Start twice is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.sub != nil {
		t.mu.Unlock()
		return
	}
	t.sub = t.bus.Subscribe()
	t.done = make(chan struct{})
	sub := t.sub
	done := t.done
	t.mu.Unlock()

	go func() {
		defer close(done)
		for event := range sub.C() {
			if changed, ok := event.(eventbus.PriceChanged); ok {
				t.Track(changed.Change)
			}
		}
	}()
}

// Stop detaches from the bus and cancels all pending expiries.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopped)
		t.mu.Lock()
		if t.sub != nil {
			t.sub.Close()
		}
		done := t.done
		for id, e := range t.entries {
			e.timer.Stop()
			delete(t.entries, id)
		}
		t.mu.Unlock()
		if done != nil {
			<-done
		}
	})
}

// Track flags the stock with the event's direction and (re)schedules the
// entry's removal. Latest event wins.
func (t *Tracker) Track(change stocks.PriceChange) {
	window := t.cfg.Window
	if t.cfg.Stagger > 0 {
		window += time.Duration(rand.Int63n(int64(t.cfg.Stagger)))
	}

	t.mu.Lock()
	select {
	case <-t.stopped:
		t.mu.Unlock()
		return
	default:
	}
	id := change.StockID
	e, ok := t.entries[id]
	if ok {
		e.timer.Stop()
		e.generation++
		e.direction = change.Direction()
	} else {
		e = &entry{direction: change.Direction()}
		t.entries[id] = e
	}
	gen := e.generation
	e.timer = time.AfterFunc(window, func() {
		t.expire(id, gen)
	})
	t.mu.Unlock()
}

// Snapshot returns the current id to direction map.
func (t *Tracker) Snapshot() map[string]stocks.Direction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]stocks.Direction, len(t.entries))
	for id, e := range t.entries {
		out[id] = e.direction
	}
	return out
}

func (t *Tracker) expire(id string, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || e.generation != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, id)
	t.mu.Unlock()

	t.logger.WithField("stock_id", id).Debug("animation window elapsed")
	t.bus.Publish(eventbus.AnimationExpired{StockID: id})
}
