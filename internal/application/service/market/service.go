package market

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	stocks "stockwatch/internal/domain/entity/stocks"
	"stockwatch/internal/eventbus"
)

const observerBuffer = 8

// Service owns the process-wide market phase. It is constructed once at the
// composition root and handed to every consumer; phase flips come from the
// market-hours worker or from tests.
type Service struct {
	mu        sync.Mutex
	phase     stocks.MarketPhase
	observers map[uuid.UUID]chan stocks.MarketPhase
	bus       *eventbus.Bus
	logger    *logrus.Entry
}

func NewService(initial stocks.MarketPhase, bus *eventbus.Bus, logger *logrus.Logger) *Service {
	return &Service{
		phase:     initial,
		observers: make(map[uuid.UUID]chan stocks.MarketPhase),
		bus:       bus,
		logger:    logger.WithField("component", "market"),
	}
}

// Phase returns the current market phase.
func (s *Service) Phase() stocks.MarketPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Set moves the market to the given phase. Setting the current phase is a
// no-op and notifies nobody.
func (s *Service) Set(phase stocks.MarketPhase) {
	s.mu.Lock()
	if s.phase == phase {
		s.mu.Unlock()
		return
	}
	s.phase = phase
	observers := make([]chan stocks.MarketPhase, 0, len(s.observers))
	for _, ch := range s.observers {
		observers = append(observers, ch)
	}
	s.mu.Unlock()

	s.logger.WithField("phase", phase.String()).Info("market phase changed")
	for _, ch := range observers {
		select {
		case ch <- phase:
		default:
			// lagging observer, newest value wins
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- phase:
			default:
			}
		}
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.MarketPhaseChanged{Phase: phase})
	}
}

// Toggle flips the phase.
func (s *Service) Toggle() {
	s.Set(s.Phase().Opposite())
}

// Observe delivers the current phase immediately, then every subsequent
// change until ctx is cancelled or the cancel func runs.
func (s *Service) Observe(ctx context.Context) (<-chan stocks.MarketPhase, func()) {
	id := uuid.New()
	ch := make(chan stocks.MarketPhase, observerBuffer)

	s.mu.Lock()
	ch <- s.phase
	s.observers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel
}
