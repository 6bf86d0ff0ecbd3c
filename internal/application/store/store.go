package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const stateBuffer = 8

// EffectHandler runs one effect and streams its partials.
type EffectHandler interface {
	Handle(ctx context.Context, effect Effect) <-chan Partial
}

// Store owns the current State. Actions map to effects, effects produce
// partials, partials reduce into the next state, and every new state fans out
// to observers. The store lives for the duration of its owning scope; Close
// cancels every outstanding subscription.
type Store struct {
	handler EffectHandler
	logger  *logrus.Entry

	mu            sync.Mutex
	state         State
	observers     map[uuid.UUID]chan State
	observeCancel context.CancelFunc
	closed        bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

func New(handler EffectHandler, logger *logrus.Logger) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		handler:    handler,
		logger:     logger.WithField("component", "store"),
		state:      NewState(),
		observers:  make(map[uuid.UUID]chan State),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// State returns the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch maps the action to its effects and launches each one. Dispatching
// into a closed store is a no-op.
func (s *Store) Dispatch(action Action) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.WithField("action", action.actionName()).Debug("dispatch")
	for _, effect := range effectsFor(action) {
		s.Launch(effect)
	}
}

// Launch starts a single effect subscription. ObserveStocks is deduplicated:
// a previously running observation is cancelled first so exactly one is
// alive at any time. All other effects run as uncoordinated one-shots.
func (s *Store) Launch(effect Effect) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	ctx := s.baseCtx
	var cancel context.CancelFunc
	if _, ok := effect.(ObserveStocks); ok {
		if s.observeCancel != nil {
			s.observeCancel()
		}
		ctx, cancel = context.WithCancel(s.baseCtx)
		s.observeCancel = cancel
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for partial := range s.handler.Handle(ctx, effect) {
			s.apply(partial)
		}
	}()
}

func (s *Store) apply(partial Partial) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = Reduce(s.state, partial)
	next := s.state
	observers := make([]chan State, 0, len(s.observers))
	for _, ch := range s.observers {
		observers = append(observers, ch)
	}
	s.mu.Unlock()

	for _, ch := range observers {
		select {
		case ch <- next:
		default:
			// lagging observer, newest state wins
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- next:
			default:
			}
		}
	}
}

// Observe delivers the current state immediately, then every subsequent
// state until the cancel func runs or ctx is cancelled.
func (s *Store) Observe(ctx context.Context) (<-chan State, func()) {
	id := uuid.New()
	ch := make(chan State, stateBuffer)

	s.mu.Lock()
	ch <- s.state
	if !s.closed {
		s.observers[id] = ch
	}
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

// Close cancels every running effect subscription and detaches observers.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	observers := s.observers
	s.observers = make(map[uuid.UUID]chan State)
	s.mu.Unlock()

	s.baseCancel()
	s.wg.Wait()
	for _, ch := range observers {
		close(ch)
	}
}

func effectsFor(action Action) []Effect {
	switch a := action.(type) {
	case ScreenEntered:
		return []Effect{ObserveStocks{}, TrackAnalytics{Name: a.actionName()}}
	case PulledToRefresh:
		return []Effect{RefreshStocks{}, TrackAnalytics{Name: a.actionName()}}
	case FavoriteClicked:
		return []Effect{ToggleFavorite{ID: a.ID}, TrackAnalytics{Name: a.actionName()}}
	case RetryClicked:
		return []Effect{RefreshStocks{}, TrackAnalytics{Name: a.actionName()}}
	default:
		return nil
	}
}
