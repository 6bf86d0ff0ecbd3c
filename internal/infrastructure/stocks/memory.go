package stocks

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domain "stockwatch/internal/domain/entity/stocks"
)

const memoryObserverBuffer = 8

// Memory is an in-process StockRepository. It backs demo mode and tests;
// semantics mirror the Postgres repository, including snapshot-first
// observation and serialized favorite toggles.
type Memory struct {
	mu          sync.Mutex
	stocks      map[string]domain.Stock
	favorites   map[string]struct{}
	stockObs    map[uuid.UUID]chan []domain.Stock
	favoriteObs map[uuid.UUID]chan map[string]struct{}
	closed      bool
}

func NewMemory() *Memory {
	return &Memory{
		stocks:      make(map[string]domain.Stock),
		favorites:   make(map[string]struct{}),
		stockObs:    make(map[uuid.UUID]chan []domain.Stock),
		favoriteObs: make(map[uuid.UUID]chan map[string]struct{}),
	}
}

func (m *Memory) ObserveStocks(ctx context.Context) (<-chan []domain.Stock, func()) {
	id := uuid.New()
	ch := make(chan []domain.Stock, memoryObserverBuffer)

	m.mu.Lock()
	ch <- m.snapshotLocked()
	if !m.closed {
		m.stockObs[id] = ch
	}
	m.mu.Unlock()

	return ch, m.cancelFunc(ctx, func() {
		m.mu.Lock()
		delete(m.stockObs, id)
		m.mu.Unlock()
	})
}

func (m *Memory) ObserveFavorites(ctx context.Context) (<-chan map[string]struct{}, func()) {
	id := uuid.New()
	ch := make(chan map[string]struct{}, memoryObserverBuffer)

	m.mu.Lock()
	ch <- m.favoritesLocked()
	if !m.closed {
		m.favoriteObs[id] = ch
	}
	m.mu.Unlock()

	return ch, m.cancelFunc(ctx, func() {
		m.mu.Lock()
		delete(m.favoriteObs, id)
		m.mu.Unlock()
	})
}

func (m *Memory) InsertOrReplaceAll(ctx context.Context, list []domain.Stock) error {
	m.mu.Lock()
	for _, s := range list {
		m.stocks[s.ID] = s
	}
	m.mu.Unlock()
	m.notifyStocks()
	return nil
}

func (m *Memory) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) error {
	m.mu.Lock()
	s, ok := m.stocks[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrStockNotFound
	}
	s.Price = price
	s.UpdatedAt = time.Now()
	m.stocks[id] = s
	m.mu.Unlock()
	m.notifyStocks()
	return nil
}

// ToggleFavorite is atomic under the repository mutex: the read-check-write
// cannot interleave with a concurrent toggle for the same id.
func (m *Memory) ToggleFavorite(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.favorites[id]; ok {
		delete(m.favorites, id)
	} else {
		m.favorites[id] = struct{}{}
	}
	m.mu.Unlock()
	m.notifyFavorites()
	return nil
}

func (m *Memory) RandomActive(ctx context.Context) (*domain.Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := make([]domain.Stock, 0, len(m.stocks))
	for _, s := range m.stocks {
		if !s.Delisted {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return nil, domain.ErrStockNotFound
	}
	s := active[rand.Intn(len(active))]
	return &s, nil
}

func (m *Memory) SetDelisted(ctx context.Context, id string, delisted bool) error {
	m.mu.Lock()
	s, ok := m.stocks[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrStockNotFound
	}
	s.Delisted = delisted
	m.stocks[id] = s
	m.mu.Unlock()
	m.notifyStocks()
	return nil
}

func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, ch := range m.stockObs {
		delete(m.stockObs, id)
		close(ch)
	}
	for id, ch := range m.favoriteObs {
		delete(m.favoriteObs, id)
		close(ch)
	}
}

// Favorites returns the current favorite id set. Test helper.
func (m *Memory) Favorites() map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.favoritesLocked()
}

func (m *Memory) snapshotLocked() []domain.Stock {
	out := make([]domain.Stock, 0, len(m.stocks))
	for _, s := range m.stocks {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) favoritesLocked() map[string]struct{} {
	out := make(map[string]struct{}, len(m.favorites))
	for id := range m.favorites {
		out[id] = struct{}{}
	}
	return out
}

func (m *Memory) notifyStocks() {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	observers := make([]chan []domain.Stock, 0, len(m.stockObs))
	for _, ch := range m.stockObs {
		observers = append(observers, ch)
	}
	m.mu.Unlock()
	for _, ch := range observers {
		deliverLatest(ch, snapshot)
	}
}

func (m *Memory) notifyFavorites() {
	m.mu.Lock()
	snapshot := m.favoritesLocked()
	observers := make([]chan map[string]struct{}, 0, len(m.favoriteObs))
	for _, ch := range m.favoriteObs {
		observers = append(observers, ch)
	}
	m.mu.Unlock()
	for _, ch := range observers {
		deliverLatest(ch, snapshot)
	}
}

func (m *Memory) cancelFunc(ctx context.Context, detach func()) func() {
	var once sync.Once
	cancel := func() { once.Do(detach) }
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return cancel
}

func deliverLatest[T any](ch chan T, value T) {
	select {
	case ch <- value:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- value:
		default:
		}
	}
}
