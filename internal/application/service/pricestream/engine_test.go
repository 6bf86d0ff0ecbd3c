package pricestream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockwatch/internal/application/service/market"
	stocks "stockwatch/internal/domain/entity/stocks"
	"stockwatch/internal/domain/interfaces"
	"stockwatch/internal/eventbus"
)

type fakeRepo struct {
	mu      sync.Mutex
	stocks  map[string]stocks.Stock
	updates []string
	failIDs map[string]struct{}
}

func newFakeRepo(list ...stocks.Stock) *fakeRepo {
	r := &fakeRepo{stocks: make(map[string]stocks.Stock), failIDs: make(map[string]struct{})}
	for _, s := range list {
		r.stocks[s.ID] = s
	}
	return r
}

func (r *fakeRepo) ObserveStocks(ctx context.Context) (<-chan []stocks.Stock, func()) {
	ch := make(chan []stocks.Stock, 1)
	r.mu.Lock()
	snapshot := make([]stocks.Stock, 0, len(r.stocks))
	for _, s := range r.stocks {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()
	ch <- snapshot
	return ch, func() {}
}

func (r *fakeRepo) ObserveFavorites(ctx context.Context) (<-chan map[string]struct{}, func()) {
	ch := make(chan map[string]struct{}, 1)
	ch <- map[string]struct{}{}
	return ch, func() {}
}

func (r *fakeRepo) InsertOrReplaceAll(ctx context.Context, list []stocks.Stock) error { return nil }

func (r *fakeRepo) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.failIDs[id]; ok {
		return errors.New("write failed")
	}
	s := r.stocks[id]
	s.Price = price
	r.stocks[id] = s
	r.updates = append(r.updates, id)
	return nil
}

func (r *fakeRepo) ToggleFavorite(ctx context.Context, id string) error         { return nil }
func (r *fakeRepo) RandomActive(ctx context.Context) (*stocks.Stock, error)     { return nil, nil }
func (r *fakeRepo) SetDelisted(ctx context.Context, id string, d bool) error    { return nil }
func (r *fakeRepo) Close()                                                      {}

func (r *fakeRepo) updatedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.updates...)
}

type fakeFeed struct {
	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	updates     chan interfaces.PriceUpdate
	connectErr  error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{}
}

func (f *fakeFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.updates = make(chan interfaces.PriceUpdate, 64)
	return nil
}

func (f *fakeFeed) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil
	}
	f.connected = false
	f.disconnects++
	close(f.updates)
	return nil
}

func (f *fakeFeed) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeFeed) Updates() <-chan interfaces.PriceUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func (f *fakeFeed) stats() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func stock(id string, price int64) stocks.Stock {
	return stocks.Stock{ID: id, Name: id, Price: decimal.NewFromInt(price), UpdatedAt: time.Now()}
}

func update(id string, price int64) interfaces.PriceUpdate {
	return interfaces.PriceUpdate{Symbol: id, Price: decimal.NewFromInt(price)}
}

func newTestEngine(t *testing.T, repo *fakeRepo, feed *fakeFeed) (*Engine, *market.Service, *eventbus.Bus) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	bus := eventbus.New(64, logger)
	marketSvc := market.NewService(stocks.MarketClosed, bus, logger)
	engine := NewEngine(Config{
		BatchInterval:  time.Hour, // flushed manually in tests
		ReconnectDelay: 20 * time.Millisecond,
	}, repo, feed, marketSvc, bus, logger)
	return engine, marketSvc, bus
}

func TestEngine_BatchCorrectness(t *testing.T) {
	repo := newFakeRepo(stock("A", 10), stock("B", 5), stock("C", 3))
	feed := newFakeFeed()
	engine, marketSvc, bus := newTestEngine(t, repo, feed)
	marketSvc.Set(stocks.MarketOpen)
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	sub := bus.Subscribe()
	defer sub.Close()

	engine.Ingest(update("A", 12))
	engine.Ingest(update("B", 5)) // equals cached price, discarded
	engine.Ingest(update("C", 4))
	engine.Ingest(update("C", 7)) // last write wins
	engine.Ingest(update("Z", 9)) // untracked, ignored

	engine.Flush(context.Background())

	published := map[string]stocks.PriceChange{}
	for i := 0; i < 2; i++ {
		select {
		case event := <-sub.C():
			changed := event.(eventbus.PriceChanged)
			published[changed.Change.StockID] = changed.Change
		case <-time.After(time.Second):
			t.Fatal("missing price change event")
		}
	}
	select {
	case event := <-sub.C():
		t.Fatalf("unexpected extra event %v", event)
	default:
	}

	assert.True(t, published["A"].NewPrice.Equal(decimal.NewFromInt(12)))
	assert.True(t, published["A"].OldPrice.Equal(decimal.NewFromInt(10)))
	assert.True(t, published["C"].NewPrice.Equal(decimal.NewFromInt(7)))
	assert.ElementsMatch(t, []string{"A", "C"}, repo.updatedIDs())

	// an empty buffer at the next cycle is a no-op
	engine.Flush(context.Background())
	select {
	case event := <-sub.C():
		t.Fatalf("empty flush published %v", event)
	default:
	}
}

func TestEngine_FlushSkipsWhenMarketClosed(t *testing.T) {
	repo := newFakeRepo(stock("A", 10))
	feed := newFakeFeed()
	engine, marketSvc, bus := newTestEngine(t, repo, feed)
	marketSvc.Set(stocks.MarketOpen)
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	sub := bus.Subscribe()
	defer sub.Close()

	engine.Ingest(update("A", 12))
	marketSvc.Set(stocks.MarketClosed)
	engine.Flush(context.Background())

	assert.Empty(t, repo.updatedIDs())
}

func TestEngine_PersistFailureSkipsEntry(t *testing.T) {
	repo := newFakeRepo(stock("A", 10), stock("B", 5))
	repo.failIDs["A"] = struct{}{}
	feed := newFakeFeed()
	engine, marketSvc, bus := newTestEngine(t, repo, feed)
	marketSvc.Set(stocks.MarketOpen)
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	sub := bus.Subscribe()
	defer sub.Close()

	engine.Ingest(update("A", 12))
	engine.Ingest(update("B", 6))
	engine.Flush(context.Background())

	select {
	case event := <-sub.C():
		assert.Equal(t, "B", event.(eventbus.PriceChanged).Change.StockID)
	case <-time.After(time.Second):
		t.Fatal("surviving entry never published")
	}
	assert.Equal(t, []string{"B"}, repo.updatedIDs())
}

func TestEngine_LifecycleFollowsMarketPhase(t *testing.T) {
	repo := newFakeRepo(stock("A", 10))
	feed := newFakeFeed()
	engine, marketSvc, _ := newTestEngine(t, repo, feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.Run(ctx)
	}()

	marketSvc.Set(stocks.MarketOpen)
	require.Eventually(t, engine.Running, time.Second, 5*time.Millisecond)
	require.Eventually(t, feed.IsConnected, time.Second, 5*time.Millisecond)

	marketSvc.Set(stocks.MarketClosed)
	require.Eventually(t, func() bool { return !engine.Running() }, time.Second, 5*time.Millisecond)

	marketSvc.Set(stocks.MarketOpen)
	require.Eventually(t, engine.Running, time.Second, 5*time.Millisecond)

	connects, disconnects := feed.stats()
	assert.Equal(t, 2, connects)
	assert.Equal(t, 1, disconnects)

	cancel()
	<-done
}

func TestEngine_CacheRepopulatedPerSession(t *testing.T) {
	repo := newFakeRepo(stock("A", 10))
	feed := newFakeFeed()
	engine, marketSvc, bus := newTestEngine(t, repo, feed)
	marketSvc.Set(stocks.MarketOpen)
	require.NoError(t, engine.Start(context.Background()))

	engine.Stop()

	// price moved while the market was closed
	require.NoError(t, repo.UpdatePrice(context.Background(), "A", decimal.NewFromInt(20)))

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	sub := bus.Subscribe()
	defer sub.Close()

	// equals freshly seeded price, so nothing is buffered
	engine.Ingest(update("A", 20))
	engine.Flush(context.Background())
	select {
	case event := <-sub.C():
		t.Fatalf("stale cache produced %v", event)
	default:
	}
}

func TestEngine_StartStopIdempotent(t *testing.T) {
	repo := newFakeRepo(stock("A", 10))
	feed := newFakeFeed()
	engine, marketSvc, _ := newTestEngine(t, repo, feed)
	marketSvc.Set(stocks.MarketOpen)

	require.NoError(t, engine.Start(context.Background()))
	require.NoError(t, engine.Start(context.Background()))
	connects, _ := feed.stats()
	assert.Equal(t, 1, connects)

	engine.Stop()
	engine.Stop()
	_, disconnects := feed.stats()
	assert.Equal(t, 1, disconnects)
}

func TestEngine_SingleReconnectScheduled(t *testing.T) {
	repo := newFakeRepo(stock("A", 10))
	feed := newFakeFeed()
	engine, marketSvc, _ := newTestEngine(t, repo, feed)
	marketSvc.Set(stocks.MarketOpen)
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	require.Eventually(t, feed.IsConnected, time.Second, 5*time.Millisecond)

	// transport dies while the market is open
	feed.mu.Lock()
	feed.connected = false
	close(feed.updates)
	feed.mu.Unlock()

	require.Eventually(t, func() bool {
		connects, _ := feed.stats()
		return connects == 2
	}, time.Second, 5*time.Millisecond)

	// only one attempt was pending
	time.Sleep(60 * time.Millisecond)
	connects, _ := feed.stats()
	assert.Equal(t, 2, connects)
}

func TestEngine_MalformedUpdatesDropped(t *testing.T) {
	repo := newFakeRepo(stock("A", 10))
	feed := newFakeFeed()
	engine, marketSvc, bus := newTestEngine(t, repo, feed)
	marketSvc.Set(stocks.MarketOpen)
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	sub := bus.Subscribe()
	defer sub.Close()

	engine.Ingest(interfaces.PriceUpdate{Symbol: "", Price: decimal.NewFromInt(5)})
	engine.Ingest(interfaces.PriceUpdate{Symbol: "A", Price: decimal.NewFromInt(-1)})
	engine.Flush(context.Background())

	select {
	case event := <-sub.C():
		t.Fatalf("malformed update produced %v", event)
	default:
	}
}
