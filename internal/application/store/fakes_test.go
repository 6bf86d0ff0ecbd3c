package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stockwatch/internal/application/service/animations"
	"stockwatch/internal/application/service/market"
	stocks "stockwatch/internal/domain/entity/stocks"
	"stockwatch/internal/eventbus"
	stocksinfra "stockwatch/internal/infrastructure/stocks"
)

type fakeQuoteSource struct {
	mu     sync.Mutex
	quotes []stocks.Quote
	err    error
	calls  int
}

func (f *fakeQuoteSource) FetchAll(ctx context.Context) ([]stocks.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]stocks.Quote(nil), f.quotes...), nil
}

func (f *fakeQuoteSource) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAnalytics struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAnalytics) Track(event string, fields map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeAnalytics) tracked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fakeStream struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (f *fakeStream) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeStream) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

type harness struct {
	repo      *stocksinfra.Memory
	quotes    *fakeQuoteSource
	analytics *fakeAnalytics
	stream    *fakeStream
	market    *market.Service
	tracker   *animations.Tracker
	bus       *eventbus.Bus
	handler   *Handler
	logger    *logrus.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	bus := eventbus.New(64, logger)
	marketSvc := market.NewService(stocks.MarketOpen, bus, logger)
	tracker := animations.NewTracker(animations.Config{Window: 50 * time.Millisecond}, bus, logger)
	repo := stocksinfra.NewMemory()
	quotes := &fakeQuoteSource{}
	analyticsSink := &fakeAnalytics{}
	stream := &fakeStream{}

	h := &harness{
		repo:      repo,
		quotes:    quotes,
		analytics: analyticsSink,
		stream:    stream,
		market:    marketSvc,
		tracker:   tracker,
		bus:       bus,
		logger:    logger,
	}
	h.handler = NewHandler(repo, quotes, analyticsSink, stream, marketSvc, tracker, bus, logger)
	t.Cleanup(func() {
		repo.Close()
		bus.Close()
	})
	return h
}

func (h *harness) seed(t *testing.T, list ...stocks.Stock) {
	t.Helper()
	if err := h.repo.InsertOrReplaceAll(context.Background(), list); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func testStock(id, name string, price int64, delisted bool) stocks.Stock {
	return stocks.Stock{
		ID:        id,
		Name:      name,
		Price:     decimal.NewFromInt(price),
		Delisted:  delisted,
		UpdatedAt: time.Now(),
	}
}
