package pricestream

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stockwatch/internal/application/service/market"
	stocks "stockwatch/internal/domain/entity/stocks"
	"stockwatch/internal/domain/interfaces"
	"stockwatch/internal/eventbus"
)

const (
	defaultBatchInterval  = 2 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

// Config controls the engine's timing.
type Config struct {
	BatchInterval  time.Duration
	ReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchInterval <= 0 {
		c.BatchInterval = defaultBatchInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	return c
}

// Engine bridges the push-stream feed to persisted storage and the event bus.
// While the market is open it buffers raw updates and flushes them on a fixed
// cadence: one persisted price write and one published PriceChanged per moved
// stock per cycle.
type Engine struct {
	cfg    Config
	repo   interfaces.StockRepository
	feed   interfaces.PriceFeed
	market *market.Service
	bus    *eventbus.Bus
	logger *logrus.Entry

	mu               sync.Mutex
	running          bool
	cache            map[string]decimal.Decimal
	pending          map[string]decimal.Decimal
	sessionCtx       context.Context
	sessionCancel    context.CancelFunc
	wg               *sync.WaitGroup
	reconnectPending bool
	reconnectTimer   *time.Timer
}

func NewEngine(
	cfg Config,
	repo interfaces.StockRepository,
	feed interfaces.PriceFeed,
	marketSvc *market.Service,
	bus *eventbus.Bus,
	logger *logrus.Logger,
) *Engine {
	return &Engine{
		cfg:    cfg.withDefaults(),
		repo:   repo,
		feed:   feed,
		market: marketSvc,
		bus:    bus,
		logger: logger.WithField("component", "pricestream"),
	}
}

// Run follows market phase transitions until ctx is cancelled: OPEN starts a
// streaming session, CLOSED tears it down.
func (e *Engine) Run(ctx context.Context) error {
	phases, cancel := e.market.Observe(ctx)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return nil
		case phase := <-phases:
			if phase.IsOpen() {
				if err := e.Start(ctx); err != nil {
					e.logger.WithError(err).Error("failed to start streaming session")
				}
			} else {
				e.Stop()
			}
		}
	}
}

// Start brings up a streaming session: seeds the last-known-price cache from
// storage, connects the feed, and starts the ingest and batch loops. Starting
// a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	sessionCtx, sessionCancel := context.WithCancel(ctx)
	e.running = true
	e.sessionCtx = sessionCtx
	e.sessionCancel = sessionCancel
	e.cache = make(map[string]decimal.Decimal)
	e.pending = make(map[string]decimal.Decimal)
	e.wg = &sync.WaitGroup{}
	wg := e.wg
	e.mu.Unlock()

	if err := e.seedCache(sessionCtx); err != nil {
		e.logger.WithError(err).Error("failed to seed price cache")
	}

	wg.Add(1)
	go e.batchLoop(sessionCtx, wg)

	if err := e.feed.Connect(sessionCtx); err != nil {
		e.logger.WithError(err).Warn("feed connect failed, scheduling reconnect")
		e.scheduleReconnect()
		return nil
	}
	wg.Add(1)
	go e.ingestLoop(sessionCtx, wg, e.feed.Updates())

	e.logger.WithField("batch_interval", e.cfg.BatchInterval.String()).Info("streaming session started")
	return nil
}

// Stop tears the session down: disconnects the feed, stops the loops, and
// clears both the cache and the pending buffer. Stopping a stopped engine is
// a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.sessionCancel
	wg := e.wg
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
	e.reconnectPending = false
	e.cache = nil
	e.pending = nil
	e.mu.Unlock()

	cancel()
	if err := e.feed.Disconnect(); err != nil {
		e.logger.WithError(err).Warn("feed disconnect failed")
	}
	wg.Wait()
	e.logger.Info("streaming session stopped")
}

// Running reports whether a streaming session is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Ingest buffers one raw update. Untracked symbols and prices equal to the
// last known value are discarded; the newest buffered price per symbol wins.
func (e *Engine) Ingest(update interfaces.PriceUpdate) {
	if update.Symbol == "" || !update.Price.IsPositive() {
		e.logger.WithFields(logrus.Fields{
			"symbol": update.Symbol,
			"price":  update.Price.String(),
		}).Warn("malformed price update dropped")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	cached, tracked := e.cache[update.Symbol]
	if !tracked {
		return
	}
	if update.Price.Equal(cached) {
		return
	}
	e.pending[update.Symbol] = update.Price
}

// Flush runs one batch cycle immediately. Exposed for the scheduler's
// stream-health worker and for tests; the batch loop calls it every tick.
func (e *Engine) Flush(ctx context.Context) {
	if !e.market.Phase().IsOpen() {
		return
	}

	e.mu.Lock()
	if !e.running || len(e.pending) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.pending
	e.pending = make(map[string]decimal.Decimal)
	e.mu.Unlock()

	now := time.Now()
	for id, price := range batch {
		e.mu.Lock()
		if !e.running {
			e.mu.Unlock()
			return
		}
		oldPrice, tracked := e.cache[id]
		e.mu.Unlock()
		if !tracked || price.Equal(oldPrice) {
			continue
		}

		if err := e.repo.UpdatePrice(ctx, id, price); err != nil {
			e.logger.WithError(err).WithField("stock_id", id).Warn("price persist failed, entry skipped")
			continue
		}

		e.mu.Lock()
		if e.running {
			e.cache[id] = price
		}
		e.mu.Unlock()

		e.bus.Publish(eventbus.PriceChanged{
			Change: stocks.NewPriceChange(id, oldPrice, price, now),
		})
	}
}

func (e *Engine) seedCache(ctx context.Context) error {
	snapshots, cancel := e.repo.ObserveStocks(ctx)
	defer cancel()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case list := <-snapshots:
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.running {
			return nil
		}
		for _, s := range list {
			e.cache[s.ID] = s.Price
		}
		return nil
	}
}

func (e *Engine) batchLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(e.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Flush(ctx)
		}
	}
}

func (e *Engine) ingestLoop(ctx context.Context, wg *sync.WaitGroup, updates <-chan interfaces.PriceUpdate) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				// transport died underneath us
				if ctx.Err() == nil {
					e.logger.Warn("feed updates channel closed, scheduling reconnect")
					e.scheduleReconnect()
				}
				return
			}
			e.Ingest(update)
		}
	}
}

// scheduleReconnect arms a single delayed reconnect attempt. An attempt
// already pending is never duplicated.
func (e *Engine) scheduleReconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.reconnectPending {
		return
	}
	e.reconnectPending = true
	sessionCtx := e.sessionCtx
	e.reconnectTimer = time.AfterFunc(e.cfg.ReconnectDelay, func() {
		e.reconnect(sessionCtx)
	})
}

func (e *Engine) reconnect(ctx context.Context) {
	e.mu.Lock()
	e.reconnectPending = false
	e.reconnectTimer = nil
	running := e.running && ctx.Err() == nil
	wg := e.wg
	e.mu.Unlock()

	if !running || !e.market.Phase().IsOpen() {
		return
	}
	if e.feed.IsConnected() {
		return
	}

	e.logger.Info("attempting feed reconnect")
	if err := e.feed.Connect(ctx); err != nil {
		e.logger.WithError(err).Warn("feed reconnect failed")
		e.scheduleReconnect()
		return
	}
	wg.Add(1)
	go e.ingestLoop(ctx, wg, e.feed.Updates())
}
