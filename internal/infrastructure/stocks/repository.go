package stocks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	domain "stockwatch/internal/domain/entity/stocks"
)

const observerBuffer = 8

const schema = `
	CREATE TABLE IF NOT EXISTS stocks (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		price            NUMERIC NOT NULL,
		daily_change_pct NUMERIC NOT NULL DEFAULT 0,
		delisted         BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at       TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS favorites (
		stock_id TEXT PRIMARY KEY REFERENCES stocks (id)
	)`

// Repository is the Postgres-backed StockRepository. Observation is served
// by an in-process hub: every local mutation re-queries and pushes a fresh
// snapshot to all observers.
type Repository struct {
	pool   *pgxpool.Pool
	logger *logrus.Entry

	hub *observerHub
}

func NewRepository(ctx context.Context, dsn string, logger *logrus.Logger) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	repo := &Repository{
		pool:   pool,
		logger: logger.WithField("component", "stocks_repository"),
		hub:    newObserverHub(),
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, nil
}

func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.hub.close()
	r.pool.Close()
}

func (r *Repository) ObserveStocks(ctx context.Context) (<-chan []domain.Stock, func()) {
	ch, cancel := r.hub.addStockObserver(ctx)
	if list, err := r.fetchStocks(ctx); err == nil {
		deliverLatest(ch, list)
	} else {
		r.logger.WithError(err).Warn("initial stock snapshot failed")
	}
	return ch, cancel
}

func (r *Repository) ObserveFavorites(ctx context.Context) (<-chan map[string]struct{}, func()) {
	ch, cancel := r.hub.addFavoriteObserver(ctx)
	if favorites, err := r.fetchFavorites(ctx); err == nil {
		deliverLatest(ch, favorites)
	} else {
		r.logger.WithError(err).Warn("initial favorites snapshot failed")
	}
	return ch, cancel
}

const upsertStockQuery = `
	INSERT INTO stocks (id, name, price, daily_change_pct, delisted, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		price = EXCLUDED.price,
		daily_change_pct = EXCLUDED.daily_change_pct,
		delisted = EXCLUDED.delisted,
		updated_at = EXCLUDED.updated_at`

func (r *Repository) InsertOrReplaceAll(ctx context.Context, list []domain.Stock) error {
	if len(list) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range list {
		batch.Queue(upsertStockQuery, s.ID, s.Name, s.Price, s.DailyChangePct, s.Delisted, s.UpdatedAt)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert stocks: %w", err)
	}
	r.notifyStocks(ctx)
	return nil
}

const updatePriceQuery = `
	UPDATE stocks SET price = $2, updated_at = $3 WHERE id = $1`

func (r *Repository) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, updatePriceQuery, id, price, time.Now())
	if err != nil {
		return fmt.Errorf("update price for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStockNotFound
	}
	r.notifyStocks(ctx)
	return nil
}

// ToggleFavorite flips the mark inside a single transaction. Concurrent
// toggles for the same id serialize on the row lock; an initially-absent id
// ends up present exactly once.
func (r *Repository) ToggleFavorite(ctx context.Context, id string) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM favorites WHERE stock_id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO favorites (stock_id) VALUES ($1) ON CONFLICT DO NOTHING`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("toggle favorite %s: %w", id, err)
	}
	r.notifyFavorites(ctx)
	return nil
}

const randomActiveQuery = `
	SELECT id, name, price, daily_change_pct, delisted, updated_at
	FROM stocks
	WHERE NOT delisted
	ORDER BY random()
	LIMIT 1`

func (r *Repository) RandomActive(ctx context.Context) (*domain.Stock, error) {
	row := r.pool.QueryRow(ctx, randomActiveQuery)
	s, err := scanStock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStockNotFound
		}
		return nil, fmt.Errorf("random active stock: %w", err)
	}
	return s, nil
}

func (r *Repository) SetDelisted(ctx context.Context, id string, delisted bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE stocks SET delisted = $2, updated_at = $3 WHERE id = $1`,
		id, delisted, time.Now())
	if err != nil {
		return fmt.Errorf("set delisted for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStockNotFound
	}
	r.notifyStocks(ctx)
	return nil
}

const selectStocksQuery = `
	SELECT id, name, price, daily_change_pct, delisted, updated_at
	FROM stocks
	ORDER BY id`

func (r *Repository) fetchStocks(ctx context.Context) ([]domain.Stock, error) {
	rows, err := r.pool.Query(ctx, selectStocksQuery)
	if err != nil {
		return nil, fmt.Errorf("select stocks: %w", err)
	}
	defer rows.Close()

	var out []domain.Stock
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *Repository) fetchFavorites(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, `SELECT stock_id FROM favorites`)
	if err != nil {
		return nil, fmt.Errorf("select favorites: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func scanStock(row pgx.Row) (*domain.Stock, error) {
	s := &domain.Stock{}
	if err := row.Scan(&s.ID, &s.Name, &s.Price, &s.DailyChangePct, &s.Delisted, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repository) notifyStocks(ctx context.Context) {
	if !r.hub.hasStockObservers() {
		return
	}
	list, err := r.fetchStocks(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("stock snapshot after mutation failed")
		return
	}
	r.hub.pushStocks(list)
}

func (r *Repository) notifyFavorites(ctx context.Context) {
	if !r.hub.hasFavoriteObservers() {
		return
	}
	favorites, err := r.fetchFavorites(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("favorites snapshot after mutation failed")
		return
	}
	r.hub.pushFavorites(favorites)
}

// observerHub fans snapshot updates out to repository observers with
// latest-wins delivery, mirroring the in-memory repository's semantics.
type observerHub struct {
	mu          sync.Mutex
	stockObs    map[uuid.UUID]chan []domain.Stock
	favoriteObs map[uuid.UUID]chan map[string]struct{}
	closed      bool
}

func newObserverHub() *observerHub {
	return &observerHub{
		stockObs:    make(map[uuid.UUID]chan []domain.Stock),
		favoriteObs: make(map[uuid.UUID]chan map[string]struct{}),
	}
}

func (h *observerHub) addStockObserver(ctx context.Context) (chan []domain.Stock, func()) {
	id := uuid.New()
	ch := make(chan []domain.Stock, observerBuffer)
	h.mu.Lock()
	if !h.closed {
		h.stockObs[id] = ch
	}
	h.mu.Unlock()
	return ch, h.cancelFunc(ctx, func() {
		h.mu.Lock()
		delete(h.stockObs, id)
		h.mu.Unlock()
	})
}

func (h *observerHub) addFavoriteObserver(ctx context.Context) (chan map[string]struct{}, func()) {
	id := uuid.New()
	ch := make(chan map[string]struct{}, observerBuffer)
	h.mu.Lock()
	if !h.closed {
		h.favoriteObs[id] = ch
	}
	h.mu.Unlock()
	return ch, h.cancelFunc(ctx, func() {
		h.mu.Lock()
		delete(h.favoriteObs, id)
		h.mu.Unlock()
	})
}

func (h *observerHub) hasStockObservers() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.stockObs) > 0
}

func (h *observerHub) hasFavoriteObservers() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.favoriteObs) > 0
}

func (h *observerHub) pushStocks(list []domain.Stock) {
	h.mu.Lock()
	observers := make([]chan []domain.Stock, 0, len(h.stockObs))
	for _, ch := range h.stockObs {
		observers = append(observers, ch)
	}
	h.mu.Unlock()
	for _, ch := range observers {
		deliverLatest(ch, list)
	}
}

func (h *observerHub) pushFavorites(favorites map[string]struct{}) {
	h.mu.Lock()
	observers := make([]chan map[string]struct{}, 0, len(h.favoriteObs))
	for _, ch := range h.favoriteObs {
		observers = append(observers, ch)
	}
	h.mu.Unlock()
	for _, ch := range observers {
		deliverLatest(ch, favorites)
	}
}

func (h *observerHub) cancelFunc(ctx context.Context, detach func()) func() {
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

func (h *observerHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.stockObs {
		delete(h.stockObs, id)
		close(ch)
	}
	for id, ch := range h.favoriteObs {
		delete(h.favoriteObs, id)
		close(ch)
	}
}
