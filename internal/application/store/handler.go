package store

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stockwatch/internal/application/service/animations"
	"stockwatch/internal/application/service/market"
	stocks "stockwatch/internal/domain/entity/stocks"
	"stockwatch/internal/domain/interfaces"
	"stockwatch/internal/eventbus"
)

const partialBuffer = 16

var (
	errStocksObservationEnded    = errors.New("stock observation ended unexpectedly")
	errFavoritesObservationEnded = errors.New("favorites observation ended unexpectedly")
	errMarketObservationEnded    = errors.New("market observation ended unexpectedly")
	errBusClosed                 = errors.New("event bus closed")
)

// StreamController is the slice of the price stream engine the handler needs
// for the connect/disconnect effects.
type StreamController interface {
	Start(ctx context.Context) error
	Stop()
}

// Handler translates one Effect into a lazy sequence of Partials. Channels
// returned by Handle are closed when the effect completes or its context is
// cancelled.
type Handler struct {
	repo      interfaces.StockRepository
	quotes    interfaces.QuoteSource
	analytics interfaces.Analytics
	stream    StreamController
	market    *market.Service
	tracker   *animations.Tracker
	bus       *eventbus.Bus
	logger    *logrus.Entry
}

func NewHandler(
	repo interfaces.StockRepository,
	quotes interfaces.QuoteSource,
	analytics interfaces.Analytics,
	stream StreamController,
	marketSvc *market.Service,
	tracker *animations.Tracker,
	bus *eventbus.Bus,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		repo:      repo,
		quotes:    quotes,
		analytics: analytics,
		stream:    stream,
		market:    marketSvc,
		tracker:   tracker,
		bus:       bus,
		logger:    logger.WithField("component", "effects"),
	}
}

// Handle runs the effect. Side-effect-only effects return a channel that is
// already closed once the work is done.
func (h *Handler) Handle(ctx context.Context, effect Effect) <-chan Partial {
	switch e := effect.(type) {
	case ObserveStocks:
		return h.observeStocks(ctx)
	case RefreshStocks:
		return h.refreshStocks(ctx)
	case ToggleFavorite:
		return h.sideEffect(func() {
			if err := h.repo.ToggleFavorite(ctx, e.ID); err != nil {
				h.logger.WithError(err).WithField("stock_id", e.ID).Warn("favorite toggle failed")
			}
		})
	case TrackAnalytics:
		return h.sideEffect(func() {
			h.analytics.Track(e.Name, nil)
		})
	case ConnectStream:
		return h.sideEffect(func() {
			if err := h.stream.Start(ctx); err != nil {
				h.logger.WithError(err).Warn("stream connect failed")
			}
		})
	case DisconnectStream:
		return h.sideEffect(h.stream.Stop)
	default:
		out := make(chan Partial)
		close(out)
		return out
	}
}

func (h *Handler) sideEffect(run func()) <-chan Partial {
	out := make(chan Partial)
	go func() {
		defer close(out)
		run()
	}()
	return out
}

// refreshStocks pulls the full universe from the remote source into storage,
// bracketed by refresh markers. Any failure converts to a single Failed.
func (h *Handler) refreshStocks(ctx context.Context) <-chan Partial {
	out := make(chan Partial, 4)
	go func() {
		defer close(out)
		out <- RefreshStarted{}
		if err := h.refresh(ctx); err != nil {
			h.logger.WithError(err).Warn("refresh failed")
			out <- Failed{Message: err.Error()}
			return
		}
		out <- RefreshCompleted{}
	}()
	return out
}

func (h *Handler) refresh(ctx context.Context) error {
	quotes, err := h.quotes.FetchAll(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	list := make([]stocks.Stock, 0, len(quotes))
	for _, q := range quotes {
		list = append(list, q.Stock(now))
	}
	if err := h.repo.InsertOrReplaceAll(ctx, list); err != nil {
		return err
	}
	return nil
}

// observeStocks merges three independently-timed sources into one sequence:
// the storage join (stocks + favorites + market phase -> rows), market phase
// notifications, and bus-driven price/animation notifications. Every branch
// is a child of the subscription's context; cancelling it tears all of them
// down. The first emission is always Loading; the first branch failure
// converts to a single terminal Failed.
func (h *Handler) observeStocks(ctx context.Context) <-chan Partial {
	out := make(chan Partial, partialBuffer)

	go func() {
		defer close(out)

		if !emit(ctx, out, Loading{}) {
			return
		}

		// best-effort refresh at subscription start; observation continues
		// from whatever is in storage on failure
		go func() {
			if err := h.refresh(ctx); err != nil {
				h.logger.WithError(err).Warn("background refresh failed")
			}
		}()

		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error { return h.runStorageJoin(groupCtx, out) })
		group.Go(func() error { return h.runMarketBranch(groupCtx, out) })
		group.Go(func() error { return h.runBusBranch(groupCtx, out) })

		if err := group.Wait(); err != nil && ctx.Err() == nil {
			h.logger.WithError(err).Error("stock observation failed")
			emit(ctx, out, Failed{Message: err.Error()})
		}
	}()

	return out
}

// runStorageJoin recomputes the row list whenever stocks, favorites, or the
// market phase change.
func (h *Handler) runStorageJoin(ctx context.Context, out chan<- Partial) error {
	stocksCh, cancelStocks := h.repo.ObserveStocks(ctx)
	defer cancelStocks()
	favoritesCh, cancelFavorites := h.repo.ObserveFavorites(ctx)
	defer cancelFavorites()
	phaseCh, cancelPhase := h.market.Observe(ctx)
	defer cancelPhase()

	var (
		list      []stocks.Stock
		favorites map[string]struct{}
		phase     stocks.MarketPhase
		haveList  bool
		haveFavs  bool
		havePhase bool
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case snapshot, ok := <-stocksCh:
			if !ok {
				return errStocksObservationEnded
			}
			list, haveList = snapshot, true
		case snapshot, ok := <-favoritesCh:
			if !ok {
				return errFavoritesObservationEnded
			}
			favorites, haveFavs = snapshot, true
		case p, ok := <-phaseCh:
			if !ok {
				return errMarketObservationEnded
			}
			phase, havePhase = p, true
		}
		if !haveList || !haveFavs || !havePhase {
			continue
		}
		rows := stocks.BuildRows(list, favorites, h.tracker.Snapshot(), phase)
		if !emit(ctx, out, DataLoaded{Rows: rows}) {
			return nil
		}
	}
}

func (h *Handler) runMarketBranch(ctx context.Context, out chan<- Partial) error {
	phaseCh, cancel := h.market.Observe(ctx)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case phase, ok := <-phaseCh:
			if !ok {
				return errMarketObservationEnded
			}
			if !emit(ctx, out, MarketChanged{Open: phase.IsOpen()}) {
				return nil
			}
		}
	}
}

func (h *Handler) runBusBranch(ctx context.Context, out chan<- Partial) error {
	sub := h.bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.C():
			if !ok {
				return errBusClosed
			}
			switch ev := event.(type) {
			case eventbus.PriceChanged:
				if !emit(ctx, out, PriceChanged{Change: ev.Change}) {
					return nil
				}
			case eventbus.AnimationExpired:
				if !emit(ctx, out, AnimationCleared{StockID: ev.StockID}) {
					return nil
				}
			}
		}
	}
}

func emit(ctx context.Context, out chan<- Partial, partial Partial) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- partial:
		return true
	}
}
