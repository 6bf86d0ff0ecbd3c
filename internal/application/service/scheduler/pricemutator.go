package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stockwatch/internal/application/service/market"
	"stockwatch/internal/domain/interfaces"
)

// PriceIngester is the slice of the price stream engine the mutator feeds.
type PriceIngester interface {
	Ingest(update interfaces.PriceUpdate)
}

// PriceMutatorConfig controls the simulated price mutator.
type PriceMutatorConfig struct {
	Interval time.Duration
	// MaxMovePct bounds the simulated move, e.g. 2 means at most +-2%.
	MaxMovePct float64
}

// PriceMutator nudges one random active stock's price each run and pushes the
// result through the engine's regular ingest path, simulating a live feed.
// While the market is closed a run is an explicit no-op success.
type PriceMutator struct {
	cfg    PriceMutatorConfig
	repo   interfaces.StockRepository
	engine PriceIngester
	svc    *market.Service
	logger *logrus.Entry
}

func NewPriceMutator(
	cfg PriceMutatorConfig,
	repo interfaces.StockRepository,
	engine PriceIngester,
	svc *market.Service,
	logger *logrus.Logger,
) *PriceMutator {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.MaxMovePct <= 0 {
		cfg.MaxMovePct = 2
	}
	return &PriceMutator{
		cfg:    cfg,
		repo:   repo,
		engine: engine,
		svc:    svc,
		logger: logger.WithField("worker", "pricemutator"),
	}
}

func (w *PriceMutator) Name() string            { return "pricemutator" }
func (w *PriceMutator) Interval() time.Duration { return w.cfg.Interval }

func (w *PriceMutator) Run(ctx context.Context) Outcome {
	if !w.svc.Phase().IsOpen() {
		return Done
	}

	stock, err := w.repo.RandomActive(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("no active stock to mutate")
		return Retry
	}

	move := (rand.Float64()*2 - 1) * w.cfg.MaxMovePct / 100
	factor := decimal.NewFromFloat(1 + move)
	next := stock.Price.Mul(factor).Round(4)
	if !next.IsPositive() {
		return Done
	}

	w.engine.Ingest(interfaces.PriceUpdate{
		Symbol:        stock.ID,
		Price:         next,
		PercentChange: decimal.NewFromFloat(move * 100).Round(4),
	})
	return Done
}
