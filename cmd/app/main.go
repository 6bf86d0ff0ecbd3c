package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stockwatch/internal/application/service/animations"
	"stockwatch/internal/application/service/market"
	"stockwatch/internal/application/service/pricestream"
	"stockwatch/internal/application/service/scheduler"
	"stockwatch/internal/application/store"
	"stockwatch/internal/config"
	"stockwatch/internal/domain/entity/stocks"
	"stockwatch/internal/domain/interfaces"
	"stockwatch/internal/eventbus"
	infraanalytics "stockwatch/internal/infrastructure/analytics"
	infrafeed "stockwatch/internal/infrastructure/feed"
	"stockwatch/internal/infrastructure/remote"
	infrastocks "stockwatch/internal/infrastructure/stocks"
	infrahttp "stockwatch/internal/interfaces/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	repo, err := buildRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to init stock repository: %v", err)
	}
	defer repo.Close()

	analytics, err := buildAnalytics(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to init analytics: %v", err)
	}

	feed, err := buildFeed(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to init price feed: %v", err)
	}

	quotes, err := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout, logger)
	if err != nil {
		logger.Fatalf("failed to init quote source: %v", err)
	}

	bus := eventbus.New(0, logger)
	defer bus.Close()

	marketSvc := market.NewService(stocks.MarketClosed, bus, logger)

	engine := pricestream.NewEngine(pricestream.Config{
		BatchInterval:  cfg.Stream.BatchInterval,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
	}, repo, feed, marketSvc, bus, logger)

	tracker := animations.NewTracker(animations.Config{
		Window:  cfg.Animations.Window,
		Stagger: cfg.Animations.Stagger,
	}, bus, logger)
	tracker.Start()
	defer tracker.Stop()

	effects := store.NewHandler(repo, quotes, analytics, engine, marketSvc, tracker, bus, logger)
	st := store.New(effects, logger)
	defer st.Close()

	sched := scheduler.New(logger)
	sched.Register(scheduler.NewMarketHours(scheduler.MarketHoursConfig{
		MIC:        cfg.Market.MIC,
		DemoToggle: cfg.Market.DemoToggle,
		Interval:   cfg.Scheduler.MarketInterval,
	}, marketSvc, logger))
	sched.Register(scheduler.NewPriceMutator(scheduler.PriceMutatorConfig{
		Interval:   cfg.Scheduler.MutatorInterval,
		MaxMovePct: cfg.Scheduler.MaxMovePct,
	}, repo, engine, marketSvc, logger))
	sched.Register(scheduler.NewStreamSync(cfg.Scheduler.SyncInterval, engine, feed, marketSvc, logger))

	server := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: infrahttp.NewHandler(st, marketSvc, logger),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return engine.Run(groupCtx)
	})
	group.Go(func() error {
		if err := sched.Start(groupCtx); err != nil {
			return err
		}
		<-groupCtx.Done()
		return sched.Stop()
	})
	group.Go(func() error {
		logger.Infof("HTTP server listening on %s", cfg.HTTP.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	st.Dispatch(store.ScreenEntered{})

	if err := group.Wait(); err != nil {
		logger.Errorf("run group error: %v", err)
	}
	logger.Info("stopped")
}

func buildRepository(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (interfaces.StockRepository, error) {
	if cfg.Storage.Driver == "postgres" {
		return infrastocks.NewRepository(ctx, cfg.Storage.DSN, logger)
	}
	return infrastocks.NewMemory(), nil
}

func buildAnalytics(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (interfaces.Analytics, error) {
	if cfg.Redis.Enabled {
		return infraanalytics.NewRedisPublisher(ctx, cfg.Redis.Addr, cfg.Redis.Channel, logger)
	}
	return infraanalytics.NewLogSink(logger), nil
}

func buildFeed(cfg *config.Config, logger *logrus.Logger) (interfaces.PriceFeed, error) {
	if cfg.Feed.Transport == "ws" {
		return infrafeed.NewWSFeed(infrafeed.WSConfig{
			URL:     cfg.Feed.WSURL,
			Symbols: cfg.Feed.WSSymbols,
		}, logger)
	}
	return infrafeed.NewAMQPFeed(infrafeed.AMQPConfig{
		URL:      cfg.Feed.AMQPURL,
		Exchange: cfg.Feed.AMQPExchange,
		Prefetch: cfg.Feed.AMQPPrefetch,
	}, logger)
}
