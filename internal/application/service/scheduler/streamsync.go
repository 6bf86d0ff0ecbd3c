package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"stockwatch/internal/application/service/market"
)

// StreamEngine is the slice of the price stream engine the sync worker needs.
type StreamEngine interface {
	Start(ctx context.Context) error
	Running() bool
}

// FeedStatus reports the transport's connection state.
type FeedStatus interface {
	IsConnected() bool
}

// StreamSync reasserts the streaming session against the market phase: a
// feed that is down while the market is open is a retryable condition.
// Market closed is an explicit success, never an error.
type StreamSync struct {
	interval time.Duration
	engine   StreamEngine
	feed     FeedStatus
	svc      *market.Service
	logger   *logrus.Entry
}

func NewStreamSync(
	interval time.Duration,
	engine StreamEngine,
	feed FeedStatus,
	svc *market.Service,
	logger *logrus.Logger,
) *StreamSync {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &StreamSync{
		interval: interval,
		engine:   engine,
		feed:     feed,
		svc:      svc,
		logger:   logger.WithField("worker", "streamsync"),
	}
}

func (w *StreamSync) Name() string            { return "streamsync" }
func (w *StreamSync) Interval() time.Duration { return w.interval }

func (w *StreamSync) Run(ctx context.Context) Outcome {
	if !w.svc.Phase().IsOpen() {
		return Done
	}
	if !w.engine.Running() {
		if err := w.engine.Start(ctx); err != nil {
			w.logger.WithError(err).Warn("failed to start streaming session")
			return Retry
		}
	}
	if !w.feed.IsConnected() {
		return Retry
	}
	return Done
}
