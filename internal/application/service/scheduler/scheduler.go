package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultRetryDelay = 2 * time.Second

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNotStarted     = errors.New("scheduler not started")
)

// Outcome is the result of one worker invocation. Retry asks the scheduler
// to re-run before the next tick; Failed gives up until the next tick.
type Outcome int8

const (
	Done Outcome = iota
	Retry
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Retry:
		return "retry"
	default:
		return "failed"
	}
}

// Worker is one periodic unit of work. Run must be idempotent: the scheduler
// may invoke it again at any time.
type Worker interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) Outcome
}

// Scheduler drives registered workers on their configured intervals, each in
// its own goroutine. Workers run once immediately on start.
type Scheduler struct {
	mu         sync.Mutex
	workers    []Worker
	started    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	retryDelay time.Duration
	logger     *logrus.Entry
}

func New(logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		retryDelay: defaultRetryDelay,
		logger:     logger.WithField("component", "scheduler"),
	}
}

// Register adds a worker. Registration after Start is rejected.
func (s *Scheduler) Register(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.logger.WithField("worker", w.Name()).Warn("cannot register worker after start")
		return
	}
	s.workers = append(s.workers, w)
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	workers := append([]Worker(nil), s.workers...)
	s.mu.Unlock()

	for _, w := range workers {
		s.wg.Add(1)
		go s.runWorker(runCtx, w)
	}
	s.logger.WithField("workers", len(workers)).Info("scheduler started")
	return nil
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runWorker(ctx context.Context, w Worker) {
	defer s.wg.Done()
	log := s.logger.WithField("worker", w.Name())

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	s.invoke(ctx, w, log)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.invoke(ctx, w, log)
		}
	}
}

// invoke runs the worker once, re-running after a short delay as long as it
// reports Retry.
func (s *Scheduler) invoke(ctx context.Context, w Worker, log *logrus.Entry) {
	for {
		start := time.Now()
		outcome := w.Run(ctx)
		log.WithFields(logrus.Fields{
			"outcome": outcome.String(),
			"took_ms": time.Since(start).Milliseconds(),
		}).Debug("worker run finished")

		switch outcome {
		case Retry:
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryDelay):
			}
		case Failed:
			log.Warn("worker run failed")
			return
		default:
			return
		}
	}
}
