package scheduler

import (
	"context"
	"time"

	"github.com/scmhub/calendar"
	"github.com/sirupsen/logrus"

	"stockwatch/internal/application/service/market"
	stocks "stockwatch/internal/domain/entity/stocks"
)

const defaultMIC = "xnys"

// MarketHoursConfig controls the market-hours worker.
type MarketHoursConfig struct {
	// MIC is the ISO 10383 market identifier whose calendar drives the
	// phase, e.g. "xnys".
	MIC string
	// DemoToggle flips the phase every interval instead of consulting the
	// calendar. Demo/simulation policy.
	DemoToggle bool
	Interval   time.Duration
}

// MarketHours keeps the market service's phase in sync with real exchange
// hours, or flips it periodically in demo mode. Each run is idempotent:
// setting an unchanged phase notifies nobody.
type MarketHours struct {
	cfg    MarketHoursConfig
	svc    *market.Service
	cal    *calendar.Calendar
	now    func() time.Time
	logger *logrus.Entry
}

func NewMarketHours(cfg MarketHoursConfig, svc *market.Service, logger *logrus.Logger) *MarketHours {
	if cfg.MIC == "" {
		cfg.MIC = defaultMIC
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	w := &MarketHours{
		cfg:    cfg,
		svc:    svc,
		now:    time.Now,
		logger: logger.WithField("worker", "markethours"),
	}
	if !cfg.DemoToggle {
		w.cal = calendar.GetCalendar(cfg.MIC)
		if w.cal == nil {
			w.logger.WithField("mic", cfg.MIC).Warn("unknown MIC, falling back to weekday hours")
		}
	}
	return w
}

func (w *MarketHours) Name() string            { return "markethours" }
func (w *MarketHours) Interval() time.Duration { return w.cfg.Interval }

func (w *MarketHours) Run(ctx context.Context) Outcome {
	if w.cfg.DemoToggle {
		w.svc.Toggle()
		return Done
	}
	if w.isOpen(w.now()) {
		w.svc.Set(stocks.MarketOpen)
	} else {
		w.svc.Set(stocks.MarketClosed)
	}
	return Done
}

func (w *MarketHours) isOpen(t time.Time) bool {
	if w.cal != nil {
		return w.cal.IsOpen(t.In(w.cal.Loc))
	}
	// fallback: Mon-Fri 09:30-16:00 local time
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
