package stocks

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyID       = errors.New("stock id is empty")
	ErrEmptyName     = errors.New("stock name is empty")
	ErrInvalidPrice  = errors.New("stock price must be positive")
	ErrStockNotFound = errors.New("stock not found")
)

// Stock is a tradable instrument tracked by the watchlist. Stocks are never
// deleted; delisting only flips the Delisted flag.
type Stock struct {
	ID             string
	Name           string
	Price          decimal.Decimal
	DailyChangePct decimal.Decimal
	Delisted       bool
	UpdatedAt      time.Time
}

func (s *Stock) Validate() error {
	if s.ID == "" {
		return ErrEmptyID
	}
	if s.Name == "" {
		return fmt.Errorf("stock %s: %w", s.ID, ErrEmptyName)
	}
	if !s.Price.IsPositive() {
		return fmt.Errorf("stock %s: %w", s.ID, ErrInvalidPrice)
	}
	return nil
}

// Quote is the shape returned by remote source-of-truth providers.
type Quote struct {
	Symbol         string          `json:"symbol"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	DailyChangePct decimal.Decimal `json:"daily_change_pct"`
	Delisted       bool            `json:"delisted"`
}

// Stock converts the quote into a Stock entity stamped with now.
func (q Quote) Stock(now time.Time) Stock {
	return Stock{
		ID:             q.Symbol,
		Name:           q.Name,
		Price:          q.Price,
		DailyChangePct: q.DailyChangePct,
		Delisted:       q.Delisted,
		UpdatedAt:      now,
	}
}
