package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	stocks "stockwatch/internal/domain/entity/stocks"
)

// StockRepository is the persistence collaborator. Observe methods deliver the
// current snapshot immediately, then a fresh snapshot after every mutation.
// The returned cancel func detaches the observer.
type StockRepository interface {
	ObserveStocks(ctx context.Context) (<-chan []stocks.Stock, func())
	ObserveFavorites(ctx context.Context) (<-chan map[string]struct{}, func())

	InsertOrReplaceAll(ctx context.Context, list []stocks.Stock) error
	UpdatePrice(ctx context.Context, id string, price decimal.Decimal) error

	// ToggleFavorite flips the favorite mark for id as one indivisible
	// read-check-write; concurrent toggles for the same id serialize.
	ToggleFavorite(ctx context.Context, id string) error

	RandomActive(ctx context.Context) (*stocks.Stock, error)
	SetDelisted(ctx context.Context, id string, delisted bool) error

	Close()
}
