package interfaces

import (
	"context"

	stocks "stockwatch/internal/domain/entity/stocks"
)

// QuoteSource is the remote source-of-truth collaborator. FetchAll may fail
// with a recoverable network error; callers decide whether to surface it.
type QuoteSource interface {
	FetchAll(ctx context.Context) ([]stocks.Quote, error)
}

// Analytics receives fire-and-forget structured messages. Implementations
// must never block the caller and carry no response contract.
type Analytics interface {
	Track(event string, fields map[string]any)
}
