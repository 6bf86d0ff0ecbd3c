package interfaces

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceUpdate is a single raw notification from the push stream. The
// transport may drop or duplicate messages; consumers must tolerate both.
type PriceUpdate struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	PercentChange decimal.Decimal `json:"percent_change"`
}

// PriceFeed is the push-stream collaborator. Updates delivers raw
// notifications while connected; the channel is closed when the underlying
// transport fails or Disconnect is called, which is the consumer's signal to
// reconnect via a fresh Connect.
type PriceFeed interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	Updates() <-chan PriceUpdate
}
