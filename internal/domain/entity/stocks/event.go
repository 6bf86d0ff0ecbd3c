package stocks

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction marks which way a price moved.
type Direction int8

const (
	DirectionUp Direction = iota + 1
	DirectionDown
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "unknown"
	}
}

// PriceChange is a single detected price movement for one stock. Values are
// immutable once constructed; one change is published per batch cycle at most.
type PriceChange struct {
	StockID  string
	OldPrice decimal.Decimal
	NewPrice decimal.Decimal
	At       time.Time
}

func NewPriceChange(stockID string, oldPrice, newPrice decimal.Decimal, at time.Time) PriceChange {
	return PriceChange{
		StockID:  stockID,
		OldPrice: oldPrice,
		NewPrice: newPrice,
		At:       at,
	}
}

// PercentChange returns (new-old)/old*100, or zero when the old price is zero.
func (c PriceChange) PercentChange() decimal.Decimal {
	if c.OldPrice.IsZero() {
		return decimal.Zero
	}
	return c.NewPrice.Sub(c.OldPrice).Div(c.OldPrice).Mul(decimal.NewFromInt(100))
}

func (c PriceChange) IsUp() bool {
	return c.NewPrice.GreaterThan(c.OldPrice)
}

func (c PriceChange) IsDown() bool {
	return c.NewPrice.LessThan(c.OldPrice)
}

// Direction collapses the movement into Up or Down; equal prices report Up,
// but equal prices are filtered out before a PriceChange is ever built.
func (c PriceChange) Direction() Direction {
	if c.IsDown() {
		return DirectionDown
	}
	return DirectionUp
}
