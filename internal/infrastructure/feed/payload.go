package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"stockwatch/internal/domain/interfaces"
)

var errEmptySymbol = errors.New("empty symbol")

var errMissingPrice = errors.New("missing price")

// priceMessage is the wire envelope shared by the AMQP and WebSocket
// transports. Prices arrive either as JSON numbers or as quoted strings.
type priceMessage struct {
	Symbol        string           `json:"symbol"`
	Price         *decimal.Decimal `json:"price"`
	PercentChange decimal.Decimal  `json:"percent_change"`
}

// decodeUpdate parses a raw frame into a PriceUpdate. Frames that are not
// valid JSON, carry no symbol, or carry no price are rejected here;
// semantic validation of the price value itself is left to the consumer.
func decodeUpdate(body []byte) (interfaces.PriceUpdate, error) {
	var msg priceMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return interfaces.PriceUpdate{}, fmt.Errorf("decode payload: %w", err)
	}
	if msg.Symbol == "" {
		return interfaces.PriceUpdate{}, errEmptySymbol
	}
	if msg.Price == nil {
		return interfaces.PriceUpdate{}, errMissingPrice
	}
	return interfaces.PriceUpdate{
		Symbol:        msg.Symbol,
		Price:         *msg.Price,
		PercentChange: msg.PercentChange,
	}, nil
}
