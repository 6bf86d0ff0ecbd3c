package store

import (
	stocks "stockwatch/internal/domain/entity/stocks"
)

// Reduce derives the next state from one partial. Pure: no I/O, no clock, no
// mutation of the inputs. Setting data or loading always clears the error;
// setting the error always clears the loading and refreshing flags.
func Reduce(state State, partial Partial) State {
	switch p := partial.(type) {
	case Loading:
		state.Loading = true
		state.Err = ""
		return state
	case DataLoaded:
		state.Loading = false
		state.Refreshing = false
		state.Err = ""
		return state.withRows(p.Rows)
	case Failed:
		state.Loading = false
		state.Refreshing = false
		state.Err = p.Message
		return state
	case RefreshStarted:
		state.Refreshing = true
		return state
	case RefreshCompleted:
		state.Refreshing = false
		return state
	case MarketChanged:
		state.MarketOpen = p.Open
		return state
	case PriceChanged:
		direction := p.Change.Direction()
		return state.patchRow(p.Change.StockID, func(row stocks.Row) stocks.Row {
			row.Price = p.Change.NewPrice
			row.Animation = &direction
			return row
		})
	case AnimationCleared:
		return state.patchRow(p.StockID, func(row stocks.Row) stocks.Row {
			row.Animation = nil
			return row
		})
	default:
		return state
	}
}
