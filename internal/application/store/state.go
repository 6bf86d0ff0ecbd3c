package store

import (
	stocks "stockwatch/internal/domain/entity/stocks"
)

// State is the complete render state of the watchlist. It is a value:
// reductions replace it, never mutate it in place.
type State struct {
	Loading    bool         `json:"loading"`
	Refreshing bool         `json:"refreshing"`
	Rows       []stocks.Row `json:"rows"`
	Err        string       `json:"error,omitempty"`
	MarketOpen bool         `json:"market_open"`
}

// NewState is the default state before any partial has been applied.
func NewState() State {
	return State{}
}

func (s State) withRows(rows []stocks.Row) State {
	s.Rows = rows
	return s
}

// patchRow returns a state whose row list has the row with id replaced by the
// result of apply. Rows of other ids are shared, not copied deep.
func (s State) patchRow(id string, apply func(stocks.Row) stocks.Row) State {
	for i, row := range s.Rows {
		if row.ID != id {
			continue
		}
		rows := make([]stocks.Row, len(s.Rows))
		copy(rows, s.Rows)
		rows[i] = apply(row)
		s.Rows = rows
		return s
	}
	return s
}
