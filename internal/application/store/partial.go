package store

import (
	stocks "stockwatch/internal/domain/entity/stocks"
)

// Partial is a single delta applied by the reducer to derive the next state.
// The set is closed.
type Partial interface {
	partialName() string
}

// Loading marks the initial load of the watchlist.
type Loading struct{}

// DataLoaded replaces the whole row list.
type DataLoaded struct {
	Rows []stocks.Row
}

// Failed surfaces a non-fatal error message; prior rows stay visible.
type Failed struct {
	Message string
}

// RefreshStarted marks a refresh in flight.
type RefreshStarted struct{}

// RefreshCompleted marks a refresh done.
type RefreshCompleted struct{}

// MarketChanged updates the open/closed flag.
type MarketChanged struct {
	Open bool
}

// PriceChanged patches one row with a fresh price and animation flag.
type PriceChanged struct {
	Change stocks.PriceChange
}

// AnimationCleared removes one row's animation flag.
type AnimationCleared struct {
	StockID string
}

func (Loading) partialName() string          { return "loading" }
func (DataLoaded) partialName() string       { return "data_loaded" }
func (Failed) partialName() string           { return "failed" }
func (RefreshStarted) partialName() string   { return "refresh_started" }
func (RefreshCompleted) partialName() string { return "refresh_completed" }
func (MarketChanged) partialName() string    { return "market_changed" }
func (PriceChanged) partialName() string     { return "price_changed" }
func (AnimationCleared) partialName() string { return "animation_cleared" }
