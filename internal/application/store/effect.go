package store

// Effect describes a side-effecting operation decoupled from the action that
// requested it. The set is closed.
type Effect interface {
	effectName() string
}

// ObserveStocks is the long-running observation of the watchlist; at most one
// subscription to it is alive at a time.
type ObserveStocks struct{}

// RefreshStocks repopulates persisted storage from the remote source.
type RefreshStocks struct{}

// ToggleFavorite atomically flips one stock's favorite mark.
type ToggleFavorite struct {
	ID string
}

// TrackAnalytics emits a fire-and-forget analytics message.
type TrackAnalytics struct {
	Name string
}

// ConnectStream starts the price streaming session.
type ConnectStream struct{}

// DisconnectStream stops the price streaming session.
type DisconnectStream struct{}

func (ObserveStocks) effectName() string    { return "observe_stocks" }
func (RefreshStocks) effectName() string    { return "refresh_stocks" }
func (ToggleFavorite) effectName() string   { return "toggle_favorite" }
func (TrackAnalytics) effectName() string   { return "track_analytics" }
func (ConnectStream) effectName() string    { return "connect_stream" }
func (DisconnectStream) effectName() string { return "disconnect_stream" }
