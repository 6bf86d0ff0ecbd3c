package store

// Action is a user intent dispatched into the store. The set is closed;
// dispatch switches over it exhaustively.
type Action interface {
	actionName() string
}

// ScreenEntered fires when the watchlist becomes visible.
type ScreenEntered struct{}

// PulledToRefresh fires on an explicit refresh gesture.
type PulledToRefresh struct{}

// FavoriteClicked toggles the favorite mark for one stock.
type FavoriteClicked struct {
	ID string
}

// RetryClicked re-runs the refresh after an error.
type RetryClicked struct{}

func (ScreenEntered) actionName() string   { return "screen_entered" }
func (PulledToRefresh) actionName() string { return "pulled_to_refresh" }
func (FavoriteClicked) actionName() string { return "favorite_clicked" }
func (RetryClicked) actionName() string    { return "retry_clicked" }
