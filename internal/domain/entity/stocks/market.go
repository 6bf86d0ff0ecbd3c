package stocks

// MarketPhase is the process-wide open/closed state of the market. The only
// legal transition is a full flip.
type MarketPhase int8

const (
	MarketClosed MarketPhase = iota
	MarketOpen
)

func (p MarketPhase) String() string {
	if p == MarketOpen {
		return "open"
	}
	return "closed"
}

func (p MarketPhase) IsOpen() bool {
	return p == MarketOpen
}

func (p MarketPhase) Opposite() MarketPhase {
	if p == MarketOpen {
		return MarketClosed
	}
	return MarketOpen
}
