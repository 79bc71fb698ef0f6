package domain

import "time"

// MarketEventType names a committed lifecycle transition.
type MarketEventType string

const (
	EventMarketCreated   MarketEventType = "market_created"
	EventMarketCancelled MarketEventType = "market_cancelled"
	EventMarketExchanged MarketEventType = "market_exchanged"
)

// MarketEvent is published after a lifecycle transition commits. Market holds
// the record as it was when the transition ran.
type MarketEvent struct {
	ID        string          `json:"id"`
	Type      MarketEventType `json:"type"`
	Market    Market          `json:"market"`
	Actor     Address         `json:"actor"`
	Signature string          `json:"signature,omitempty"`
	At        time.Time       `json:"at"`
}

// Closed reports whether the event ended the market.
func (e MarketEvent) Closed() bool {
	return e.Type == EventMarketCancelled || e.Type == EventMarketExchanged
}
