package risk

import "theo-quoter/strategy"

// Throttler 在下单前削减意图，PositionLimit 是默认实现。
type Throttler interface {
	Throttle(net int64, intents []strategy.QuoteIntent) []strategy.QuoteIntent
}
