package market

import "time"

// Instrument 描述可交易品种；Paused 每个周期由交易所刷新。
type Instrument struct {
	ID       string
	TickSize float64
	Paused   bool
}

// Tradable 返回当前是否允许下单。
func (i Instrument) Tradable() bool {
	return !i.Paused
}

// Trade represents a normalized trade.
// For own fills Side is our side (Bid = we bought); for public ticks it is
// the aggressor side.
type Trade struct {
	ID         int64
	Instrument string
	Price      float64
	Volume     int64
	Side       Side
	Timestamp  time.Time
}

// Prices 提取成交价序列。
func Prices(trades []Trade) []float64 {
	out := make([]float64, 0, len(trades))
	for _, t := range trades {
		out = append(out, t.Price)
	}
	return out
}
