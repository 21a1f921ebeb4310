// Package risk 按净仓位对下单意图做削减。
package risk

import (
	"errors"

	"theo-quoter/market"
	"theo-quoter/strategy"
)

var ErrInvalidLimit = errors.New("position limit must be >= 0")

// PositionLimit 限制所有意图全部成交后的 |净仓位| 不超过 MaxAbs；MaxAbs 为 0 表示不限。
type PositionLimit struct {
	MaxAbs int64
}

func (l PositionLimit) Validate() error {
	if l.MaxAbs < 0 {
		return ErrInvalidLimit
	}
	return nil
}

// Capacity 返回某一方向在不突破上限前提下还能挂出的总量。
// 减仓方向至少可回到零仓位。
func (l PositionLimit) Capacity(net int64, side market.Side) int64 {
	var c int64
	switch side {
	case market.Bid:
		c = l.MaxAbs - net
	case market.Ask:
		c = l.MaxAbs + net
	}
	if c < 0 {
		return 0
	}
	return c
}

// Throttle 按意图顺序逐侧累计数量，超出容量的部分截掉，截为 0 的意图丢弃。
// 输入切片不会被修改。
func (l PositionLimit) Throttle(net int64, intents []strategy.QuoteIntent) []strategy.QuoteIntent {
	if l.MaxAbs == 0 || len(intents) == 0 {
		return intents
	}
	remaining := map[market.Side]int64{
		market.Bid: l.Capacity(net, market.Bid),
		market.Ask: l.Capacity(net, market.Ask),
	}
	out := make([]strategy.QuoteIntent, 0, len(intents))
	for _, q := range intents {
		left := remaining[q.Side]
		if left <= 0 {
			continue
		}
		if q.Volume > left {
			q.Volume = left
		}
		remaining[q.Side] = left - q.Volume
		out = append(out, q)
	}
	return out
}
