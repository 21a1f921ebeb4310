package market

import (
	"math"
	"time"
)

// PriceLevel 单个价位及其挂单量。
type PriceLevel struct {
	Price  float64
	Volume int64
}

// Book 是某一时刻的盘口快照：Bids 价格降序，Asks 价格升序。
// 每个周期整体替换，不做原地修改。
type Book struct {
	Instrument string
	Timestamp  time.Time
	Bids       []PriceLevel
	Asks       []PriceLevel
}

// BestBid 返回买一；若买盘为空第二个返回值为 false。
func (b Book) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk 返回卖一；若卖盘为空第二个返回值为 false。
func (b Book) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// BidEdge 返回买一价，买盘为空时为 -Inf（视为无限远）。
func (b Book) BidEdge() float64 {
	if lvl, ok := b.BestBid(); ok {
		return lvl.Price
	}
	return math.Inf(-1)
}

// AskEdge 返回卖一价，卖盘为空时为 +Inf。
func (b Book) AskEdge() float64 {
	if lvl, ok := b.BestAsk(); ok {
		return lvl.Price
	}
	return math.Inf(1)
}

// HasBothSides 买卖盘均非空。
func (b Book) HasBothSides() bool {
	return len(b.Bids) > 0 && len(b.Asks) > 0
}

// Spread 返回卖一-买一；缺失任一侧返回 0。
func (b Book) Spread() float64 {
	if !b.HasBothSides() {
		return 0
	}
	return b.Asks[0].Price - b.Bids[0].Price
}

// Mid 返回中间价；缺失任一侧返回 0。
func (b Book) Mid() float64 {
	if !b.HasBothSides() {
		return 0
	}
	return (b.Asks[0].Price + b.Bids[0].Price) / 2
}

// WeightedMid 按买一/卖一挂单量加权的中间价；两侧量均为 0 时退化为 Mid。
func (b Book) WeightedMid() float64 {
	if !b.HasBothSides() {
		return 0
	}
	bid, ask := b.Bids[0], b.Asks[0]
	total := bid.Volume + ask.Volume
	if total <= 0 {
		return b.Mid()
	}
	return (ask.Price*float64(ask.Volume) + bid.Price*float64(bid.Volume)) / float64(total)
}

// Depth 返回某一侧的累计挂单量。
func (b Book) Depth(side Side) int64 {
	levels := b.Bids
	if side == Ask {
		levels = b.Asks
	}
	var total int64
	for _, l := range levels {
		total += l.Volume
	}
	return total
}
