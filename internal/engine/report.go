package engine

import (
	"time"

	"theo-quoter/estimator"
	"theo-quoter/market"
	"theo-quoter/order"
	"theo-quoter/stats"
	"theo-quoter/strategy"
)

// Observer 在每个周期结束后收到报告；实现应快速返回。
type Observer interface {
	OnCycle(Report)
}

// ObserverFunc 适配普通函数。
type ObserverFunc func(Report)

func (f ObserverFunc) OnCycle(r Report) { f(r) }

// Top 是某一侧的最优价位；OK 为 false 表示该侧为空。
type Top struct {
	Price  float64
	Volume int64
	OK     bool
}

// BookTop 是一条腿的买一/卖一及两侧累计挂单量。
type BookTop struct {
	Instrument string
	Bid        Top
	Ask        Top
	BidDepth   int64
	AskDepth   int64
}

func topOf(b market.Book) BookTop {
	t := BookTop{Instrument: b.Instrument, BidDepth: b.Depth(market.Bid), AskDepth: b.Depth(market.Ask)}
	if lvl, ok := b.BestBid(); ok {
		t.Bid = Top{Price: lvl.Price, Volume: lvl.Volume, OK: true}
	}
	if lvl, ok := b.BestAsk(); ok {
		t.Ask = Top{Price: lvl.Price, Volume: lvl.Volume, OK: true}
	}
	return t
}

// Report 汇总一个周期的输入、估计与下单结果。
type Report struct {
	Cycle      int64
	Timestamp  time.Time
	Skipped    bool
	SkipReason string
	Err        string

	Theo         float64
	Margin       float64
	Stats        stats.RollingStats
	Delta        int64
	Positions    map[string]int64
	PnL          float64
	Primary      BookTop
	Linked       BookTop
	OwnTrades    []market.Trade
	MarketTrades int
	Adjustments  []estimator.Adjustment

	Proposed int // 限仓前的意图数
	Intents  []strategy.QuoteIntent
	Sync     order.Result
	Duration time.Duration
	ReadTime time.Duration
}

// Count 返回某类意图数量。
func (r Report) Count(kind strategy.IntentKind) int {
	n := 0
	for _, q := range r.Intents {
		if q.Kind == kind {
			n++
		}
	}
	return n
}
