// Package strategy 把 theo/margin 与盘口转换成本周期的下单意图。
package strategy

import (
	"fmt"

	"theo-quoter/market"
)

// IntentKind 区分挂单阶梯与主动吃单。
type IntentKind string

const (
	KindLadder      IntentKind = "ladder"
	KindOpportunist IntentKind = "opportunist"
)

// QuoteIntent 是一次性的下单意图，每个周期重新生成。
type QuoteIntent struct {
	Instrument string
	Price      float64
	Volume     int64
	Side       market.Side
	Kind       IntentKind
}

func (q QuoteIntent) String() string {
	return fmt.Sprintf("%s %s %d@%.4f (%s)", q.Instrument, q.Side, q.Volume, q.Price, q.Kind)
}

// SignedVolume 买为正、卖为负。
func (q QuoteIntent) SignedVolume() int64 {
	return q.Side.Sign() * q.Volume
}
