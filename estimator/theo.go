package estimator

import "theo-quoter/market"

// Kind 标记一次调整由哪类成交触发。
type Kind string

const (
	KindOwn           Kind = "own"
	KindMarketInside  Kind = "market_inside"
	KindMarketOutside Kind = "market_outside"
)

// Adjustment 记录单笔成交对 theo/margin 的影响，便于调试日志。
type Adjustment struct {
	TradeID     int64
	Kind        Kind
	TheoDelta   float64
	MarginDelta float64
}

// Update 用本周期的自有成交与市场成交推进状态。
// 市场成交中与自有成交 ID 相同的部分会被剔除；无成交时原样返回 s。
func Update(p Params, s State, own, trades []market.Trade) State {
	next, _ := UpdateTraced(p, s, own, trades)
	return next
}

// UpdateTraced 同 Update，并返回逐笔调整明细。
func UpdateTraced(p Params, s State, own, trades []market.Trade) (State, []Adjustment) {
	if len(own) == 0 && len(trades) == 0 {
		return s, nil
	}
	adjs := make([]Adjustment, 0, len(own)+len(trades))
	ownIDs := make(map[int64]struct{}, len(own))
	for _, t := range own {
		ownIDs[t.ID] = struct{}{}
		var adj Adjustment
		s, adj = ApplyOwn(p, s, t)
		adjs = append(adjs, adj)
	}
	for _, t := range trades {
		if _, dup := ownIDs[t.ID]; dup {
			continue
		}
		var adj Adjustment
		s, adj = ApplyMarket(p, s, t)
		adjs = append(adjs, adj)
	}
	return p.Clamp(s), adjs
}

// ApplyOwn 处理一笔自有成交：theo 向成交价一侧移动，margin 同步放大。
// 买入成交以区间右沿为参照，卖出成交镜像处理，以区间左沿为参照。
func ApplyOwn(p Params, s State, t market.Trade) (State, Adjustment) {
	left, right := s.Band()
	vol := float64(t.Volume)
	var u, dTheo float64
	switch t.Side {
	case market.Bid:
		if t.Price >= left {
			u = p.OwnWeight * (right - t.Price) * vol
			dTheo = -u / 2
		} else {
			u = p.OwnWeight * (t.Price - left) * vol
			dTheo = u / 2
		}
	case market.Ask:
		if t.Price <= right {
			u = p.OwnWeight * (t.Price - left) * vol
			dTheo = u / 2
		} else {
			u = p.OwnWeight * (right - t.Price) * vol
			dTheo = -u / 2
		}
	}
	before := s
	s.Theo += dTheo
	s.Margin += u / 2
	s = p.Clamp(s)
	return s, Adjustment{
		TradeID:     t.ID,
		Kind:        KindOwn,
		TheoDelta:   s.Theo - before.Theo,
		MarginDelta: s.Margin - before.Margin,
	}
}

// ApplyMarket 处理一笔他人成交。
// 区间外：theo 按偏离中心的距离向成交价移动，margin 不变。
// 区间内：theo 轻微靠近成交价，margin 收窄。
func ApplyMarket(p Params, s State, t market.Trade) (State, Adjustment) {
	left, right := s.Band()
	vol := float64(t.Volume)
	before := s
	kind := KindMarketInside
	if !s.Contains(t.Price) {
		kind = KindMarketOutside
		s.Theo += p.OutsideWeight * (2*t.Price - left - right) * vol
	} else {
		d1 := p.InsideWeight * (t.Price - left) * vol
		d2 := p.InsideWeight * (t.Price - right) * vol
		s.Margin -= (d1 - d2) / 2
		s.Theo += (d1 + d2) / 2
	}
	s = p.Clamp(s)
	return s, Adjustment{
		TradeID:     t.ID,
		Kind:        kind,
		TheoDelta:   s.Theo - before.Theo,
		MarginDelta: s.Margin - before.Margin,
	}
}
