package strategy

import (
	"errors"
	"math"

	"theo-quoter/market"
	"theo-quoter/stats"
)

// OpportunistConfig 控制主动减仓的触发阈值（以标准差为单位）与每周期数量上限。
type OpportunistConfig struct {
	MinSamples      int
	StrongZ         float64
	WeakZ           float64
	StrongMaxVolume int64
	WeakMaxVolume   int64
}

func DefaultOpportunistConfig() OpportunistConfig {
	return OpportunistConfig{
		MinSamples:      stats.DefaultMinSamples,
		StrongZ:         2,
		WeakZ:           1.5,
		StrongMaxVolume: 100,
		WeakMaxVolume:   10,
	}
}

func (c OpportunistConfig) Validate() error {
	if c.MinSamples < 2 {
		return errors.New("opportunist minSamples must be >= 2")
	}
	if c.WeakZ <= 0 || c.StrongZ < c.WeakZ {
		return errors.New("opportunist thresholds must satisfy 0 < weakZ <= strongZ")
	}
	if c.StrongMaxVolume <= 0 || c.WeakMaxVolume <= 0 {
		return errors.New("opportunist volume caps must be > 0")
	}
	return nil
}

// Opportunist 在盘口显著偏离成交均值时，只朝减少库存的方向下单。
type Opportunist struct {
	cfg OpportunistConfig
}

func NewOpportunist(cfg OpportunistConfig) (*Opportunist, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Opportunist{cfg: cfg}, nil
}

func (o *Opportunist) Config() OpportunistConfig {
	return o.cfg
}

// Edges 返回卖一低于均值、买一高于均值的标准差倍数；对应一侧为空时为 -Inf。
func Edges(book market.Book, rs stats.RollingStats) (askEdge, bidEdge float64) {
	askEdge, bidEdge = math.Inf(-1), math.Inf(-1)
	if lvl, ok := book.BestAsk(); ok {
		if z, ok := rs.ZScore(lvl.Price); ok {
			askEdge = -z
		}
	}
	if lvl, ok := book.BestBid(); ok {
		if z, ok := rs.ZScore(lvl.Price); ok {
			bidEdge = z
		}
	}
	return askEdge, bidEdge
}

// Decide 返回至多一笔主动单。
// 空头且卖一低于均值超过阈值时买入（lift），多头镜像卖出（hit）；
// 数量不超过 |position|，也不超过对应档的每周期上限。
func (o *Opportunist) Decide(inst market.Instrument, position int64, book market.Book, rs stats.RollingStats) (QuoteIntent, bool) {
	if !inst.Tradable() || position == 0 {
		return QuoteIntent{}, false
	}
	if !rs.HasEnoughSamples(o.cfg.MinSamples) || rs.Stdev() == 0 {
		return QuoteIntent{}, false
	}
	sd := rs.Stdev()
	askEdge, bidEdge := Edges(book, rs)

	side := market.Bid
	edge := askEdge
	if position > 0 {
		side = market.Ask
		edge = bidEdge
	}

	var z float64
	var capVol int64
	switch {
	case edge > o.cfg.StrongZ:
		z, capVol = o.cfg.StrongZ, o.cfg.StrongMaxVolume
	case edge > o.cfg.WeakZ:
		z, capVol = o.cfg.WeakZ, o.cfg.WeakMaxVolume
	default:
		return QuoteIntent{}, false
	}

	vol := position
	if vol < 0 {
		vol = -vol
	}
	if vol > capVol {
		vol = capVol
	}

	var price float64
	switch side {
	case market.Bid:
		price = market.RoundToTick(rs.Mean-z*sd, inst.TickSize, market.RoundDown)
	case market.Ask:
		price = market.RoundToTick(rs.Mean+z*sd, inst.TickSize, market.RoundUp)
	}
	if price <= 0 {
		return QuoteIntent{}, false
	}
	return QuoteIntent{
		Instrument: inst.ID,
		Price:      price,
		Volume:     vol,
		Side:       side,
		Kind:       KindOpportunist,
	}, true
}
