package strategy

import (
	"errors"
	"fmt"
	"math"

	"theo-quoter/market"
)

// GridLevel 定义单个阶梯档位。
type GridLevel struct {
	Price  float64
	Volume int64
}

// BuildLevels 从 start 开始按 step 逐档远离：买单向下、卖单向上，
// 档位数量与规模取自 volumeCurve。价格使用十进制计算并对齐 tick。
func BuildLevels(start, step, tick float64, side market.Side, volumeCurve []int64) []GridLevel {
	dir := int64(1)
	mode := market.RoundUp
	if side == market.Bid {
		dir = -1
		mode = market.RoundDown
	}
	levels := make([]GridLevel, 0, len(volumeCurve))
	for i, vol := range volumeCurve {
		price := market.RoundToTick(market.OffsetTicks(start, step, dir*int64(i)), tick, mode)
		if price <= 0 {
			continue
		}
		levels = append(levels, GridLevel{Price: price, Volume: vol})
	}
	return levels
}

// LadderConfig 控制阶梯间距、相对 theo±margin 的缓冲以及每档数量。
type LadderConfig struct {
	Step        float64 // 档间距（价格单位）
	Buffer      float64 // 起始价相对 theo±margin 的额外缓冲
	VolumeCurve []int64 // 由内到外严格递增的档位数量
}

// DefaultLadderConfig 与线上参数一致。
func DefaultLadderConfig() LadderConfig {
	return LadderConfig{
		Step:        0.1,
		Buffer:      0.05,
		VolumeCurve: []int64{2, 8, 16, 32},
	}
}

// Validate 档间距为正、缓冲非负、volumeCurve 非空且严格递增。
func (c LadderConfig) Validate() error {
	if c.Step <= 0 {
		return errors.New("ladder step must be > 0")
	}
	if c.Buffer < 0 {
		return errors.New("ladder buffer must be >= 0")
	}
	if len(c.VolumeCurve) == 0 {
		return errors.New("ladder volumeCurve is required")
	}
	var prev int64
	for i, v := range c.VolumeCurve {
		if v <= 0 {
			return fmt.Errorf("ladder volumeCurve[%d]=%d must be > 0", i, v)
		}
		if i > 0 && v <= prev {
			return fmt.Errorf("ladder volumeCurve must be strictly increasing at index %d", i)
		}
		prev = v
	}
	return nil
}

// LadderBuilder 生成被动挂单阶梯。
type LadderBuilder struct {
	cfg LadderConfig
}

func NewLadderBuilder(cfg LadderConfig) (*LadderBuilder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	curve := make([]int64, len(cfg.VolumeCurve))
	copy(curve, cfg.VolumeCurve)
	cfg.VolumeCurve = curve
	return &LadderBuilder{cfg: cfg}, nil
}

// Config 返回当前配置副本。
func (b *LadderBuilder) Config() LadderConfig {
	return b.cfg
}

// StartPrices 计算买卖起始价。
// 买单不高于买一+1tick、不触及卖一，同时不高于 theo-margin-buffer；卖单镜像。
// 空的一侧视为无限远，不参与约束。
func (b *LadderBuilder) StartPrices(inst market.Instrument, theo, margin float64, book market.Book) (bid, ask float64) {
	tick := b.tickOf(inst)
	bid = market.RoundToTick(theo-margin-b.cfg.Buffer, tick, market.RoundDown)
	ask = market.RoundToTick(theo+margin+b.cfg.Buffer, tick, market.RoundUp)
	if lvl, ok := book.BestBid(); ok {
		bid = math.Min(bid, market.OffsetTicks(lvl.Price, tick, 1))
		ask = math.Max(ask, market.OffsetTicks(lvl.Price, tick, 1))
	}
	if lvl, ok := book.BestAsk(); ok {
		bid = math.Min(bid, market.OffsetTicks(lvl.Price, tick, -1))
		ask = math.Max(ask, market.OffsetTicks(lvl.Price, tick, -1))
	}
	return bid, ask
}

// Build 生成双边阶梯；品种暂停时返回空。
func (b *LadderBuilder) Build(inst market.Instrument, theo, margin float64, book market.Book) []QuoteIntent {
	if !inst.Tradable() {
		return nil
	}
	tick := b.tickOf(inst)
	step := b.effectiveStep(tick)
	startBid, startAsk := b.StartPrices(inst, theo, margin, book)

	bids := BuildLevels(startBid, step, tick, market.Bid, b.cfg.VolumeCurve)
	asks := BuildLevels(startAsk, step, tick, market.Ask, b.cfg.VolumeCurve)
	out := make([]QuoteIntent, 0, len(bids)+len(asks))
	for _, l := range bids {
		out = append(out, QuoteIntent{Instrument: inst.ID, Price: l.Price, Volume: l.Volume, Side: market.Bid, Kind: KindLadder})
	}
	for _, l := range asks {
		out = append(out, QuoteIntent{Instrument: inst.ID, Price: l.Price, Volume: l.Volume, Side: market.Ask, Kind: KindLadder})
	}
	return out
}

// tickOf 未配置 tick 的品种以档间距作为最小价格单位。
func (b *LadderBuilder) tickOf(inst market.Instrument) float64 {
	if inst.TickSize > 0 {
		return inst.TickSize
	}
	return b.cfg.Step
}

// effectiveStep 把档间距对齐到 tick，至少 1 tick，保证相邻档位价格严格不同。
func (b *LadderBuilder) effectiveStep(tick float64) float64 {
	step := market.RoundToTick(b.cfg.Step, tick, market.RoundNearest)
	if step < tick {
		step = tick
	}
	return step
}
