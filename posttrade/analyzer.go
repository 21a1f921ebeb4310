// Package posttrade 以成交后若干周期的 theo 衡量自有成交的 markout 与逆向选择。
package posttrade

import (
	"sync"
	"time"

	"theo-quoter/internal/engine"
	"theo-quoter/market"
)

// FillRecord 一笔自有成交及其成交后的 theo 观察值
type FillRecord struct {
	TradeID    int64
	Instrument string
	Side       market.Side
	Price      float64
	Volume     int64
	FillTime   time.Time
	FillCycle  int64
	TheoShort  float64
	TheoLong   float64
	hasShort   bool
	hasLong    bool
}

// Markout 按方向计算成交后 theo 相对成交价的收益：买入时 theo 上涨为正。
func (r FillRecord) Markout(theo float64) float64 {
	return float64(r.Side.Sign()) * (theo - r.Price)
}

// Stats 汇总统计
type Stats struct {
	TotalFills           int
	AnalyzedFills        int     // 已观察到长周期 theo 的成交数
	AdverseSelectionRate float64 // 短周期 markout 为负的占比
	AvgMarkoutShort      float64 // 按数量加权
	AvgMarkoutLong       float64
}

// Config 观察窗口（以周期计）
type Config struct {
	ShortCycles int
	LongCycles  int
	MaxRecords  int
}

func DefaultConfig() Config {
	return Config{ShortCycles: 1, LongCycles: 5, MaxRecords: 10000}
}

// Analyzer 作为 engine.Observer 记录成交并在后续周期回填 theo。
type Analyzer struct {
	cfg   Config
	mu    sync.RWMutex
	fills []*FillRecord
}

func NewAnalyzer(cfg Config) *Analyzer {
	d := DefaultConfig()
	if cfg.ShortCycles <= 0 {
		cfg.ShortCycles = d.ShortCycles
	}
	if cfg.LongCycles < cfg.ShortCycles {
		cfg.LongCycles = cfg.ShortCycles
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = d.MaxRecords
	}
	return &Analyzer{cfg: cfg}
}

// OnCycle 先回填到期记录，再登记本周期的新成交。跳过的周期不产生 theo 观察值。
func (a *Analyzer) OnCycle(r engine.Report) {
	if r.Skipped {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, f := range a.fills {
		age := r.Cycle - f.FillCycle
		if !f.hasShort && age >= int64(a.cfg.ShortCycles) {
			f.TheoShort, f.hasShort = r.Theo, true
		}
		if !f.hasLong && age >= int64(a.cfg.LongCycles) {
			f.TheoLong, f.hasLong = r.Theo, true
		}
	}
	for _, t := range r.OwnTrades {
		at := t.Timestamp
		if at.IsZero() {
			at = r.Timestamp
		}
		a.fills = append(a.fills, &FillRecord{
			TradeID:    t.ID,
			Instrument: t.Instrument,
			Side:       t.Side,
			Price:      t.Price,
			Volume:     t.Volume,
			FillTime:   at,
			FillCycle:  r.Cycle,
		})
	}
	if over := len(a.fills) - a.cfg.MaxRecords; over > 0 {
		a.fills = append(a.fills[:0:0], a.fills[over:]...)
	}
}

// Stats 计算当前统计
func (a *Analyzer) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Stats{TotalFills: len(a.fills)}
	var adverse, short int
	var volShort, volLong float64
	var sumShort, sumLong float64
	for _, f := range a.fills {
		v := float64(f.Volume)
		if f.hasShort {
			short++
			m := f.Markout(f.TheoShort)
			sumShort += m * v
			volShort += v
			if m < 0 {
				adverse++
			}
		}
		if f.hasLong {
			s.AnalyzedFills++
			sumLong += f.Markout(f.TheoLong) * v
			volLong += v
		}
	}
	if short > 0 {
		s.AdverseSelectionRate = float64(adverse) / float64(short)
	}
	if volShort > 0 {
		s.AvgMarkoutShort = sumShort / volShort
	}
	if volLong > 0 {
		s.AvgMarkoutLong = sumLong / volLong
	}
	return s
}

// Fills 返回记录副本
func (a *Analyzer) Fills() []FillRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]FillRecord, 0, len(a.fills))
	for _, f := range a.fills {
		out = append(out, *f)
	}
	return out
}
