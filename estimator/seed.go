package estimator

import (
	"fmt"
	"math"
	"sort"

	"theo-quoter/market"
	"theo-quoter/stats"
)

// Seed 由盘口初始化：theo 取买一/卖一按量加权的中间价，margin 取半个价差。
func Seed(book market.Book, floor float64) (State, error) {
	if !book.HasBothSides() {
		return State{}, fmt.Errorf("seed %s: %w", book.Instrument, ErrBookNotReady)
	}
	s := State{
		Theo:   book.WeightedMid(),
		Margin: book.Spread() / 2,
	}
	return Params{MarginFloor: floor}.Clamp(s), nil
}

// SeedFromHistory 由历史成交初始化：剔除偏离均值 2σ 以外的成交，
// 按时间顺序做成交量折扣的 EMA，margin 取 σ。
func SeedFromHistory(ticks []market.Trade, alpha, floor float64) (State, error) {
	if len(ticks) < 2 {
		return State{}, fmt.Errorf("seed from %d ticks: %w", len(ticks), ErrInsufficientHistory)
	}
	if alpha <= 0 || alpha >= 1 {
		return State{}, fmt.Errorf("seed alpha %.4f must be in (0,1)", alpha)
	}
	sorted := make([]market.Trade, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	rs := stats.RollingStats{}.ObserveAll(market.Prices(sorted))
	mean, sd := rs.Mean, rs.Stdev()

	theo := math.NaN()
	for _, t := range sorted {
		if math.Abs(mean-t.Price) > 2*sd {
			continue
		}
		if math.IsNaN(theo) {
			theo = t.Price
			continue
		}
		discount := math.Pow(1-alpha, float64(t.Volume))
		theo = discount*theo + (1-discount)*t.Price
	}
	if math.IsNaN(theo) {
		theo = mean
	}
	return Params{MarginFloor: floor}.Clamp(State{Theo: theo, Margin: sd}), nil
}
