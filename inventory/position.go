// Package inventory 维护各品种仓位、持仓均价与已实现盈亏。
package inventory

import (
	"sync"

	"theo-quoter/market"
)

// Tracker 维护单个品种的净仓位。
type Tracker struct {
	mu       sync.RWMutex
	net      int64
	cost     float64
	realized float64
}

// Apply 根据一笔成交调整仓位：同向加仓按加权平均更新成本，反向减仓计入已实现盈亏，
// 穿越零仓位时剩余部分以成交价开新仓。
func (t *Tracker) Apply(side market.Side, volume int64, price float64) {
	if volume <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delta := side.Sign() * volume
	switch {
	case t.net == 0 || sameSign(t.net, delta):
		total := t.cost*float64(abs(t.net)) + price*float64(volume)
		t.net += delta
		t.cost = total / float64(abs(t.net))
	default:
		closing := min(abs(delta), abs(t.net))
		dir := float64(sign(t.net))
		t.realized += float64(closing) * (price - t.cost) * dir
		t.net += delta
		switch {
		case t.net == 0:
			t.cost = 0
		case !sameSign(t.net, -delta):
			// 反手
			t.cost = price
		}
	}
}

func (t *Tracker) NetExposure() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.net
}

func (t *Tracker) AvgCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cost
}

func (t *Tracker) Realized() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.realized
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
