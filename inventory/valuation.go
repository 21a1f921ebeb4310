package inventory

// Valuation 基于标记价计算净仓位与总盈亏（已实现 + 未实现）。
func (t *Tracker) Valuation(mark float64) (net int64, pnl float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	net = t.net
	pnl = t.realized
	if t.net != 0 {
		pnl += (mark - t.cost) * float64(t.net)
	}
	return
}

// Net 对给定品种的仓位求和；未给出品种时对全部求和。
func Net(positions map[string]int64, ids ...string) int64 {
	var n int64
	if len(ids) == 0 {
		for _, v := range positions {
			n += v
		}
		return n
	}
	for _, id := range ids {
		n += positions[id]
	}
	return n
}
