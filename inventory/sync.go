package inventory

import (
	"sort"
	"sync"

	"theo-quoter/market"
)

// Book 按品种持有 Tracker，可定期调用以获取仓位与盈亏快照。
type Book struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
}

func NewBook() *Book {
	return &Book{trackers: make(map[string]*Tracker)}
}

// Tracker 返回品种对应的 Tracker，不存在时创建。
func (b *Book) Tracker(instrument string) *Tracker {
	b.mu.Lock()
	defer b.mu.Unlock()
	tr, ok := b.trackers[instrument]
	if !ok {
		tr = &Tracker{}
		b.trackers[instrument] = tr
	}
	return tr
}

// Apply 将一笔自有成交计入对应品种。
func (b *Book) Apply(t market.Trade) {
	b.Tracker(t.Instrument).Apply(t.Side, t.Volume, t.Price)
}

// Snapshot 返回各品种仓位与按 marks 标记的总盈亏；缺少标记价的品种按成本计价。
func (b *Book) Snapshot(marks map[string]float64) (map[string]int64, float64) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.trackers))
	for id := range b.trackers {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	sort.Strings(ids)

	positions := make(map[string]int64, len(ids))
	var pnl float64
	for _, id := range ids {
		tr := b.Tracker(id)
		mark, ok := marks[id]
		if !ok {
			mark = tr.AvgCost()
		}
		net, p := tr.Valuation(mark)
		positions[id] = net
		pnl += p
	}
	return positions, pnl
}
