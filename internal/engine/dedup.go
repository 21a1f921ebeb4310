package engine

import "theo-quoter/market"

// Dedup 跨周期去重：公开成交按品种记录已处理的最大 ID，
// 自有成交 ID 保存在有界集合中，用于剔除公开成交流里的同一笔。
type Dedup struct {
	hwm   map[string]int64
	own   map[int64]struct{}
	order []int64
	cap   int
}

func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Dedup{
		hwm: make(map[string]int64),
		own: make(map[int64]struct{}, capacity),
		cap: capacity,
	}
}

// Own 过滤已处理过的自有成交并记录新的 ID。
func (d *Dedup) Own(trades []market.Trade) []market.Trade {
	out := trades[:0:0]
	for _, t := range trades {
		if _, seen := d.own[t.ID]; seen {
			continue
		}
		d.remember(t.ID)
		out = append(out, t)
	}
	return out
}

// Market 丢弃 ID 不大于水位或属于自有成交的公开成交，并推进水位。
func (d *Dedup) Market(instrument string, trades []market.Trade) []market.Trade {
	_, others := d.Tape(instrument, trades)
	return others
}

// Tape 推进水位并返回两份结果：fresh 为水位之上的全部新成交（含自有成交），
// others 为其中剔除自有成交后的部分。
func (d *Dedup) Tape(instrument string, trades []market.Trade) (fresh, others []market.Trade) {
	hwm := d.hwm[instrument]
	next := hwm
	fresh, others = trades[:0:0], trades[:0:0]
	for _, t := range trades {
		if t.ID <= hwm {
			continue
		}
		if t.ID > next {
			next = t.ID
		}
		fresh = append(fresh, t)
		if _, own := d.own[t.ID]; !own {
			others = append(others, t)
		}
	}
	d.hwm[instrument] = next
	return fresh, others
}

// Advance 把水位推进到 id（不会后退）。
func (d *Dedup) Advance(instrument string, id int64) {
	if id > d.hwm[instrument] {
		d.hwm[instrument] = id
	}
}

// HighWater 返回品种当前水位。
func (d *Dedup) HighWater(instrument string) int64 {
	return d.hwm[instrument]
}

func (d *Dedup) remember(id int64) {
	if len(d.order) >= d.cap {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.own, oldest)
	}
	d.own[id] = struct{}{}
	d.order = append(d.order, id)
}
