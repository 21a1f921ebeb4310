package order

import (
	"sort"
	"sync"
)

// Book 记录当前挂单（按 ClientID），撤单后按品种清空。
type Book struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func NewBook() *Book {
	return &Book{orders: make(map[string]Order)}
}

func (b *Book) Set(o Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[o.ClientID] = o
}

func (b *Book) Get(clientID string) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[clientID]
	return o, ok
}

// ClearInstrument 移除某品种的全部记录并返回移除数量。
func (b *Book) ClearInstrument(instrument string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, o := range b.orders {
		if o.Instrument == instrument {
			delete(b.orders, id)
			n++
		}
	}
	return n
}

// List 返回全部订单（拷贝），按品种与价格排序。
func (b *Book) List() []Order {
	b.mu.RLock()
	res := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		res = append(res, o)
	}
	b.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if res[i].Instrument != res[j].Instrument {
			return res[i].Instrument < res[j].Instrument
		}
		return res[i].Price < res[j].Price
	})
	return res
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}
