package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"theo-quoter/inventory"
	"theo-quoter/market"
	"theo-quoter/order"
)

var (
	ErrDisconnected      = errors.New("paper exchange disconnected")
	ErrUnknownInstrument = errors.New("unknown instrument")
)

// 拒单原因
const (
	ReasonUnknownInstrument = "unknown instrument"
	ReasonPaused            = "instrument paused"
	ReasonOffTick           = "price not on tick"
	ReasonInvalidVolume     = "volume must be > 0"
)

const maxHistory = 5000

type restingOrder struct {
	order     order.Order
	remaining int64
}

// Exchange 是线程安全的纸面交易所，同时实现行情读取与下单网关。
type Exchange struct {
	mu sync.Mutex

	cfg       Config
	rng       *rand.Rand
	fair      float64
	now       time.Time
	ids       []string
	insts     map[string]*market.Instrument
	books     map[string]market.Book
	resting   map[string][]*restingOrder
	ownQueue  map[string][]market.Trade
	tapeQueue map[string][]market.Trade
	history   map[string][]market.Trade
	tradeSeq  int64
	orderSeq  int64
	connected bool
	inv       *inventory.Book
}

// New 创建纸面交易所并执行预热步数。
func New(cfg Config) (*Exchange, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Exchange{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		fair:      cfg.StartPrice,
		now:       time.Unix(1700000000, 0).UTC(),
		ids:       []string{cfg.Primary, cfg.Linked},
		insts:     make(map[string]*market.Instrument, 2),
		books:     make(map[string]market.Book, 2),
		resting:   make(map[string][]*restingOrder, 2),
		ownQueue:  make(map[string][]market.Trade, 2),
		tapeQueue: make(map[string][]market.Trade, 2),
		history:   make(map[string][]market.Trade, 2),
		connected: true,
		inv:       inventory.NewBook(),
	}
	for _, id := range e.ids {
		e.insts[id] = &market.Instrument{ID: id, TickSize: cfg.TickSize}
	}
	e.rebuildBooks()
	for i := 0; i < cfg.WarmupSteps; i++ {
		e.step()
	}
	return e, nil
}

// Step 推进一步：公允价值随机游走、重建盘口、撮合被穿越的自有挂单、生成随机吃单成交。
func (e *Exchange) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.step()
}

// Run 按 interval 持续推进，直到 ctx 结束。
func (e *Exchange) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Step()
		}
	}
}

func (e *Exchange) step() {
	e.now = e.now.Add(time.Second)
	e.fair += e.rng.NormFloat64() * e.cfg.Volatility
	floor := e.cfg.TickSize * float64(e.cfg.HalfSpreadTicks+e.cfg.Depth+1)
	if e.fair < floor {
		e.fair = floor
	}
	e.rebuildBooks()
	for _, id := range e.ids {
		if e.insts[id].Paused {
			continue
		}
		e.crossResting(id)
		n := e.rng.Intn(e.cfg.TakerTrades + 1)
		for i := 0; i < n; i++ {
			side := market.Bid
			if e.rng.Intn(2) == 0 {
				side = market.Ask
			}
			e.takerTrade(id, side, 1+e.rng.Int63n(e.cfg.TakerMaxVolume))
		}
	}
}

func (e *Exchange) rebuildBooks() {
	tick := e.cfg.TickSize
	half := tick * float64(e.cfg.HalfSpreadTicks)
	for _, id := range e.ids {
		bid0 := market.RoundToTick(e.fair-half, tick, market.RoundDown)
		ask0 := market.RoundToTick(e.fair+half, tick, market.RoundUp)
		if ask0 <= bid0 {
			ask0 = market.OffsetTicks(bid0, tick, 1)
		}
		b := market.Book{
			Instrument: id,
			Timestamp:  e.now,
			Bids:       make([]market.PriceLevel, 0, e.cfg.Depth),
			Asks:       make([]market.PriceLevel, 0, e.cfg.Depth),
		}
		for i := 0; i < e.cfg.Depth; i++ {
			if p := market.OffsetTicks(bid0, tick, -int64(i)); p > 0 {
				b.Bids = append(b.Bids, market.PriceLevel{Price: p, Volume: e.levelVolume()})
			}
			b.Asks = append(b.Asks, market.PriceLevel{Price: market.OffsetTicks(ask0, tick, int64(i)), Volume: e.levelVolume()})
		}
		e.books[id] = b
	}
}

func (e *Exchange) levelVolume() int64 {
	return e.cfg.LevelVolume * (1 + e.rng.Int63n(3))
}

// crossResting 盘口移动穿越自有挂单时按挂单价成交。
func (e *Exchange) crossResting(id string) {
	b := e.books[id]
	bestBid, hasBid := b.BestBid()
	bestAsk, hasAsk := b.BestAsk()
	for _, r := range append([]*restingOrder(nil), e.resting[id]...) {
		switch r.order.Side {
		case market.Bid:
			if hasAsk && r.order.Price >= bestAsk.Price {
				e.fillResting(id, r, r.remaining, r.order.Price)
			}
		case market.Ask:
			if hasBid && r.order.Price <= bestBid.Price {
				e.fillResting(id, r, r.remaining, r.order.Price)
			}
		}
	}
}

// takerTrade 模拟一笔外部吃单：优先成交价格不劣于盘口最优价的自有挂单，剩余部分与盘口成交。
func (e *Exchange) takerTrade(id string, aggressor market.Side, vol int64) {
	b := e.books[id]
	var best market.PriceLevel
	var ok bool
	if aggressor == market.Bid {
		best, ok = b.BestAsk()
	} else {
		best, ok = b.BestBid()
	}
	for _, r := range e.restingFor(id, aggressor.Opposite()) {
		if vol == 0 {
			return
		}
		if ok {
			if aggressor == market.Bid && r.order.Price > best.Price {
				break
			}
			if aggressor == market.Ask && r.order.Price < best.Price {
				break
			}
		}
		q := min(vol, r.remaining)
		e.fillResting(id, r, q, r.order.Price)
		vol -= q
	}
	if vol > 0 && ok {
		e.tradeSeq++
		e.record(id, market.Trade{
			ID:         e.tradeSeq,
			Instrument: id,
			Price:      best.Price,
			Volume:     vol,
			Side:       aggressor,
			Timestamp:  e.now,
		})
	}
}

// restingFor 返回某侧挂单，按价格优先排序（买单从高到低，卖单从低到高）。
func (e *Exchange) restingFor(id string, side market.Side) []*restingOrder {
	var out []*restingOrder
	for _, r := range e.resting[id] {
		if r.order.Side == side {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if side == market.Bid {
			return out[i].order.Price > out[j].order.Price
		}
		return out[i].order.Price < out[j].order.Price
	})
	return out
}

func (e *Exchange) fillResting(id string, r *restingOrder, q int64, price float64) {
	e.ownFill(id, r.order.Side, q, price, r.order.Side.Opposite())
	r.remaining -= q
	if r.remaining > 0 {
		return
	}
	list := e.resting[id]
	for i, x := range list {
		if x == r {
			e.resting[id] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// ownFill 记录一笔自有成交；公开成交流中以相同 ID、主动方方向出现。
func (e *Exchange) ownFill(id string, ourSide market.Side, q int64, price float64, aggressor market.Side) {
	e.tradeSeq++
	own := market.Trade{
		ID:         e.tradeSeq,
		Instrument: id,
		Price:      price,
		Volume:     q,
		Side:       ourSide,
		Timestamp:  e.now,
	}
	e.ownQueue[id] = append(e.ownQueue[id], own)
	e.inv.Apply(own)
	tape := own
	tape.Side = aggressor
	e.record(id, tape)
}

func (e *Exchange) record(id string, t market.Trade) {
	e.tapeQueue[id] = append(e.tapeQueue[id], t)
	h := append(e.history[id], t)
	if len(h) > maxHistory {
		h = h[len(h)-maxHistory:]
	}
	e.history[id] = h
}

// Insert 校验并下发限价单：与盘口交叉的部分立即按盘口价成交，剩余挂单。
func (e *Exchange) Insert(ctx context.Context, o order.Order) (order.InsertResult, error) {
	if err := ctx.Err(); err != nil {
		return order.InsertResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return order.InsertResult{}, ErrDisconnected
	}
	inst, ok := e.insts[o.Instrument]
	switch {
	case !ok:
		return order.InsertResult{Reason: ReasonUnknownInstrument}, nil
	case inst.Paused:
		return order.InsertResult{Reason: ReasonPaused}, nil
	case o.Volume <= 0:
		return order.InsertResult{Reason: ReasonInvalidVolume}, nil
	case o.Price <= 0 || !market.OnTick(o.Price, inst.TickSize):
		return order.InsertResult{Reason: ReasonOffTick}, nil
	}
	e.orderSeq++
	o.ID = fmt.Sprintf("paper-%d", e.orderSeq)
	remaining := e.crossBook(o)
	if remaining > 0 {
		e.resting[o.Instrument] = append(e.resting[o.Instrument], &restingOrder{order: o, remaining: remaining})
	}
	return order.InsertResult{OrderID: o.ID, Success: true}, nil
}

// crossBook 逐档吃掉价格可成交的盘口数量，返回未成交数量。
func (e *Exchange) crossBook(o order.Order) int64 {
	b := e.books[o.Instrument]
	remaining := o.Volume
	levels := b.Asks
	if o.Side == market.Ask {
		levels = b.Bids
	}
	kept := levels[:0]
	for _, lvl := range levels {
		crosses := (o.Side == market.Bid && lvl.Price <= o.Price) || (o.Side == market.Ask && lvl.Price >= o.Price)
		if remaining > 0 && crosses {
			q := min(remaining, lvl.Volume)
			e.ownFill(o.Instrument, o.Side, q, lvl.Price, o.Side)
			remaining -= q
			lvl.Volume -= q
		}
		if lvl.Volume > 0 {
			kept = append(kept, lvl)
		}
	}
	if o.Side == market.Bid {
		b.Asks = kept
	} else {
		b.Bids = kept
	}
	e.books[o.Instrument] = b
	return remaining
}

// CancelAll 撤掉某品种全部自有挂单。
func (e *Exchange) CancelAll(ctx context.Context, instrument string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return ErrDisconnected
	}
	if _, ok := e.insts[instrument]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	delete(e.resting, instrument)
	return nil
}

func (e *Exchange) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Instruments 返回品种列表（含暂停状态）。
func (e *Exchange) Instruments(ctx context.Context) ([]market.Instrument, error) {
	if err := e.readable(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]market.Instrument, 0, len(e.ids))
	for _, id := range e.ids {
		out = append(out, *e.insts[id])
	}
	return out, nil
}

// Book 返回盘口快照副本。
func (e *Exchange) Book(ctx context.Context, instrument string) (market.Book, error) {
	if err := e.readable(ctx); err != nil {
		return market.Book{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[instrument]
	if !ok {
		return market.Book{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	b.Bids = append([]market.PriceLevel(nil), b.Bids...)
	b.Asks = append([]market.PriceLevel(nil), b.Asks...)
	return b, nil
}

// PollOwnTrades 返回并清空自上次调用以来的自有成交。
func (e *Exchange) PollOwnTrades(ctx context.Context, instrument string) ([]market.Trade, error) {
	return e.drain(ctx, instrument, e.ownQueue)
}

// PollMarketTrades 返回并清空自上次调用以来的公开成交（含自有成交）。
func (e *Exchange) PollMarketTrades(ctx context.Context, instrument string) ([]market.Trade, error) {
	return e.drain(ctx, instrument, e.tapeQueue)
}

// PollTrades 在同一把锁下取出自有成交与公开成交，两者不会被中途的撮合拆开。
func (e *Exchange) PollTrades(ctx context.Context, instrument string) (own, tape []market.Trade, err error) {
	if err := e.readable(ctx); err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.insts[instrument]; !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	own, tape = e.ownQueue[instrument], e.tapeQueue[instrument]
	delete(e.ownQueue, instrument)
	delete(e.tapeQueue, instrument)
	return own, tape, nil
}

func (e *Exchange) drain(ctx context.Context, instrument string, queue map[string][]market.Trade) ([]market.Trade, error) {
	if err := e.readable(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.insts[instrument]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	out := queue[instrument]
	delete(queue, instrument)
	return out, nil
}

// TradeHistory 返回最近的公开成交历史。
func (e *Exchange) TradeHistory(ctx context.Context, instrument string) ([]market.Trade, error) {
	if err := e.readable(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.insts[instrument]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	return append([]market.Trade(nil), e.history[instrument]...), nil
}

// Positions 返回各品种净仓位，未成交过的品种为 0。
func (e *Exchange) Positions(ctx context.Context) (map[string]int64, error) {
	pos, _, err := e.snapshot(ctx)
	return pos, err
}

// PnL 返回按盘口中间价标记的总盈亏。
func (e *Exchange) PnL(ctx context.Context) (float64, error) {
	_, pnl, err := e.snapshot(ctx)
	return pnl, err
}

func (e *Exchange) snapshot(ctx context.Context) (map[string]int64, float64, error) {
	if err := e.readable(ctx); err != nil {
		return nil, 0, err
	}
	e.mu.Lock()
	marks := make(map[string]float64, len(e.ids))
	for _, id := range e.ids {
		if b := e.books[id]; b.HasBothSides() {
			marks[id] = b.Mid()
		} else {
			marks[id] = e.fair
		}
	}
	ids := append([]string(nil), e.ids...)
	e.mu.Unlock()

	pos, pnl := e.inv.Snapshot(marks)
	for _, id := range ids {
		if _, ok := pos[id]; !ok {
			pos[id] = 0
		}
	}
	return pos, pnl, nil
}

func (e *Exchange) readable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.IsConnected() {
		return ErrDisconnected
	}
	return nil
}

// SetPaused 设置品种暂停状态；暂停的品种拒绝下单且不产生成交。
func (e *Exchange) SetPaused(instrument string, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.insts[instrument]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	inst.Paused = paused
	return nil
}

// SetConnected 模拟会话断开/恢复。
func (e *Exchange) SetConnected(connected bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = connected
}

// Fair 返回当前公允价值。
func (e *Exchange) Fair() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fair
}

// Resting 返回某品种当前自有挂单，Volume 为剩余数量。
func (e *Exchange) Resting(instrument string) []order.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]order.Order, 0, len(e.resting[instrument]))
	for _, r := range e.resting[instrument] {
		o := r.order
		o.Volume = r.remaining
		out = append(out, o)
	}
	return out
}

// SetBook 覆盖某品种盘口，测试用。下一次 Step 会重新生成。
func (e *Exchange) SetBook(b market.Book) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.insts[b.Instrument]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, b.Instrument)
	}
	b.Bids = append([]market.PriceLevel(nil), b.Bids...)
	b.Asks = append([]market.PriceLevel(nil), b.Asks...)
	e.books[b.Instrument] = b
	return nil
}
