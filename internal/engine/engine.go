// Package engine 串起行情读取、theo 估计、统计、挂单阶梯、机会单、限仓与订单同步。
// 所有估计与统计状态只由控制循环所在的 goroutine 持有。
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"theo-quoter/config"
	"theo-quoter/estimator"
	"theo-quoter/infrastructure/logger"
	"theo-quoter/inventory"
	"theo-quoter/market"
	"theo-quoter/order"
	"theo-quoter/risk"
	"theo-quoter/stats"
	"theo-quoter/strategy"
)

var (
	ErrNotStarted = errors.New("engine not started")
	ErrReadFailed = errors.New("market read failed")
)

// MarketReader 提供交易所会话的只读视图。
type MarketReader interface {
	IsConnected() bool
	Instruments(ctx context.Context) ([]market.Instrument, error)
	Book(ctx context.Context, instrument string) (market.Book, error)
	PollOwnTrades(ctx context.Context, instrument string) ([]market.Trade, error)
	PollMarketTrades(ctx context.Context, instrument string) ([]market.Trade, error)
	TradeHistory(ctx context.Context, instrument string) ([]market.Trade, error)
	Positions(ctx context.Context) (map[string]int64, error)
	PnL(ctx context.Context) (float64, error)
}

// TradePoller 是 MarketReader 的可选扩展：在同一把锁下取出某品种的自有成交与公开成交。
type TradePoller interface {
	PollTrades(ctx context.Context, instrument string) (own, tape []market.Trade, err error)
}

// OrderSyncer 执行每周期的撤单-重挂。
type OrderSyncer interface {
	Sync(ctx context.Context, instruments []market.Instrument, intents []strategy.QuoteIntent) order.Result
}

// Config 引擎配置
type Config struct {
	Primary         string
	Linked          string
	Interval        time.Duration
	Startup         Backoff
	SeedFromHistory bool
	SeedStats       bool
	HistoryAlpha    float64
	OwnIDMemory     int
	Tuning          config.Tuning
}

// ConfigFrom 由应用配置构造引擎配置。
func ConfigFrom(app config.AppConfig) Config {
	return Config{
		Primary:  app.Instruments.Primary,
		Linked:   app.Instruments.Linked,
		Interval: app.Loop.Interval,
		Startup: Backoff{
			Attempts: app.Loop.StartupAttempts,
			Initial:  app.Loop.StartupBackoff,
			Max:      app.Loop.StartupMaxBackoff,
		},
		SeedFromHistory: app.Loop.SeedFromHistory,
		SeedStats:       app.Loop.SeedStats,
		HistoryAlpha:    app.Loop.HistoryAlpha,
		OwnIDMemory:     app.Loop.OwnIDMemory,
		Tuning:          app.Tuning(),
	}
}

// Components 引擎依赖组件
type Components struct {
	Reader    MarketReader
	Orders    OrderSyncer
	Logger    *logger.Logger
	Observers []Observer
	Tuning    <-chan config.Tuning // 热更新参数，在周期之间应用
	Clock     func() time.Time
}

// Engine 是单 goroutine 的报价控制循环。
type Engine struct {
	cfg       Config
	reader    MarketReader
	orders    OrderSyncer
	log       *logger.Logger
	observers []Observer
	tuningCh  <-chan config.Tuning
	now       func() time.Time

	params      estimator.Params
	ladder      *strategy.LadderBuilder
	opportunist *strategy.Opportunist
	throttle    risk.Throttler

	state   estimator.State
	stats   stats.RollingStats
	dedup   *Dedup
	insts   map[string]market.Instrument
	probes  []Probe
	started bool
	cycle   int64
}

// New 创建引擎
func New(cfg Config, c Components) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if c.Reader == nil {
		return nil, errors.New("invalid components: market reader is required")
	}
	if c.Orders == nil {
		return nil, errors.New("invalid components: order syncer is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.HistoryAlpha <= 0 {
		cfg.HistoryAlpha = 0.03
	}
	e := &Engine{
		cfg:       cfg,
		reader:    c.Reader,
		orders:    c.Orders,
		log:       c.Logger,
		observers: c.Observers,
		tuningCh:  c.Tuning,
		now:       c.Clock,
		dedup:     NewDedup(cfg.OwnIDMemory),
		insts:     make(map[string]market.Instrument, 2),
	}
	if e.log == nil {
		e.log = logger.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if err := e.ApplyTuning(cfg.Tuning); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return e, nil
}

func validateConfig(cfg Config) error {
	if cfg.Primary == "" || cfg.Linked == "" {
		return errors.New("primary and linked instruments are required")
	}
	if cfg.Primary == cfg.Linked {
		return fmt.Errorf("primary and linked must differ: %s", cfg.Primary)
	}
	if cfg.HistoryAlpha < 0 || cfg.HistoryAlpha >= 1 {
		return errors.New("history alpha must be in (0,1)")
	}
	return nil
}

// ApplyTuning 替换估计参数、阶梯、机会单与限仓配置；校验失败时保持原配置。
func (e *Engine) ApplyTuning(t config.Tuning) error {
	if err := t.Validate(); err != nil {
		return err
	}
	ladder, err := strategy.NewLadderBuilder(t.Ladder)
	if err != nil {
		return err
	}
	opp, err := strategy.NewOpportunist(t.Opportunist)
	if err != nil {
		return err
	}
	e.params = t.Estimator
	e.ladder = ladder
	e.opportunist = opp
	e.throttle = t.Limit
	e.cfg.Tuning = t
	if e.started {
		e.state = e.params.Clamp(e.state)
	}
	return nil
}

// Register 追加观察者，须在 Run 之前调用。
func (e *Engine) Register(o Observer) {
	if o != nil {
		e.observers = append(e.observers, o)
	}
}

// Estimate 返回当前 theo/margin。
func (e *Engine) Estimate() estimator.State { return e.state }

// Stats 返回当前成交价统计。
func (e *Engine) Stats() stats.RollingStats { return e.stats }

// Probes 返回启动阶段各等待步骤的结果。
func (e *Engine) Probes() []Probe { return append([]Probe(nil), e.probes...) }

// Tuning 返回当前生效的参数。
func (e *Engine) Tuning() config.Tuning { return e.cfg.Tuning }

// Start 等待品种列表与 primary 双边盘口就绪，然后初始化 theo 与统计。
func (e *Engine) Start(ctx context.Context) error {
	e.log.Info("quoter starting",
		zap.String("primary", e.cfg.Primary),
		zap.String("linked", e.cfg.Linked),
		zap.Duration("interval", e.cfg.Interval))

	p, err := waitReady(ctx, "instruments", e.cfg.Startup, e.probeInstruments)
	e.probes = append(e.probes, p)
	if err != nil {
		return err
	}
	e.log.Info("instruments ready", zap.Int("attempts", p.Attempts))

	var book market.Book
	p, err = waitReady(ctx, "primary book", e.cfg.Startup, func(ctx context.Context) error {
		b, err := e.reader.Book(ctx, e.cfg.Primary)
		if err != nil {
			return err
		}
		if !b.HasBothSides() {
			return fmt.Errorf("%s: %w", e.cfg.Primary, errBookOneSided)
		}
		book = b
		return nil
	})
	e.probes = append(e.probes, p)
	if err != nil {
		return err
	}

	var history []market.Trade
	if e.cfg.SeedFromHistory || e.cfg.SeedStats {
		history, err = e.reader.TradeHistory(ctx, e.cfg.Primary)
		if err != nil {
			return fmt.Errorf("load %s history: %w", e.cfg.Primary, err)
		}
		for _, t := range history {
			e.dedup.Advance(e.cfg.Primary, t.ID)
		}
	}

	seeded := false
	if e.cfg.SeedFromHistory {
		s, err := estimator.SeedFromHistory(history, e.cfg.HistoryAlpha, e.params.MarginFloor)
		if err == nil {
			e.state = s
			seeded = true
		} else {
			e.log.Warn("history seed unavailable, seeding from book", zap.Error(err))
		}
	}
	if !seeded {
		s, err := estimator.Seed(book, e.params.MarginFloor)
		if err != nil {
			return err
		}
		e.state = s
	}
	if e.cfg.SeedStats {
		e.stats = e.stats.ObserveAll(market.Prices(history))
	}
	e.started = true
	e.log.Info("estimator seeded",
		zap.Float64("theo", e.state.Theo),
		zap.Float64("margin", e.state.Margin),
		zap.Int("history", len(history)),
		zap.Int("stats_samples", e.stats.N))
	return nil
}

func (e *Engine) probeInstruments(ctx context.Context) error {
	list, err := e.reader.Instruments(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return errNoInstruments
	}
	return e.updateInstruments(list)
}

func (e *Engine) updateInstruments(list []market.Instrument) error {
	found := make(map[string]market.Instrument, len(list))
	for _, inst := range list {
		found[inst.ID] = inst
	}
	for _, id := range []string{e.cfg.Primary, e.cfg.Linked} {
		inst, ok := found[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownInstrument, id)
		}
		e.insts[id] = inst
	}
	return nil
}

// Run 按固定周期执行，直到 ctx 结束；热更新参数在两个周期之间应用。
func (e *Engine) Run(ctx context.Context) error {
	if !e.started {
		return ErrNotStarted
	}
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.Info("quoter stopping", zap.Int64("cycles", e.cycle))
			return ctx.Err()
		case t, ok := <-e.tuningCh:
			if !ok {
				e.tuningCh = nil
				continue
			}
			if err := e.ApplyTuning(t); err != nil {
				e.log.Warn("tuning rejected", zap.Error(err))
				continue
			}
			e.log.Info("tuning applied",
				zap.Float64("ladder_step", t.Ladder.Step),
				zap.Int64("max_position", t.Limit.MaxAbs))
		case <-ticker.C:
			if _, err := e.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.log.LogError(err, map[string]interface{}{"cycle": e.cycle})
			}
		}
	}
}

type legSnapshot struct {
	book   market.Book
	own    []market.Trade
	trades []market.Trade
}

type snapshot struct {
	positions map[string]int64
	pnl       float64
	primary   legSnapshot
	linked    legSnapshot
}

func (e *Engine) read(ctx context.Context) (snapshot, error) {
	var snap snapshot
	list, err := e.reader.Instruments(ctx)
	if err != nil {
		return snap, fmt.Errorf("instruments: %w", err)
	}
	if err := e.updateInstruments(list); err != nil {
		return snap, err
	}
	if snap.positions, err = e.reader.Positions(ctx); err != nil {
		return snap, fmt.Errorf("positions: %w", err)
	}
	if snap.pnl, err = e.reader.PnL(ctx); err != nil {
		return snap, fmt.Errorf("pnl: %w", err)
	}
	if snap.primary, err = e.readLeg(ctx, e.cfg.Primary); err != nil {
		return snap, err
	}
	if snap.linked, err = e.readLeg(ctx, e.cfg.Linked); err != nil {
		return snap, err
	}
	return snap, nil
}

func (e *Engine) readLeg(ctx context.Context, id string) (legSnapshot, error) {
	var leg legSnapshot
	var err error
	if leg.book, err = e.reader.Book(ctx, id); err != nil {
		return leg, fmt.Errorf("book %s: %w", id, err)
	}
	if p, ok := e.reader.(TradePoller); ok {
		if leg.own, leg.trades, err = p.PollTrades(ctx, id); err != nil {
			return leg, fmt.Errorf("trades %s: %w", id, err)
		}
		return leg, nil
	}
	// 先取公开成交再取自有成交：两次调用之间落地的成交只会先出现在自有队列，
	// 其公开副本下个周期由 Dedup 记住的自有 ID 剔除。
	if leg.trades, err = e.reader.PollMarketTrades(ctx, id); err != nil {
		return leg, fmt.Errorf("market trades %s: %w", id, err)
	}
	if leg.own, err = e.reader.PollOwnTrades(ctx, id); err != nil {
		return leg, fmt.Errorf("own trades %s: %w", id, err)
	}
	return leg, nil
}

// RunCycle 执行一个完整周期。会话断开时跳过且不下单；读取失败时跳过并返回包装了 ErrReadFailed 的错误。
func (e *Engine) RunCycle(ctx context.Context) (Report, error) {
	if !e.started {
		return Report{}, ErrNotStarted
	}
	start := e.now()
	e.cycle++
	rep := Report{Cycle: e.cycle, Timestamp: start, Theo: e.state.Theo, Margin: e.state.Margin, Stats: e.stats}

	if !e.reader.IsConnected() {
		rep.Skipped = true
		rep.SkipReason = "disconnected"
		e.finish(&rep, start)
		return rep, nil
	}

	snap, err := e.read(ctx)
	rep.ReadTime = e.now().Sub(start)
	if err != nil {
		rep.Skipped = true
		rep.SkipReason = "read failed"
		rep.Err = err.Error()
		e.finish(&rep, start)
		return rep, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}

	own := e.dedup.Own(append(append([]market.Trade(nil), snap.primary.own...), snap.linked.own...))
	primaryTape, primaryTicks := e.dedup.Tape(e.cfg.Primary, snap.primary.trades)
	linkedTicks := e.dedup.Market(e.cfg.Linked, snap.linked.trades)
	ticks := append(append([]market.Trade(nil), primaryTicks...), linkedTicks...)

	next, adjs := estimator.UpdateTraced(e.params, e.state, own, ticks)
	if !math.IsNaN(next.Theo) && !math.IsInf(next.Theo, 0) {
		e.state = next
	} else {
		e.log.LogRisk("estimate_rejected", map[string]interface{}{"theo": next.Theo, "margin": next.Margin})
	}
	// 统计量取主品种全部新成交价，自有成交也是公开成交的一部分
	e.stats = e.stats.ObserveAll(market.Prices(primaryTape))
	for _, t := range own {
		e.log.LogTrade("own_fill", map[string]interface{}{
			"id":         t.ID,
			"instrument": t.Instrument,
			"side":       t.Side.String(),
			"price":      t.Price,
			"volume":     t.Volume,
		})
	}

	delta := inventory.Net(snap.positions, e.cfg.Primary, e.cfg.Linked)
	primary, linked := e.insts[e.cfg.Primary], e.insts[e.cfg.Linked]

	var intents []strategy.QuoteIntent
	if q, ok := e.opportunist.Decide(primary, delta, snap.primary.book, e.stats); ok {
		intents = append(intents, q)
	}
	intents = append(intents, e.ladder.Build(linked, e.state.Theo, e.state.Margin, snap.linked.book)...)
	proposed := len(intents)
	intents = e.throttle.Throttle(delta, intents)
	if len(intents) < proposed {
		e.log.LogRisk("position_throttle", map[string]interface{}{
			"delta":    delta,
			"proposed": proposed,
			"kept":     len(intents),
		})
	}

	rep.Sync = e.orders.Sync(ctx, []market.Instrument{primary, linked}, intents)

	rep.Theo, rep.Margin, rep.Stats = e.state.Theo, e.state.Margin, e.stats
	rep.Delta = delta
	rep.Positions = snap.positions
	rep.PnL = snap.pnl
	rep.Primary = topOf(snap.primary.book)
	rep.Linked = topOf(snap.linked.book)
	rep.OwnTrades = own
	rep.MarketTrades = len(ticks)
	rep.Adjustments = adjs
	rep.Proposed = proposed
	rep.Intents = intents

	e.log.LogEstimate(e.state.Theo, e.state.Margin, map[string]interface{}{
		"cycle":     e.cycle,
		"delta":     delta,
		"own":       len(own),
		"ticks":     len(ticks),
		"submitted": len(rep.Sync.Submitted),
		"rejected":  len(rep.Sync.Rejected),
	})
	e.finish(&rep, start)
	return rep, nil
}

func (e *Engine) finish(rep *Report, start time.Time) {
	rep.Duration = e.now().Sub(start)
	for _, o := range e.observers {
		o.OnCycle(*rep)
	}
}
