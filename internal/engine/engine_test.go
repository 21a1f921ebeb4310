package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theo-quoter/config"
	"theo-quoter/estimator"
	"theo-quoter/market"
	"theo-quoter/order"
	"theo-quoter/risk"
	"theo-quoter/sim"
	"theo-quoter/strategy"
)

// fakeReader 是可编排的行情源，每次 Poll 返回并清空预置队列。
type fakeReader struct {
	mu        sync.Mutex
	connected bool
	insts     []market.Instrument
	instErrs  []error
	instCalls int
	books     map[string]market.Book
	bookErr   error
	own       map[string][]market.Trade
	tape      map[string][]market.Trade
	history   map[string][]market.Trade
	positions map[string]int64
	pnl       float64
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		connected: true,
		insts: []market.Instrument{
			{ID: "P", TickSize: 0.1},
			{ID: "L", TickSize: 0.1},
		},
		books: map[string]market.Book{
			"P": bookOf("P", 99.9, 100.1),
			"L": bookOf("L", 99.9, 100.1),
		},
		own:       map[string][]market.Trade{},
		tape:      map[string][]market.Trade{},
		history:   map[string][]market.Trade{},
		positions: map[string]int64{},
	}
}

func bookOf(id string, bid, ask float64) market.Book {
	return market.Book{
		Instrument: id,
		Bids:       []market.PriceLevel{{Price: bid, Volume: 10}},
		Asks:       []market.PriceLevel{{Price: ask, Volume: 10}},
	}
}

func (f *fakeReader) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeReader) Instruments(ctx context.Context) ([]market.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instCalls++
	if len(f.instErrs) > 0 {
		err := f.instErrs[0]
		f.instErrs = f.instErrs[1:]
		return nil, err
	}
	return append([]market.Instrument(nil), f.insts...), nil
}

func (f *fakeReader) Book(ctx context.Context, id string) (market.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookErr != nil {
		return market.Book{}, f.bookErr
	}
	return f.books[id], nil
}

func (f *fakeReader) PollOwnTrades(ctx context.Context, id string) ([]market.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.own[id]
	delete(f.own, id)
	return out, nil
}

func (f *fakeReader) PollMarketTrades(ctx context.Context, id string) ([]market.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.tape[id]
	delete(f.tape, id)
	return out, nil
}

func (f *fakeReader) TradeHistory(ctx context.Context, id string) ([]market.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]market.Trade(nil), f.history[id]...), nil
}

func (f *fakeReader) Positions(ctx context.Context) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.positions))
	for k, v := range f.positions {
		out[k] = v
	}
	return out, nil
}

func (f *fakeReader) PnL(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pnl, nil
}

// recordingSyncer 记录每次同步的意图，不访问交易所。
type recordingSyncer struct {
	mu    sync.Mutex
	calls [][]strategy.QuoteIntent
}

func (r *recordingSyncer) Sync(ctx context.Context, insts []market.Instrument, intents []strategy.QuoteIntent) order.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]strategy.QuoteIntent(nil), intents...))
	return order.Result{Submitted: make([]order.Order, len(intents))}
}

func (r *recordingSyncer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func testTuning() config.Tuning {
	return config.Tuning{
		Estimator:   estimator.DefaultParams(),
		Ladder:      strategy.DefaultLadderConfig(),
		Opportunist: strategy.DefaultOpportunistConfig(),
		Limit:       risk.PositionLimit{MaxAbs: 200},
	}
}

func testConfig() Config {
	return Config{
		Primary:      "P",
		Linked:       "L",
		Interval:     5 * time.Millisecond,
		Startup:      Backoff{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond},
		HistoryAlpha: 0.03,
		OwnIDMemory:  64,
		Tuning:       testTuning(),
	}
}

func alternating(id string, lo, hi float64, n int) []market.Trade {
	out := make([]market.Trade, 0, n)
	for i := 0; i < n; i++ {
		p := lo
		if i%2 == 1 {
			p = hi
		}
		out = append(out, market.Trade{ID: int64(i + 1), Instrument: id, Price: p, Volume: 1, Side: market.Bid})
	}
	return out
}

func TestNewValidates(t *testing.T) {
	r := newFakeReader()
	s := &recordingSyncer{}

	_, err := New(Config{Primary: "P", Tuning: testTuning()}, Components{Reader: r, Orders: s})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Linked = "P"
	_, err = New(cfg, Components{Reader: r, Orders: s})
	assert.Error(t, err)

	_, err = New(testConfig(), Components{Orders: s})
	assert.Error(t, err)
	_, err = New(testConfig(), Components{Reader: r})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Tuning.Ladder.VolumeCurve = nil
	_, err = New(cfg, Components{Reader: r, Orders: s})
	assert.Error(t, err)

	e, err := New(testConfig(), Components{Reader: r, Orders: s})
	require.NoError(t, err)
	_, err = e.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, e.Run(context.Background()), ErrNotStarted)
}

func TestStartUnknownInstrumentIsFatal(t *testing.T) {
	r := newFakeReader()
	r.insts = r.insts[:1]
	e, err := New(testConfig(), Components{Reader: r, Orders: &recordingSyncer{}})
	require.NoError(t, err)

	err = e.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownInstrument)
	assert.NotErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 1, r.instCalls)
	probes := e.Probes()
	require.Len(t, probes, 1)
	assert.Equal(t, NotReady, probes[0].Readiness)
}

func TestStartRetriesUntilInstrumentsListed(t *testing.T) {
	r := newFakeReader()
	boom := errors.New("gateway warming up")
	r.instErrs = []error{boom, boom}
	e, err := New(testConfig(), Components{Reader: r, Orders: &recordingSyncer{}})
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	probes := e.Probes()
	require.Len(t, probes, 2)
	assert.Equal(t, Ready, probes[0].Readiness)
	assert.Equal(t, 3, probes[0].Attempts)
	assert.Equal(t, Ready, probes[1].Readiness)

	// 盘口 99.9×10 / 100.1×10
	assert.InDelta(t, 100.0, e.Estimate().Theo, 1e-9)
}

func TestStartEmptyInstrumentListNotReady(t *testing.T) {
	r := newFakeReader()
	r.insts = nil
	e, err := New(testConfig(), Components{Reader: r, Orders: &recordingSyncer{}})
	require.NoError(t, err)

	err = e.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, errNoInstruments)
	assert.Equal(t, 3, r.instCalls)
}

func TestStartOneSidedBookNotReady(t *testing.T) {
	r := newFakeReader()
	r.books["P"] = market.Book{Instrument: "P", Bids: []market.PriceLevel{{Price: 99.9, Volume: 1}}}
	e, err := New(testConfig(), Components{Reader: r, Orders: &recordingSyncer{}})
	require.NoError(t, err)

	err = e.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, errBookOneSided)
	probes := e.Probes()
	require.Len(t, probes, 2)
	assert.Equal(t, "primary book", probes[1].Name)
	assert.Equal(t, 3, probes[1].Attempts)
}

func TestStartDisconnectedExchangeWrapsLastError(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.WarmupSteps = 0
	ex, err := sim.New(cfg)
	require.NoError(t, err)
	ex.SetConnected(false)

	ecfg := testConfig()
	ecfg.Primary, ecfg.Linked = cfg.Primary, cfg.Linked
	e, err := New(ecfg, Components{Reader: ex, Orders: &recordingSyncer{}})
	require.NoError(t, err)

	err = e.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, sim.ErrDisconnected)
}

func TestStartSeedsFromHistory(t *testing.T) {
	r := newFakeReader()
	r.history["P"] = alternating("P", 49, 51, 40)
	cfg := testConfig()
	cfg.SeedFromHistory = true
	cfg.SeedStats = true
	e, err := New(cfg, Components{Reader: r, Orders: &recordingSyncer{}})
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	assert.InDelta(t, 50, e.Estimate().Theo, 1.0)
	assert.GreaterOrEqual(t, e.Estimate().Margin, cfg.Tuning.Estimator.MarginFloor)
	assert.Equal(t, 40, e.Stats().N)
	assert.InDelta(t, 50, e.Stats().Mean, 1e-9)
	assert.Equal(t, int64(40), e.dedup.HighWater("P"))

	// 历史里已有的成交不会再进入统计
	r.tape["P"] = r.history["P"][30:]
	rep, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.MarketTrades)
	assert.Equal(t, 40, e.Stats().N)
}

func TestStartFallsBackToBookWithoutHistory(t *testing.T) {
	r := newFakeReader()
	cfg := testConfig()
	cfg.SeedFromHistory = true
	e, err := New(cfg, Components{Reader: r, Orders: &recordingSyncer{}})
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	assert.InDelta(t, 100.0, e.Estimate().Theo, 1e-9)
}

func TestRunCycleOpportunistBuysBackShort(t *testing.T) {
	r := newFakeReader()
	r.history["P"] = alternating("P", 49, 51, 20)
	r.books["P"] = bookOf("P", 47.0, 47.5)
	r.books["L"] = bookOf("L", 47.0, 47.6)
	r.positions = map[string]int64{"P": -12}
	cfg := testConfig()
	cfg.SeedStats = true
	s := &recordingSyncer{}
	e, err := New(cfg, Components{Reader: r, Orders: s})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	rep, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	require.False(t, rep.Skipped)
	assert.Equal(t, int64(-12), rep.Delta)
	require.NotEmpty(t, rep.Intents)

	first := rep.Intents[0]
	assert.Equal(t, strategy.KindOpportunist, first.Kind)
	assert.Equal(t, "P", first.Instrument)
	assert.Equal(t, market.Bid, first.Side)
	assert.InDelta(t, 48.0, first.Price, 1e-9)
	assert.Equal(t, int64(12), first.Volume)
	assert.Equal(t, 1, rep.Count(strategy.KindOpportunist))

	for _, q := range rep.Intents[1:] {
		assert.Equal(t, strategy.KindLadder, q.Kind)
		assert.Equal(t, "L", q.Instrument)
	}
	require.Equal(t, 1, s.count())
	assert.Equal(t, rep.Intents, s.calls[0])
}

func TestRunCycleThrottlesTowardsLimit(t *testing.T) {
	r := newFakeReader()
	r.positions = map[string]int64{"P": 100, "L": 90}
	cfg := testConfig()
	cfg.Tuning.Limit = risk.PositionLimit{MaxAbs: 200}
	e, err := New(cfg, Components{Reader: r, Orders: &recordingSyncer{}})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	rep, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(190), rep.Delta)
	assert.Equal(t, 8, rep.Proposed)

	var bought int64
	for _, q := range rep.Intents {
		if q.Side == market.Bid {
			bought += q.Volume
		}
	}
	assert.Equal(t, int64(10), bought)
}

func TestRunCycleDisconnectedSkips(t *testing.T) {
	r := newFakeReader()
	s := &recordingSyncer{}
	var got []Report
	e, err := New(testConfig(), Components{
		Reader:    r,
		Orders:    s,
		Observers: []Observer{ObserverFunc(func(rep Report) { got = append(got, rep) })},
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	before := e.Estimate()

	r.connected = false
	rep, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Equal(t, "disconnected", rep.SkipReason)
	assert.Equal(t, 0, s.count())
	assert.Equal(t, before, e.Estimate())
	require.Len(t, got, 1)
	assert.True(t, got[0].Skipped)
}

func TestRunCycleReadFailureSkips(t *testing.T) {
	r := newFakeReader()
	s := &recordingSyncer{}
	e, err := New(testConfig(), Components{Reader: r, Orders: s})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	boom := errors.New("book feed stalled")
	r.bookErr = boom
	rep, err := e.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrReadFailed)
	assert.ErrorIs(t, err, boom)
	assert.True(t, rep.Skipped)
	assert.Contains(t, rep.Err, "book feed stalled")
	assert.Equal(t, 0, s.count())

	r.bookErr = nil
	rep, err = e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, int64(2), rep.Cycle)
}

func TestRunCycleDeduplicatesAcrossCycles(t *testing.T) {
	r := newFakeReader()
	e, err := New(testConfig(), Components{Reader: r, Orders: &recordingSyncer{}})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	ownFill := market.Trade{ID: 7, Instrument: "L", Price: 99.9, Volume: 2, Side: market.Bid}
	r.own["L"] = []market.Trade{ownFill}
	r.tape["L"] = []market.Trade{ownFill, {ID: 8, Instrument: "L", Price: 100.0, Volume: 1, Side: market.Ask}}
	r.tape["P"] = []market.Trade{{ID: 3, Instrument: "P", Price: 100.0, Volume: 1, Side: market.Bid}}

	rep, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.OwnTrades, 1)
	assert.Equal(t, 2, rep.MarketTrades)
	assert.Len(t, rep.Adjustments, 3)
	assert.Equal(t, 1, e.Stats().N)

	// 交易所重发同一批成交
	r.own["L"] = []market.Trade{ownFill}
	r.tape["L"] = []market.Trade{ownFill, {ID: 8, Instrument: "L", Price: 100.0, Volume: 1, Side: market.Ask}}
	r.tape["P"] = []market.Trade{{ID: 3, Instrument: "P", Price: 100.0, Volume: 1, Side: market.Bid}}
	before := e.Estimate()

	rep, err = e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.OwnTrades)
	assert.Equal(t, 0, rep.MarketTrades)
	assert.Equal(t, before, e.Estimate())
	assert.Equal(t, 1, e.Stats().N)
}

// lateFillReader 在公开成交被取走之后才让一笔自有成交落地，模拟两次轮询之间的撮合。
type lateFillReader struct {
	*fakeReader
	late *market.Trade
}

func (r *lateFillReader) PollMarketTrades(ctx context.Context, id string) ([]market.Trade, error) {
	out, err := r.fakeReader.PollMarketTrades(ctx, id)
	if r.late != nil && r.late.Instrument == id {
		r.mu.Lock()
		r.own[id] = append(r.own[id], *r.late)
		r.tape[id] = append(r.tape[id], *r.late)
		r.mu.Unlock()
		r.late = nil
	}
	return out, err
}

func TestRunCycleFillBetweenPollsCountedOnce(t *testing.T) {
	r := &lateFillReader{fakeReader: newFakeReader()}
	e, err := New(testConfig(), Components{Reader: r, Orders: &recordingSyncer{}})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	r.late = &market.Trade{ID: 11, Instrument: "L", Price: 99.9, Volume: 2, Side: market.Bid}
	rep, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.OwnTrades, 1)
	assert.Equal(t, 0, rep.MarketTrades)

	// 公开副本在下个周期到达，不能再作为他人成交计入
	before := e.Estimate()
	rep, err = e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.OwnTrades)
	assert.Equal(t, 0, rep.MarketTrades)
	assert.Empty(t, rep.Adjustments)
	assert.Equal(t, before, e.Estimate())
}

// pollingReader 通过 PollTrades 一次取出两类成交。
type pollingReader struct {
	*fakeReader
	polls int
}

func (r *pollingReader) PollTrades(ctx context.Context, id string) (own, tape []market.Trade, err error) {
	r.polls++
	if own, err = r.fakeReader.PollOwnTrades(ctx, id); err != nil {
		return nil, nil, err
	}
	tape, err = r.fakeReader.PollMarketTrades(ctx, id)
	return own, tape, err
}

func TestRunCyclePrefersAtomicTradePoll(t *testing.T) {
	r := &pollingReader{fakeReader: newFakeReader()}
	e, err := New(testConfig(), Components{Reader: r, Orders: &recordingSyncer{}})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	fill := market.Trade{ID: 5, Instrument: "L", Price: 99.9, Volume: 1, Side: market.Bid}
	r.own["L"] = []market.Trade{fill}
	r.tape["L"] = []market.Trade{fill}
	rep, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, r.polls)
	assert.Len(t, rep.OwnTrades, 1)
	assert.Equal(t, 0, rep.MarketTrades)
}

func TestRunCycleStatsIncludePrimaryOwnFills(t *testing.T) {
	r := newFakeReader()
	e, err := New(testConfig(), Components{Reader: r, Orders: &recordingSyncer{}})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	fill := market.Trade{ID: 9, Instrument: "P", Price: 100.1, Volume: 3, Side: market.Ask}
	r.own["P"] = []market.Trade{fill}
	r.tape["P"] = []market.Trade{fill, {ID: 10, Instrument: "P", Price: 99.9, Volume: 1, Side: market.Bid}}

	rep, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.OwnTrades, 1)
	assert.Equal(t, 1, rep.MarketTrades)
	assert.Equal(t, 2, e.Stats().N)
	assert.InDelta(t, 100.0, e.Stats().Mean, 1e-9)
}

func TestRunCyclePausedLinkedQuotesNothing(t *testing.T) {
	r := newFakeReader()
	s := &recordingSyncer{}
	e, err := New(testConfig(), Components{Reader: r, Orders: s})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	r.insts[1].Paused = true
	rep, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Intents)
	require.Equal(t, 1, s.count())
	assert.Empty(t, s.calls[0])
}

func TestApplyTuning(t *testing.T) {
	r := newFakeReader()
	e, err := New(testConfig(), Components{Reader: r, Orders: &recordingSyncer{}})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	bad := testTuning()
	bad.Opportunist.WeakZ = 3
	assert.Error(t, e.ApplyTuning(bad))
	assert.Equal(t, testTuning(), e.Tuning())

	next := testTuning()
	next.Estimator.MarginFloor = 5
	next.Ladder.VolumeCurve = []int64{1, 3}
	require.NoError(t, e.ApplyTuning(next))
	assert.GreaterOrEqual(t, e.Estimate().Margin, 5.0)

	rep, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Intents, 4)
	for _, q := range rep.Intents {
		assert.Contains(t, []int64{1, 3}, q.Volume)
	}
}

func TestRunAppliesTuningBetweenCycles(t *testing.T) {
	r := newFakeReader()
	updates := make(chan config.Tuning, 1)

	var mu sync.Mutex
	var reports []Report
	e, err := New(testConfig(), Components{
		Reader: r,
		Orders: &recordingSyncer{},
		Tuning: updates,
		Observers: []Observer{ObserverFunc(func(rep Report) {
			mu.Lock()
			reports = append(reports, rep)
			mu.Unlock()
		})},
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	next := testTuning()
	next.Ladder.VolumeCurve = []int64{5}
	updates <- next

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(reports) == 0 {
			return false
		}
		last := reports[len(reports)-1]
		return len(last.Intents) == 2 && last.Intents[0].Volume == 5
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}

func TestEngineAgainstPaperExchange(t *testing.T) {
	scfg := sim.DefaultConfig()
	ex, err := sim.New(scfg)
	require.NoError(t, err)
	orders, err := order.NewSync(ex)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Primary, cfg.Linked = scfg.Primary, scfg.Linked
	cfg.SeedFromHistory = true
	cfg.SeedStats = true
	e, err := New(cfg, Components{Reader: ex, Orders: orders})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	assert.InDelta(t, ex.Fair(), e.Estimate().Theo, 2.0)

	floor := cfg.Tuning.Estimator.MarginFloor
	for i := 0; i < 60; i++ {
		rep, err := e.RunCycle(context.Background())
		require.NoError(t, err)
		require.False(t, rep.Skipped)
		assert.GreaterOrEqual(t, rep.Margin, floor)
		assert.Empty(t, rep.Sync.Rejected)

		for _, q := range rep.Intents {
			if q.Kind != strategy.KindLadder {
				continue
			}
			assert.Equal(t, scfg.Linked, q.Instrument)
			if q.Side == market.Bid && rep.Linked.Ask.OK {
				assert.Less(t, q.Price, rep.Linked.Ask.Price)
			}
			if q.Side == market.Ask && rep.Linked.Bid.OK {
				assert.Greater(t, q.Price, rep.Linked.Bid.Price)
			}
		}
		ex.Step()
	}
	assert.Equal(t, int64(60), e.cycle)
}
