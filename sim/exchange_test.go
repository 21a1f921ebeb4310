package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theo-quoter/market"
	"theo-quoter/order"
)

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Volatility = 0
	cfg.TakerTrades = 0
	cfg.WarmupSteps = 0
	return cfg
}

func newQuiet(t *testing.T) *Exchange {
	t.Helper()
	ex, err := New(quietConfig())
	require.NoError(t, err)
	return ex
}

func limit(inst string, side market.Side, price float64, vol int64) order.Order {
	return order.Order{ClientID: "c", Instrument: inst, Side: side, Price: price, Volume: vol, Type: order.TypeLimit}
}

func TestExchangeDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	a, err := New(cfg)
	require.NoError(t, err)
	b, err := New(cfg)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		a.Step()
		b.Step()
	}
	assert.Equal(t, a.Fair(), b.Fair())

	ctx := context.Background()
	ha, err := a.TradeHistory(ctx, cfg.Primary)
	require.NoError(t, err)
	hb, err := b.TradeHistory(ctx, cfg.Primary)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	require.NotEmpty(t, ha)
	for i := 1; i < len(ha); i++ {
		assert.Greater(t, ha[i].ID, ha[i-1].ID)
	}
}

func TestExchangeBooksAroundFair(t *testing.T) {
	ex := newQuiet(t)
	book, err := ex.Book(context.Background(), DefaultConfig().Linked)
	require.NoError(t, err)
	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()
	assert.InDelta(t, 99.8, bid.Price, 1e-9)
	assert.InDelta(t, 100.2, ask.Price, 1e-9)
	assert.Len(t, book.Bids, DefaultConfig().Depth)
	for _, lvl := range book.Asks {
		assert.True(t, market.OnTick(lvl.Price, 0.1))
	}
}

func TestExchangeInsertValidation(t *testing.T) {
	ex := newQuiet(t)
	ctx := context.Background()
	primary := DefaultConfig().Primary

	res, err := ex.Insert(ctx, limit("NOPE", market.Bid, 99, 1))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonUnknownInstrument, res.Reason)

	res, err = ex.Insert(ctx, limit(primary, market.Bid, 99.05, 1))
	require.NoError(t, err)
	assert.Equal(t, ReasonOffTick, res.Reason)

	res, err = ex.Insert(ctx, limit(primary, market.Bid, 99, 0))
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidVolume, res.Reason)

	require.NoError(t, ex.SetPaused(primary, true))
	res, err = ex.Insert(ctx, limit(primary, market.Bid, 99, 1))
	require.NoError(t, err)
	assert.Equal(t, ReasonPaused, res.Reason)
	insts, err := ex.Instruments(ctx)
	require.NoError(t, err)
	assert.True(t, insts[0].Paused)

	ex.SetConnected(false)
	_, err = ex.Insert(ctx, limit(primary, market.Bid, 99, 1))
	assert.ErrorIs(t, err, ErrDisconnected)
	_, err = ex.Book(ctx, primary)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorIs(t, ex.CancelAll(ctx, primary), ErrDisconnected)
}

func TestExchangeCrossingInsertFillsAtBookPrices(t *testing.T) {
	ex := newQuiet(t)
	ctx := context.Background()
	primary := DefaultConfig().Primary
	require.NoError(t, ex.SetBook(market.Book{
		Instrument: primary,
		Bids:       []market.PriceLevel{{Price: 99.9, Volume: 10}},
		Asks:       []market.PriceLevel{{Price: 100.1, Volume: 5}, {Price: 100.2, Volume: 5}, {Price: 100.3, Volume: 5}},
	}))

	res, err := ex.Insert(ctx, limit(primary, market.Bid, 100.2, 8))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.OrderID)

	own, err := ex.PollOwnTrades(ctx, primary)
	require.NoError(t, err)
	require.Len(t, own, 2)
	assert.Equal(t, int64(5), own[0].Volume)
	assert.InDelta(t, 100.1, own[0].Price, 1e-9)
	assert.Equal(t, int64(3), own[1].Volume)
	assert.InDelta(t, 100.2, own[1].Price, 1e-9)
	assert.Equal(t, market.Bid, own[0].Side)
	assert.Empty(t, ex.Resting(primary))

	tape, err := ex.PollMarketTrades(ctx, primary)
	require.NoError(t, err)
	require.Len(t, tape, 2)
	assert.Equal(t, own[0].ID, tape[0].ID)

	again, err := ex.PollOwnTrades(ctx, primary)
	require.NoError(t, err)
	assert.Empty(t, again)

	book, err := ex.Book(ctx, primary)
	require.NoError(t, err)
	best, _ := book.BestAsk()
	assert.InDelta(t, 100.2, best.Price, 1e-9)
	assert.Equal(t, int64(2), best.Volume)

	pos, err := ex.Positions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), pos[primary])
	assert.Equal(t, int64(0), pos[DefaultConfig().Linked])
}

func TestExchangeRestingOrderFilledWhenBookMoves(t *testing.T) {
	ex := newQuiet(t)
	ctx := context.Background()
	linked := DefaultConfig().Linked
	require.NoError(t, ex.SetBook(market.Book{
		Instrument: linked,
		Bids:       []market.PriceLevel{{Price: 100.0, Volume: 10}},
		Asks:       []market.PriceLevel{{Price: 101.0, Volume: 10}},
	}))

	res, err := ex.Insert(ctx, limit(linked, market.Bid, 100.5, 4))
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, ex.Resting(linked), 1)

	// 重建后的卖一 100.2 穿越挂单 100.5
	ex.Step()
	own, err := ex.PollOwnTrades(ctx, linked)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.InDelta(t, 100.5, own[0].Price, 1e-9)
	assert.Equal(t, int64(4), own[0].Volume)
	assert.Empty(t, ex.Resting(linked))

	tape, err := ex.PollMarketTrades(ctx, linked)
	require.NoError(t, err)
	require.Len(t, tape, 1)
	assert.Equal(t, market.Ask, tape[0].Side)
}

func TestExchangeCancelAll(t *testing.T) {
	ex := newQuiet(t)
	ctx := context.Background()
	primary := DefaultConfig().Primary

	for _, p := range []float64{99.0, 99.1} {
		res, err := ex.Insert(ctx, limit(primary, market.Bid, p, 1))
		require.NoError(t, err)
		require.True(t, res.Success)
	}
	require.Len(t, ex.Resting(primary), 2)
	require.NoError(t, ex.CancelAll(ctx, primary))
	assert.Empty(t, ex.Resting(primary))
	assert.ErrorIs(t, ex.CancelAll(ctx, "NOPE"), ErrUnknownInstrument)
}

func TestExchangeTakerTradesHitOwnOrdersFirst(t *testing.T) {
	cfg := quietConfig()
	cfg.TakerTrades = 5
	cfg.TakerMaxVolume = 3
	ex, err := New(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	// 在买一、卖一价位同时挂单，任意方向的吃单都会先与自有挂单成交
	require.True(t, mustInsert(t, ex, limit(cfg.Primary, market.Bid, 99.8, 1000)).Success)
	require.True(t, mustInsert(t, ex, limit(cfg.Primary, market.Ask, 100.2, 1000)).Success)

	for i := 0; i < 20; i++ {
		ex.Step()
	}
	tape, err := ex.PollMarketTrades(ctx, cfg.Primary)
	require.NoError(t, err)
	own, err := ex.PollOwnTrades(ctx, cfg.Primary)
	require.NoError(t, err)
	require.NotEmpty(t, tape)
	assert.Equal(t, len(tape), len(own))

	pnl, err := ex.PnL(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pnl, 0.0)
}

func TestExchangePollTradesDrainsBothQueues(t *testing.T) {
	cfg := quietConfig()
	cfg.TakerTrades = 5
	cfg.TakerMaxVolume = 3
	ex, err := New(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	require.True(t, mustInsert(t, ex, limit(cfg.Primary, market.Bid, 99.8, 1000)).Success)
	require.True(t, mustInsert(t, ex, limit(cfg.Primary, market.Ask, 100.2, 1000)).Success)
	for i := 0; i < 20; i++ {
		ex.Step()
	}
	own, tape, err := ex.PollTrades(ctx, cfg.Primary)
	require.NoError(t, err)
	require.NotEmpty(t, own)
	assert.Equal(t, len(tape), len(own))

	own, tape, err = ex.PollTrades(ctx, cfg.Primary)
	require.NoError(t, err)
	assert.Empty(t, own)
	assert.Empty(t, tape)

	_, _, err = ex.PollTrades(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestExchangePausedInstrumentIsQuiet(t *testing.T) {
	cfg := quietConfig()
	cfg.TakerTrades = 5
	ex, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, ex.SetPaused(cfg.Primary, true))
	for i := 0; i < 10; i++ {
		ex.Step()
	}
	tape, err := ex.PollMarketTrades(context.Background(), cfg.Primary)
	require.NoError(t, err)
	assert.Empty(t, tape)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.Linked = cfg.Primary
	assert.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.TickSize = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func mustInsert(t *testing.T, ex *Exchange, o order.Order) order.InsertResult {
	t.Helper()
	res, err := ex.Insert(context.Background(), o)
	require.NoError(t, err)
	return res
}
