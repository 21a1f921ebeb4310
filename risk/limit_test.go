package risk

import (
	"testing"

	"theo-quoter/market"
	"theo-quoter/strategy"
)

func bid(vol int64) strategy.QuoteIntent {
	return strategy.QuoteIntent{Instrument: "X", Price: 99, Volume: vol, Side: market.Bid}
}

func ask(vol int64) strategy.QuoteIntent {
	return strategy.QuoteIntent{Instrument: "X", Price: 101, Volume: vol, Side: market.Ask}
}

func total(intents []strategy.QuoteIntent, side market.Side) int64 {
	var n int64
	for _, q := range intents {
		if q.Side == side {
			n += q.Volume
		}
	}
	return n
}

func TestPositionLimitThrottle(t *testing.T) {
	lim := PositionLimit{MaxAbs: 50}
	in := []strategy.QuoteIntent{bid(2), bid(8), bid(16), bid(32), ask(2), ask(8), ask(16), ask(32)}

	cases := []struct {
		name     string
		net      int64
		wantBid  int64
		wantAsk  int64
		wantSize int
	}{
		{"flat", 0, 50, 50, 8},
		{"long", 40, 10, 58, 6},
		{"at limit long", 50, 0, 58, 4},
		{"beyond limit short", -80, 58, 0, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := lim.Throttle(tc.net, in)
			if got := total(out, market.Bid); got != tc.wantBid {
				t.Fatalf("bid total: want %d got %d", tc.wantBid, got)
			}
			if got := total(out, market.Ask); got != tc.wantAsk {
				t.Fatalf("ask total: want %d got %d", tc.wantAsk, got)
			}
			if len(out) != tc.wantSize {
				t.Fatalf("intents: want %d got %d (%v)", tc.wantSize, len(out), out)
			}
		})
	}
	if in[3].Volume != 32 {
		t.Fatalf("input mutated: %+v", in[3])
	}
}

func TestPositionLimitReducingNeverTrimmedToFlat(t *testing.T) {
	lim := PositionLimit{MaxAbs: 5}
	out := lim.Throttle(-12, []strategy.QuoteIntent{bid(12)})
	if len(out) != 1 || out[0].Volume != 12 {
		t.Fatalf("reducing intent trimmed: %v", out)
	}
}

func TestPositionLimitDisabled(t *testing.T) {
	in := []strategy.QuoteIntent{bid(1000)}
	out := PositionLimit{}.Throttle(999, in)
	if len(out) != 1 || out[0].Volume != 1000 {
		t.Fatalf("disabled limit should pass through: %v", out)
	}
	if err := (PositionLimit{MaxAbs: -1}).Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}
