package inventory

import (
	"testing"

	"theo-quoter/market"
)

func TestValuation(t *testing.T) {
	var tr Tracker
	tr.Apply(market.Bid, 1, 100)
	net, pnl := tr.Valuation(110)
	if net != 1 || pnl != 10 {
		t.Fatalf("unexpected valuation net=%d pnl=%f", net, pnl)
	}
}

func TestNet(t *testing.T) {
	pos := map[string]int64{"A": 5, "B": -12, "C": 3}
	if got := Net(pos, "A", "B"); got != -7 {
		t.Fatalf("expected -7 got %d", got)
	}
	if got := Net(pos); got != -4 {
		t.Fatalf("expected -4 got %d", got)
	}
	if got := Net(pos, "missing"); got != 0 {
		t.Fatalf("expected 0 got %d", got)
	}
}
