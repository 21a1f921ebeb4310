package stats

import (
	"math"
	"testing"
)

func TestObserveMeanAndStdev(t *testing.T) {
	var s RollingStats
	s = s.ObserveAll([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if s.N != 8 {
		t.Fatalf("expected 8 samples got %d", s.N)
	}
	if math.Abs(s.Mean-5) > 1e-12 {
		t.Fatalf("expected mean 5 got %f", s.Mean)
	}
	// 总体标准差为 2
	if math.Abs(s.Stdev()-2) > 1e-12 {
		t.Fatalf("expected stdev 2 got %f", s.Stdev())
	}
	if s.Sum != 40 || s.SumSq != 232 {
		t.Fatalf("unexpected sums %f/%f", s.Sum, s.SumSq)
	}
}

func TestObserveIsValueSemantics(t *testing.T) {
	base := RollingStats{}.Observe(10)
	next := base.Observe(20)
	if base.N != 1 || base.Mean != 10 {
		t.Fatalf("base mutated: %+v", base)
	}
	if next.N != 2 || next.Mean != 15 {
		t.Fatalf("unexpected next: %+v", next)
	}
}

func TestHasEnoughSamples(t *testing.T) {
	var s RollingStats
	for i := 0; i < DefaultMinSamples-1; i++ {
		s = s.Observe(50)
	}
	if s.HasEnoughSamples(0) {
		t.Fatalf("should not be ready with %d samples", s.N)
	}
	s = s.Observe(50)
	if !s.HasEnoughSamples(0) {
		t.Fatalf("should be ready with %d samples", s.N)
	}
	if _, ok := s.ZScore(51); ok {
		t.Fatalf("constant series has zero stdev; zscore must be unavailable")
	}
}

func TestStableForLargeOffsets(t *testing.T) {
	var s RollingStats
	for i := 0; i < 10000; i++ {
		p := 1e6 + float64(i%2) // 1e6, 1e6+1 交替
		s = s.Observe(p)
	}
	if math.Abs(s.Stdev()-0.5) > 1e-6 {
		t.Fatalf("expected stdev 0.5 got %.9f", s.Stdev())
	}
	z, ok := s.ZScore(1e6 + 1.5)
	if !ok || math.Abs(z-2) > 1e-6 {
		t.Fatalf("expected z=2 got %f (%v)", z, ok)
	}
}

func TestEmptyStats(t *testing.T) {
	var s RollingStats
	if s.Stdev() != 0 || s.Variance() != 0 {
		t.Fatalf("empty stats should be zero")
	}
}
