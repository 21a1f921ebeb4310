// Package stats 提供成交价的增量统计（均值/标准差），供机会单判断偏离程度。
package stats

import "math"

// DefaultMinSamples 是标准差可用前所需的最小样本数。
const DefaultMinSamples = 20

// RollingStats 以 Welford 算法增量维护均值与方差，同时保留累计和/平方和。
// 值类型：Observe 返回新值，不修改调用方持有的副本。
type RollingStats struct {
	N     int
	Mean  float64
	Sum   float64
	SumSq float64
	M2    float64
}

// Observe 纳入一笔成交价，O(1)。
func (s RollingStats) Observe(price float64) RollingStats {
	s.N++
	delta := price - s.Mean
	s.Mean += delta / float64(s.N)
	s.M2 += delta * (price - s.Mean)
	s.Sum += price
	s.SumSq += price * price
	return s
}

// ObserveAll 依次纳入多笔价格。
func (s RollingStats) ObserveAll(prices []float64) RollingStats {
	for _, p := range prices {
		s = s.Observe(p)
	}
	return s
}

// Variance 总体方差；样本不足 1 时为 0。
func (s RollingStats) Variance() float64 {
	if s.N < 1 {
		return 0
	}
	v := s.M2 / float64(s.N)
	if v < 0 {
		return 0
	}
	return v
}

// Stdev 总体标准差。
func (s RollingStats) Stdev() float64 {
	return math.Sqrt(s.Variance())
}

// HasEnoughSamples 样本数达到 min 后标准差才有意义；min<=0 时使用默认值。
func (s RollingStats) HasEnoughSamples(min int) bool {
	if min <= 0 {
		min = DefaultMinSamples
	}
	return s.N >= min
}

// ZScore 返回 (price-mean)/stdev；标准差为 0 时第二个返回值为 false。
func (s RollingStats) ZScore(price float64) (float64, bool) {
	sd := s.Stdev()
	if sd == 0 {
		return 0, false
	}
	return (price - s.Mean) / sd, true
}
