package market

import "github.com/shopspring/decimal"

// Rounding 指定价格对齐 tick 的方向。
type Rounding int

const (
	RoundNearest Rounding = iota
	RoundDown
	RoundUp
)

// tickEpsilon 吸收浮点误差：99.79999999 按 0.1 向下取整仍应得到 99.8。
var tickEpsilon = decimal.New(1, -9)

// TickUnits 返回 price 以 tick 为单位的数量（已按 mode 取整）。
func TickUnits(price, tick float64, mode Rounding) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	q := p.Div(t)
	nearest := q.Round(0)
	if q.Sub(nearest).Abs().LessThan(tickEpsilon) {
		return nearest
	}
	switch mode {
	case RoundDown:
		return q.Floor()
	case RoundUp:
		return q.Ceil()
	default:
		return nearest
	}
}

// RoundToTick 将价格对齐到 tick；tick<=0 时原样返回。
func RoundToTick(price, tick float64, mode Rounding) float64 {
	if tick <= 0 {
		return price
	}
	return TickUnits(price, tick, mode).Mul(decimal.NewFromFloat(tick)).InexactFloat64()
}

// OnTick 检查价格是否为 tick 的整数倍。
func OnTick(price, tick float64) bool {
	if tick <= 0 {
		return true
	}
	q := decimal.NewFromFloat(price).Div(decimal.NewFromFloat(tick))
	return q.Sub(q.Round(0)).Abs().LessThan(tickEpsilon)
}

// OffsetTicks 以十进制精度计算 price + n*step，避免阶梯价格累积误差。
func OffsetTicks(price, step float64, n int64) float64 {
	return decimal.NewFromFloat(price).
		Add(decimal.NewFromFloat(step).Mul(decimal.NewFromInt(n))).
		InexactFloat64()
}
