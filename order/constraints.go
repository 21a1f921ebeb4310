package order

import (
	"errors"
	"fmt"

	"theo-quoter/market"
)

var (
	ErrPriceOffTick   = errors.New("price not aligned to tick")
	ErrInvalidVolume  = errors.New("volume must be > 0")
	ErrVolumeTooLarge = errors.New("volume exceeds max order volume")
	ErrInvalidPrice   = errors.New("price must be > 0")
)

// Constraints 描述品种的价格精度与单笔数量限制。
type Constraints struct {
	TickSize  float64
	MaxVolume int64 // 0 表示不限
}

// ConstraintsFor 由品种信息构造约束。
func ConstraintsFor(inst market.Instrument, maxVolume int64) Constraints {
	return Constraints{TickSize: inst.TickSize, MaxVolume: maxVolume}
}

// Validate 检查订单价格/数量是否符合精度与数量限制。
func (c Constraints) Validate(price float64, volume int64) error {
	if price <= 0 {
		return fmt.Errorf("%w: %.8f", ErrInvalidPrice, price)
	}
	if !market.OnTick(price, c.TickSize) {
		return fmt.Errorf("%w: %.8f tick %.8f", ErrPriceOffTick, price, c.TickSize)
	}
	if volume <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidVolume, volume)
	}
	if c.MaxVolume > 0 && volume > c.MaxVolume {
		return fmt.Errorf("%w: %d > %d", ErrVolumeTooLarge, volume, c.MaxVolume)
	}
	return nil
}
