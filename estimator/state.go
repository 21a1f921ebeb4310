// Package estimator 维护公允价 theo 及其置信半宽 margin。
//
// 所有函数均为纯函数：输入旧状态与本周期成交，返回新状态，
// 状态的唯一可变副本由调用方（控制循环）持有。
package estimator

import (
	"errors"
	"fmt"
)

// DefaultMarginFloor 防止 margin 退化为 0 导致所有成交都落在区间外。
const DefaultMarginFloor = 0.05

var (
	ErrBookNotReady        = errors.New("book has no two-sided quote")
	ErrInsufficientHistory = errors.New("not enough trade history")
)

// State 是估计器状态。不变量：Margin >= 构造时使用的 floor。
type State struct {
	Theo   float64
	Margin float64
}

// Band 返回 [theo-margin, theo+margin]。
func (s State) Band() (left, right float64) {
	return s.Theo - s.Margin, s.Theo + s.Margin
}

// Contains 判断价格是否落在闭区间内。
func (s State) Contains(price float64) bool {
	left, right := s.Band()
	return price >= left && price <= right
}

func (s State) String() string {
	return fmt.Sprintf("%.4f±%.4f", s.Theo, s.Margin)
}

// Params 是更新权重。
type Params struct {
	OwnWeight     float64
	InsideWeight  float64
	OutsideWeight float64
	MarginFloor   float64
}

// DefaultParams 使用线上调好的权重。
func DefaultParams() Params {
	return Params{
		OwnWeight:     0.03,
		InsideWeight:  0.001,
		OutsideWeight: 0.0003,
		MarginFloor:   DefaultMarginFloor,
	}
}

// Validate 检查权重非负且 floor 为正。
func (p Params) Validate() error {
	if p.OwnWeight < 0 || p.InsideWeight < 0 || p.OutsideWeight < 0 {
		return errors.New("estimator weights must be >= 0")
	}
	if p.MarginFloor <= 0 {
		return errors.New("estimator marginFloor must be > 0")
	}
	return nil
}

// Clamp 把 margin 抬到 floor 以上。
func (p Params) Clamp(s State) State {
	if s.Margin < p.MarginFloor {
		s.Margin = p.MarginFloor
	}
	return s
}
