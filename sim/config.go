// Package sim 实现一个确定性的纸面交易所：两个共享公允价值的品种、随机游走的盘口、
// 随机的吃单成交，以及对自有挂单的撮合。用于离线运行与端到端测试。
package sim

import (
	"errors"
	"fmt"
)

// Config 描述纸面交易所参数。
type Config struct {
	Seed            int64   `yaml:"seed"`
	Primary         string  `yaml:"primary"`
	Linked          string  `yaml:"linked"`
	TickSize        float64 `yaml:"tickSize"`
	StartPrice      float64 `yaml:"startPrice"`
	Volatility      float64 `yaml:"volatility"`      // 每步公允价值的标准差
	HalfSpreadTicks int     `yaml:"halfSpreadTicks"` // 盘口半价差（tick）
	Depth           int     `yaml:"depth"`           // 每侧档位数
	LevelVolume     int64   `yaml:"levelVolume"`     // 每档基础数量
	TakerTrades     int     `yaml:"takerTrades"`     // 每步每品种最多随机成交笔数
	TakerMaxVolume  int64   `yaml:"takerMaxVolume"`
	WarmupSteps     int     `yaml:"warmupSteps"` // 启动前预生成的步数，提供历史成交
}

// DefaultConfig 与 configs/config.yaml 的 sim 段一致。
func DefaultConfig() Config {
	return Config{
		Seed:            42,
		Primary:         "SMALL_CHIPS",
		Linked:          "SMALL_CHIPS_NEW_COUNTRY",
		TickSize:        0.1,
		StartPrice:      100,
		Volatility:      0.05,
		HalfSpreadTicks: 2,
		Depth:           5,
		LevelVolume:     20,
		TakerTrades:     3,
		TakerMaxVolume:  10,
		WarmupSteps:     30,
	}
}

// Validate 检查参数合法性。
func (c Config) Validate() error {
	if c.Primary == "" || c.Linked == "" {
		return errors.New("sim primary and linked instruments are required")
	}
	if c.Primary == c.Linked {
		return fmt.Errorf("sim primary and linked must differ: %s", c.Primary)
	}
	if c.TickSize <= 0 {
		return errors.New("sim tickSize must be > 0")
	}
	if c.StartPrice <= 0 {
		return errors.New("sim startPrice must be > 0")
	}
	if c.Volatility < 0 {
		return errors.New("sim volatility must be >= 0")
	}
	if c.HalfSpreadTicks < 1 {
		return errors.New("sim halfSpreadTicks must be >= 1")
	}
	if c.Depth < 1 || c.LevelVolume < 1 {
		return errors.New("sim depth and levelVolume must be >= 1")
	}
	if c.TakerTrades < 0 || c.TakerMaxVolume < 1 {
		return errors.New("sim takerTrades must be >= 0 and takerMaxVolume >= 1")
	}
	if c.WarmupSteps < 0 {
		return errors.New("sim warmupSteps must be >= 0")
	}
	return nil
}
