package config

import (
	"errors"
	"fmt"
	"time"

	"theo-quoter/estimator"
	"theo-quoter/sim"
	"theo-quoter/strategy"
)

// ApplyDefaults 为未设置的字段填充默认值。
func ApplyDefaults(cfg *AppConfig) {
	if cfg.Env == "" {
		cfg.Env = "paper"
	}
	if cfg.Loop.Interval <= 0 {
		cfg.Loop.Interval = time.Second
	}
	if cfg.Loop.StartupAttempts <= 0 {
		cfg.Loop.StartupAttempts = 10
	}
	if cfg.Loop.StartupBackoff <= 0 {
		cfg.Loop.StartupBackoff = 200 * time.Millisecond
	}
	if cfg.Loop.StartupMaxBackoff <= 0 {
		cfg.Loop.StartupMaxBackoff = 5 * time.Second
	}
	if cfg.Loop.HistoryAlpha <= 0 {
		cfg.Loop.HistoryAlpha = 0.03
	}
	if cfg.Loop.OwnIDMemory <= 0 {
		cfg.Loop.OwnIDMemory = 4096
	}

	if cfg.Estimator == (EstimatorConfig{}) {
		p := estimator.DefaultParams()
		cfg.Estimator = EstimatorConfig{
			OwnWeight:     p.OwnWeight,
			InsideWeight:  p.InsideWeight,
			OutsideWeight: p.OutsideWeight,
			MarginFloor:   p.MarginFloor,
		}
	}
	if cfg.Estimator.MarginFloor <= 0 {
		cfg.Estimator.MarginFloor = estimator.DefaultMarginFloor
	}

	ld := strategy.DefaultLadderConfig()
	if cfg.Ladder.Step <= 0 {
		cfg.Ladder.Step = ld.Step
	}
	if len(cfg.Ladder.VolumeCurve) == 0 {
		cfg.Ladder.VolumeCurve = ld.VolumeCurve
		if cfg.Ladder.Buffer == 0 {
			cfg.Ladder.Buffer = ld.Buffer
		}
	}

	od := strategy.DefaultOpportunistConfig()
	if cfg.Opportunist.MinSamples <= 0 {
		cfg.Opportunist.MinSamples = od.MinSamples
	}
	if cfg.Opportunist.StrongZ <= 0 {
		cfg.Opportunist.StrongZ = od.StrongZ
	}
	if cfg.Opportunist.WeakZ <= 0 {
		cfg.Opportunist.WeakZ = od.WeakZ
	}
	if cfg.Opportunist.StrongMaxVolume <= 0 {
		cfg.Opportunist.StrongMaxVolume = od.StrongMaxVolume
	}
	if cfg.Opportunist.WeakMaxVolume <= 0 {
		cfg.Opportunist.WeakMaxVolume = od.WeakMaxVolume
	}

	if cfg.Orders.Burst <= 0 {
		cfg.Orders.Burst = 20
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if len(cfg.Log.Outputs) == 0 {
		cfg.Log.Outputs = []string{"stdout"}
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "quoter"
	}
	if cfg.Telemetry.Path == "" {
		cfg.Telemetry.Path = "/ws"
	}
	if cfg.Alerts.Throttle <= 0 {
		cfg.Alerts.Throttle = time.Minute
	}
	if cfg.Alerts.MaxSkipped <= 0 {
		cfg.Alerts.MaxSkipped = 5
	}
	if cfg.Console.Every <= 0 {
		cfg.Console.Every = 1
	}

	sd := sim.DefaultConfig()
	if cfg.Sim.Primary == "" {
		cfg.Sim.Primary = cfg.Instruments.Primary
	}
	if cfg.Sim.Linked == "" {
		cfg.Sim.Linked = cfg.Instruments.Linked
	}
	if cfg.Sim.TickSize <= 0 {
		cfg.Sim.TickSize = sd.TickSize
	}
	if cfg.Sim.StartPrice <= 0 {
		cfg.Sim.StartPrice = sd.StartPrice
	}
	if cfg.Sim.Volatility <= 0 {
		cfg.Sim.Volatility = sd.Volatility
	}
	if cfg.Sim.HalfSpreadTicks <= 0 {
		cfg.Sim.HalfSpreadTicks = sd.HalfSpreadTicks
	}
	if cfg.Sim.Depth <= 0 {
		cfg.Sim.Depth = sd.Depth
	}
	if cfg.Sim.LevelVolume <= 0 {
		cfg.Sim.LevelVolume = sd.LevelVolume
	}
	if cfg.Sim.TakerTrades <= 0 {
		cfg.Sim.TakerTrades = sd.TakerTrades
	}
	if cfg.Sim.TakerMaxVolume <= 0 {
		cfg.Sim.TakerMaxVolume = sd.TakerMaxVolume
	}
}

// Validate ensures required fields are present and component parameters are consistent.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Instruments.Primary == "" || cfg.Instruments.Linked == "" {
		return errors.New("instruments.primary and instruments.linked are required")
	}
	if cfg.Instruments.Primary == cfg.Instruments.Linked {
		return fmt.Errorf("instruments.primary and instruments.linked must differ: %s", cfg.Instruments.Primary)
	}
	if cfg.Loop.Interval <= 0 {
		return errors.New("loop.interval must be > 0")
	}
	if cfg.Loop.StartupAttempts <= 0 {
		return errors.New("loop.startupAttempts must be > 0")
	}
	if cfg.Loop.StartupBackoff <= 0 || cfg.Loop.StartupMaxBackoff < cfg.Loop.StartupBackoff {
		return errors.New("loop.startupBackoff must be > 0 and <= loop.startupMaxBackoff")
	}
	if cfg.Loop.HistoryAlpha <= 0 || cfg.Loop.HistoryAlpha >= 1 {
		return errors.New("loop.historyAlpha must be in (0,1)")
	}
	if err := cfg.Tuning().Validate(); err != nil {
		return err
	}
	if cfg.Orders.RatePerSecond < 0 {
		return errors.New("orders.ratePerSecond must be >= 0")
	}
	if cfg.Orders.MaxVolume < 0 {
		return errors.New("orders.maxVolume must be >= 0")
	}
	if cfg.Console.Every < 0 {
		return errors.New("console.every must be >= 0")
	}
	if cfg.Alerts.PositionWarn < 0 {
		return errors.New("alerts.positionWarn must be >= 0")
	}
	if cfg.Env == "paper" {
		if err := cfg.Sim.Validate(); err != nil {
			return err
		}
	}
	return nil
}
