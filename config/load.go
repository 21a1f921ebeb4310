// Package config 负责读取 YAML 配置、环境变量覆盖、默认值与校验，以及热更新。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"theo-quoter/estimator"
	"theo-quoter/infrastructure/logger"
	"theo-quoter/risk"
	"theo-quoter/sim"
	"theo-quoter/strategy"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string            `yaml:"env"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Loop        LoopConfig        `yaml:"loop"`
	Estimator   EstimatorConfig   `yaml:"estimator"`
	Ladder      LadderConfig      `yaml:"ladder"`
	Opportunist OpportunistConfig `yaml:"opportunist"`
	Risk        RiskConfig        `yaml:"risk"`
	Orders      OrdersConfig      `yaml:"orders"`
	Log         logger.Config     `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Journal     JournalConfig     `yaml:"journal"`
	Console     ConsoleConfig     `yaml:"console"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Sim         sim.Config        `yaml:"sim"`
}

// InstrumentsConfig 指定两条腿：primary 用于种子与机会单，linked 用于挂单阶梯。
type InstrumentsConfig struct {
	Primary string `yaml:"primary"`
	Linked  string `yaml:"linked"`
}

type LoopConfig struct {
	Interval          time.Duration `yaml:"interval"`
	StartupAttempts   int           `yaml:"startupAttempts"`
	StartupBackoff    time.Duration `yaml:"startupBackoff"`
	StartupMaxBackoff time.Duration `yaml:"startupMaxBackoff"`
	SeedFromHistory   bool          `yaml:"seedFromHistory"` // theo 由历史成交 EMA 播种，否则由盘口播种
	SeedStats         bool          `yaml:"seedStats"`       // RollingStats 预先纳入历史成交
	HistoryAlpha      float64       `yaml:"historyAlpha"`    // 历史 EMA 的每单位数量衰减
	OwnIDMemory       int           `yaml:"ownIdMemory"`     // 跨周期保留的自有成交 ID 数量
}

type EstimatorConfig struct {
	OwnWeight     float64 `yaml:"ownWeight"`
	InsideWeight  float64 `yaml:"insideWeight"`
	OutsideWeight float64 `yaml:"outsideWeight"`
	MarginFloor   float64 `yaml:"marginFloor"`
}

type LadderConfig struct {
	Step        float64 `yaml:"step"`
	Buffer      float64 `yaml:"buffer"`
	VolumeCurve []int64 `yaml:"volumeCurve"`
}

type OpportunistConfig struct {
	MinSamples      int     `yaml:"minSamples"`
	StrongZ         float64 `yaml:"strongZ"`
	WeakZ           float64 `yaml:"weakZ"`
	StrongMaxVolume int64   `yaml:"strongMaxVolume"`
	WeakMaxVolume   int64   `yaml:"weakMaxVolume"`
}

type RiskConfig struct {
	MaxPosition int64 `yaml:"maxPosition"` // |净仓位| 上限，0 表示不限
}

type OrdersConfig struct {
	RatePerSecond float64 `yaml:"ratePerSecond"`
	Burst         int     `yaml:"burst"`
	MaxVolume     int64   `yaml:"maxVolume"`
}

type MetricsConfig struct {
	Addr      string `yaml:"addr"` // 为空则不启动 /metrics
	Namespace string `yaml:"namespace"`
}

type TelemetryConfig struct {
	Addr string `yaml:"addr"` // 为空则不启动 websocket
	Path string `yaml:"path"`
}

type JournalConfig struct {
	DSN string `yaml:"dsn"` // sqlite 路径；为空则不记录
}

type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
	Every   int  `yaml:"every"` // 每 N 个周期打印一次
}

type AlertsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Throttle     time.Duration `yaml:"throttle"`     // 同一告警的最小间隔
	MaxSkipped   int           `yaml:"maxSkipped"`   // 连续跳过周期数阈值
	PositionWarn int64         `yaml:"positionWarn"` // |delta| 告警阈值，0 表示不检查
}

// Tuning 是可热更新的参数子集。
type Tuning struct {
	Estimator   estimator.Params
	Ladder      strategy.LadderConfig
	Opportunist strategy.OpportunistConfig
	Limit       risk.PositionLimit
}

// Tuning 提取可热更新参数。
func (c AppConfig) Tuning() Tuning {
	return Tuning{
		Estimator: estimator.Params{
			OwnWeight:     c.Estimator.OwnWeight,
			InsideWeight:  c.Estimator.InsideWeight,
			OutsideWeight: c.Estimator.OutsideWeight,
			MarginFloor:   c.Estimator.MarginFloor,
		},
		Ladder: strategy.LadderConfig{
			Step:        c.Ladder.Step,
			Buffer:      c.Ladder.Buffer,
			VolumeCurve: append([]int64(nil), c.Ladder.VolumeCurve...),
		},
		Opportunist: strategy.OpportunistConfig{
			MinSamples:      c.Opportunist.MinSamples,
			StrongZ:         c.Opportunist.StrongZ,
			WeakZ:           c.Opportunist.WeakZ,
			StrongMaxVolume: c.Opportunist.StrongMaxVolume,
			WeakMaxVolume:   c.Opportunist.WeakMaxVolume,
		},
		Limit: risk.PositionLimit{MaxAbs: c.Risk.MaxPosition},
	}
}

// Validate 校验各组件参数。
func (t Tuning) Validate() error {
	if err := t.Estimator.Validate(); err != nil {
		return fmt.Errorf("estimator: %w", err)
	}
	if err := t.Ladder.Validate(); err != nil {
		return fmt.Errorf("ladder: %w", err)
	}
	if err := t.Opportunist.Validate(); err != nil {
		return fmt.Errorf("opportunist: %w", err)
	}
	if err := t.Limit.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	return nil
}

// Load reads YAML config from path, applies defaults and validates.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides 先加载 .env（配置文件目录与当前目录），再读取配置并应用 MM_* 环境变量覆盖。
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return AppConfig{}, err
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool, len(paths))
	var files []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		}
	}
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) error {
	if v := os.Getenv("MM_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("MM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MM_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("MM_TELEMETRY_ADDR"); v != "" {
		cfg.Telemetry.Addr = v
	}
	if v := os.Getenv("MM_JOURNAL_DSN"); v != "" {
		cfg.Journal.DSN = v
	}
	if v := os.Getenv("MM_SIM_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MM_SIM_SEED: %w", err)
		}
		cfg.Sim.Seed = seed
	}
	return nil
}
