package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"theo-quoter/config"
	"theo-quoter/infrastructure/alert"
	"theo-quoter/infrastructure/console"
	"theo-quoter/infrastructure/logger"
	"theo-quoter/infrastructure/monitor"
	"theo-quoter/internal/engine"
	"theo-quoter/journal"
	"theo-quoter/order"
	"theo-quoter/posttrade"
	"theo-quoter/sim"
	"theo-quoter/telemetry"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger   *logger.Logger
	monitor  *monitor.Monitor
	journal  *journal.Journal
	hub      *telemetry.Hub
	status   *console.Status
	alerts   *alert.Watch
	markouts *posttrade.Analyzer
	watcher  *config.Watcher

	// 交易所会话（纸面）
	exchange *sim.Exchange

	// 核心服务
	orders *order.Sync
	engine *engine.Engine

	// HTTP服务器
	metricsServer   *httpServerComponent
	telemetryServer *httpServerComponent

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 读取配置并创建容器，同时监听配置文件以热更新参数。
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewWithConfig(cfg)
	c.configPath = configPath
	return c, nil
}

// NewWithConfig 直接使用已加载的配置，不监听文件。
func NewWithConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       &cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildExchange(); err != nil {
		return fmt.Errorf("build exchange failed: %w", err)
	}

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully", zap.String("env", c.cfg.Env))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	for _, f := range []string{c.cfg.Log.OutputFile, c.cfg.Log.ErrorFile} {
		if f == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(f), 0o755); err != nil {
			return fmt.Errorf("create log dir failed: %w", err)
		}
	}
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	if c.cfg.Metrics.Addr != "" {
		mcfg := monitor.DefaultConfig()
		if c.cfg.Metrics.Namespace != "" {
			mcfg.Namespace = c.cfg.Metrics.Namespace
		}
		c.monitor = monitor.New(mcfg)
	}

	if c.cfg.Journal.DSN != "" {
		if c.cfg.Journal.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(c.cfg.Journal.DSN), 0o755); err != nil {
				return fmt.Errorf("create journal dir failed: %w", err)
			}
		}
		c.journal, err = journal.Open(c.cfg.Journal.DSN, c.logger)
		if err != nil {
			return err
		}
	}

	if c.cfg.Telemetry.Addr != "" {
		c.hub = telemetry.NewHub(c.logger)
	}

	if c.cfg.Alerts.Enabled {
		mgr := alert.NewManager([]alert.Channel{alert.NewLogChannel("log", c.logger)}, c.cfg.Alerts.Throttle)
		c.alerts = alert.NewWatch(mgr, alert.Rules{
			MaxSkipped:   c.cfg.Alerts.MaxSkipped,
			PositionWarn: c.cfg.Alerts.PositionWarn,
		})
	}

	c.markouts = posttrade.NewAnalyzer(posttrade.DefaultConfig())

	if c.cfg.Console.Enabled {
		c.status = console.NewStatus(c.cfg.Console.Every)
	}

	if c.configPath != "" {
		c.watcher, err = config.NewWatcher(c.configPath, time.Second, c.logger)
		if err != nil {
			return err
		}
	}

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildExchange() error {
	if c.cfg.Env != "paper" {
		return fmt.Errorf("env %q: only the paper exchange is built in", c.cfg.Env)
	}
	var err error
	c.exchange, err = sim.New(c.cfg.Sim)
	if err != nil {
		return err
	}
	c.logger.Info("paper exchange built",
		zap.Int64("seed", c.cfg.Sim.Seed),
		zap.Float64("fair", c.exchange.Fair()))
	return nil
}

func (c *Container) buildCoreServices() error {
	opts := []order.Option{order.WithLogger(c.logger)}
	if c.cfg.Orders.RatePerSecond > 0 {
		opts = append(opts, order.WithRateLimit(c.cfg.Orders.RatePerSecond, c.cfg.Orders.Burst))
	}
	if c.cfg.Orders.MaxVolume > 0 {
		opts = append(opts, order.WithMaxVolume(c.cfg.Orders.MaxVolume))
	}
	var err error
	c.orders, err = order.NewSync(c.exchange, opts...)
	if err != nil {
		return err
	}

	comps := engine.Components{
		Reader:    c.exchange,
		Orders:    c.orders,
		Logger:    c.logger,
		Observers: []engine.Observer{c.markouts},
	}
	if c.monitor != nil {
		comps.Observers = append(comps.Observers, c.monitor)
	}
	if c.journal != nil {
		comps.Observers = append(comps.Observers, c.journal)
	}
	if c.hub != nil {
		comps.Observers = append(comps.Observers, c.hub)
	}
	if c.status != nil {
		comps.Observers = append(comps.Observers, c.status)
	}
	if c.alerts != nil {
		comps.Observers = append(comps.Observers, c.alerts)
	}
	if c.watcher != nil {
		comps.Tuning = c.watcher.Updates()
	}
	c.engine, err = engine.New(engine.ConfigFrom(*c.cfg), comps)
	if err != nil {
		return err
	}

	c.logger.Info("core services built", zap.Int("observers", len(comps.Observers)))
	return nil
}

func (c *Container) registerLifecycleComponents() {
	c.lifecycle.Register(&runnerComponent{
		name:   "paper_exchange",
		logger: c.logger,
		run:    func(ctx context.Context) { c.exchange.Run(ctx, c.cfg.Loop.Interval) },
	})
	if c.monitor != nil {
		c.metricsServer = &httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		}
		c.lifecycle.Register(c.metricsServer)
	}
	if c.hub != nil {
		c.lifecycle.Register(&runnerComponent{name: "telemetry_hub", logger: c.logger, run: c.hub.Run})
		c.telemetryServer = &httpServerComponent{
			name:    "telemetry_server",
			handler: c.hub.Handler(c.cfg.Telemetry.Path),
			addr:    c.cfg.Telemetry.Addr,
			logger:  c.logger,
		}
		c.lifecycle.Register(c.telemetryServer)
	}
	if c.watcher != nil {
		c.lifecycle.Register(&watcherComponent{w: c.watcher})
	}
}

// Start 启动后台组件，然后执行引擎启动流程（等待就绪并初始化估计）。
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	if err := c.engine.Start(ctx); err != nil {
		return err
	}

	c.logger.Info("container started")
	return nil
}

// Run 运行控制循环直到 ctx 结束。
func (c *Container) Run(ctx context.Context) error {
	err := c.engine.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	var errs []error
	if err := c.lifecycle.StopAll(); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
		errs = append(errs, err)
	}

	// 安全清场：撤掉两条腿的全部挂单
	if c.exchange != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, id := range []string{c.cfg.Instruments.Primary, c.cfg.Instruments.Linked} {
			if err := c.exchange.CancelAll(ctx, id); err != nil {
				c.logger.LogError(err, map[string]interface{}{"action": "cancel_all", "instrument": id})
				continue
			}
			c.logger.Info("resting orders canceled", zap.String("instrument", id))
		}
		cancel()
	}

	if c.markouts != nil {
		ms := c.markouts.Stats()
		c.logger.Info("fill markouts",
			zap.Int("fills", ms.TotalFills),
			zap.Int("analyzed", ms.AnalyzedFills),
			zap.Float64("adverse_rate", ms.AdverseSelectionRate),
			zap.Float64("markout_short", ms.AvgMarkoutShort),
			zap.Float64("markout_long", ms.AvgMarkoutLong))
	}

	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.logger != nil {
		c.logger.Close()
	}
	return errors.Join(errs...)
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Engine() *engine.Engine   { return c.engine }
func (c *Container) Logger() *logger.Logger   { return c.logger }
func (c *Container) Config() config.AppConfig { return *c.cfg }
func (c *Container) Exchange() *sim.Exchange  { return c.exchange }

// Markouts 返回成交 markout 统计
func (c *Container) Markouts() posttrade.Stats { return c.markouts.Stats() }

// MetricsAddr 返回 /metrics 实际监听地址，未启用时为空。
func (c *Container) MetricsAddr() string {
	if c.metricsServer == nil {
		return ""
	}
	return c.metricsServer.Addr()
}

// TelemetryAddr 返回 websocket 实际监听地址，未启用时为空。
func (c *Container) TelemetryAddr() string {
	if c.telemetryServer == nil {
		return ""
	}
	return c.telemetryServer.Addr()
}

// watcherComponent 把配置监听接入生命周期。
type watcherComponent struct {
	w       *config.Watcher
	started bool
}

func (w *watcherComponent) Start(ctx context.Context) error {
	if err := w.w.Start(ctx); err != nil {
		return err
	}
	w.started = true
	return nil
}

func (w *watcherComponent) Stop() error {
	if !w.started {
		return nil
	}
	w.started = false
	return w.w.Close()
}

func (w *watcherComponent) Health() error {
	if !w.started {
		return errors.New("config watcher not started")
	}
	return nil
}
