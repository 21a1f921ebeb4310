package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"theo-quoter/internal/engine"
	"theo-quoter/strategy"
)

// Monitor Prometheus监控指标收集器，作为引擎观察者按周期更新。
type Monitor struct {
	registry *prometheus.Registry

	// 估计指标
	theo   prometheus.Gauge
	margin prometheus.Gauge

	// 统计指标
	statsSamples prometheus.Gauge
	statsMean    prometheus.Gauge
	statsStdev   prometheus.Gauge

	// 仓位指标
	delta    prometheus.Gauge
	position *prometheus.GaugeVec
	pnl      prometheus.Gauge

	// 市场指标
	bidPrice *prometheus.GaugeVec
	askPrice *prometheus.GaugeVec

	// 订单指标
	intents        *prometheus.CounterVec
	ordersSent     prometheus.Counter
	ordersRejected prometheus.Counter
	cancelErrors   prometheus.Counter
	throttled      prometheus.Counter

	// 成交指标
	ownTrades    prometheus.Counter
	ownVolume    prometheus.Counter
	marketTrades prometheus.Counter

	// 周期指标
	cycles        prometheus.Counter
	skipped       *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	readDuration  prometheus.Histogram
	syncDuration  prometheus.Histogram
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "quoter",
		Subsystem: "engine",
	}
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help})
	}
	histogram := func(name, help string) prometheus.Histogram {
		return factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help, Buckets: latencyBuckets,
		})
	}

	return &Monitor{
		registry: reg,

		theo:   gauge("theo", "当前理论价"),
		margin: gauge("margin", "当前置信半宽"),

		statsSamples: gauge("stats_samples", "成交价统计样本数"),
		statsMean:    gauge("stats_mean", "成交价均值"),
		statsStdev:   gauge("stats_stdev", "成交价总体标准差"),

		delta: gauge("delta", "两条腿合计净仓位"),
		position: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: "position", Help: "各品种净仓位",
		}, []string{"instrument"}),
		pnl: gauge("pnl", "交易所报告的总盈亏"),

		bidPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: "bid_price", Help: "当前买一价",
		}, []string{"instrument"}),
		askPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: "ask_price", Help: "当前卖一价",
		}, []string{"instrument"}),

		intents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: "intents_total", Help: "限仓后生成的下单意图数",
		}, []string{"kind"}),
		ordersSent:     counter("orders_submitted_total", "提交成功的订单数"),
		ordersRejected: counter("orders_rejected_total", "被拒绝的订单数"),
		cancelErrors:   counter("cancel_errors_total", "撤单失败次数"),
		throttled:      counter("throttled_intents_total", "被限仓裁掉的意图数"),

		ownTrades:    counter("own_trades_total", "自有成交笔数"),
		ownVolume:    counter("own_volume_total", "自有成交累计数量"),
		marketTrades: counter("market_trades_total", "去重后的公开成交笔数"),

		cycles: counter("cycles_total", "已执行周期数"),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: "cycles_skipped_total", Help: "被跳过的周期数",
		}, []string{"reason"}),
		cycleDuration: histogram("cycle_duration_seconds", "单周期耗时（秒）"),
		readDuration:  histogram("read_duration_seconds", "行情读取耗时（秒）"),
		syncDuration:  histogram("sync_duration_seconds", "撤单重挂耗时（秒）"),
	}
}

// OnCycle 实现 engine.Observer。
func (m *Monitor) OnCycle(r engine.Report) {
	m.cycles.Inc()
	m.cycleDuration.Observe(r.Duration.Seconds())
	if r.Skipped {
		m.skipped.WithLabelValues(r.SkipReason).Inc()
		return
	}
	m.readDuration.Observe(r.ReadTime.Seconds())
	m.syncDuration.Observe(r.Sync.Duration.Seconds())

	m.theo.Set(r.Theo)
	m.margin.Set(r.Margin)
	m.statsSamples.Set(float64(r.Stats.N))
	m.statsMean.Set(r.Stats.Mean)
	m.statsStdev.Set(r.Stats.Stdev())

	m.delta.Set(float64(r.Delta))
	for inst, pos := range r.Positions {
		m.position.WithLabelValues(inst).Set(float64(pos))
	}
	m.pnl.Set(r.PnL)

	for _, top := range []engine.BookTop{r.Primary, r.Linked} {
		if top.Bid.OK {
			m.bidPrice.WithLabelValues(top.Instrument).Set(top.Bid.Price)
		}
		if top.Ask.OK {
			m.askPrice.WithLabelValues(top.Instrument).Set(top.Ask.Price)
		}
	}

	m.intents.WithLabelValues(string(strategy.KindLadder)).Add(float64(r.Count(strategy.KindLadder)))
	m.intents.WithLabelValues(string(strategy.KindOpportunist)).Add(float64(r.Count(strategy.KindOpportunist)))
	if d := r.Proposed - len(r.Intents); d > 0 {
		m.throttled.Add(float64(d))
	}
	m.ordersSent.Add(float64(len(r.Sync.Submitted)))
	m.ordersRejected.Add(float64(len(r.Sync.Rejected)))
	m.cancelErrors.Add(float64(len(r.Sync.CancelErrors)))

	for _, t := range r.OwnTrades {
		m.ownTrades.Inc()
		m.ownVolume.Add(float64(t.Volume))
	}
	m.marketTrades.Add(float64(r.MarketTrades))
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
