package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 持有对账循环的 Prometheus 指标，使用独立 registry 以便测试隔离。
type Collector struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	decisions      *prometheus.CounterVec
	orders         *prometheus.CounterVec
	skippedPairs   *prometheus.CounterVec
	positions      prometheus.Gauge
	lastCycleStart prometheus.Gauge
}

// New 创建并注册全部指标。
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kraken_cycles_total",
				Help: "Reconciliation cycles by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kraken_cycle_duration_seconds",
				Help:    "Wall time of a reconciliation cycle",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kraken_decisions_total",
				Help: "Decisions taken per action",
			},
			[]string{"action"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kraken_orders_total",
				Help: "Orders submitted by side and result",
			},
			[]string{"side", "result"},
		),
		skippedPairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kraken_pairs_skipped_total",
				Help: "Pairs skipped within a cycle, by stage",
			},
			[]string{"stage"},
		),
		positions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kraken_open_positions",
				Help: "Number of open positions held in the ledger",
			},
		),
		lastCycleStart: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kraken_last_cycle_timestamp_seconds",
				Help: "Unix time at which the last cycle started",
			},
		),
	}

	c.registry.MustRegister(
		c.cycles,
		c.cycleDuration,
		c.decisions,
		c.orders,
		c.skippedPairs,
		c.positions,
		c.lastCycleStart,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry 返回底层 registry。
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 /metrics 处理器。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// CycleStarted 记录本轮开始时间。
func (c *Collector) CycleStarted(at time.Time) {
	c.lastCycleStart.Set(float64(at.Unix()))
}

// CycleFinished 记录一轮对账结束。
func (c *Collector) CycleFinished(trigger, outcome string, elapsed time.Duration) {
	c.cycles.WithLabelValues(trigger, outcome).Inc()
	c.cycleDuration.Observe(elapsed.Seconds())
}

func (c *Collector) Decision(action string) {
	c.decisions.WithLabelValues(action).Inc()
}

func (c *Collector) Order(side, result string) {
	c.orders.WithLabelValues(side, result).Inc()
}

func (c *Collector) PairSkipped(stage string) {
	c.skippedPairs.WithLabelValues(stage).Inc()
}

func (c *Collector) OpenPositions(n int) {
	c.positions.Set(float64(n))
}
