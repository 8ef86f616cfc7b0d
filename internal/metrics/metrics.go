package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 汇总服务暴露的 Prometheus 指标。
// 所有方法都允许 nil 接收者，未接入指标的组件无需判断。
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	StoreFailures    *prometheus.CounterVec
	ReportsSubmitted *prometheus.CounterVec
	ResponderCalls   *prometheus.CounterVec
	Registrations    prometheus.Counter
}

// NewCollector 在独立的 registry 上注册指标，避免测试中重复注册到全局默认 registry。
func NewCollector(serviceName string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "store",
			Name:      "cache_lookups_total",
			Help:      "Table cache lookups by table and result (hit/miss).",
		}, []string{"table", "result"}),

		StoreFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "store",
			Name:      "failures_total",
			Help:      "Backing store calls that degraded to their failure value.",
		}, []string{"table", "op"}),

		ReportsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinical",
			Name:      "reports_submitted_total",
			Help:      "Daily reports persisted by alert level.",
		}, []string{"alert_level"}),

		ResponderCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "session",
			Name:      "responder_calls_total",
			Help:      "Responder invocations by responder kind and outcome.",
		}, []string{"responder", "outcome"}),

		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinical",
			Name:      "patients_registered_total",
			Help:      "Total number of patient registrations accepted.",
		}),
	}
}

// Handler 返回 /metrics 使用的 HTTP handler。
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveRequest(method, route, status string) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, route, status).Inc()
}

func (c *Collector) CacheHit(table string) {
	if c == nil {
		return
	}
	c.CacheLookups.WithLabelValues(table, "hit").Inc()
}

func (c *Collector) CacheMiss(table string) {
	if c == nil {
		return
	}
	c.CacheLookups.WithLabelValues(table, "miss").Inc()
}

func (c *Collector) StoreFailure(table, op string) {
	if c == nil {
		return
	}
	c.StoreFailures.WithLabelValues(table, op).Inc()
}

func (c *Collector) ReportSubmitted(level string) {
	if c == nil {
		return
	}
	c.ReportsSubmitted.WithLabelValues(level).Inc()
}

func (c *Collector) ResponderCall(responder, outcome string) {
	if c == nil {
		return
	}
	c.ResponderCalls.WithLabelValues(responder, outcome).Inc()
}

func (c *Collector) PatientRegistered() {
	if c == nil {
		return
	}
	c.Registrations.Inc()
}
