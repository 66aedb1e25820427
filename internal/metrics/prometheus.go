package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus mirrors counter metrics into per-name CounterVecs labelled by
// source, e.g. liqwatch_notifications_sent_total{source="binance_force_orders"}.
type Prometheus struct {
	registry  *prometheus.Registry
	handlerID MetricHandlerID

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
}

// NewPrometheus registers a metric handler backed by a fresh registry that
// also carries the Go runtime and process collectors.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p := &Prometheus{
		registry: reg,
		counters: make(map[string]*prometheus.CounterVec),
	}
	p.handlerID = RegisterMetricHandler(p.handle)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Close stops mirroring metrics.
func (p *Prometheus) Close() {
	UnregisterMetricHandler(p.handlerID)
}

func (p *Prometheus) handle(m Metric) {
	if m.Type != "counter" {
		return
	}
	value, ok := toFloat64(m.Value)
	if !ok || value < 0 {
		return
	}
	source, _ := m.Fields["source"].(string)
	p.counter(m.Name).WithLabelValues(source).Add(value)
}

func (p *Prometheus) counter(name string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cv, ok := p.counters[name]; ok {
		return cv
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liqwatch",
		Name:      name + "_total",
		Help:      "Total " + name + " per source.",
	}, []string{"source"})
	p.registry.MustRegister(cv)
	p.counters[name] = cv
	return cv
}
