package health

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/impuestito/botcore/internal/models"
)

// Exporter publishes the shared counters as Prometheus metrics. The
// embedding bot decides whether and where to mount the handler.
type Exporter struct {
	registry *prometheus.Registry
}

// NewExporter builds a registry over the counter aggregate. cacheLen
// supplies the live entry count for the size gauge.
func NewExporter(namespace string, metrics *models.Metrics, cacheLen func() int64) *Exporter {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	counter := func(name, help string, load func() int64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(load()) })
	}

	registry.MustRegister(
		counter("cache_hits_total", "Cache lookups served from the cache.", metrics.Hits.Load),
		counter("cache_misses_total", "Cache lookups that required a fetch.", metrics.Misses.Load),
		counter("cache_evictions_total", "Entries evicted under capacity pressure.", metrics.Evictions.Load),
		counter("rate_limit_rejections_total", "Commands rejected by the rate limiter.", metrics.Rejections.Load),
		counter("commands_total", "Commands dispatched.", metrics.Commands.Load),
		counter("command_errors_total", "Commands that failed.", metrics.Errors.Load),
	)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_size",
		Help:      "Current number of live cache entries.",
	}, func() float64 { return float64(cacheLen()) }))

	return &Exporter{registry: registry}
}

// Registry exposes the underlying registry for additional collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
