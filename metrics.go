package vectorguard

import (
	"net/http"
	"slices"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// PrometheusMetrics implements MetricsCollector on a private Prometheus registry. Vectors
// are created on first use from the label names of that call; later calls for the same
// metric must use the same label names or they are dropped.
type PrometheusMetrics struct {
	mu         sync.Mutex
	namespace  string
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labels     map[string][]string
}

func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		namespace:  namespace,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labels:     make(map[string][]string),
	}
}

// Registry exposes the underlying registry, e.g. for process collectors.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *PrometheusMetrics) IncrementCounter(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := labelNames(labels)
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      "Counter " + name,
		}, names)
		if !m.register(name, vec, names) {
			return
		}
		m.counters[name] = vec
	} else if !m.sameLabels(name, names) {
		return
	}
	vec.With(labels).Inc()
}

func (m *PrometheusMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := labelNames(labels)
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      "Histogram " + name,
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, names)
		if !m.register(name, vec, names) {
			return
		}
		m.histograms[name] = vec
	} else if !m.sameLabels(name, names) {
		return
	}
	vec.With(labels).Observe(value)
}

func (m *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := labelNames(labels)
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      "Gauge " + name,
		}, names)
		if !m.register(name, vec, names) {
			return
		}
		m.gauges[name] = vec
	} else if !m.sameLabels(name, names) {
		return
	}
	vec.With(labels).Set(value)
}

// CounterValue returns the current value of a counter (for testing/debugging)
func (m *PrometheusMetrics) CounterValue(name string, labels map[string]string) float64 {
	m.mu.Lock()
	vec, ok := m.counters[name]
	same := ok && m.sameLabels(name, labelNames(labels))
	m.mu.Unlock()
	if !same {
		return 0
	}
	return readMetric(vec.With(labels))
}

// GaugeValue returns the current value of a gauge (for testing/debugging)
func (m *PrometheusMetrics) GaugeValue(name string, labels map[string]string) float64 {
	m.mu.Lock()
	vec, ok := m.gauges[name]
	same := ok && m.sameLabels(name, labelNames(labels))
	m.mu.Unlock()
	if !same {
		return 0
	}
	return readMetric(vec.With(labels))
}

func (m *PrometheusMetrics) register(name string, c prometheus.Collector, names []string) bool {
	if _, taken := m.labels[name]; taken {
		// same name already used by a different metric type
		return false
	}
	if err := m.registry.Register(c); err != nil {
		return false
	}
	m.labels[name] = names
	return true
}

func (m *PrometheusMetrics) sameLabels(name string, names []string) bool {
	return slices.Equal(m.labels[name], names)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func readMetric(c prometheus.Metric) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	}
	return 0
}
