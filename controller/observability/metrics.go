package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ReadingsTotal        = "aqnode_readings_total"
	BatchesTotal         = "aqnode_batches_total"
	SampleErrorsTotal    = "aqnode_sample_errors_total"
	ConnectivityTimeouts = "aqnode_connectivity_timeouts_total"
	UploadsTotal         = "aqnode_uploads_total"
	CommandsTotal        = "aqnode_console_commands_total"

	LastPPM       = "aqnode_last_ppm"
	LastRaw       = "aqnode_last_raw_analog"
	BaselineR0    = "aqnode_baseline_r0"
	OperatingMode = "aqnode_operating_mode"

	CycleSeconds       = "aqnode_sampling_cycle_seconds"
	ArbiterWaitSeconds = "aqnode_arbiter_wait_seconds"
)

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	mu       sync.Mutex
	counters map[string]prometheus.Counter
	vecs     map[string]*prometheus.CounterVec
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		vecs:     make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]prometheus.Gauge),
		histos:   make(map[string]prometheus.Histogram),
	}
	m.registry.MustRegister(collectors.NewGoCollector())

	m.counter(ReadingsTotal, "Gas sensor readings taken")
	m.counter(BatchesTotal, "Complete reading batches stored")
	m.counter(SampleErrorsTotal, "Sampling cycles aborted by a sensor or arbiter error")
	m.counter(ConnectivityTimeouts, "Radio state changes that did not complete in time")
	m.counterVec(UploadsTotal, "Upload attempts by outcome", "result")
	m.counterVec(CommandsTotal, "Console commands by name", "command")

	m.gauge(LastPPM, "Mean concentration of the last summarized batch")
	m.gauge(LastRaw, "Mean raw analog value of the last summarized batch")
	m.gauge(BaselineR0, "Calibration baseline in use")
	m.gauge(OperatingMode, "1 in normal mode, 0 in failsafe")

	m.histogram(CycleSeconds, "Duration of a sampling cycle including radio handover",
		[]float64{1, 2, 3, 5, 10, 20, 30, 60})
	m.histogram(ArbiterWaitSeconds, "Time spent waiting for the ADC lock",
		prometheus.ExponentialBuckets(0.001, 4, 8))
	return m
}

func (m *Metrics) counter(name, help string) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	m.registry.MustRegister(c)
	m.counters[name] = c
}

func (m *Metrics) counterVec(name, help, label string) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{label})
	m.registry.MustRegister(c)
	m.vecs[name] = c
}

func (m *Metrics) gauge(name, help string) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	m.registry.MustRegister(g)
	m.gauges[name] = g
}

func (m *Metrics) histogram(name, help string, buckets []float64) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
	m.registry.MustRegister(h)
	m.histos[name] = h
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	c, ok := m.counters[name]
	m.mu.Unlock()
	if ok {
		c.Inc()
	}
}

// IncLabel increments a labelled counter such as uploads by result.
func (m *Metrics) IncLabel(name, value string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	v, ok := m.vecs[name]
	m.mu.Unlock()
	if ok {
		v.WithLabelValues(value).Inc()
	}
}

func (m *Metrics) Set(name string, value float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	g, ok := m.gauges[name]
	m.mu.Unlock()
	if ok {
		g.Set(value)
	}
}

func (m *Metrics) Observe(name string, seconds float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	h, ok := m.histos[name]
	m.mu.Unlock()
	if ok {
		h.Observe(seconds)
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
