package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wowfontmanager/fontcache/pkg/health"
	"github.com/wowfontmanager/fontcache/pkg/types"
	"github.com/wowfontmanager/fontcache/pkg/utils"
)

var _ types.CacheRecorder = (*Collector)(nil)

// Collector records cache activity as Prometheus metrics and keeps a
// per-kind summary for the debug endpoint.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *utils.StructuredLogger

	// Prometheus metrics
	requestCounter  *prometheus.CounterVec
	evictionCounter *prometheus.CounterVec
	diskErrors      *prometheus.CounterVec
	residentGauge   *prometheus.GaugeVec
	factoryDuration *prometheus.HistogramVec

	// Internal tracking
	kinds     map[string]*KindMetrics
	lastReset time.Time
	health    *health.Tracker

	// HTTP server for metrics endpoint
	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// DefaultConfig returns the metrics configuration used when none is given
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9464,
		Path:      "/metrics",
		Namespace: "fontcache",
		Labels:    make(map[string]string),
	}
}

// KindMetrics summarizes activity for one artifact kind
type KindMetrics struct {
	Hits            int64         `json:"hits"`
	DiskHits        int64         `json:"disk_hits"`
	Misses          int64         `json:"misses"`
	Evictions       int64         `json:"evictions"`
	DiskErrors      int64         `json:"disk_errors"`
	Resident        int           `json:"resident"`
	FactoryCalls    int64         `json:"factory_calls"`
	FactoryErrors   int64         `json:"factory_errors"`
	FactoryTotal    time.Duration `json:"factory_total"`
	AvgFactory      time.Duration `json:"avg_factory"`
	LastDiskError   string        `json:"last_disk_error,omitempty"`
	LastDiskErrorAt time.Time     `json:"last_disk_error_at,omitempty"`
}

// NewCollector creates a new metrics collector. A nil logger discards output.
func NewCollector(config *Config, logger *utils.StructuredLogger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	collector := &Collector{
		config:    config,
		logger:    logger.WithComponent("metrics"),
		kinds:     make(map[string]*KindMetrics),
		lastReset: time.Now(),
	}

	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry returns the Prometheus registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SetHealthTracker makes the health endpoint report the tracked components
func (c *Collector) SetHealthTracker(t *health.Tracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = t
}

// Start serves the metrics, health and debug endpoints. The listener is
// bound before Start returns so address errors are reported to the caller.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/cache", c.debugCacheHandler)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	c.mu.Lock()
	c.server = server
	c.listener = listener
	c.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Metrics server error", map[string]interface{}{"error": err})
		}
	}()

	c.logger.Info("Metrics server started", map[string]interface{}{
		"addr": listener.Addr().String(),
		"path": c.config.Path,
	})
	return nil
}

// Addr returns the bound address of the metrics server, or "" when not started
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordCacheHit records a hit served by the memory or disk tier
func (c *Collector) RecordCacheHit(kind, tier string) {
	if !c.config.Enabled {
		return
	}

	result := "hit"
	if tier == "disk" {
		result = "disk_hit"
	}
	c.requestCounter.With(prometheus.Labels{"kind": kind, "result": result}).Inc()

	c.update(kind, func(m *KindMetrics) {
		if tier == "disk" {
			m.DiskHits++
		} else {
			m.Hits++
		}
	})
}

// RecordCacheMiss records a memory tier miss
func (c *Collector) RecordCacheMiss(kind string) {
	if !c.config.Enabled {
		return
	}

	c.requestCounter.With(prometheus.Labels{"kind": kind, "result": "miss"}).Inc()
	c.update(kind, func(m *KindMetrics) { m.Misses++ })
}

// RecordEviction records a value leaving the memory tier
func (c *Collector) RecordEviction(kind string) {
	if !c.config.Enabled {
		return
	}

	c.evictionCounter.With(prometheus.Labels{"kind": kind}).Inc()
	c.update(kind, func(m *KindMetrics) { m.Evictions++ })
}

// RecordDiskError records a swallowed disk tier failure
func (c *Collector) RecordDiskError(kind, op string, err error) {
	if !c.config.Enabled {
		return
	}

	c.diskErrors.With(prometheus.Labels{"kind": kind, "op": op}).Inc()
	c.update(kind, func(m *KindMetrics) {
		m.DiskErrors++
		if err != nil {
			m.LastDiskError = err.Error()
			m.LastDiskErrorAt = time.Now()
		}
	})
}

// RecordFactory records the duration and outcome of a factory call
func (c *Collector) RecordFactory(kind string, duration time.Duration, success bool) {
	if !c.config.Enabled {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}
	c.factoryDuration.With(prometheus.Labels{"kind": kind, "status": status}).Observe(duration.Seconds())

	c.update(kind, func(m *KindMetrics) {
		m.FactoryCalls++
		m.FactoryTotal += duration
		m.AvgFactory = time.Duration(int64(m.FactoryTotal) / m.FactoryCalls)
		if !success {
			m.FactoryErrors++
		}
	})
}

// UpdateResident sets the number of resident entries for kind
func (c *Collector) UpdateResident(kind string, entries int) {
	if !c.config.Enabled {
		return
	}

	c.residentGauge.With(prometheus.Labels{"kind": kind}).Set(float64(entries))
	c.update(kind, func(m *KindMetrics) { m.Resident = entries })
}

// GetMetrics returns a copy of the per-kind summary
func (c *Collector) GetMetrics() map[string]KindMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]KindMetrics, len(c.kinds))
	for kind, m := range c.kinds {
		out[kind] = *m
	}
	return out
}

// ResetMetrics resets the per-kind summary. Prometheus counters are not reset.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.kinds = make(map[string]*KindMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) update(kind string, fn func(*KindMetrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.kinds[kind]
	if !ok {
		m = &KindMetrics{}
		c.kinds[kind] = m
	}
	fn(m)
}

func (c *Collector) initMetrics() {
	constLabels := prometheus.Labels(c.config.Labels)

	c.requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_requests_total",
			Help:        "Total number of cache lookups by artifact kind and result",
			ConstLabels: constLabels,
		},
		[]string{"kind", "result"},
	)

	c.evictionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_evictions_total",
			Help:        "Total number of values released from the memory tier",
			ConstLabels: constLabels,
		},
		[]string{"kind"},
	)

	c.diskErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_disk_errors_total",
			Help:        "Total number of disk tier failures degraded to misses",
			ConstLabels: constLabels,
		},
		[]string{"kind", "op"},
	)

	c.residentGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_resident_entries",
			Help:        "Current number of entries in the memory tier",
			ConstLabels: constLabels,
		},
		[]string{"kind"},
	)

	c.factoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "factory_duration_seconds",
			Help:        "Duration of artifact factory calls in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			ConstLabels: constLabels,
		},
		[]string{"kind", "status"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.requestCounter,
		c.evictionCounter,
		c.diskErrors,
		c.residentGauge,
		c.factoryDuration,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	tracker := c.health
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if tracker == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"fontcache-metrics"}`)) // Ignore write error for health check
		return
	}

	overall := tracker.GetOverallHealth()
	status := http.StatusOK
	if overall == health.StateUnavailable {
		status = http.StatusServiceUnavailable
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     overall,
		"service":    "fontcache-metrics",
		"components": tracker.GetAllComponents(),
	})
}

func (c *Collector) debugCacheHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	lastReset := c.lastReset
	c.mu.RUnlock()

	kinds := c.GetMetrics()
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	type kindEntry struct {
		Kind string `json:"kind"`
		KindMetrics
	}
	body := struct {
		Uptime    string      `json:"uptime"`
		LastReset time.Time   `json:"last_reset"`
		Kinds     []kindEntry `json:"kinds"`
	}{
		Uptime:    time.Since(lastReset).Round(time.Second).String(),
		LastReset: lastReset,
	}
	for _, name := range names {
		body.Kinds = append(body.Kinds, kindEntry{Kind: name, KindMetrics: kinds[name]})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		c.logger.Warn("Failed to write debug response", map[string]interface{}{"error": err})
	}
}
