// Package metrics exposes a minimal Prometheus surface over the façade's
// and resolver's operation counters: a counter and a size histogram per
// filesystem operation (getattr, lookup, readdir, mkdir, create, open,
// read, write, flush, release, unlink, rmdir, rename, statfs), path-cache
// hit/miss counters, the path cache's entry count, and the number of
// currently open file handles.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config tunes the collector and, when Enabled, the HTTP server that
// mount wraps around it.
type Config struct {
	Enabled   bool
	Port      int
	Path      string
	Namespace string
	Subsystem string
}

// Collector is the façade's and resolver's metrics sink. A nil *Collector
// is never constructed by NewCollector; callers that want metrics off
// pass Enabled: false instead, in which case every recording method is a
// no-op and Start does not open a listener.
type Collector struct {
	config   Config
	registry *prometheus.Registry
	server   *http.Server

	operationTotal *prometheus.CounterVec
	operationBytes *prometheus.HistogramVec
	cacheTotal     *prometheus.CounterVec
	cacheSize      *prometheus.GaugeVec
	openHandles    prometheus.Gauge
}

// NewCollector builds a Collector and registers its metrics against a
// fresh registry. When config.Enabled is false the returned Collector
// records nothing and Start is a no-op.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{}
	}
	cfg := *config
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}

	c := &Collector{config: cfg}
	if !cfg.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.operationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "operations_total",
		Help:      "Total filesystem operations by op and outcome.",
	}, []string{"op", "outcome"})
	c.operationBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "operation_bytes",
		Help:      "Bytes transferred by a read, write or flush operation.",
		Buckets:   prometheus.ExponentialBuckets(512, 4, 12), // 512B .. ~8MB
	}, []string{"op"})
	c.cacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "path_cache_requests_total",
		Help:      "Path cache lookups by outcome (hit or miss).",
	}, []string{"outcome"})
	c.cacheSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "cache_entries",
		Help:      "Current entry count of a named in-process cache.",
	}, []string{"cache"})
	c.openHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "open_handles",
		Help:      "Number of currently open file handles.",
	})

	for _, m := range []prometheus.Collector{
		c.operationTotal, c.operationBytes,
		c.cacheTotal, c.cacheSize, c.openHandles,
	} {
		if err := c.registry.Register(m); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	return c, nil
}

// Start opens a listener and serves the registry's metrics in Prometheus
// exposition format at config.Path, returning once the listener is up.
// The server itself runs in a background goroutine until Stop is called
// or it fails; a failure after Start returns is silently dropped, matching
// how mount treats the FUSE server's background goroutines.
func (c *Collector) Start() error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", c.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", c.server.Addr, err)
	}

	go func() {
		_ = c.server.Serve(ln)
	}()
	return nil
}

// Stop shuts the metrics HTTP server down, if Start opened one.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordOperation records one façade operation's outcome and transferred
// byte count. size is 0 for operations that do not move file data.
func (c *Collector) RecordOperation(op string, size int64, ok bool) {
	if !c.config.Enabled {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.operationTotal.WithLabelValues(op, outcome).Inc()
	if size > 0 {
		c.operationBytes.WithLabelValues(op).Observe(float64(size))
	}
}

// RecordCacheHit counts a resolver path-cache hit.
func (c *Collector) RecordCacheHit(name string) {
	if !c.config.Enabled {
		return
	}
	c.cacheTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss counts a resolver path-cache miss.
func (c *Collector) RecordCacheMiss(name string) {
	if !c.config.Enabled {
		return
	}
	c.cacheTotal.WithLabelValues("miss").Inc()
}

// UpdateCacheSize reports cache's current entry count.
func (c *Collector) UpdateCacheSize(cache string, size int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheSize.WithLabelValues(cache).Set(float64(size))
}

// UpdateActiveConnections reports the number of currently open file handles.
func (c *Collector) UpdateActiveConnections(count int) {
	if !c.config.Enabled {
		return
	}
	c.openHandles.Set(float64(count))
}
