package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements metrics collection for a single rank of a distributed
// graph run: messages exchanged per collective kind, RPC latency per hard-sync
// request kind, synchronize() duration, migration node/edge counts, and
// termination round count.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	messageCounter      *prometheus.CounterVec
	rpcDuration         *prometheus.HistogramVec
	synchronizeDuration prometheus.Histogram
	migrationCounter    *prometheus.CounterVec
	terminationRounds   prometheus.Counter
	errorCounter        *prometheus.CounterVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration.
type Config struct {
	Enabled        bool              `yaml:"enabled"`
	Port           int               `yaml:"port"`
	Path           string            `yaml:"path"`
	Labels         map[string]string `yaml:"labels"`
	Namespace      string            `yaml:"namespace"`
	Subsystem      string            `yaml:"subsystem"`
	UpdateInterval time.Duration     `yaml:"update_interval"`
}

// OperationMetrics tracks metrics for a specific operation kind.
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// NewCollector creates a new metrics collector.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:        true,
			Port:           8080,
			Path:           "/metrics",
			Namespace:      "fpmas",
			Subsystem:      "",
			UpdateInterval: 30 * time.Second,
			Labels:         make(map[string]string),
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()

	collector := &Collector{
		config:     config,
		registry:   registry,
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	if err := collector.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Start starts the metrics collection server.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop stops the metrics collection server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordMessage records a message sent or received for a given collective or
// point-to-point kind ("send", "recv", "all_to_all", "gather", "broadcast",
// "barrier", "all_reduce").
func (c *Collector) RecordMessage(kind string, direction string) {
	if !c.config.Enabled {
		return
	}
	c.messageCounter.With(prometheus.Labels{"kind": kind, "direction": direction}).Inc()
}

// RecordRPC records the latency of a hard-sync mutex RPC of the given kind.
// hard.MutexClient passes hard.RequestKind.String() ("READ", "ACQUIRE",
// "RELEASE_ACQUIRE", ...), tracked as operation "rpc:"+kind.
func (c *Collector) RecordRPC(kind string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.rpcDuration.With(prometheus.Labels{"kind": kind}).Observe(duration.Seconds())
	c.recordOperation("rpc:"+kind, duration, true)
}

// RecordSynchronize records the wall-clock duration of a synchronize() call.
func (c *Collector) RecordSynchronize(duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.synchronizeDuration.Observe(duration.Seconds())
	c.recordOperation("synchronize", duration, true)
}

// RecordMigration records the number of nodes and edges exported or imported
// during a migration's step 4/5 (direction is "export" or "import").
func (c *Collector) RecordMigration(direction string, nodes, edges int64) {
	if !c.config.Enabled {
		return
	}
	c.migrationCounter.With(prometheus.Labels{"direction": direction, "kind": "node"}).Add(float64(nodes))
	c.migrationCounter.With(prometheus.Labels{"direction": direction, "kind": "edge"}).Add(float64(edges))
}

// RecordTerminationRound records one round of the four-color termination
// algorithm completing without detecting termination.
func (c *Collector) RecordTerminationRound() {
	if !c.config.Enabled {
		return
	}
	c.terminationRounds.Inc()
}

// RecordError records an error for the given operation.
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled {
		return
	}
	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      c.classifyError(err),
	}).Inc()

	c.mu.Lock()
	if metrics, exists := c.operations[operation]; exists {
		metrics.Errors++
	}
	c.mu.Unlock()
}

// GetMetrics returns current metrics.
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	metrics := make(map[string]interface{})

	operations := make(map[string]*OperationMetrics)
	for k, v := range c.operations {
		operations[k] = &OperationMetrics{
			Count:         v.Count,
			TotalDuration: v.TotalDuration,
			Errors:        v.Errors,
			LastOperation: v.LastOperation,
			AvgDuration:   v.AvgDuration,
		}
	}

	metrics["operations"] = operations
	metrics["last_reset"] = c.lastReset
	metrics["uptime"] = time.Since(c.lastReset)

	return metrics
}

// ResetMetrics resets all metrics.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) recordOperation(operation string, duration time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if metrics, exists := c.operations[operation]; exists {
		metrics.Count++
		metrics.TotalDuration += duration
		if !success {
			metrics.Errors++
		}
		metrics.LastOperation = time.Now()
		metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
	} else {
		errs := int64(0)
		if !success {
			errs = 1
		}
		c.operations[operation] = &OperationMetrics{
			Count:         1,
			TotalDuration: duration,
			Errors:        errs,
			LastOperation: time.Now(),
			AvgDuration:   duration,
		}
	}
}

func (c *Collector) initMetrics() error {
	c.messageCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "messages_total",
			Help:      "Total number of messages exchanged by kind and direction",
		},
		[]string{"kind", "direction"},
	)

	c.rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "mutex_rpc_duration_seconds",
			Help:      "Duration of hard-sync mutex RPCs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18), // 100us to ~13s
		},
		[]string{"kind"},
	)

	c.synchronizeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "synchronize_duration_seconds",
			Help:      "Duration of synchronize() calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	c.migrationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "migration_items_total",
			Help:      "Total nodes and edges exported or imported during migration",
		},
		[]string{"direction", "kind"},
	)

	c.terminationRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "termination_rounds_total",
			Help:      "Total rounds of the termination algorithm that did not detect termination",
		},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"operation", "type"},
	)

	return nil
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.messageCounter,
		c.rpcDuration,
		c.synchronizeDuration,
		c.migrationCounter,
		c.terminationRounds,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collector) classifyError(err error) string {
	errStr := err.Error()
	switch {
	case contains(errStr, "timeout"):
		return "timeout"
	case contains(errStr, "abort"):
		return "abort"
	case contains(errStr, "not found"):
		return "not_found"
	case contains(errStr, "epoch"):
		return "protocol"
	default:
		return "other"
	}
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"fpmas-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("fpmas-go Operations Summary\n")
	writef("============================\n\n")
	writef("Uptime: %v\n", time.Since(c.lastReset))
	writef("Last Reset: %v\n\n", c.lastReset)

	if len(c.operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	writef("%-24s %10s %10s %14s\n", "Operation", "Count", "Errors", "Avg Duration")
	writef("%-24s %10s %10s %14s\n", "----------", "-----", "------", "------------")

	for name, op := range c.operations {
		writef("%-24s %10d %10d %14v\n", name, op.Count, op.Errors, op.AvgDuration)
	}
}

// Utility functions

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr ||
		(len(s) > len(substr) && indexOf(s, substr) >= 0))
}

func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
