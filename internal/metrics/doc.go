/*
Package metrics provides Prometheus-based metrics collection for a single
rank of a distributed graph run.

# Overview

The metrics package tracks the quantities that matter for understanding a
running fpmas-go process: how many messages cross the communication
substrate and of what kind, how long hard-sync mutex RPCs and synchronize()
calls take, how many nodes and edges move during migration, and how many
rounds the termination algorithm runs before detecting quiescence.

Architecture

	┌─────────────┐
	│  Collector  │  ← Per-rank metrics aggregator
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/operations │
	│ - Histograms │         └─────────────────┘
	└──────────────┘

# Core Components

Collector: the main metrics collector that aggregates and exports metrics.
It maintains both Prometheus metrics (for monitoring systems) and internal
operation tracking (for debugging).

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      8080,
		Path:      "/metrics",
		Namespace: "fpmas",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording Communication

	collector.RecordMessage("all_to_all", "sent")
	collector.RecordMessage("all_to_all", "recv")

# Recording Hard-Sync RPC Latency and Synchronize Duration

	start := time.Now()
	resp, err := mutexClient.Read(ctx, id)
	collector.RecordRPC("read", time.Since(start))

	start = time.Now()
	err = dataSync.Synchronize(ctx)
	collector.RecordSynchronize(time.Since(start))

# Recording Migration and Termination

	collector.RecordMigration("export", nodeCount, edgeCount)
	collector.RecordMigration("import", nodeCount, edgeCount)
	collector.RecordTerminationRound()

# Error Tracking

	if err != nil {
		collector.RecordError("synchronize", err)
		return err
	}

# Prometheus Metrics

The collector exports:

Counters:
  - fpmas_messages_total{kind,direction}: messages exchanged by collective/point-to-point kind
  - fpmas_migration_items_total{direction,kind}: nodes/edges exported or imported
  - fpmas_termination_rounds_total: rounds of the termination algorithm run
  - fpmas_errors_total{operation,type}: errors by operation and classification

Histograms:
  - fpmas_mutex_rpc_duration_seconds{kind}: hard-sync RPC latency distribution
  - fpmas_synchronize_duration_seconds: synchronize() latency distribution

# HTTP Endpoints

/metrics - Prometheus-formatted metrics (for scraping)

	curl http://localhost:8080/metrics

/health - Health check endpoint

	curl http://localhost:8080/health
	{"status":"healthy","service":"fpmas-metrics"}

/debug/operations - Tabular operations summary

	curl http://localhost:8080/debug/operations
	Operation                     Count     Errors   Avg Duration
	----------                    -----     ------   ------------
	rpc:read                       1523          0          180us
	synchronize                      42          0           12ms

# Configuration

	config := &metrics.Config{
		Enabled:        true,
		Port:           8080,
		Path:           "/metrics",
		Namespace:      "fpmas",
		Subsystem:      "",
		UpdateInterval: 30 * time.Second,
		Labels: map[string]string{
			"rank": "0",
		},
	}

# Thread Safety

All Collector methods are thread-safe and can be called concurrently from
multiple goroutines. The collector uses RWMutex for efficient concurrent
access to its internal operation-tracking map; the Prometheus vectors are
safe for concurrent use on their own.

# See Also

  - pkg/errors: structured error handling
  - internal/sync/hard: the mutex RPCs this package times
*/
package metrics
