/*
Package metrics exports font cache activity as Prometheus metrics.

# Overview

Collector implements types.CacheRecorder. The artifact cache reports every
lookup, eviction, disk failure and factory call through it, and the
collector turns those events into Prometheus series on a private registry
along with a small per-kind summary for debugging.

Architecture

	┌─────────────┐
	│  Collector  │  ← types.CacheRecorder
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/cache   │
	│ - Histograms │         └─────────────────┘
	│ - Gauges     │
	└──────────────┘

# Metrics

All series carry the configured namespace, subsystem and constant labels.

	cache_requests_total{kind,result}          result is hit, disk_hit or miss
	cache_evictions_total{kind}                values released from memory
	cache_disk_errors_total{kind,op}           disk failures degraded to misses
	cache_resident_entries{kind}               memory tier occupancy
	factory_duration_seconds{kind,status}      factory latency, status success or error

A disk hit is always preceded by a miss for the same request, so the memory
hit rate is hit / (hit + miss).

# Usage

	collector, err := metrics.NewCollector(cfg.Monitoring.Metrics, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

	opts := cache.DefaultOptions()
	opts.Recorder = collector

A disabled configuration yields a collector whose record methods are no-ops
and whose Start does not listen.
*/
package metrics
