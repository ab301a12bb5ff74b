/*
Package metrics wires a minimal Prometheus surface into InnerFS: one
counter/histogram pair per façade operation, path-cache hit/miss
counters, the path cache's entry count, and the number of currently
open file handles.

# Collector

NewCollector builds a Collector and, when Enabled, registers its metrics
against a fresh registry. A disabled Collector is still safe to call —
every recording method becomes a no-op and Start does not open a
listener, so callers never need a nil check beyond what app.Open already
does when metric construction fails.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "innerfs",
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := collector.Start(); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording operations

The façade records every operation (getattr, lookup, readdir, mkdir,
create, open, read, write, flush, release, unlink, rmdir, rename,
statfs) with its transferred byte count and success/failure status:

	collector.RecordOperation("read", int64(len(data)), err == nil)

# Cache metrics

The name resolver reports path-cache hits and misses as it walks a
path, and the façade reports the cache's current entry count on statfs:

	collector.RecordCacheHit("etc")
	collector.RecordCacheMiss("etc")
	collector.UpdateCacheSize("path_cache", currentEntryCount)

# Exported metrics

Counters:
  - innerfs_operations_total{op,outcome}
  - innerfs_path_cache_requests_total{outcome}

Histograms:
  - innerfs_operation_bytes{op}

Gauges:
  - innerfs_cache_entries{cache}
  - innerfs_open_handles

# HTTP endpoint

mount starts the collector alongside the FUSE server and stops it on
unmount; the single endpoint it serves is config.Path in Prometheus
exposition format:

	curl http://localhost:9090/metrics

See also internal/circuit for the per-backend reliability layer the
replicated pipeline wraps around blob uploads.
*/
package metrics
