// Package metrics records notification pipeline metrics with Prometheus.
//
// A Collector owns its registry, so several collectors can coexist in tests.
// ObserveBreaker plugs into breaker.WithObserver, SetQueueStats publishes
// queue snapshots, and Handler serves /metrics.
package metrics
