// Package telemetry groups operational observability for nodes and the
// coordinator. Tracing lives in platform/otel; Prometheus metrics live in
// telemetry/metrics.
package telemetry
