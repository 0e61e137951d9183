// Package metrics provides operational metrics collection.
//
// Each process owns a private Prometheus registry so tests can build as many
// as they like. The node records one observation per protocol session and
// the coordinator one per fanned-out step.
package metrics
