// Package sinks implements progress callbacks that forward tracker snapshots
// to structured logs and Prometheus gauges.
package sinks
