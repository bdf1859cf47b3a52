// Package api hosts the optional status server for a running scrape.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live tracker snapshot.
//   - GET /v1/run for the run identity and destination.
package api
