// Package api hosts the operator HTTP surface of a sync run. Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the current run's status and counters.
package api
