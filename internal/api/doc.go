// Package api hosts the ops HTTP server, middleware, and read-only REST
// handlers over the run journal. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping of the injected registry.
//   - GET /v1/runs, /v1/runs/{run_id}, /v1/runs/{run_id}/outcomes and
//     /v1/runs/{run_id}/sites via the store.JournalRepository interface.
package api
