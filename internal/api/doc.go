// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/checkpoint for the persisted crawl position.
//   - GET /v1/run for the current or last run, POST /v1/run to start one.
package api
