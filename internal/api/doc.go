// Package api hosts the read-only operator HTTP API. Notable routes:
//   - GET /healthz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/scheduler/status and POST /v1/scheduler/run for sweep control.
//   - GET /v1/jobs and /v1/posts for crawl history.
//   - GET /v1/analytics/... proxied through the cached analytics client.
package api
