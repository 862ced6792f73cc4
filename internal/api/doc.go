// Package api hosts the HTTP server, middleware, and handlers for job
// submission. Notable routes:
//   - POST / and POST /v1/jobs accept {"url", "payload_id"} and queue a job.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
