// Package cmd implements the aiops-data-collector command line.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts jobs on POST / and POST /v1/jobs, validates the url field and hands the
//     job to the dispatcher. Health, readiness and Prometheus metrics are served alongside.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by jobs.queue_depth and are fanned out to
//     a fixed worker pool sized by jobs.concurrency. A full queue rejects the job with 503 after
//     jobs.admission_timeout_ms.
//   - Strategies: the download strategy streams one file to a temporary file, parses it and forwards it. The
//     inventory strategy walks an ordered entity graph over paginated collections, optionally once per tenant.
//   - Delivery: each payload is POSTed once to relay.destination through the retrying transport. Delivered payloads
//     are optionally archived (memory/local/GCS/S3), announced on Pub/Sub and every outcome is written to the
//     Postgres ledger when a DSN is configured.
//   - Configuration & plumbing: Viper reads an optional YAML file plus COLLECTOR_* and legacy environment names; zap
//     provides structured logging; OpenTelemetry spans wrap jobs and outbound calls.
//
// Quick checklist:
//   - Run the service: aiops-data-collector serve --config configs/config.yaml
//   - Run one job: aiops-data-collector run --url https://host/data.json --destination next:8080
package cmd
