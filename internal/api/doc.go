// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs/archive and /v1/jobs/analyze for job submission.
//   - POST /v1/jobs/{job_id}/select and /stop to act on a job.
//   - GET /v1/crawls for the persisted crawl history via the
//     HistoryRepository interface.
package api
