// Package progress defines the closed set of job progress events, the
// non-blocking hub that batches them, and the emitter interface the scheduler
// reports through. Sinks such as structured logs, Prometheus collectors and
// Pub/Sub notifications live in progress/sinks.
package progress
