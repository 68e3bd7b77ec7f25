// Package observability records per-request performance data for the
// generation pipeline: an in-memory capacity-bounded request log with
// derived efficiency reporting, and a Prometheus collector for scrape
// export.
package observability
