// Package cmd defines the screenshot-service CLI.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes capture, listing, stats, health and metrics endpoints. Capture requests
//     are rate limited per client IP, validated against the resolution and user-agent allow-lists, and checked by the
//     URL safety validator before anything is queued.
//   - Dispatcher & queue: admitted jobs enter a priority queue that runs at most queue.max_concurrent captures at
//     once. Waiting jobs can be cancelled; shutdown cancels everything still waiting and drains running jobs.
//   - Capture pipeline: each job borrows one browser from a bounded pool, opens a fresh tab, applies the viewport,
//     user agent and optional ad/tracker blocklist, navigates under a navigation timeout and captures under its own
//     screenshot timeout. Idle browsers are reaped in the background.
//   - Persistence & fanout: the PNG lands in capture.output_dir and is optionally mirrored to a BlobStore
//     (memory/local/GCS). Metadata is kept in memory or Postgres, and a capture event is published to Pub/Sub when a
//     topic is configured.
//   - Configuration & plumbing: Viper reads YAML and SCREENSHOT_* env vars; zap provides structured logging;
//     Prometheus metrics are served on /metrics; OpenTelemetry spans wrap each capture.
//
// Quick checklist:
//   - Configure env vars: SCREENSHOT_SERVER_PORT or PORT, SCREENSHOT_BROWSER_POOL_SIZE,
//     SCREENSHOT_QUEUE_MAX_CONCURRENT, SCREENSHOT_BROWSER_EXEC_PATH, storage (SCREENSHOT_STORAGE_*), pubsub, and the
//     database DSN when records must outlive the process.
//   - Run locally: go run . serve --config config.yaml
//   - One-shot capture: go run . capture --url https://example.com --out shot.png
//   - Cloud Run: the container listens on PORT, flips /readyz to 503 on SIGTERM and drains in-flight captures.
package cmd
