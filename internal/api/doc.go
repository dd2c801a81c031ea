// Package api hosts the HTTP server, middleware, and REST handlers for the
// screenshot service. Notable routes:
//   - POST /api/screenshot captures a page and waits for the result.
//   - GET /api/screenshots and /api/screenshots/{id} list stored captures.
//   - GET /screenshots/* serves the captured images.
//   - GET /api/stats reports pool, queue and performance figures.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
