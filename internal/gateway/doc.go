// Package gateway exposes the HTTP API: job submission and inspection,
// signed artifact downloads, and the per-job WebSocket progress feed.
package gateway
