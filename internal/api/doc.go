// Package api exposes the status server of a running extraction: liveness,
// Prometheus metrics and scheduler progress.
package api
