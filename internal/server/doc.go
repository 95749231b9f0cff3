// Package server hosts the ClipForge HTTP API behind a single multiplexer.
//
// The server builds a consistent middleware chain of worker auth, rate
// limiting, metrics, audit, CORS, security headers, and logging so handlers
// all share common protections and instrumentation.
//
// Alongside the REST routes it exposes the Prometheus scrape endpoint and the
// server-sent event stream that clients follow for job progress.
package server
