// Package batch resolves assignment directives against discovered devices
// and provisions the resulting targets concurrently.
//
// Resolution is positional (directives consumed in discovery order) or by
// hardware id; leftovers on either side are reported rather than fatal.
// The Orchestrator runs one provision.Machine per target on an errgroup
// bounded to the configured worker count, funnels progress events through
// a single dispatch goroutine, and hands each finished report to a Sink.
package batch
