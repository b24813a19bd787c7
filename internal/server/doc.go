// Package server exposes a running batch over HTTP for bench dashboards.
//
// Routes:
//
//	GET /livez              liveness probe
//	GET /api/leases         lease table snapshot and pool stats
//	GET /api/reports        finished device reports, in batch order
//	GET /api/reports/{mac}  one device's report
//	GET /api/summary        done and failed counts
//	GET /api/events         websocket feed of progress events as JSON
//
// Every route is read-only. The event feed is fed by passing
// Hub().Broadcast as a progress event consumer; slow clients are
// disconnected rather than allowed to hold up the batch.
package server
