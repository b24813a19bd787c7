// Package logging provides structured logging for camstage.
//
// This package wraps a zap logger with convenience functions for the
// patterns used by the responder and the provisioning pipeline. Logging is
// silent until Initialize is called with a level, or CAMSTAGE_LOG_LEVEL is
// set, so CLI output stays clean by default.
//
// # Log Levels
//
//   - Debug: datagram hex dumps, strategy attempts, HTTP round trips
//   - Info: lease transitions, step outcomes, batch lifecycle
//   - Warn: malformed packets, pool exhaustion, failed steps, verification warnings
//   - Error: bind failures, report write failures
//
// # Structured Logging
//
//	logging.Info("Batch started",
//	    zap.String("run_id", runID),
//	    zap.Int("devices", len(targets)),
//	)
//
// Domain helpers keep field names consistent across packages:
//
//	logging.LogLease("bound", "00:40:8c:12:34:56", "192.168.0.50")
//	logging.LogPacket("in", "0.0.0.0:68", "DISCOVER", data)
//	logging.LogStep("00:40:8c:12:34:56", "static_address", "success", 1, "")
//
// Log output goes to stderr so it never interleaves with report output
// written to stdout.
package logging
