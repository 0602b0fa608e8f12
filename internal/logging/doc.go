// Package logging provides structured logging for rotlink.
//
// This package wraps a zap logger with convenience functions for the logging
// patterns used by the server and client: connection lifecycle events,
// packet traces and raw byte dumps.
//
// # Log Levels
//
//   - Debug: hex dumps of ciphertext and plaintext, peek decisions
//   - Info: connections, logins, messages, routing
//   - Warn: rejected logins, malformed packets, dropped feed events
//   - Error: listener failures, storage failures
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// An empty level falls back to the ROTLINK_LOG_LEVEL environment variable,
// and logging is silent when neither is set.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
