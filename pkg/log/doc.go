/*
Package log provides structured logging for Guichet using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

Guichet's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stderr, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("fusion")                  │          │
	│  │  - WithProvider("sirene")                   │          │
	│  │  - WithTool("get_entity_profile")           │          │
	│  │  - WithJob("entities_stock")                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                                │          │
	│  │  {                                           │          │
	│  │    "level": "info",                          │          │
	│  │    "component": "fusion",                    │          │
	│  │    "time": "2026-03-02T10:30:00Z",           │          │
	│  │    "message": "profile merged"               │          │
	│  │  }                                           │          │
	│  │                                               │          │
	│  │  Console Format:                              │          │
	│  │  10:30AM INF profile merged component=fusion │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Guichet packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithProvider: Add upstream provider name
  - WithTool: Add tool name for request-scoped logs
  - WithJob: Add ingest job name

# Usage

Initializing the Logger:

	import "github.com/opengreffe/guichet/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component-Scoped Logging:

	logger := log.WithComponent("cache")
	logger.Info().Str("key", key).Msg("cache hit")
	logger.Warn().Err(err).Msg("redis unreachable, failing open")

Provider-Scoped Logging:

	logger := log.WithProvider("sirene")
	logger.Debug().Int("status", resp.StatusCode).Msg("upstream response")

Simple Helpers:

	log.Info("gateway started")
	log.Errorf("failed to flush audit buffer", err)

# Credential Safety

Token values MUST never be logged. When logging credential lifecycle events,
log only the service name and expiry:

	logger.Info().
		Str("service", "insee").
		Time("expires_at", token.ExpiresAt).
		Msg("token refreshed")

# Integration Points

This package integrates with:

  - All pkg/ packages: Structured logging throughout
  - cmd/guichet: Logger initialization at boot from config
  - pkg/config: Log level configuration

# See Also

  - pkg/config for logging configuration options
  - zerolog documentation: https://github.com/rs/zerolog
*/
package log
