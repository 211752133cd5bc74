// Package log provides structured event logging for the bridge.
//
// This package defines the Logger interface and Event types for capturing
// bridge-level events: poll cycles, cloud commands, auth refreshes,
// auto-mode decisions, and accessory traffic. It is separate from
// operational logging (slog) - event capture provides a complete
// machine-readable trace for debugging and analysis.
//
// # Basic Usage
//
// Components accept a Logger; applications pick the implementation:
//
//	// For development: log to console via slog
//	logger := log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	logger, _ := log.NewFileLogger("/var/lib/stbridge/bridge.blog")
//
//	// Both: use MultiLogger
//	logger := log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files use CBOR encoding with integer-keyed structs. The Reader
// type decodes and filters recorded event files.
package log
