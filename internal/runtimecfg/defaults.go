// Package runtimecfg centralizes tunable runtime constants.
package runtimecfg

import "time"

const (
	WorkerDefaultMaxIterations = 20
)

const (
	ServerDefaultAddr     = "127.0.0.1:7420"
	ServerShutdownTimeout = 5 * time.Second
	SSEClientBufferSize   = 64
)

const (
	WorkerClientHTTPTimeout = 30 * time.Second
	WorkerResultMaxAttempts = 3
	WorkerResultRetryDelay  = time.Second
)

const (
	ToolExecDefaultTimeoutSeconds = 60
	ToolExecOutputMaxChars        = 50000
	ToolResultMaxChars            = 100000
)

const (
	ToolWebSearchDefaultMaxResults = 5
	ToolWebSearchHTTPTimeout       = 15 * time.Second
)

const (
	ToolWebFetchHTTPTimeout     = 30 * time.Second
	ToolWebFetchMaxReadBytes    = 500000
	ToolWebFetchMaxContentChars = 100000
)
