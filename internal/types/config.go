package types

type RunMode string

const (
	// ModeSnapshot computes usage from a JSON snapshot file
	ModeSnapshot RunMode = "snapshot"
	// ModeStore computes usage from the configured Postgres and ClickHouse stores
	ModeStore RunMode = "store"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)
