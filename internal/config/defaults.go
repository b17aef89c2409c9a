package config

// Planning defaults.
const (
	DefaultPlanningRoot   = "./planning"
	DefaultSchemaVersion  = "1.1"
	DefaultAutoCreateDirs = true
)

// Server defaults.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8420
)

// Observability defaults.
const (
	DefaultLogLevel  = "info"
	DefaultDebugMode = false
)

// Cache defaults.
const (
	DefaultCacheMaxEntries = 1000
)
