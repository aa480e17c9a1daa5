package config

// Build metadata, overridden with -ldflags at release time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
