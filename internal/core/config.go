package core

import "log/slog"

// Config holds per-engine runtime configuration.
type Config struct {
	MemoryLimitMB int          // per-VM memory limit, 0 for the engine default
	Logger        *slog.Logger // receives console output from scripts
}
