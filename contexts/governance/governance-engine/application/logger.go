package application

import "log/slog"

// ModuleName is the "module" attribute on every governance log line.
const ModuleName = "governance/governance-engine"

// ResolveLogger guarantees a non-nil logger for application/worker code paths.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
