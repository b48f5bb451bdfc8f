package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits below debug and logs the full prompts sent to Ollama
// and the raw text it returns.
const LevelTrace = slog.Level(-8)

var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLogLevel maps a log_level value to an [slog.Level]. Matching is
// case-insensitive and an empty string means info.
func ParseLogLevel(s string) (slog.Level, error) {
	if level, ok := logLevels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level %q (valid: trace, debug, info, warn, error)", s)
}

// ReplaceLogLevelNames prints [LevelTrace] as TRACE rather than DEBUG-4.
// Use it as [slog.HandlerOptions.ReplaceAttr].
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
