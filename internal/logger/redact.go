package logger

import (
	"log/slog"
	"strings"
)

// Attribute keys containing any of these fragments never reach the output.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"credential",
}

const redactedValue = "***REDACTED***"

func redact(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redact(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}

	key := strings.ToLower(a.Key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(key, pattern) {
			if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
				return a
			}
			return slog.String(a.Key, redactedValue)
		}
	}
	return a
}
