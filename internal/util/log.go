package util

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogFromContext returns a request-specific zerolog instance using the provided context.
// The returned logger will have the transaction ID as well as some other attributes attached, if available.
// If no logger is associated with the given context, the global logger is returned.
func LogFromContext(ctx context.Context) *zerolog.Logger {
	l := log.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		if ShouldDisableLogger(ctx) {
			return l
		}
		l = &log.Logger
	}

	return l
}

// WithLogFields returns a copy of ctx carrying a logger enriched with the given string fields.
func WithLogFields(ctx context.Context, fields map[string]string) context.Context {
	c := LogFromContext(ctx).With()
	for k, v := range fields {
		if v == "" {
			continue
		}
		c = c.Str(k, v)
	}

	l := c.Logger()

	return l.WithContext(ctx)
}
