package logging

import (
	"log/slog"
	"time"
)

// Helpers return an empty Attr for empty input, which slog drops, so callers
// never need nil checks.

func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

func SessionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("session_id", id)
}

func TokenID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("token_id", id)
}

func Method(fullMethod string) slog.Attr {
	return slog.String("method", fullMethod)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Reason records why an auth decision was made. Never sent to clients.
func Reason(reason string) slog.Attr {
	if reason == "" {
		return slog.Attr{}
	}
	return slog.String("reason", reason)
}

func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}
