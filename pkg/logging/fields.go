package logging

import (
	"log/slog"
)

// Domain identifiers

func Job(id string) slog.Attr {
	return slog.String("job_id", id)
}

func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

func Status(s string) slog.Attr {
	return slog.String("status", s)
}

// Request / tracing

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
