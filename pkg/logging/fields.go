package logging

import "log/slog"

// Domain identifiers

func Conversation(id string) slog.Attr {
	return slog.String("conv_id", id)
}

func Principal(id string) slog.Attr {
	return slog.String("principal", id)
}

func Connection(id string) slog.Attr {
	return slog.String("connection_id", id)
}

func Sequence(seq int64) slog.Attr {
	return slog.Int64("seq", seq)
}

// Request / tracing

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

func SpanID(id string) slog.Attr {
	return slog.String("span_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
