package emit

import (
	"context"
	"log/slog"
)

// LogEmitter forwards events to a *slog.Logger, one slog record per
// event. Construct the logger with slog.NewTextHandler for human-
// readable output or slog.NewJSONHandler for machine-readable JSONL —
// the choice lives in the handler, not in this type, following
// log/slog's own separation of concerns (the teacher's LogEmitter
// hand-rolled that text/JSON switch itself; slog already owns it).
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter wraps logger. A nil logger uses slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(event Event) {
	l.logger.Info(event.Msg, attrsFor(event)...)
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

// Flush is a no-op: slog handlers write synchronously (or own their
// buffering, e.g. a handler wrapping a bufio.Writer the caller
// controls directly).
func (l *LogEmitter) Flush(context.Context) error {
	return nil
}

func attrsFor(event Event) []any {
	attrs := []any{
		slog.String("kind", event.Kind),
		slog.String("sessionId", string(event.SessionId)),
	}
	if event.RunId != "" {
		attrs = append(attrs, slog.String("runId", string(event.RunId)))
	}
	if event.NodeId != "" {
		attrs = append(attrs, slog.String("nodeId", string(event.NodeId)))
	}
	for k, v := range event.Meta {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}
