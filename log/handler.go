package log

import (
	"context"
	"io"
	"log/slog"
	"time"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }

// DiscardHandler drops every record; it is the root handler until InitLogger runs.
func DiscardHandler() slog.Handler {
	return discardHandler{}
}

// NewTerminalHandlerWithLevel writes aligned key=value lines for human readers.
func NewTerminalHandlerWithLevel(w io.Writer, lvl slog.Level, useColor bool) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				l, ok := a.Value.Any().(slog.Level)
				if !ok {
					return a
				}
				name := LevelAlignedString(l)
				if useColor {
					name = colorize(l, name)
				}
				return slog.String(slog.LevelKey, name)
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format("01-02|15:04:05.000"))
				}
			}
			return a
		},
	})
}

// NewJSONHandlerWithLevel emits one JSON object per record.
func NewJSONHandlerWithLevel(w io.Writer, lvl slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok {
					return slog.String(slog.LevelKey, LevelString(l))
				}
			}
			return a
		},
	})
}

func colorize(l slog.Level, s string) string {
	switch {
	case l >= LevelCrit:
		return "\x1b[35m" + s + "\x1b[0m"
	case l >= slog.LevelError:
		return "\x1b[31m" + s + "\x1b[0m"
	case l >= slog.LevelWarn:
		return "\x1b[33m" + s + "\x1b[0m"
	case l >= slog.LevelInfo:
		return "\x1b[32m" + s + "\x1b[0m"
	case l >= slog.LevelDebug:
		return "\x1b[36m" + s + "\x1b[0m"
	default:
		return "\x1b[34m" + s + "\x1b[0m"
	}
}
