// Lobbyscope - Live Lobby Roster and Player Stats Companion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lobbyscope

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// Slog wraps a zerolog logger in the slog interface for libraries that
// only speak log/slog. Records land in the same stream with the same
// level semantics.
func Slog(logger zerolog.Logger) *slog.Logger {
	return slog.New(&slogBridge{log: logger})
}

type slogBridge struct {
	log    zerolog.Logger
	attrs  []slog.Attr
	prefix string
}

func (b *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return mapSlogLevel(level) >= b.log.GetLevel()
}

func (b *slogBridge) Handle(_ context.Context, rec slog.Record) error {
	ev := b.log.WithLevel(mapSlogLevel(rec.Level))
	for _, attr := range b.attrs {
		ev = ev.Interface(attr.Key, attr.Value.Resolve().Any())
	}
	rec.Attrs(func(attr slog.Attr) bool {
		ev = ev.Interface(b.prefix+attr.Key, attr.Value.Resolve().Any())
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

// WithAttrs bakes the current group prefix into the keys so later
// WithGroup calls do not retroactively re-prefix them.
func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *b
	next.attrs = append([]slog.Attr{}, b.attrs...)
	for _, attr := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: b.prefix + attr.Key, Value: attr.Value})
	}
	return &next
}

func (b *slogBridge) WithGroup(name string) slog.Handler {
	next := *b
	next.prefix = b.prefix + name + "."
	return &next
}

func mapSlogLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
