package log

import (
	"log/slog"
	"strings"
)

// Level is a log severity. Values match slog so they convert without a table.
type Level slog.Level

const (
	LevelDebug = Level(slog.LevelDebug)
	LevelInfo  = Level(slog.LevelInfo)
	LevelWarn  = Level(slog.LevelWarn)
	LevelError = Level(slog.LevelError)
)

func (l Level) String() string { return slog.Level(l).String() }

// ToSlogLevel returns l as a slog.Level.
func (l Level) ToSlogLevel() slog.Level { return slog.Level(l) }

// ParseLevel reads the level names used in config files and flags.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	var sl slog.Level
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "warning":
		return LevelWarn
	case "":
		return LevelInfo
	}
	if err := sl.UnmarshalText([]byte(s)); err != nil {
		return LevelInfo
	}
	return Level(sl)
}
