// Package event turns log records into jKool event payloads.
//
// A Record holds the reserved fields every event carries plus an ordered list
// of tags. Encode renders it as the JSON document the collector ingests;
// LogEvent is the helper applications use to attach the well-known jKool
// fields to an ordinary slog call.
package event

import (
	"log/slog"
	"strings"
	"time"
)

// Custom severities outside the slog defaults.
const (
	LevelTrace    slog.Level = -8
	LevelCritical slog.Level = 12
)

// EventType is the fixed "type" value of an encoded event.
const EventType = "EVENT"

// Tag is a named field merged into the event payload.
type Tag struct {
	Name  string
	Value any
}

// Record is the encoding input for one log call.
type Record struct {
	// Name is the logger/category name, encoded as "operation".
	Name string
	// Created is the record creation time. The zero value means "now".
	Created time.Time
	Message string
	Level   slog.Level
	// Tags are merged after the reserved fields, in order; later entries win.
	Tags []Tag
}

// Tag returns the value of the last tag named name.
func (r Record) Tag(name string) (any, bool) {
	for i := len(r.Tags) - 1; i >= 0; i-- {
		if r.Tags[i].Name == name {
			return r.Tags[i].Value, true
		}
	}
	return nil, false
}

// SeverityName maps a slog level onto the collector's upper-case severity
// names.
func SeverityName(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return "TRACE"
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARNING"
	case level < LevelCritical:
		return "ERROR"
	default:
		return "CRITICAL"
	}
}

// ParseSeverity is the inverse of SeverityName. Unknown names yield
// slog.LevelInfo and false.
func ParseSeverity(name string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TRACE":
		return LevelTrace, true
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO", "":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	case "CRITICAL", "FATAL":
		return LevelCritical, true
	default:
		return slog.LevelInfo, false
	}
}

// FieldName converts a tag name into its JSON key: underscores become hyphens.
func FieldName(tag string) string {
	return strings.ReplaceAll(tag, "_", "-")
}
