package models

import (
	"strings"
	"time"
)

// Level is the ordinal severity reported by the proxy engine
type Level uint8

// Severity levels, ordered from least to most severe
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

// String returns the upper-case level name
func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// Valid reports whether l is one of the five known levels
func (l Level) Valid() bool {
	return l <= LevelError
}

// LevelFromInt maps a raw engine level onto the known range.
// Values below zero become TRACE and values above four become ERROR.
func LevelFromInt(v int) Level {
	switch {
	case v < int(LevelTrace):
		return LevelTrace
	case v > int(LevelError):
		return LevelError
	default:
		return Level(v)
	}
}

// ParseLevel converts a level name ("info", "WARN", "warning") to a Level
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace, true
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelTrace, false
}

// LogRecord represents a single retained log line
type LogRecord struct {
	ID          string    `json:"id"`
	Level       Level     `json:"level"`
	Message     string    `json:"message"`
	ArrivalTime time.Time `json:"arrival_time"`
	ConnID      *int64    `json:"conn_id"` // nil when the message carries no conn_id
}

// HasConn reports whether the record is tagged with a connection id
func (r LogRecord) HasConn() bool {
	return r.ConnID != nil
}

// SameConn reports whether the record carries exactly the given connection id
func (r LogRecord) SameConn(id int64) bool {
	return r.ConnID != nil && *r.ConnID == id
}

// LevelSet is a set of levels stored as a bitmask
type LevelSet uint8

// AllLevels contains every known level
const AllLevels LevelSet = 1<<(LevelError+1) - 1

// NewLevelSet builds a set from the given levels
func NewLevelSet(levels ...Level) LevelSet {
	var s LevelSet
	for _, l := range levels {
		s = s.Add(l)
	}
	return s
}

// DefaultLevels is the filter applied at session start: INFO, WARN and ERROR
func DefaultLevels() LevelSet {
	return NewLevelSet(LevelInfo, LevelWarn, LevelError)
}

// Has reports whether l is a member of the set
func (s LevelSet) Has(l Level) bool {
	return l.Valid() && s&(1<<l) != 0
}

// Add returns the set with l included
func (s LevelSet) Add(l Level) LevelSet {
	if !l.Valid() {
		return s
	}
	return s | 1<<l
}

// Remove returns the set with l excluded
func (s LevelSet) Remove(l Level) LevelSet {
	return s &^ (1 << l)
}

// Toggle flips membership of l
func (s LevelSet) Toggle(l Level) LevelSet {
	if s.Has(l) {
		return s.Remove(l)
	}
	return s.Add(l)
}

// Levels lists the members in ascending severity
func (s LevelSet) Levels() []Level {
	out := make([]Level, 0, len(levelNames))
	for l := LevelTrace; l <= LevelError; l++ {
		if s.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

// String renders the set as a comma separated list of names
func (s LevelSet) String() string {
	levels := s.Levels()
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = l.String()
	}
	return strings.Join(names, ",")
}
