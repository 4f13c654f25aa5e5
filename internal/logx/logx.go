// Package logx provides the tagged logging helper used across the core
// packages, mirroring the two-level (level, tag) taxonomy of the runtime
// this host replaces.
package logx

import "log"

// Level is the coarse severity of a log line.
type Level string

const (
	Info  Level = "INFO"
	Warn  Level = "WARN"
	Error Level = "ERROR"
)

// Tag groups log lines by subsystem.
type Tag string

const (
	Auth  Tag = "AUTH"
	Proto Tag = "PROTO"
	Ext   Tag = "EXT"
	Net   Tag = "NET"
	Admin Tag = "ADMIN"
)

// Logf writes a tagged log line in the form "[LEVEL][TAG] message".
func Logf(level Level, tag Tag, format string, args ...any) {
	log.Printf("[%s][%s] "+format, append([]any{level, tag}, args...)...)
}
