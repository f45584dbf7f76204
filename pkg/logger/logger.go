package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu       sync.RWMutex
	minLevel = LevelInfo
)

// SetLevel sets the minimum level that will be emitted. Unknown names are
// ignored and the current level is kept.
func SetLevel(name string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		minLevel = LevelDebug
	case "info":
		minLevel = LevelInfo
	case "warn", "warning":
		minLevel = LevelWarn
	case "error":
		minLevel = LevelError
	}
}

func enabled(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= minLevel
}

func levelTag(l Level) string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

func emit(l Level, component, msg string, fields map[string]interface{}) {
	if !enabled(l) {
		return
	}

	var sb strings.Builder
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	sb.WriteString(" [")
	sb.WriteString(levelTag(l))
	sb.WriteString("] [")
	sb.WriteString(component)
	sb.WriteString("] ")
	sb.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf(" %s=%v", k, fields[k]))
		}
	}

	fmt.Fprintln(os.Stderr, sb.String())
}

func DebugC(component, msg string) { emit(LevelDebug, component, msg, nil) }
func InfoC(component, msg string)  { emit(LevelInfo, component, msg, nil) }
func WarnC(component, msg string)  { emit(LevelWarn, component, msg, nil) }
func ErrorC(component, msg string) { emit(LevelError, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	emit(LevelDebug, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	emit(LevelInfo, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	emit(LevelWarn, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit(LevelError, component, msg, fields)
}
