package logger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// EnvLevel names the environment variable read by LevelFromEnv.
const EnvLevel = "RINGLINK_LOG_LEVEL"

// LogLevel represents the severity of a log message
type LogLevel int

const (
	TRACE LogLevel = iota // Raw frames and notifications
	DEBUG                 // Handshake steps, decoded telemetry
	INFO                  // Scan sessions, connection state changes
	WARN                  // Absorbed failures (telemetry unavailable)
	ERROR                 // Failed pairing attempts
)

// levelNames are padded to five columns so messages line up.
var levelNames = [...]string{
	TRACE: "TRACE",
	DEBUG: "DEBUG",
	INFO:  "INFO ",
	WARN:  "WARN ",
	ERROR: "ERROR",
}

// sink is the process-wide log destination.
type sink struct {
	mu         sync.RWMutex
	level      LogLevel
	out        io.Writer
	timestamps bool
}

var std = &sink{level: INFO, out: os.Stdout}

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	std.mu.RLock()
	defer std.mu.RUnlock()
	return std.level
}

// SetOutput redirects log output. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.out = w
}

// SetTimestamps enables an RFC3339 millisecond timestamp on every line.
func SetTimestamps(enabled bool) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.timestamps = enabled
}

// ParseLevel maps a level name, in any case, to a LogLevel. WARNING is
// accepted for WARN; anything unknown is INFO.
func ParseLevel(level string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(level))
	if name == "WARNING" {
		return WARN
	}
	for l, n := range levelNames {
		if strings.TrimSpace(n) == name {
			return LogLevel(l)
		}
	}
	return INFO
}

// LevelFromEnv returns the level named by RINGLINK_LOG_LEVEL, or fallback when unset.
func LevelFromEnv(fallback LogLevel) LogLevel {
	v, ok := os.LookupEnv(EnvLevel)
	if !ok || v == "" {
		return fallback
	}
	return ParseLevel(v)
}

func (l LogLevel) String() string {
	if l < TRACE || l > ERROR {
		return "?????"
	}
	return levelNames[l]
}

func (s *sink) write(level LogLevel, prefix, format string, args ...interface{}) {
	s.mu.RLock()
	enabled := level >= s.level
	w, stamp := s.out, s.timestamps
	s.mu.RUnlock()
	if !enabled {
		return
	}

	var b strings.Builder
	if stamp {
		b.WriteString(time.Now().Format("2006-01-02T15:04:05.000Z07:00"))
		b.WriteByte(' ')
	}
	b.WriteByte('[')
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte(' ')
	}
	b.WriteString(level.String())
	b.WriteString("] ")
	fmt.Fprintf(&b, format, args...)
	b.WriteByte('\n')
	io.WriteString(w, b.String())
}

// Trace logs raw frames and dropped notifications.
func Trace(prefix, format string, args ...interface{}) { std.write(TRACE, prefix, format, args...) }

// Debug logs handshake steps and decoded values.
func Debug(prefix, format string, args ...interface{}) { std.write(DEBUG, prefix, format, args...) }

// Info logs scan sessions and connection changes.
func Info(prefix, format string, args ...interface{}) { std.write(INFO, prefix, format, args...) }

func Warn(prefix, format string, args ...interface{}) { std.write(WARN, prefix, format, args...) }

func Error(prefix, format string, args ...interface{}) { std.write(ERROR, prefix, format, args...) }

// Hex renders bytes as space separated uppercase pairs for frame dumps.
func Hex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	s := strings.ToUpper(hex.EncodeToString(b))
	var sb strings.Builder
	sb.Grow(len(s) + len(b))
	for i := 0; i < len(s); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(s[i : i+2])
	}
	return sb.String()
}

var protoJSON = protojson.MarshalOptions{Multiline: true, Indent: "  "}

// ToJSON renders v as indented JSON. Proto messages go through protojson
// so well-known types (Struct, Timestamp) keep their canonical form.
func ToJSON(v interface{}) string {
	var (
		out []byte
		err error
	)
	if msg, ok := v.(proto.Message); ok {
		out, err = protoJSON.Marshal(msg)
	} else {
		out, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(out)
}

// TraceJSON logs label and the JSON form of v at TRACE. v is only
// marshalled when TRACE is enabled.
func TraceJSON(prefix, label string, v interface{}) {
	if GetLevel() <= TRACE {
		std.write(TRACE, prefix, "%s:\n%s", label, ToJSON(v))
	}
}

// DebugJSON is TraceJSON at DEBUG.
func DebugJSON(prefix, label string, v interface{}) {
	if GetLevel() <= DEBUG {
		std.write(DEBUG, prefix, "%s:\n%s", label, ToJSON(v))
	}
}
