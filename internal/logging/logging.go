// Package logging is the process-wide log sink.
//
// Every component emits structured events through a component-scoped
// [Logger]. Events fan out to the attached handlers, each of which is a
// go-kit log.Logger with its own minimum level. With no handlers attached
// nothing is formatted, so disabled levels cost one atomic load.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Level is an event severity. Higher values are more severe.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

// levelOff is above every real level and disables output.
const levelOff Level = LevelCritical + 1

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level. WARN is accepted for WARNING.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL", "FATAL":
		return LevelCritical, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// HandlerID identifies an attached handler.
type HandlerID uint64

type handler struct {
	min    Level
	logger log.Logger
}

type sink struct {
	mu       sync.RWMutex
	handlers map[HandlerID]handler
	nextID   HandlerID
	// floor is the lowest min level across handlers, or levelOff.
	floor atomic.Int32
}

var std = newSink()

func newSink() *sink {
	s := &sink{handlers: make(map[HandlerID]handler)}
	s.attach(LevelWarning, defaultLogger(os.Stderr, "logfmt"))
	return s
}

func (s *sink) attach(min Level, l log.Logger) HandlerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.handlers[s.nextID] = handler{min: min, logger: l}
	s.recomputeLocked()
	return s.nextID
}

func (s *sink) detach(id HandlerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
	s.recomputeLocked()
}

func (s *sink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = make(map[HandlerID]handler)
	s.recomputeLocked()
}

func (s *sink) setLevel(min Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.handlers {
		h.min = min
		s.handlers[id] = h
	}
	s.recomputeLocked()
}

func (s *sink) recomputeLocked() {
	floor := levelOff
	for _, h := range s.handlers {
		if h.min < floor {
			floor = h.min
		}
	}
	s.floor.Store(int32(floor))
}

func (s *sink) enabled(lvl Level) bool {
	return lvl >= Level(s.floor.Load())
}

func (s *sink) emit(lvl Level, keyvals []any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.handlers {
		if lvl < h.min {
			continue
		}
		_ = h.logger.Log(keyvals...)
	}
}

func defaultLogger(w io.Writer, format string) log.Logger {
	var l log.Logger
	if format == "json" {
		l = log.NewJSONLogger(log.NewSyncWriter(w))
	} else {
		l = log.NewLogfmtLogger(log.NewSyncWriter(w))
	}
	return log.With(l, "ts", log.DefaultTimestampUTC)
}

// Options configures the default handler installed by Init.
type Options struct {
	// Level is the minimum level of the default handler. Empty means WARNING.
	Level string
	// Format is "logfmt" (default) or "json".
	Format string
	// Output receives the default handler's events. Nil means stderr.
	Output io.Writer
}

// Init replaces every attached handler with a single default handler built
// from opts.
func Init(opts Options) error {
	min := LevelWarning
	if opts.Level != "" {
		lvl, err := ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		min = lvl
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	std.reset()
	std.attach(min, defaultLogger(out, opts.Format))
	return nil
}

// Shutdown detaches every handler. Later events are discarded until a
// handler is attached again.
func Shutdown() {
	std.reset()
}

// AttachHandler routes events at min or above to l.
func AttachHandler(min Level, l log.Logger) HandlerID {
	return std.attach(min, l)
}

// DetachHandler removes a handler added with AttachHandler.
func DetachHandler(id HandlerID) {
	std.detach(id)
}

// SetLevel moves every attached handler to min.
func SetLevel(min Level) {
	std.setLevel(min)
}

// Enabled reports whether any handler accepts events at lvl.
func Enabled(lvl Level) bool {
	return std.enabled(lvl)
}

// Logger emits events tagged with a component name and fixed key/values.
type Logger struct {
	component string
	keyvals   []any
}

// For returns a Logger for the named component.
func For(component string) *Logger {
	return &Logger{component: component}
}

// With returns a Logger that adds keyvals to every event.
func (l *Logger) With(keyvals ...any) *Logger {
	kv := make([]any, 0, len(l.keyvals)+len(keyvals))
	kv = append(kv, l.keyvals...)
	kv = append(kv, keyvals...)
	return &Logger{component: l.component, keyvals: kv}
}

// Log emits msg at lvl.
func (l *Logger) Log(lvl Level, msg string, keyvals ...any) {
	if !std.enabled(lvl) {
		return
	}
	kv := make([]any, 0, 6+len(l.keyvals)+len(keyvals))
	kv = append(kv, level.Key(), strings.ToLower(lvl.String()), "component", l.component, "msg", msg)
	kv = append(kv, l.keyvals...)
	kv = append(kv, keyvals...)
	std.emit(lvl, kv)
}

func (l *Logger) Debug(msg string, keyvals ...any)    { l.Log(LevelDebug, msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)     { l.Log(LevelInfo, msg, keyvals...) }
func (l *Logger) Warning(msg string, keyvals ...any)  { l.Log(LevelWarning, msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any)    { l.Log(LevelError, msg, keyvals...) }
func (l *Logger) Critical(msg string, keyvals ...any) { l.Log(LevelCritical, msg, keyvals...) }
