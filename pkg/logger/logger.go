// Package logger provides the structured logging contract used across every
// CCOS package. It is deliberately dependency-free: components accept a
// Logger interface and a host process is free to back it with whatever
// logging stack it already runs.
package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Fields is a structured field bag attached to a single log line.
type Fields map[string]interface{}

// Logger is the contract every CCOS component logs through.
//
// Component naming convention (mirrors the agent-framework idiom this was
// adapted from):
//
//	"ccos/evaluator"     - RTFS evaluator
//	"ccos/marketplace"   - capability marketplace
//	"ccos/causalchain"   - causal chain ledger
//	"ccos/intentgraph"   - intent graph
//	"ccos/orchestrator"  - orchestrator
//	"ccos/arbiter"       - arbiter
type Logger interface {
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
	Debug(msg string, fields Fields)

	InfoContext(ctx context.Context, msg string, fields Fields)
	WarnContext(ctx context.Context, msg string, fields Fields)
	ErrorContext(ctx context.Context, msg string, fields Fields)
	DebugContext(ctx context.Context, msg string, fields Fields)

	// WithComponent returns a child logger that tags every line with
	// component, leaving the parent untouched.
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Useful for tests that don't care about
// log output but still need to satisfy the Logger contract.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, Fields)                              {}
func (NoOpLogger) Warn(string, Fields)                               {}
func (NoOpLogger) Error(string, Fields)                              {}
func (NoOpLogger) Debug(string, Fields)                              {}
func (NoOpLogger) InfoContext(context.Context, string, Fields)       {}
func (NoOpLogger) WarnContext(context.Context, string, Fields)       {}
func (NoOpLogger) ErrorContext(context.Context, string, Fields)      {}
func (NoOpLogger) DebugContext(context.Context, string, Fields)      {}
func (n NoOpLogger) WithComponent(string) Logger                     { return n }

// Level controls which lines StdLogger emits.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// StdLogger is the default structured logger: it writes one line per call
// to the standard library logger, tagging each line with level, component
// and fields. It has no third-party dependency, matching the teacher's own
// zero-dependency logger for its own internal logging.
type StdLogger struct {
	mu        sync.Mutex
	level     Level
	component string
}

// NewStdLogger builds a StdLogger reading its level from CCOS_LOG_LEVEL
// (defaulting to info) if level is empty.
func NewStdLogger(level string) *StdLogger {
	l := &StdLogger{level: InfoLevel}
	if level == "" {
		level = os.Getenv("CCOS_LOG_LEVEL")
	}
	l.SetLevel(level)
	return l
}

func (l *StdLogger) SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		l.level = DebugLevel
	case "WARN", "WARNING":
		l.level = WarnLevel
	case "ERROR":
		l.level = ErrorLevel
	default:
		l.level = InfoLevel
	}
}

func (l *StdLogger) WithComponent(component string) Logger {
	return &StdLogger{level: l.level, component: component}
}

func (l *StdLogger) log(level Level, tag, msg string, fields Fields) {
	if level < l.level {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", tag)
	if l.component != "" {
		fmt.Fprintf(&b, " component=%s", l.component)
	}
	fmt.Fprintf(&b, " %s", msg)
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	log.Println(b.String())
}

func (l *StdLogger) Info(msg string, fields Fields)  { l.log(InfoLevel, "INFO", msg, fields) }
func (l *StdLogger) Warn(msg string, fields Fields)  { l.log(WarnLevel, "WARN", msg, fields) }
func (l *StdLogger) Error(msg string, fields Fields) { l.log(ErrorLevel, "ERROR", msg, fields) }
func (l *StdLogger) Debug(msg string, fields Fields) { l.log(DebugLevel, "DEBUG", msg, fields) }

// traceIDKey is an unexported type to avoid context key collisions.
type traceIDKey struct{}

// WithTraceID attaches a trace/correlation id to a context so *Context log
// calls can surface it automatically.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

func traceIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

func (l *StdLogger) withTrace(ctx context.Context, fields Fields) Fields {
	if id := traceIDFrom(ctx); id != "" {
		out := Fields{"trace_id": id}
		for k, v := range fields {
			out[k] = v
		}
		return out
	}
	return fields
}

func (l *StdLogger) InfoContext(ctx context.Context, msg string, fields Fields) {
	l.Info(msg, l.withTrace(ctx, fields))
}
func (l *StdLogger) WarnContext(ctx context.Context, msg string, fields Fields) {
	l.Warn(msg, l.withTrace(ctx, fields))
}
func (l *StdLogger) ErrorContext(ctx context.Context, msg string, fields Fields) {
	l.Error(msg, l.withTrace(ctx, fields))
}
func (l *StdLogger) DebugContext(ctx context.Context, msg string, fields Fields) {
	l.Debug(msg, l.withTrace(ctx, fields))
}
