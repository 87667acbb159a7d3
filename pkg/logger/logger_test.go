package logger_test

import (
	"bytes"
	"context"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ccos-run/ccos/pkg/logger"
)

func TestNoOpLoggerNeverPanics(t *testing.T) {
	var l logger.Logger = logger.NoOpLogger{}
	l.Info("msg", logger.Fields{"k": "v"})
	l.Warn("msg", nil)
	l.Error("msg", logger.Fields{})
	l.Debug("msg", nil)
	l.InfoContext(context.Background(), "msg", nil)
	assert.Equal(t, l, l.WithComponent("anything"))
}

func TestStdLoggerSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	l := logger.NewStdLogger("warn")
	l.Debug("should be filtered", nil)
	l.Info("should be filtered too", nil)
	l.Warn("should log", nil)
	assert.NotContains(t, buf.String(), "should be filtered")
	assert.Contains(t, buf.String(), "should log")
}

func TestStdLoggerWithComponentDoesNotMutateParent(t *testing.T) {
	parent := logger.NewStdLogger("info")
	child := parent.WithComponent("ccos/test")
	assert.NotSame(t, parent, child)
}

func TestWithTraceIDPropagatesToContextLogs(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	ctx := logger.WithTraceID(context.Background(), "trace-123")
	l := logger.NewStdLogger("info")
	l.InfoContext(ctx, "request handled", logger.Fields{"status": 200})
	assert.Contains(t, buf.String(), "trace_id=trace-123")
}
