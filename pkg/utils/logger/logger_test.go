package logger

import (
	"context"
	"testing"

	"gradeline/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetCore(core)
	t.Cleanup(func() { globalLogger.Store(nil) })

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = context.WithValue(ctx, contextkey.ExecutorHost, "host-a")
	Info(ctx, "job claimed", zap.String("file_id", "f1"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != "trace-1" {
		t.Fatalf("trace_id = %v", fields["trace_id"])
	}
	if fields["executor_host"] != "host-a" {
		t.Fatalf("executor_host = %v", fields["executor_host"])
	}
	if fields["file_id"] != "f1" {
		t.Fatalf("file_id = %v", fields["file_id"])
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	globalLogger.Store(nil)
	Info(context.Background(), "dropped")
	Warn(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}
