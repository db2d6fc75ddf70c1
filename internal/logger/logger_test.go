package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitSetsLevel(t *testing.T) {
	built, err := Init(Config{Level: "warn", Environment: "production", ServiceName: "pharmledger"})
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	if built.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !built.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("warn should be enabled")
	}
	if L() != built {
		t.Fatalf("expected L to return the built logger")
	}
}

func TestContextLogger(t *testing.T) {
	scoped := zap.NewNop().With(zap.String("request_id", "req-1"))
	ctx := WithContext(context.Background(), scoped)
	if FromContext(ctx) != scoped {
		t.Fatalf("expected request scoped logger")
	}
	if FromContext(context.Background()) != L() {
		t.Fatalf("expected fallback to process logger")
	}
}
