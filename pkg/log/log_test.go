package log

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewFromZap(zap.New(core)).WithName("engine").WithValues("plate", "KA01AB1234")

	l.Info("alert generated", "officerID", "OFF-1", "distance", 55.0)
	l.Error(errors.New("boom"), "delivery failed", "attempts", 4)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	first := entries[0]
	if first.LoggerName != "engine" {
		t.Errorf("logger name = %q, want engine", first.LoggerName)
	}
	ctx := first.ContextMap()
	if ctx["plate"] != "KA01AB1234" || ctx["officerID"] != "OFF-1" {
		t.Errorf("unexpected context %v", ctx)
	}

	second := entries[1].ContextMap()
	if second["error"] != "boom" {
		t.Errorf("error field = %v, want boom", second["error"])
	}
}

func TestContextLogger(t *testing.T) {
	if FromContext(context.Background()) != Std() {
		t.Error("FromContext without a logger should return the global logger")
	}

	l := NewNopLogger().WithName("x")
	ctx := NewContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("FromContext did not return the stored logger")
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr int
	}{
		{"defaults", func(*Options) {}, 0},
		{"console", func(o *Options) { o.Format = FormatConsole }, 0},
		{"bad level", func(o *Options) { o.Level = "loud" }, 1},
		{"bad format", func(o *Options) { o.Format = "xml" }, 1},
		{"everything wrong", func(o *Options) { o.Level = "?"; o.Format = "?"; o.CallerSkip = -1 }, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			tt.mutate(o)
			if got := len(o.Validate()); got != tt.wantErr {
				t.Errorf("Validate() returned %d errors, want %d", got, tt.wantErr)
			}
		})
	}
}
