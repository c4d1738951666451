package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name     string
		input    []any
		wantKeys []string
	}{
		{"empty input", []any{}, nil},
		{"string-int-bool", []any{"a", "x", "b", 123, "c", true}, []string{"a", "b", "c"}},
		{"time type", []any{"t", now}, []string{"t"}},
		{"float type", []any{"distance", 55.2}, []string{"distance"}},
		{"bytes", []any{"data", []byte("xyz")}, []string{"data"}},
		{"error only", []any{err}, []string{"error"}},
		{"mixed field types", []any{"msg", "ok", zap.String("x", "y"), "num", 42}, []string{"msg", "x", "num"}},
		{"odd number of args", []any{"key1", "val1", "key2"}, []string{"key1", "arg#2"}},
		{"non-string key", []any{123, "value"}, []string{"invalid_key_1"}},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}, []string{"a", "b"}},
		{"map value", []any{"a", map[string]string{"plate": "KA01AB1234"}}, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			if len(fields) != len(tt.wantKeys) {
				t.Fatalf("got %d fields, want %d: %+v", len(fields), len(tt.wantKeys), fields)
			}
			for i, f := range fields {
				if f.Key != tt.wantKeys[i] {
					t.Errorf("field %d key = %q, want %q", i, f.Key, tt.wantKeys[i])
				}
			}
		})
	}
}

func TestTypedField(t *testing.T) {
	tests := []struct {
		val  any
		want zapcore.FieldType
	}{
		{"x", zapcore.StringType},
		{true, zapcore.BoolType},
		{42, zapcore.Int64Type},
		{3.5, zapcore.Float64Type},
		{time.Second, zapcore.DurationType},
		{errors.New("e"), zapcore.ErrorType},
		{[]byte("b"), zapcore.BinaryType},
	}

	for _, tt := range tests {
		if got := typedField("k", tt.val).Type; got != tt.want {
			t.Errorf("typedField(%T) type = %v, want %v", tt.val, got, tt.want)
		}
	}
}
