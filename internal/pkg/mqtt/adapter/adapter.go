package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyPayload is returned for messages without a body.
var ErrEmptyPayload = errors.New("empty payload")

// HandlerFunc processes one message received on topic.
type HandlerFunc func(ctx context.Context, topic string, payload []byte) error

// TypedHandlerFunc receives the decoded payload.
type TypedHandlerFunc[T any] func(ctx context.Context, topic string, msg *T) error

// JSONHandler decodes the payload into a new T before calling handler.
// Unknown fields are ignored so publishers can add fields first.
func JSONHandler[T any](handler TypedHandlerFunc[T]) HandlerFunc {
	return func(ctx context.Context, topic string, payload []byte) error {
		if len(bytes.TrimSpace(payload)) == 0 {
			return ErrEmptyPayload
		}

		msg := new(T)
		if err := json.Unmarshal(payload, msg); err != nil {
			return fmt.Errorf("json unmarshal failed: %w", err)
		}

		return handler(ctx, topic, msg)
	}
}
