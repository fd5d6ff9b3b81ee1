package outbox

import (
	"context"
	"encoding/json"
)

// Handler processes records with a matching Name.
type Handler interface {
	Name() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

type HandlerFunc[T any] func(ctx context.Context, payload T) error

// NewHandler binds fn to records enqueued with a payload of type T.
func NewHandler[T any](fn HandlerFunc[T]) Handler {
	var zero T
	return &typedHandler[T]{name: payloadName(zero), fn: fn}
}

type typedHandler[T any] struct {
	name string
	fn   HandlerFunc[T]
}

func (h *typedHandler[T]) Name() string { return h.name }

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return err
	}
	return h.fn(ctx, v)
}
