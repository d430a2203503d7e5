// Package task maps job payloads to executable work. A payload encodes a
// handler name plus arguments; the registry resolves the name to a Handler
// at execution time.
package task

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler is the function signature every task handler must implement.
// The context carries the execution time budget; handlers that may run
// long must honor cancellation.
type Handler func(ctx context.Context, args json.RawMessage) error

// Ref is the decoded form of a job payload: which handler to run and with
// what arguments.
type Ref struct {
	Handler string          `json:"handler"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// EncodePayload serializes a handler reference for storage in a job row.
func EncodePayload(handler string, args json.RawMessage) ([]byte, error) {
	if handler == "" {
		return nil, fmt.Errorf("encode payload: handler name is required")
	}
	return json.Marshal(Ref{Handler: handler, Args: args})
}

// DecodePayload parses a job payload back into a handler reference.
func DecodePayload(payload []byte) (Ref, error) {
	var ref Ref
	if err := json.Unmarshal(payload, &ref); err != nil {
		return Ref{}, fmt.Errorf("decode payload: %w", err)
	}
	if ref.Handler == "" {
		return Ref{}, fmt.Errorf("decode payload: missing handler name")
	}
	return ref, nil
}

// Registry maps handler names to Handler functions. Registration happens
// once at startup before any consumer runs; lookups are read-only after
// that, so no locking is needed.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

func (r *Registry) Lookup(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("no handler registered for: %q", name)
	}
	return h, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	return names
}
