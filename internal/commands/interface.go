// Package commands maps JSON-RPC method names onto device operations.
package commands

import (
	"context"
	"sort"
	"sync"
)

// Handler processes one JSON-RPC method.
type Handler interface {
	// Handle processes a command and returns the response
	Handle(ctx context.Context, params []string) (interface{}, error)

	// Name returns the method name
	Name() string

	// Description returns a human-readable description
	Description() string

	// IsReadOnly returns true if the command only reads data
	IsReadOnly() bool
}

// Registry manages available commands.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds handlers, replacing any with the same name.
func (r *Registry) Register(handlers ...Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handlers {
		r.handlers[h.Name()] = h
	}
}

// Get returns a handler by name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, exists := r.handlers[name]
	return handler, exists
}

// Remove drops a handler.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

// List returns all registered method names in lexical order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info describes the registered methods.
func (r *Registry) Info() []CommandInfo {
	names := r.List()
	infos := make([]CommandInfo, 0, len(names))
	for _, name := range names {
		h, ok := r.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, CommandInfo{
			Name:        h.Name(),
			Description: h.Description(),
			ReadOnly:    h.IsReadOnly(),
		})
	}
	return infos
}

// CommandInfo provides information about a command.
type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ReadOnly    bool   `json:"read_only"`
}

// CommandError represents a command-specific error.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *CommandError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Command error codes.
const (
	ErrInvalidParams = "INVALID_PARAMS"
	ErrNotSupported  = "NOT_SUPPORTED"
	ErrForbidden     = "FORBIDDEN"
)

type methodKey struct{}

// WithMethod stores the JSON-RPC method name in the context.
func WithMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, methodKey{}, method)
}

// MethodFromContext returns the method stored by WithMethod.
func MethodFromContext(ctx context.Context) string {
	method, _ := ctx.Value(methodKey{}).(string)
	return method
}
