package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// HandlerFunc is the signature wrapped by FuncHandler.
type HandlerFunc func(ctx context.Context, params []string) (interface{}, error)

// FuncHandler adapts a function to the Handler interface.
type FuncHandler struct {
	name        string
	description string
	readOnly    bool
	fn          HandlerFunc
}

// NewFuncHandler creates a handler around fn.
func NewFuncHandler(name, description string, readOnly bool, fn HandlerFunc) *FuncHandler {
	return &FuncHandler{
		name:        name,
		description: description,
		readOnly:    readOnly,
		fn:          fn,
	}
}

func (h *FuncHandler) Handle(ctx context.Context, params []string) (interface{}, error) {
	return h.fn(ctx, params)
}

func (h *FuncHandler) Name() string {
	return h.name
}

func (h *FuncHandler) Description() string {
	return h.description
}

func (h *FuncHandler) IsReadOnly() bool {
	return h.readOnly
}

// Action builds a handler for an operation without arguments or result.
func Action(name, description string, fn func(ctx context.Context) error) Handler {
	return NewFuncHandler(name, description, false, func(ctx context.Context, params []string) (interface{}, error) {
		if err := expectParams(params, 0); err != nil {
			return nil, err
		}
		return nil, fn(ctx)
	})
}

// Getter builds a read-only handler returning the result of fn.
func Getter[T any](name, description string, fn func(ctx context.Context) (T, error)) Handler {
	return NewFuncHandler(name, description, true, func(ctx context.Context, params []string) (interface{}, error) {
		if err := expectParams(params, 0); err != nil {
			return nil, err
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

// IntGetter builds a read-only handler taking one integer argument.
func IntGetter[T any](name, description string, fn func(ctx context.Context, n int) (T, error)) Handler {
	return NewFuncHandler(name, description, true, func(ctx context.Context, params []string) (interface{}, error) {
		if err := expectParams(params, 1); err != nil {
			return nil, err
		}
		n, err := ParseInt(params[0])
		if err != nil {
			return nil, err
		}
		v, err := fn(ctx, n)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

// FloatSetter builds a handler taking one numeric argument.
func FloatSetter(name, description string, fn func(ctx context.Context, v float64) error) Handler {
	return NewFuncHandler(name, description, false, func(ctx context.Context, params []string) (interface{}, error) {
		if err := expectParams(params, 1); err != nil {
			return nil, err
		}
		v, err := ParseFloat(params[0])
		if err != nil {
			return nil, err
		}
		return nil, fn(ctx, v)
	})
}

// IntSetter builds a handler taking one integer argument.
func IntSetter(name, description string, fn func(ctx context.Context, v int) error) Handler {
	return NewFuncHandler(name, description, false, func(ctx context.Context, params []string) (interface{}, error) {
		if err := expectParams(params, 1); err != nil {
			return nil, err
		}
		v, err := ParseInt(params[0])
		if err != nil {
			return nil, err
		}
		return nil, fn(ctx, v)
	})
}

// StringSetter builds a handler taking one string argument.
func StringSetter(name, description string, fn func(ctx context.Context, v string) error) Handler {
	return NewFuncHandler(name, description, false, func(ctx context.Context, params []string) (interface{}, error) {
		if err := expectParams(params, 1); err != nil {
			return nil, err
		}
		if strings.TrimSpace(params[0]) == "" {
			return nil, &CommandError{Code: ErrInvalidParams, Message: "Invalid parameters", Details: "empty value"}
		}
		return nil, fn(ctx, params[0])
	})
}

// BoolSetter builds a handler taking one boolean argument (true/false, 1/0, ON/OFF).
func BoolSetter(name, description string, fn func(ctx context.Context, v bool) error) Handler {
	return NewFuncHandler(name, description, false, func(ctx context.Context, params []string) (interface{}, error) {
		if err := expectParams(params, 1); err != nil {
			return nil, err
		}
		v, err := ParseBool(params[0])
		if err != nil {
			return nil, err
		}
		return nil, fn(ctx, v)
	})
}

// ParseFloat converts a parameter, reporting INVALID_PARAMS on failure.
func ParseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &CommandError{Code: ErrInvalidParams, Message: "Invalid parameters", Details: fmt.Sprintf("not a number: %q", s)}
	}
	return v, nil
}

// ParseInt converts a parameter, reporting INVALID_PARAMS on failure.
func ParseInt(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &CommandError{Code: ErrInvalidParams, Message: "Invalid parameters", Details: fmt.Sprintf("not an integer: %q", s)}
	}
	return v, nil
}

// ParseBool converts a parameter, reporting INVALID_PARAMS on failure.
func ParseBool(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "TRUE", "ON":
		return true, nil
	case "0", "FALSE", "OFF":
		return false, nil
	}
	return false, &CommandError{Code: ErrInvalidParams, Message: "Invalid parameters", Details: fmt.Sprintf("not a boolean: %q", s)}
}

// ExpectParams checks the parameter count.
func ExpectParams(params []string, n int) error {
	return expectParams(params, n)
}

func expectParams(params []string, n int) error {
	if len(params) != n {
		return &CommandError{
			Code:    ErrInvalidParams,
			Message: "Invalid parameters",
			Details: fmt.Sprintf("expected %d parameter(s), got %d", n, len(params)),
		}
	}
	return nil
}
