package commands

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/SaraRegibo/cgse/internal/device"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeForbidden is returned when the caller lacks the scope for a method.
	CodeForbidden = -32001
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  []string    `json:"params,omitempty"`
	ID      interface{} `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// MarshalJSON writes exactly one of result and error. A successful call
// without a value carries "result": null.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string      `json:"jsonrpc"`
			Error   *RPCError   `json:"error"`
			ID      interface{} `json:"id"`
		}{r.JSONRPC, r.Error, r.ID})
	}
	type plain Response
	return json.Marshal(plain(r))
}

// RPCError is the error member of a response.
type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// ErrorData carries the error kind so clients can rebuild typed errors.
type ErrorData struct {
	Kind    string `json:"kind"`
	Details string `json:"details,omitempty"`
}

// Invoker runs a handler. The control server wraps handlers with timeouts,
// auditing and fault events through it.
type Invoker func(ctx context.Context, method string, handler Handler, params []string) (interface{}, error)

func directInvoke(ctx context.Context, _ string, handler Handler, params []string) (interface{}, error) {
	return handler.Handle(ctx, params)
}

// Dispatcher serves a Registry as JSON-RPC 2.0 over HTTP POST.
type Dispatcher struct {
	registry *Registry
	invoke   Invoker
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil invoker calls handlers directly.
func NewDispatcher(registry *Registry, invoke Invoker, logger *slog.Logger) *Dispatcher {
	if invoke == nil {
		invoke = directInvoke
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, invoke: invoke, logger: logger}
}

// Registry returns the served registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// ServeHTTP handles HTTP POST requests to the JSON-RPC endpoint.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		d.writeErrorResponse(w, CodeInvalidRequest, "Invalid Request", nil)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.writeErrorResponse(w, CodeParseError, "Parse error", nil)
		return
	}

	response := d.Dispatch(r.Context(), &req)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		d.logger.Error("failed to encode response", "method", req.Method, "error", err)
	}
}

// Dispatch processes one request.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, &RPCError{Code: CodeInvalidRequest, Message: "Invalid Request"})
	}

	handler, exists := d.registry.Get(req.Method)
	if !exists {
		return errorResponse(req.ID, &RPCError{Code: CodeMethodNotFound, Message: "Method not found"})
	}

	result, err := d.invoke(WithMethod(ctx, req.Method), req.Method, handler, req.Params)
	if err != nil {
		return errorResponse(req.ID, ToRPCError(err))
	}

	return &Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}
}

// ToRPCError converts a handler error into its wire form.
func ToRPCError(err error) *RPCError {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		code := CodeInvalidParams
		if cmdErr.Code == ErrForbidden {
			code = CodeForbidden
		}
		return &RPCError{
			Code:    code,
			Message: cmdErr.Message,
			Data:    &ErrorData{Kind: cmdErr.Code, Details: cmdErr.Details},
		}
	}
	return &RPCError{
		Code:    CodeInternalError,
		Message: err.Error(),
		Data:    &ErrorData{Kind: device.Code(err)},
	}
}

func errorResponse(id interface{}, rpcErr *RPCError) *Response {
	return &Response{JSONRPC: "2.0", Error: rpcErr, ID: id}
}

func (d *Dispatcher) writeErrorResponse(w http.ResponseWriter, code int, message string, id interface{}) {
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(errorResponse(id, &RPCError{Code: code, Message: message}))
}
