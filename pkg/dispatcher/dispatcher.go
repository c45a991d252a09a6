package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/morezero/engine-worker/pkg/engine"
	"github.com/morezero/engine-worker/pkg/methods"
	"github.com/morezero/engine-worker/pkg/readiness"
)

const logPrefix = "dispatcher:dispatch"

// Observer is notified after every dispatched request.
type Observer interface {
	Observe(ctx context.Context, req *Request, resp *Response, elapsed time.Duration)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, req *Request, resp *Response, elapsed time.Duration)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, req *Request, resp *Response, elapsed time.Duration) {
	f(ctx, req, resp, elapsed)
}

// Dispatcher routes requests to registry methods.
type Dispatcher struct {
	registry  *methods.Registry
	observers []Observer
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(reg *methods.Registry, observers ...Observer) *Dispatcher {
	return &Dispatcher{registry: reg, observers: observers}
}

// Dispatch invokes the requested method and returns exactly one response
// whose ID equals req.ID. It never panics and never returns nil.
//
// The operation runs detached from ctx cancellation: a caller that stops
// waiting does not abort in-flight engine work.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (resp *Response) {
	if req == nil {
		return errorResponse(0, &methods.ArgumentError{Method: "", Message: "nil request"})
	}

	start := time.Now()
	slog.Debug(fmt.Sprintf("%s - [id:%d] call %s %s", logPrefix, req.ID, req.Method, paramsForLog(req.Params)))

	defer func() {
		if rec := recover(); rec != nil {
			resp = panicResponse(req.ID, rec)
		}
		if resp.OK() {
			slog.Debug(fmt.Sprintf("%s - [id:%d] ok", logPrefix, req.ID))
		} else {
			slog.Error(fmt.Sprintf("%s - [id:%d] error %s", logPrefix, req.ID, resp.Error.Message))
		}
		elapsed := time.Since(start)
		for _, o := range d.observers {
			d.notify(ctx, o, req, resp, elapsed)
		}
	}()

	result, err := d.invoke(context.WithoutCancel(ctx), req)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, fmt.Errorf("failed to encode %s result: %w", req.Method, err))
	}
	return &Response{ID: req.ID, Result: raw}
}

// notify isolates observer panics from the response path.
func (d *Dispatcher) notify(ctx context.Context, o Observer, req *Request, resp *Response, elapsed time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error(fmt.Sprintf("%s - [id:%d] observer panic: %v", logPrefix, req.ID, rec))
		}
	}()
	o.Observe(ctx, req, resp, elapsed)
}

func (d *Dispatcher) invoke(ctx context.Context, req *Request) (interface{}, error) {
	m, ok := methods.ParseMethod(req.Method)
	if !ok {
		return nil, &methods.UnknownMethodError{Method: req.Method}
	}

	// Readiness is checked before params are decoded so a gated call made
	// before init always reports not-ready.
	if m.Gated() {
		if err := d.registry.Gate().Require(m.String()); err != nil {
			return nil, err
		}
	}

	params, err := decodeParams(m, req.Params)
	if err != nil {
		return nil, err
	}

	switch m {
	case methods.Init:
		if err := arity(m, params, 0); err != nil {
			return nil, err
		}
		return d.registry.Init(ctx)

	case methods.SetDepth:
		if err := arity(m, params, 1); err != nil {
			return nil, err
		}
		var depth int
		if err := argAt(m, params, 0, "depth", &depth); err != nil {
			return nil, err
		}
		return nil, d.registry.SetDepth(ctx, depth)

	case methods.SetPosition:
		if err := arity(m, params, 1); err != nil {
			return nil, err
		}
		var fen string
		if err := argAt(m, params, 0, "fen", &fen); err != nil {
			return nil, err
		}
		return nil, d.registry.SetPosition(ctx, fen)

	case methods.BestMove:
		if err := arity(m, params, 0); err != nil {
			return nil, err
		}
		return d.registry.BestMove(ctx)

	case methods.Version:
		if err := arity(m, params, 0); err != nil {
			return nil, err
		}
		return d.registry.Version(ctx)

	default:
		return nil, &methods.UnknownMethodError{Method: req.Method}
	}
}

// decodeParams splits the positional params array. Absent or null params
// are an empty list.
func decodeParams(m methods.Method, raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &methods.ArgumentError{Method: m.String(), Message: "params must be an array"}
	}
	return params, nil
}

func arity(m methods.Method, params []json.RawMessage, want int) error {
	if len(params) != want {
		return &methods.ArgumentError{
			Method:  m.String(),
			Message: fmt.Sprintf("expected %d argument(s), got %d", want, len(params)),
		}
	}
	return nil
}

func argAt(m methods.Method, params []json.RawMessage, i int, name string, v interface{}) error {
	if err := json.Unmarshal(params[i], v); err != nil {
		return &methods.ArgumentError{
			Method:  m.String(),
			Message: fmt.Sprintf("invalid %s argument: %v", name, err),
		}
	}
	if string(params[i]) == "null" {
		return &methods.ArgumentError{Method: m.String(), Message: fmt.Sprintf("%s must not be null", name)}
	}
	return nil
}

// --- helpers ---

func errorResponse(id int64, err error) *Response {
	return &Response{ID: id, Error: errorDetail(err)}
}

func errorDetail(err error) *ErrorDetail {
	detail := &ErrorDetail{Message: err.Error(), Code: CodeInternal}
	if detail.Message == "" {
		detail.Message = fmt.Sprintf("%T", err)
	}

	var (
		unknownErr *methods.UnknownMethodError
		argErr     *methods.ArgumentError
		opErr      *engine.OperationError
	)
	switch {
	case errors.Is(err, readiness.ErrNotReady):
		detail.Code = CodeNotReady
	case errors.As(err, &unknownErr):
		detail.Code = CodeMethodNotFound
	case errors.As(err, &argErr):
		detail.Code = CodeInvalidArgument
	case errors.As(err, &opErr):
		detail.Code = CodeOperationFailed
		detail.Stack = opErr.Stack
	}
	return detail
}

func panicResponse(id int64, rec interface{}) *Response {
	msg := fmt.Sprint(rec)
	if err, ok := rec.(error); ok {
		msg = err.Error()
	}
	return &Response{
		ID: id,
		Error: &ErrorDetail{
			Message: msg,
			Stack:   string(debug.Stack()),
			Code:    CodeInternal,
		},
	}
}

func paramsForLog(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "[]"
	}
	const limit = 256
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}
