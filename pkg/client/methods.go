package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/morezero/engine-worker/pkg/dispatcher"
	"github.com/morezero/engine-worker/pkg/methods"
)

// CallError is an error envelope returned by the worker.
type CallError struct {
	ID      int64
	Method  string
	Code    string
	Message string
	Stack   string
}

func (e *CallError) Error() string {
	return e.Message
}

// Invoke calls method and decodes a successful result into out, which may be
// nil for void methods. Error envelopes are returned as *CallError.
func (c *Client) Invoke(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	resp, err := c.Call(ctx, method, params...)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &CallError{
			ID:      resp.ID,
			Method:  method,
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Stack:   resp.Error.Stack,
		}
	}
	if out == nil {
		return nil
	}
	if err := resp.DecodeResult(out); err != nil {
		return fmt.Errorf("%s - [id:%d] decode %s result: %w", logPrefix, resp.ID, method, err)
	}
	return nil
}

// Init loads the engine if needed and returns its version.
func (c *Client) Init(ctx context.Context) (string, error) {
	var res methods.InitResult
	if err := c.Invoke(ctx, &res, methods.Init.String()); err != nil {
		return "", err
	}
	return res.Version, nil
}

// SetDepth sets the search depth.
func (c *Client) SetDepth(ctx context.Context, depth int) error {
	return c.Invoke(ctx, nil, methods.SetDepth.String(), depth)
}

// SetPosition loads a FEN position, or "startpos".
func (c *Client) SetPosition(ctx context.Context, fen string) error {
	return c.Invoke(ctx, nil, methods.SetPosition.String(), fen)
}

// BestMove returns the engine's move for the current position.
func (c *Client) BestMove(ctx context.Context) (string, error) {
	var move string
	err := c.Invoke(ctx, &move, methods.BestMove.String())
	return move, err
}

// Version returns the engine version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.Invoke(ctx, &v, methods.Version.String())
	return v, err
}

// IsNotReady reports whether err is a worker's not-ready error.
func IsNotReady(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Code == dispatcher.CodeNotReady
}
