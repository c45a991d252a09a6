// Package engine defines the boundary to the move-search engine and its
// WebAssembly-backed implementation.
package engine

import (
	"context"
	"math"
	"runtime/debug"
)

// StartPosition is the FEN of the standard initial chess position.
const StartPosition = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// MaxDepth is the largest search depth the engine ABI can carry (an i32).
const MaxDepth = math.MaxInt32

// Engine is the opaque capability set the method registry drives.
// Implementations are single-threaded underneath and must serialize calls.
type Engine interface {
	// Load performs one-time setup from a resource locator. Calling it again
	// after a successful load is a no-op.
	Load(ctx context.Context, locator string) error
	Version(ctx context.Context) (string, error)
	SetDepth(ctx context.Context, depth int) error
	SetFEN(ctx context.Context, fen string) error
	BestMove(ctx context.Context) (string, error)
}

// OperationError is a failure raised inside the engine itself.
// Its message is the underlying error's message, unchanged.
type OperationError struct {
	Op    string
	Err   error
	Stack string
}

// NewOperationError wraps err and records the current goroutine stack.
func NewOperationError(op string, err error) *OperationError {
	return &OperationError{Op: op, Err: err, Stack: string(debug.Stack())}
}

func (e *OperationError) Error() string {
	return e.Err.Error()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
