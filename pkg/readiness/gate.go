// Package readiness tracks whether the engine has finished its one-time setup.
package readiness

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const logPrefix = "readiness:gate"

// NotReadyMessage is the fixed message returned by every gated method before init.
const NotReadyMessage = "Engine not ready"

// ErrNotReady matches any *NotReadyError via errors.Is.
var ErrNotReady = errors.New(NotReadyMessage)

// NotReadyError is returned by gated operations while the gate is Uninitialized.
type NotReadyError struct {
	Method string
}

func (e *NotReadyError) Error() string {
	return NotReadyMessage
}

// Is reports whether target is ErrNotReady.
func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}

// Gate is a one-way Uninitialized -> Ready state cell.
// The zero value is an Uninitialized gate ready for use.
type Gate struct {
	ready atomic.Bool

	mu      sync.Mutex
	onReady []func()
}

// New returns an Uninitialized gate.
func New() *Gate {
	return &Gate{}
}

// IsReady reports whether the gate has transitioned to Ready.
func (g *Gate) IsReady() bool {
	return g.ready.Load()
}

// MarkReady transitions the gate to Ready. Calls after the first are no-ops.
// It reports whether this call performed the transition.
func (g *Gate) MarkReady() bool {
	if !g.ready.CompareAndSwap(false, true) {
		return false
	}
	slog.Debug(fmt.Sprintf("%s - engine marked ready", logPrefix))

	g.mu.Lock()
	hooks := g.onReady
	g.onReady = nil
	g.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return true
}

// OnReady registers fn to run once when the gate becomes Ready.
// If the gate is already Ready, fn is not called.
func (g *Gate) OnReady(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready.Load() {
		return
	}
	g.onReady = append(g.onReady, fn)
}

// Require returns a *NotReadyError for method unless the gate is Ready.
func (g *Gate) Require(method string) error {
	if g.ready.Load() {
		return nil
	}
	return &NotReadyError{Method: method}
}
