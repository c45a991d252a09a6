// Package enginetest provides engine doubles for tests.
package enginetest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultVersion is the version reported by a Fake unless overridden.
const DefaultVersion = "1.0.0"

// DefaultMove is the move reported by a Fake unless overridden.
const DefaultMove = "e2e4"

// Fake is an in-memory engine that records every call.
// Exported fields may be set before first use.
type Fake struct {
	VersionString string
	Move          string
	// LoadDelay makes Load block, to exercise overlapping init calls.
	LoadDelay time.Duration
	// LoadErr, MoveErr fail the corresponding operation when set.
	LoadErr error
	MoveErr error
	// PanicOnMove makes BestMove panic with the given value.
	PanicOnMove any

	mu      sync.Mutex
	loaded  bool
	loads   int
	locator string
	depth   int
	fen     string
	calls   []string
}

// ErrNotLoaded is returned by Fake operations before Load.
var ErrNotLoaded = errors.New("fake engine not loaded")

// NewFake returns a Fake with default version and move.
func NewFake() *Fake {
	return &Fake{VersionString: DefaultVersion, Move: DefaultMove}
}

func (f *Fake) record(name string) {
	f.calls = append(f.calls, name)
}

// Load marks the fake loaded after LoadDelay.
func (f *Fake) Load(ctx context.Context, locator string) error {
	if f.LoadDelay > 0 {
		select {
		case <-time.After(f.LoadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("load")
	if f.LoadErr != nil {
		return f.LoadErr
	}
	if f.loaded {
		return nil
	}
	f.loads++
	f.loaded = true
	f.locator = locator
	return nil
}

func (f *Fake) Version(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("version")
	if !f.loaded {
		return "", ErrNotLoaded
	}
	return f.VersionString, nil
}

func (f *Fake) SetDepth(_ context.Context, depth int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set_depth")
	if !f.loaded {
		return ErrNotLoaded
	}
	f.depth = depth
	return nil
}

func (f *Fake) SetFEN(_ context.Context, fen string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set_fen")
	if !f.loaded {
		return ErrNotLoaded
	}
	f.fen = fen
	return nil
}

func (f *Fake) BestMove(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("best_move")
	if f.PanicOnMove != nil {
		panic(f.PanicOnMove)
	}
	if !f.loaded {
		return "", ErrNotLoaded
	}
	if f.MoveErr != nil {
		return "", f.MoveErr
	}
	return f.Move, nil
}

// Loads returns how many times Load actually performed setup.
func (f *Fake) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// Locator returns the locator passed to the first successful Load.
func (f *Fake) Locator() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locator
}

// Depth returns the last depth set.
func (f *Fake) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depth
}

// FEN returns the last position set.
func (f *Fake) FEN() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fen
}

// Calls returns the names of all engine calls in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}
