package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

const wasmLogPrefix = "engine:wasm"

// Exports the engine module must provide.
const (
	ExportAlloc    = "alloc"
	ExportDealloc  = "dealloc"
	ExportSetDepth = "set_depth"
	ExportSetFEN   = "set_fen"
	ExportBestMove = "best_move"
	ExportVersion  = "version"
)

// ErrNotLoaded is returned by WasmEngine operations before Load succeeds.
var ErrNotLoaded = errors.New("engine module not loaded")

// WasmOptions configures a WasmEngine. Nil or zero values use defaults.
type WasmOptions struct {
	// MemoryLimitPages caps guest memory in 64KiB pages; 0 keeps the wazero default.
	MemoryLimitPages uint32
	// Fetch overrides how module bytes are obtained from a locator.
	Fetch func(ctx context.Context, locator string) ([]byte, error)
}

// WasmEngine runs the engine as a core WebAssembly module under wazero.
//
// String arguments are copied into guest memory obtained from alloc; string
// results are returned packed as ptr<<32 | len and released with dealloc.
type WasmEngine struct {
	opts WasmOptions

	mu      sync.Mutex
	runtime wazero.Runtime
	mod     api.Module
	exports wasmExports
}

type wasmExports struct {
	alloc    api.Function
	dealloc  api.Function
	setDepth api.Function
	setFEN   api.Function
	bestMove api.Function
	version  api.Function
}

// NewWasmEngine creates an unloaded engine. Pass nil for opts to use defaults.
func NewWasmEngine(opts *WasmOptions) *WasmEngine {
	e := &WasmEngine{}
	if opts != nil {
		e.opts = *opts
	}
	if e.opts.Fetch == nil {
		e.opts.Fetch = Fetch
	}
	return e
}

// Load fetches, compiles and instantiates the module named by locator.
func (e *WasmEngine) Load(ctx context.Context, locator string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mod != nil {
		return nil
	}

	slog.Debug(fmt.Sprintf("%s - loading wasm from %s", wasmLogPrefix, locator))
	wasm, err := e.opts.Fetch(ctx, locator)
	if err != nil {
		return NewOperationError("load", err)
	}
	return e.instantiate(ctx, wasm)
}

// LoadBytes instantiates an already fetched module.
func (e *WasmEngine) LoadBytes(ctx context.Context, wasm []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mod != nil {
		return nil
	}
	return e.instantiate(ctx, wasm)
}

func (e *WasmEngine) instantiate(ctx context.Context, wasm []byte) error {
	cfg := wazero.NewRuntimeConfig()
	if e.opts.MemoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(e.opts.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return NewOperationError("load", fmt.Errorf("%s - instantiate wasi: %w", wasmLogPrefix, err))
	}

	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		rt.Close(ctx)
		return NewOperationError("load", fmt.Errorf("%s - compile module: %w", wasmLogPrefix, err))
	}

	modCfg := wazero.NewModuleConfig().WithName("engine").WithStartFunctions("_initialize")
	mod, err := rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		rt.Close(ctx)
		return NewOperationError("load", fmt.Errorf("%s - instantiate module: %w", wasmLogPrefix, err))
	}

	exports, err := bindExports(mod)
	if err != nil {
		rt.Close(ctx)
		return NewOperationError("load", err)
	}

	e.runtime = rt
	e.mod = mod
	e.exports = exports
	slog.Debug(fmt.Sprintf("%s - wasm loaded", wasmLogPrefix))
	return nil
}

func bindExports(mod api.Module) (wasmExports, error) {
	if mod.Memory() == nil {
		return wasmExports{}, fmt.Errorf("%s - module does not export memory", wasmLogPrefix)
	}
	x := wasmExports{
		alloc:    mod.ExportedFunction(ExportAlloc),
		dealloc:  mod.ExportedFunction(ExportDealloc),
		setDepth: mod.ExportedFunction(ExportSetDepth),
		setFEN:   mod.ExportedFunction(ExportSetFEN),
		bestMove: mod.ExportedFunction(ExportBestMove),
		version:  mod.ExportedFunction(ExportVersion),
	}
	required := map[string]api.Function{
		ExportAlloc:    x.alloc,
		ExportSetDepth: x.setDepth,
		ExportSetFEN:   x.setFEN,
		ExportBestMove: x.bestMove,
		ExportVersion:  x.version,
	}
	for name, fn := range required {
		if fn == nil {
			return wasmExports{}, fmt.Errorf("%s - module does not export %q", wasmLogPrefix, name)
		}
	}
	return x, nil
}

// Loaded reports whether Load has completed successfully.
func (e *WasmEngine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mod != nil
}

// Version returns the engine's version descriptor.
func (e *WasmEngine) Version(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mod == nil {
		return "", NewOperationError(ExportVersion, ErrNotLoaded)
	}
	return e.callString(ctx, ExportVersion, e.exports.version)
}

// SetDepth configures the search depth used by BestMove.
func (e *WasmEngine) SetDepth(ctx context.Context, depth int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mod == nil {
		return NewOperationError(ExportSetDepth, ErrNotLoaded)
	}
	if depth < 0 || depth > MaxDepth {
		return NewOperationError(ExportSetDepth, fmt.Errorf("depth %d out of range", depth))
	}
	if _, err := e.exports.setDepth.Call(ctx, api.EncodeI32(int32(depth))); err != nil {
		return NewOperationError(ExportSetDepth, err)
	}
	return nil
}

// SetFEN loads a position into the engine.
func (e *WasmEngine) SetFEN(ctx context.Context, fen string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mod == nil {
		return NewOperationError(ExportSetFEN, ErrNotLoaded)
	}

	ptr, n, err := e.writeString(ctx, fen)
	if err != nil {
		return NewOperationError(ExportSetFEN, err)
	}
	defer e.free(ctx, ptr, n)

	if _, err := e.exports.setFEN.Call(ctx, api.EncodeU32(ptr), api.EncodeU32(n)); err != nil {
		return NewOperationError(ExportSetFEN, err)
	}
	return nil
}

// BestMove searches the loaded position at the configured depth.
func (e *WasmEngine) BestMove(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mod == nil {
		return "", NewOperationError(ExportBestMove, ErrNotLoaded)
	}
	return e.callString(ctx, ExportBestMove, e.exports.bestMove)
}

// Close releases the wazero runtime. The engine cannot be reloaded afterwards.
func (e *WasmEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runtime == nil {
		return nil
	}
	err := e.runtime.Close(ctx)
	e.runtime = nil
	return err
}

func (e *WasmEngine) callString(ctx context.Context, op string, fn api.Function) (string, error) {
	res, err := fn.Call(ctx)
	if err != nil {
		return "", NewOperationError(op, err)
	}
	if len(res) != 1 {
		return "", NewOperationError(op, fmt.Errorf("%s - %s returned %d values, want 1", wasmLogPrefix, op, len(res)))
	}
	ptr, n := uint32(res[0]>>32), uint32(res[0])
	data, ok := e.mod.Memory().Read(ptr, n)
	if !ok {
		return "", NewOperationError(op, fmt.Errorf("%s - %s result out of range (ptr=%d len=%d)", wasmLogPrefix, op, ptr, n))
	}
	out := string(data)
	e.free(ctx, ptr, n)
	return out, nil
}

func (e *WasmEngine) writeString(ctx context.Context, s string) (uint32, uint32, error) {
	n := uint32(len(s))
	res, err := e.exports.alloc.Call(ctx, api.EncodeU32(n))
	if err != nil {
		return 0, 0, fmt.Errorf("%s - alloc: %w", wasmLogPrefix, err)
	}
	ptr := api.DecodeU32(res[0])
	if !e.mod.Memory().Write(ptr, []byte(s)) {
		return 0, 0, fmt.Errorf("%s - write out of range (ptr=%d len=%d)", wasmLogPrefix, ptr, n)
	}
	return ptr, n, nil
}

func (e *WasmEngine) free(ctx context.Context, ptr, n uint32) {
	if e.exports.dealloc == nil || n == 0 {
		return
	}
	if _, err := e.exports.dealloc.Call(ctx, api.EncodeU32(ptr), api.EncodeU32(n)); err != nil {
		slog.Warn(fmt.Sprintf("%s - dealloc failed: %v", wasmLogPrefix, err))
	}
}
