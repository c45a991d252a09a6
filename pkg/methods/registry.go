package methods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/morezero/engine-worker/pkg/engine"
	"github.com/morezero/engine-worker/pkg/events"
	"github.com/morezero/engine-worker/pkg/readiness"
	"github.com/morezero/engine-worker/pkg/semver"
)

const logPrefix = "methods:registry"

// InitResult is returned by init.
type InitResult struct {
	Version string `json:"version"`
}

// MethodInfo describes one method for introspection.
type MethodInfo struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
	Result string   `json:"result,omitempty"`
	Gated  bool     `json:"gated"`
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	Engine engine.Engine
	Gate   *readiness.Gate
	// Locator is passed to Engine.Load on the first init.
	Locator string
	// MinVersion is an optional requirement the engine version must satisfy:
	// a major version ("1") or a constraint (">= 1.2.0").
	MinVersion string
	// WorkerID labels published events.
	WorkerID  string
	Publisher events.EventPublisher
}

// Registry binds the method set to one engine and one readiness gate.
type Registry struct {
	engine     engine.Engine
	gate       *readiness.Gate
	locator    string
	minVersion *semver.Requirement
	workerID   string
	publisher  events.EventPublisher
	initGroup  singleflight.Group
	readyVer   atomic.Value
}

// NewRegistry creates a Registry. A nil Gate gets a fresh Uninitialized gate.
func NewRegistry(params NewRegistryParams) (*Registry, error) {
	if params.Engine == nil {
		return nil, fmt.Errorf("%s - engine is required", logPrefix)
	}
	gate := params.Gate
	if gate == nil {
		gate = readiness.New()
	}
	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}

	r := &Registry{
		engine:    params.Engine,
		gate:      gate,
		locator:   params.Locator,
		workerID:  params.WorkerID,
		publisher: pub,
	}
	req, err := semver.ParseRequirement(params.MinVersion)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid minimum engine version: %w", logPrefix, err)
	}
	r.minVersion = req
	return r, nil
}

// Gate returns the readiness gate guarding this registry.
func (r *Registry) Gate() *readiness.Gate {
	return r.gate
}

// Init loads the engine once and returns its version. Overlapping calls
// share one load; calls after the engine is ready only read the version.
func (r *Registry) Init(ctx context.Context) (*InitResult, error) {
	if r.gate.IsReady() {
		return r.currentVersion(ctx)
	}

	v, err, shared := r.initGroup.Do("init", func() (interface{}, error) {
		if r.gate.IsReady() {
			return r.currentVersion(ctx)
		}

		slog.Debug(fmt.Sprintf("%s - init -> loading engine from %s", logPrefix, r.locator))
		if err := r.engine.Load(ctx, r.locator); err != nil {
			return nil, asOperationError("load", err)
		}
		ver, err := r.engine.Version(ctx)
		if err != nil {
			return nil, asOperationError("version", err)
		}
		if err := r.checkVersion(ver); err != nil {
			return nil, err
		}

		r.readyVer.Store(ver)
		if r.gate.MarkReady() {
			slog.Info(fmt.Sprintf("%s - engine ready, version %s", logPrefix, ver))
			r.publishReady(ctx, ver)
		}
		return &InitResult{Version: ver}, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug(fmt.Sprintf("%s - init -> joined in-flight initialization", logPrefix))
	}
	return v.(*InitResult), nil
}

// EngineVersion returns the version reported when the engine became ready,
// or "" before that. It never touches the engine.
func (r *Registry) EngineVersion() string {
	v, _ := r.readyVer.Load().(string)
	return v
}

func (r *Registry) currentVersion(ctx context.Context) (*InitResult, error) {
	ver, err := r.engine.Version(ctx)
	if err != nil {
		return nil, asOperationError("version", err)
	}
	return &InitResult{Version: ver}, nil
}

func (r *Registry) checkVersion(ver string) error {
	if err := r.minVersion.Check(ver); err != nil {
		return engine.NewOperationError("version", err)
	}
	return nil
}

func (r *Registry) publishReady(ctx context.Context, ver string) {
	event := events.NewEngineReadyEvent(r.workerID, ver, time.Now())
	if err := r.publisher.PublishReady(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish ready event: %v", logPrefix, err))
	}
}

// SetDepth updates the engine search depth.
func (r *Registry) SetDepth(ctx context.Context, depth int) error {
	if err := r.gate.Require(SetDepth.String()); err != nil {
		return err
	}
	if depth < 1 || depth > engine.MaxDepth {
		return &ArgumentError{Method: SetDepth.String(), Message: fmt.Sprintf("depth must be between 1 and %d, got %d", engine.MaxDepth, depth)}
	}
	slog.Debug(fmt.Sprintf("%s - setDepth %d", logPrefix, depth))
	return asOperationError("set_depth", r.engine.SetDepth(ctx, depth))
}

// SetPosition loads a FEN into the engine. "startpos" names the initial position.
func (r *Registry) SetPosition(ctx context.Context, fen string) error {
	if err := r.gate.Require(SetPosition.String()); err != nil {
		return err
	}
	if fen == "startpos" {
		fen = engine.StartPosition
	}
	slog.Debug(fmt.Sprintf("%s - setPosition %s", logPrefix, fen))
	return asOperationError("set_fen", r.engine.SetFEN(ctx, fen))
}

// BestMove computes a move for the current position at the current depth.
func (r *Registry) BestMove(ctx context.Context) (string, error) {
	if err := r.gate.Require(BestMove.String()); err != nil {
		return "", err
	}
	slog.Debug(fmt.Sprintf("%s - bestMove -> begin", logPrefix))
	mv, err := r.engine.BestMove(ctx)
	if err != nil {
		return "", asOperationError("best_move", err)
	}
	slog.Debug(fmt.Sprintf("%s - bestMove -> end %s", logPrefix, mv))
	return mv, nil
}

// Version returns the engine version descriptor.
func (r *Registry) Version(ctx context.Context) (string, error) {
	if err := r.gate.Require(Version.String()); err != nil {
		return "", err
	}
	ver, err := r.engine.Version(ctx)
	if err != nil {
		return "", asOperationError("version", err)
	}
	return ver, nil
}

// Describe lists the method set.
func (r *Registry) Describe() []MethodInfo {
	out := make([]MethodInfo, 0, len(All))
	for _, m := range All {
		info := MethodInfo{Name: m.String(), Params: []string{}, Gated: m.Gated()}
		switch m {
		case Init:
			info.Result = "{version: string}"
		case SetDepth:
			info.Params = []string{"depth: integer"}
		case SetPosition:
			info.Params = []string{"fen: string"}
		case BestMove, Version:
			info.Result = "string"
		}
		out = append(out, info)
	}
	return out
}

// asOperationError normalizes engine failures into *engine.OperationError.
func asOperationError(op string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *engine.OperationError
	if errors.As(err, &opErr) {
		return err
	}
	return engine.NewOperationError(op, err)
}
