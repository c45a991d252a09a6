package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/morezero/engine-worker/pkg/dispatcher"
)

const logPrefix = "worker:serve"

// Handler turns one request into its response.
type Handler interface {
	Dispatch(ctx context.Context, req *dispatcher.Request) *dispatcher.Response
}

// Gauge tracks in-flight requests. prometheus.Gauge satisfies it.
type Gauge interface {
	Inc()
	Dec()
}

// Options configures a Worker.
type Options struct {
	// Limiter bounds requests per caller; nil means unlimited.
	Limiter *Limiter
	// InFlight is incremented while a request is being handled.
	InFlight Gauge
}

// Worker receives requests and answers each on its own goroutine.
type Worker struct {
	handler  Handler
	limiter  *Limiter
	inFlight Gauge
	wg       sync.WaitGroup
}

// New creates a Worker. Pass nil for opts to use defaults.
func New(h Handler, opts *Options) *Worker {
	w := &Worker{handler: h}
	if opts != nil {
		w.limiter = opts.Limiter
		w.inFlight = opts.InFlight
	}
	return w
}

// Serve receives from ch until ctx is done or ch is closed, then waits for
// in-flight requests to finish sending their responses.
func (w *Worker) Serve(ctx context.Context, ch Channel) error {
	slog.Info(fmt.Sprintf("%s - serving", logPrefix))
	defer w.wg.Wait()

	for {
		in, err := ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				slog.Info(fmt.Sprintf("%s - receive loop stopped: %v", logPrefix, err))
				return nil
			}
			return fmt.Errorf("%s - receive failed: %w", logPrefix, err)
		}
		w.wg.Add(1)
		go w.handle(ctx, in)
	}
}

// handle answers one inbound message. Responses are sent even after ctx is
// cancelled so no accepted request goes unanswered.
func (w *Worker) handle(ctx context.Context, in *Inbound) {
	defer w.wg.Done()
	if w.inFlight != nil {
		w.inFlight.Inc()
		defer w.inFlight.Dec()
	}

	sendCtx := context.WithoutCancel(ctx)
	var id int64
	if in.Request != nil {
		id = in.Request.ID
	}

	answered := false
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		slog.Error(fmt.Sprintf("%s - [id:%d] task panic: %v", logPrefix, id, rec))
		if answered {
			return
		}
		w.send(sendCtx, in, &dispatcher.Response{
			ID: id,
			Error: &dispatcher.ErrorDetail{
				Message: fmt.Sprint(rec),
				Stack:   string(debug.Stack()),
				Code:    dispatcher.CodeInternal,
			},
		})
	}()

	var resp *dispatcher.Response
	switch {
	case in.DecodeErr != nil:
		slog.Error(fmt.Sprintf("%s - [id:%d] failed to decode request: %v", logPrefix, id, in.DecodeErr))
		resp = &dispatcher.Response{
			ID:    id,
			Error: &dispatcher.ErrorDetail{Message: "Failed to decode request", Code: dispatcher.CodeInvalidRequest},
		}
	case !w.limiter.Allow(in.Caller, time.Now()):
		slog.Warn(fmt.Sprintf("%s - [id:%d] rate limited caller %q", logPrefix, id, in.Caller))
		resp = &dispatcher.Response{
			ID:    id,
			Error: &dispatcher.ErrorDetail{Message: "Rate limit exceeded", Code: dispatcher.CodeRateLimited},
		}
	default:
		resp = w.handler.Dispatch(ctx, in.Request)
		if resp == nil {
			resp = &dispatcher.Response{
				ID:    id,
				Error: &dispatcher.ErrorDetail{Message: "handler returned no response", Code: dispatcher.CodeInternal},
			}
		}
	}
	answered = true
	w.send(sendCtx, in, resp)
}

func (w *Worker) send(ctx context.Context, in *Inbound, resp *dispatcher.Response) {
	if in.Respond == nil {
		slog.Error(fmt.Sprintf("%s - [id:%d] no reply route, dropping response", logPrefix, resp.ID))
		return
	}
	if err := in.Respond(ctx, resp); err != nil {
		slog.Error(fmt.Sprintf("%s - [id:%d] failed to send response: %v", logPrefix, resp.ID, err))
	}
}
