package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/morezero/engine-worker/pkg/commsutil"
	"github.com/morezero/engine-worker/pkg/dispatcher"
	"github.com/morezero/engine-worker/pkg/worker"
)

const pipeLogPrefix = "transport:pipe"

// pipeCaller is the rate limit key reported for pipe requests.
const pipeCaller = "pipe"

type pipe struct {
	requests  chan []byte
	responses chan []byte
	done      chan struct{}
	once      sync.Once
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

// PipeWorker is the worker end of an in-process pipe.
type PipeWorker struct{ p *pipe }

// PipeCaller is the caller end of an in-process pipe.
type PipeCaller struct{ p *pipe }

// Pipe returns the two connected ends of an unbuffered in-process channel.
func Pipe() (*PipeWorker, *PipeCaller) {
	return NewPipe(0)
}

// NewPipe returns a pipe whose directions each buffer up to buffer envelopes.
func NewPipe(buffer int) (*PipeWorker, *PipeCaller) {
	p := &pipe{
		requests:  make(chan []byte, buffer),
		responses: make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
	return &PipeWorker{p: p}, &PipeCaller{p: p}
}

// Receive waits for the next request.
func (w *PipeWorker) Receive(ctx context.Context) (*worker.Inbound, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.p.done:
		return nil, worker.ErrClosed
	case data := <-w.p.requests:
		req, err := decodeRequest(data)
		return &worker.Inbound{
			Request:   req,
			DecodeErr: err,
			Caller:    pipeCaller,
			Respond:   w.respond,
		}, nil
	}
}

func (w *PipeWorker) respond(ctx context.Context, resp *dispatcher.Response) error {
	data, err := commsutil.EncodePayload(resp)
	if err != nil {
		return fmt.Errorf("%s - encode response: %w", pipeLogPrefix, err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.p.done:
		return worker.ErrClosed
	case w.p.responses <- data:
		return nil
	}
}

// Close shuts down both ends.
func (w *PipeWorker) Close() error {
	w.p.close()
	return nil
}

// Send encodes and delivers a request to the worker end.
func (c *PipeCaller) Send(ctx context.Context, req *dispatcher.Request) error {
	data, err := commsutil.EncodePayload(req)
	if err != nil {
		return fmt.Errorf("%s - encode request: %w", pipeLogPrefix, err)
	}
	return c.SendRaw(ctx, data)
}

// SendRaw delivers an already encoded payload to the worker end.
func (c *PipeCaller) SendRaw(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.p.done:
		return worker.ErrClosed
	case c.p.requests <- data:
		return nil
	}
}

// Receive waits for the next response.
func (c *PipeCaller) Receive(ctx context.Context) (*dispatcher.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.p.done:
		return nil, worker.ErrClosed
	case data := <-c.p.responses:
		return decodeResponse(data)
	}
}

// Close shuts down both ends.
func (c *PipeCaller) Close() error {
	c.p.close()
	return nil
}
