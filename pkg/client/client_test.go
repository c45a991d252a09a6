package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/morezero/engine-worker/pkg/dispatcher"
	"github.com/morezero/engine-worker/pkg/engine/enginetest"
	"github.com/morezero/engine-worker/pkg/methods"
	"github.com/morezero/engine-worker/pkg/transport"
	"github.com/morezero/engine-worker/pkg/worker"
)

const clientTestPrefix = "client:client_test"

// scriptedChannel lets a test decide when and how responses arrive.
type scriptedChannel struct {
	sent      chan *dispatcher.Request
	responses chan *dispatcher.Response
	recvErr   chan error
}

func newScriptedChannel() *scriptedChannel {
	return &scriptedChannel{
		sent:      make(chan *dispatcher.Request, 16),
		responses: make(chan *dispatcher.Response, 16),
		recvErr:   make(chan error, 1),
	}
}

func (s *scriptedChannel) Send(_ context.Context, req *dispatcher.Request) error {
	s.sent <- req
	return nil
}

func (s *scriptedChannel) Receive(ctx context.Context) (*dispatcher.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-s.recvErr:
		return nil, err
	case resp := <-s.responses:
		return resp, nil
	}
}

func nextSent(t *testing.T, s *scriptedChannel) *dispatcher.Request {
	t.Helper()
	select {
	case req := <-s.sent:
		return req
	case <-time.After(2 * time.Second):
		t.Fatalf("%s - no request sent", clientTestPrefix)
		return nil
	}
}

func TestClient_IDsAreUniqueAndRouted(t *testing.T) {
	ch := newScriptedChannel()
	c := New(ch)
	defer c.Close()

	type result struct {
		resp *dispatcher.Response
		err  error
	}
	first := make(chan result, 1)
	second := make(chan result, 1)
	go func() { r, err := c.Call(context.Background(), "version"); first <- result{r, err} }()
	reqA := nextSent(t, ch)
	go func() { r, err := c.Call(context.Background(), "bestMove"); second <- result{r, err} }()
	reqB := nextSent(t, ch)

	if reqA.ID == reqB.ID {
		t.Fatalf("%s - ids collide: %d", clientTestPrefix, reqA.ID)
	}

	// Answer out of order.
	ch.responses <- &dispatcher.Response{ID: reqB.ID, Result: []byte(`"e2e4"`)}
	ch.responses <- &dispatcher.Response{ID: reqA.ID, Result: []byte(`"1.0.0"`)}

	a, b := <-first, <-second
	if a.err != nil || b.err != nil {
		t.Fatalf("%s - errors: %v, %v", clientTestPrefix, a.err, b.err)
	}
	if a.resp.ID != reqA.ID || string(a.resp.Result) != `"1.0.0"` {
		t.Errorf("%s - first call got %+v", clientTestPrefix, a.resp)
	}
	if b.resp.ID != reqB.ID || string(b.resp.Result) != `"e2e4"` {
		t.Errorf("%s - second call got %+v", clientTestPrefix, b.resp)
	}
}

func TestClient_DropsUnknownAndLateResponses(t *testing.T) {
	ch := newScriptedChannel()
	c := New(ch)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Call(ctx, "bestMove"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("%s - Call = %v, want deadline exceeded", clientTestPrefix, err)
	}
	late := nextSent(t, ch)
	if c.Pending() != 0 {
		t.Errorf("%s - abandoned call still pending", clientTestPrefix)
	}

	ch.responses <- &dispatcher.Response{ID: late.ID, Result: []byte(`"a7a5"`)}
	ch.responses <- &dispatcher.Response{ID: 9999, Result: []byte(`null`)}

	done := make(chan *dispatcher.Response, 1)
	go func() {
		resp, _ := c.Call(context.Background(), "version")
		done <- resp
	}()
	req := nextSent(t, ch)
	ch.responses <- &dispatcher.Response{ID: req.ID, Result: []byte(`"1.0.0"`)}

	select {
	case resp := <-done:
		if resp == nil || resp.ID != req.ID || string(resp.Result) != `"1.0.0"` {
			t.Errorf("%s - got %+v", clientTestPrefix, resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s - call never completed", clientTestPrefix)
	}
}

func TestClient_ReceiveFailureFailsPending(t *testing.T) {
	ch := newScriptedChannel()
	c := New(ch)
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "init")
		errCh <- err
	}()
	nextSent(t, ch)
	ch.recvErr <- errors.New("connection reset")

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClientClosed) {
			t.Errorf("%s - Call = %v, want ErrClientClosed", clientTestPrefix, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s - pending call was not failed", clientTestPrefix)
	}

	if _, err := c.Call(context.Background(), "init"); !errors.Is(err, ErrClientClosed) {
		t.Errorf("%s - Call after failure = %v", clientTestPrefix, err)
	}
}

func TestClient_TypedHelpersOverPipe(t *testing.T) {
	fake := enginetest.NewFake()
	reg, err := methods.NewRegistry(methods.NewRegistryParams{Engine: fake})
	if err != nil {
		t.Fatalf("%s - NewRegistry: %v", clientTestPrefix, err)
	}
	workerEnd, callerEnd := transport.NewPipe(4)
	defer callerEnd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go worker.New(dispatcher.NewDispatcher(reg), nil).Serve(ctx, workerEnd)

	c := New(callerEnd)
	defer c.Close()

	if _, err := c.Version(ctx); !IsNotReady(err) {
		t.Errorf("%s - Version before init = %v", clientTestPrefix, err)
	}
	if v, err := c.Init(ctx); err != nil || v != enginetest.DefaultVersion {
		t.Fatalf("%s - Init = (%q, %v)", clientTestPrefix, v, err)
	}
	if err := c.SetDepth(ctx, 6); err != nil {
		t.Errorf("%s - SetDepth: %v", clientTestPrefix, err)
	}
	if err := c.SetPosition(ctx, "startpos"); err != nil {
		t.Errorf("%s - SetPosition: %v", clientTestPrefix, err)
	}
	if mv, err := c.BestMove(ctx); err != nil || mv != enginetest.DefaultMove {
		t.Errorf("%s - BestMove = (%q, %v)", clientTestPrefix, mv, err)
	}
	if fake.Depth() != 6 {
		t.Errorf("%s - depth = %d", clientTestPrefix, fake.Depth())
	}

	err = c.SetDepth(ctx, 0)
	var ce *CallError
	if !errors.As(err, &ce) || ce.Code != dispatcher.CodeInvalidArgument || ce.Method != "setDepth" {
		t.Errorf("%s - SetDepth(0) = %#v", clientTestPrefix, err)
	}
}
