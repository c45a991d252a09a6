package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/morezero/engine-worker/pkg/dispatcher"
	"github.com/morezero/engine-worker/pkg/worker"
)

const pipeTestPrefix = "transport:pipe_test"

func TestPipe_RoundTrip(t *testing.T) {
	workerEnd, callerEnd := NewPipe(1)
	defer callerEnd.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := dispatcher.NewRequest(11, "setPosition", "startpos")
	if err := callerEnd.Send(ctx, req); err != nil {
		t.Fatalf("%s - Send: %v", pipeTestPrefix, err)
	}

	in, err := workerEnd.Receive(ctx)
	if err != nil {
		t.Fatalf("%s - Receive: %v", pipeTestPrefix, err)
	}
	if in.DecodeErr != nil || in.Request.ID != 11 || in.Request.Method != "setPosition" {
		t.Fatalf("%s - inbound = %+v", pipeTestPrefix, in)
	}
	if string(in.Request.Params) != `["startpos"]` {
		t.Errorf("%s - params = %s", pipeTestPrefix, in.Request.Params)
	}
	if in.Request == req {
		t.Errorf("%s - request crossed the pipe by reference", pipeTestPrefix)
	}

	if err := in.Respond(ctx, &dispatcher.Response{ID: 11}); err != nil {
		t.Fatalf("%s - Respond: %v", pipeTestPrefix, err)
	}
	resp, err := callerEnd.Receive(ctx)
	if err != nil {
		t.Fatalf("%s - caller Receive: %v", pipeTestPrefix, err)
	}
	if resp.ID != 11 || !resp.OK() {
		t.Errorf("%s - response = %+v", pipeTestPrefix, resp)
	}
}

func TestPipe_Close(t *testing.T) {
	workerEnd, callerEnd := Pipe()
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := workerEnd.Receive(ctx)
		errCh <- err
	}()
	workerEnd.Close()
	callerEnd.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, worker.ErrClosed) {
			t.Errorf("%s - Receive after close = %v", pipeTestPrefix, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s - Receive did not unblock on close", pipeTestPrefix)
	}

	if err := callerEnd.SendRaw(ctx, []byte(`{}`)); !errors.Is(err, worker.ErrClosed) {
		t.Errorf("%s - Send after close = %v", pipeTestPrefix, err)
	}
	if _, err := callerEnd.Receive(ctx); !errors.Is(err, worker.ErrClosed) {
		t.Errorf("%s - caller Receive after close = %v", pipeTestPrefix, err)
	}
}

func TestPipe_ContextCancel(t *testing.T) {
	workerEnd, callerEnd := Pipe()
	defer callerEnd.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := workerEnd.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("%s - Receive = %v, want deadline exceeded", pipeTestPrefix, err)
	}
}
