// Package client is the caller side of the worker protocol. It allocates
// request ids, sends envelopes over a shared channel and routes each
// response back to the call waiting for its id.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/morezero/engine-worker/pkg/dispatcher"
)

const logPrefix = "client:client"

// ErrClientClosed is returned by calls made after the receive loop stopped.
var ErrClientClosed = errors.New("client closed")

// Channel is the caller end of the request/response channel.
type Channel interface {
	Send(ctx context.Context, req *dispatcher.Request) error
	Receive(ctx context.Context) (*dispatcher.Response, error)
}

// Client correlates responses to requests by id over one Channel.
type Client struct {
	ch     Channel
	nextID atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	pending map[int64]chan *dispatcher.Response
	err     error
}

// New creates a Client and starts its receive loop.
func New(ch Channel) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ch:      ch,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[int64]chan *dispatcher.Response),
	}
	go c.receiveLoop(ctx)
	return c
}

func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.done)
	for {
		resp, err := c.ch.Receive(ctx)
		if err != nil {
			c.fail(err)
			return
		}
		c.route(resp)
	}
}

// route delivers resp to the waiting call, or drops it when no call is
// waiting for its id.
func (c *Client) route(resp *dispatcher.Response) {
	c.mu.Lock()
	waiter, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		slog.Debug(fmt.Sprintf("%s - [id:%d] dropping response with no pending call", logPrefix, resp.ID))
		return
	}
	waiter <- resp
}

// fail stops the client; every pending call returns err.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, waiter := range c.pending {
		close(waiter)
		delete(c.pending, id)
	}
}

// Call sends method with positional params and waits for its response.
// An error envelope is returned as a response, not as an error; the error
// return reports transport failures and ctx expiry only. Expiry abandons the
// wait without cancelling the worker's operation, and a response arriving
// afterwards is dropped.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (*dispatcher.Response, error) {
	id := c.nextID.Add(1)
	req, err := dispatcher.NewRequest(id, method, params...)
	if err != nil {
		return nil, fmt.Errorf("%s - [id:%d] encode params for %s: %w", logPrefix, id, method, err)
	}

	waiter := make(chan *dispatcher.Response, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s - %w: %v", logPrefix, ErrClientClosed, c.err)
	}
	c.pending[id] = waiter
	c.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - [id:%d] send %s", logPrefix, id, method))
	if err := c.ch.Send(ctx, req); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("%s - [id:%d] send %s: %w", logPrefix, id, method, err)
	}

	select {
	case resp, ok := <-waiter:
		if !ok {
			return nil, fmt.Errorf("%s - [id:%d] %w: %v", logPrefix, id, ErrClientClosed, c.closeErr())
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pending returns the number of calls waiting for a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops the receive loop. It does not close the channel.
func (c *Client) Close() {
	c.cancel()
	<-c.done
}
