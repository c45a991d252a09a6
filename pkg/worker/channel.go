// Package worker serves request envelopes from a channel, answering each one
// with exactly one correlated response.
package worker

import (
	"context"
	"errors"

	"github.com/morezero/engine-worker/pkg/dispatcher"
)

// ErrClosed is returned by Channel.Receive once the channel is shut down.
var ErrClosed = errors.New("channel closed")

// Responder sends the response for one inbound request back to its caller.
type Responder func(ctx context.Context, resp *dispatcher.Response) error

// Inbound is one message received on the worker end of a channel.
type Inbound struct {
	// Request is the decoded envelope. When DecodeErr is set only
	// Request.ID is meaningful, and it may be zero.
	Request *dispatcher.Request
	// DecodeErr reports a payload that was not a valid request envelope.
	DecodeErr error
	// Caller identifies the sending side, used as the rate limit key.
	Caller string
	// Respond answers this request.
	Respond Responder
}

// Channel is the worker end of the request/response channel.
type Channel interface {
	Receive(ctx context.Context) (*Inbound, error)
}
