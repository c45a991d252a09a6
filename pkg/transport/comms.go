package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/engine-worker/pkg/commsutil"
	"github.com/morezero/engine-worker/pkg/dispatcher"
	"github.com/morezero/engine-worker/pkg/worker"
)

const commsLogPrefix = "transport:comms"

// DefaultPendingMessages bounds the messages buffered per subscription.
const DefaultPendingMessages = 1024

// CommsWorker is the worker end of a NATS channel. Each request message must
// carry a reply subject; the response is published there.
type CommsWorker struct {
	sub  *comms.Subscription
	msgs chan *comms.Msg
	done chan struct{}
	once sync.Once
}

// NewCommsWorker subscribes to subject. A non-empty queue joins a queue group
// so several workers can share one subject.
func NewCommsWorker(nc *comms.Conn, subject, queue string) (*CommsWorker, error) {
	w := &CommsWorker{
		msgs: make(chan *comms.Msg, DefaultPendingMessages),
		done: make(chan struct{}),
	}
	var err error
	if queue != "" {
		w.sub, err = nc.ChanQueueSubscribe(subject, queue, w.msgs)
	} else {
		w.sub, err = nc.ChanSubscribe(subject, w.msgs)
	}
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", commsLogPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", commsLogPrefix, subject))
	return w, nil
}

// Receive waits for the next request message.
func (w *CommsWorker) Receive(ctx context.Context) (*worker.Inbound, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.done:
			return nil, worker.ErrClosed
		case msg := <-w.msgs:
			if msg.Reply == "" {
				slog.Warn(fmt.Sprintf("%s - dropping request without reply subject on %s", commsLogPrefix, msg.Subject))
				continue
			}
			req, err := decodeRequest(msg.Data)
			return &worker.Inbound{
				Request:   req,
				DecodeErr: err,
				Caller:    msg.Reply,
				Respond:   replyTo(msg),
			}, nil
		}
	}
}

func replyTo(msg *comms.Msg) worker.Responder {
	return func(_ context.Context, resp *dispatcher.Response) error {
		data, err := commsutil.EncodePayload(resp)
		if err != nil {
			return fmt.Errorf("%s - encode response: %w", commsLogPrefix, err)
		}
		return msg.Respond(data)
	}
}

// Buffered returns how many received messages are waiting for Receive.
func (w *CommsWorker) Buffered() int {
	return len(w.msgs)
}

// Close unsubscribes; pending Receive calls return worker.ErrClosed. Requests
// already buffered but not yet received are answered with INTERNAL_ERROR so
// no caller waits on a request that will never run.
func (w *CommsWorker) Close() error {
	var err error
	w.once.Do(func() {
		err = w.sub.Unsubscribe()
		close(w.done)
		w.rejectBuffered()
	})
	return err
}

func (w *CommsWorker) rejectBuffered() {
	rejected := 0
	for {
		select {
		case msg := <-w.msgs:
			if msg.Reply == "" {
				continue
			}
			req, _ := decodeRequest(msg.Data)
			resp := &dispatcher.Response{
				ID:    req.ID,
				Error: &dispatcher.ErrorDetail{Message: "Worker shutting down", Code: dispatcher.CodeInternal},
			}
			if err := replyTo(msg)(context.Background(), resp); err != nil {
				slog.Error(fmt.Sprintf("%s - [id:%d] failed to reject buffered request: %v", commsLogPrefix, req.ID, err))
				continue
			}
			rejected++
		default:
			if rejected > 0 {
				slog.Warn(fmt.Sprintf("%s - Rejected %d buffered requests on close", commsLogPrefix, rejected))
			}
			return
		}
	}
}

// CommsCaller is the caller end of a NATS channel. All responses arrive on
// one inbox shared by every request, so they are told apart by id only.
type CommsCaller struct {
	nc      *comms.Conn
	subject string
	inbox   string
	sub     *comms.Subscription
	msgs    chan *comms.Msg
	done    chan struct{}
	once    sync.Once
}

// NewCommsCaller creates a caller that sends requests to subject.
func NewCommsCaller(nc *comms.Conn, subject string) (*CommsCaller, error) {
	c := &CommsCaller{
		nc:      nc,
		subject: subject,
		inbox:   nc.NewInbox(),
		msgs:    make(chan *comms.Msg, DefaultPendingMessages),
		done:    make(chan struct{}),
	}
	sub, err := nc.ChanSubscribe(c.inbox, c.msgs)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to inbox: %w", commsLogPrefix, err)
	}
	c.sub = sub
	return c, nil
}

// Inbox returns the reply subject carried by every request.
func (c *CommsCaller) Inbox() string {
	return c.inbox
}

// Send publishes a request with the shared inbox as reply subject.
func (c *CommsCaller) Send(_ context.Context, req *dispatcher.Request) error {
	data, err := commsutil.EncodePayload(req)
	if err != nil {
		return fmt.Errorf("%s - encode request: %w", commsLogPrefix, err)
	}
	if err := c.nc.PublishMsg(&comms.Msg{Subject: c.subject, Reply: c.inbox, Data: data}); err != nil {
		return fmt.Errorf("%s - publish to %s: %w", commsLogPrefix, c.subject, err)
	}
	return nil
}

// Receive waits for the next response. Undecodable messages are logged and skipped.
func (c *CommsCaller) Receive(ctx context.Context) (*dispatcher.Response, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, worker.ErrClosed
		case msg := <-c.msgs:
			resp, err := decodeResponse(msg.Data)
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - skipping message on %s: %v", commsLogPrefix, c.inbox, err))
				continue
			}
			return resp, nil
		}
	}
}

// Close unsubscribes from the inbox.
func (c *CommsCaller) Close() error {
	var err error
	c.once.Do(func() {
		err = c.sub.Unsubscribe()
		close(c.done)
	})
	return err
}
