package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/engine-worker/pkg/dispatcher"
)

const observerLogPrefix = "journal:observer"

// DefaultQueueSize bounds records waiting to be written.
const DefaultQueueSize = 256

// Appender stores one call record.
type Appender interface {
	AppendCall(ctx context.Context, rec *CallRecord) error
}

// ObserverOpts configures an Observer. Zero values use defaults.
type ObserverOpts struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Observer journals dispatched calls off the response path. It implements
// dispatcher.Observer. Records are dropped, with a warning, when the queue is
// full or the observer is closed; write failures are logged and never reach
// the caller. Every observed call is either written or counted in Dropped.
type Observer struct {
	store    Appender
	workerID string
	timeout  time.Duration
	queue    chan *CallRecord
	dropped  atomic.Int64

	// mu guards closed and the close of queue against concurrent sends.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewObserver starts the writer goroutine. Call Close to flush and stop it.
func NewObserver(store Appender, workerID string, opts *ObserverOpts) *Observer {
	size, timeout := DefaultQueueSize, 5*time.Second
	if opts != nil {
		if opts.QueueSize > 0 {
			size = opts.QueueSize
		}
		if opts.WriteTimeout > 0 {
			timeout = opts.WriteTimeout
		}
	}
	o := &Observer{
		store:    store,
		workerID: workerID,
		timeout:  timeout,
		queue:    make(chan *CallRecord, size),
	}
	o.wg.Add(1)
	go o.run()
	return o
}

// Observe queues a record for req/resp.
func (o *Observer) Observe(_ context.Context, req *dispatcher.Request, resp *dispatcher.Response, elapsed time.Duration) {
	rec := &CallRecord{
		WorkerID:   o.workerID,
		RequestID:  req.ID,
		Method:     req.Method,
		Params:     req.Params,
		OK:         resp.OK(),
		DurationUS: elapsed.Microseconds(),
		Created:    time.Now().UTC(),
	}
	if resp.Error != nil {
		code, msg := resp.Error.Code, resp.Error.Message
		rec.ErrorCode, rec.ErrorMessage = &code, &msg
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.dropped.Add(1)
		slog.Warn(fmt.Sprintf("%s - [id:%d] journal closed, dropping record", observerLogPrefix, req.ID))
		return
	}
	select {
	case o.queue <- rec:
	default:
		o.dropped.Add(1)
		slog.Warn(fmt.Sprintf("%s - [id:%d] journal queue full, dropping record", observerLogPrefix, req.ID))
	}
}

// Dropped returns how many records were discarded without a write attempt.
func (o *Observer) Dropped() int64 {
	return o.dropped.Load()
}

func (o *Observer) run() {
	defer o.wg.Done()
	for rec := range o.queue {
		o.write(rec)
	}
}

func (o *Observer) write(rec *CallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.store.AppendCall(ctx, rec); err != nil {
		slog.Error(fmt.Sprintf("%s - [id:%d] %v", observerLogPrefix, rec.RequestID, err))
	}
}

// Close writes queued records and stops the writer. Calls observed after
// Close are dropped.
func (o *Observer) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	o.wg.Wait()
}
