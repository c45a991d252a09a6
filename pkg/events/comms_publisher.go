package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/engine-worker/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// ReadySubject overrides the global ready event subject (e.g. from ENGINE_READY_SUBJECT).
	ReadySubject string
}

// CommsPublisher publishes engine lifecycle events to COMMS subjects.
type CommsPublisher struct {
	nc           *comms.Conn
	readySubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	subject := commsutil.SubjectReady
	if opts != nil && opts.ReadySubject != "" {
		subject = opts.ReadySubject
	}
	return &CommsPublisher{nc: nc, readySubject: subject}
}

// PublishReady publishes an EngineReadyEvent to both the per-worker
// and global ready subjects.
func (p *CommsPublisher) PublishReady(_ context.Context, event *EngineReadyEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	if event.Worker != "" {
		workerSubject := commsutil.BuildReadySubject(p.readySubject, event.Worker)
		if err := p.nc.Publish(workerSubject, data); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, workerSubject, err))
			return err
		}
	}

	if err := p.nc.Publish(p.readySubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.readySubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published ready event for worker %s (version %s)", commsPublisherLogPrefix, event.Worker, event.Version))
	return nil
}
