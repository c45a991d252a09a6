package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const publisherLogPrefix = "events:publisher"

// NewEngineReadyEvent builds the event announcing that worker's engine
// reported version at the given time.
func NewEngineReadyEvent(worker, version string, at time.Time) *EngineReadyEvent {
	return &EngineReadyEvent{
		Worker:    worker,
		Version:   version,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

// EventPublisher announces engine lifecycle events.
type EventPublisher interface {
	PublishReady(ctx context.Context, event *EngineReadyEvent) error
}

// NoOpPublisher drops every event.
type NoOpPublisher struct{}

// PublishReady is a no-op.
func (p *NoOpPublisher) PublishReady(_ context.Context, _ *EngineReadyEvent) error {
	return nil
}

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(ctx context.Context, event *EngineReadyEvent) error

// PublishReady calls f.
func (f PublisherFunc) PublishReady(ctx context.Context, event *EngineReadyEvent) error {
	return f(ctx, event)
}

// LogPublisher records ready events in the worker log.
type LogPublisher struct{}

// PublishReady logs the event at info level.
func (LogPublisher) PublishReady(_ context.Context, event *EngineReadyEvent) error {
	slog.Info(fmt.Sprintf("%s - Engine ready on worker %s (version %s at %s)", publisherLogPrefix, event.Worker, event.Version, event.Timestamp))
	return nil
}

// FanOut returns a publisher that hands each event to every non-nil pub in
// order. A failing publisher does not stop the rest; errors are joined.
func FanOut(pubs ...EventPublisher) EventPublisher {
	var live []EventPublisher
	for _, p := range pubs {
		if p != nil {
			live = append(live, p)
		}
	}
	return fanOut(live)
}

type fanOut []EventPublisher

func (f fanOut) PublishReady(ctx context.Context, event *EngineReadyEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishReady(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
