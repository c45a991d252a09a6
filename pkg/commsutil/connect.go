// Package commsutil provides COMMS connection helpers and utilities.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// ConnectOptions tunes connection behavior. Zero fields fall back to the
// values in DefaultConnectOptions.
type ConnectOptions struct {
	Timeout       time.Duration
	ReconnectWait time.Duration
	// MaxReconnects < 0 disables reconnecting.
	MaxReconnects int
}

// DefaultConnectOptions suits a long-running worker.
var DefaultConnectOptions = ConnectOptions{
	Timeout:       10 * time.Second,
	ReconnectWait: 2 * time.Second,
	MaxReconnects: 60,
}

// OneShotConnectOptions suits short-lived CLI calls that should fail fast.
var OneShotConnectOptions = ConnectOptions{
	Timeout:       5 * time.Second,
	MaxReconnects: -1,
}

func (o *ConnectOptions) withDefaults() ConnectOptions {
	out := DefaultConnectOptions
	if o == nil {
		return out
	}
	if o.Timeout > 0 {
		out.Timeout = o.Timeout
	}
	if o.ReconnectWait > 0 {
		out.ReconnectWait = o.ReconnectWait
	}
	if o.MaxReconnects != 0 {
		out.MaxReconnects = o.MaxReconnects
	}
	return out
}

// Connect creates a COMMS connection to url identified as name. opts may be nil.
func Connect(url, name string, opts *ConnectOptions) (*comms.Conn, error) {
	o := opts.withDefaults()
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, url, name))

	nc, err := comms.Connect(url,
		comms.Name(name),
		comms.Timeout(o.Timeout),
		comms.ReconnectWait(o.ReconnectWait),
		comms.MaxReconnects(o.MaxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
			}
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ErrorHandler(func(_ *comms.Conn, sub *comms.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error(fmt.Sprintf("%s - COMMS async error on %q: %v", logPrefix, subject, err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Debug(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}
