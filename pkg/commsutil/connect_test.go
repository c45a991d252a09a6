package commsutil

import (
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const connectTestPrefix = "commsutil:connect_test"

func TestConnect_InvalidURL(t *testing.T) {
	nc, err := Connect("invalid://not-a-nats-server", "test-client", &OneShotConnectOptions)
	if err == nil {
		if nc != nil {
			nc.Close()
		}
		t.Fatalf("%s - expected error for invalid URL", connectTestPrefix)
	}
	if nc != nil {
		t.Errorf("%s - expected nil connection on error", connectTestPrefix)
	}
}

func TestConnect_EmbeddedServer(t *testing.T) {
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", connectTestPrefix, err)
	}
	go ns.Start()
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", connectTestPrefix)
	}

	nc, err := Connect(ns.ClientURL(), "engine-worker-test", nil)
	if err != nil {
		t.Fatalf("%s - Connect failed: %v", connectTestPrefix, err)
	}
	defer nc.Close()

	if !nc.IsConnected() {
		t.Errorf("%s - expected connected client", connectTestPrefix)
	}
	if got := nc.Opts.Name; got != "engine-worker-test" {
		t.Errorf("%s - client name = %q, want engine-worker-test", connectTestPrefix, got)
	}
}

func TestConnectOptions_WithDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   *ConnectOptions
		want ConnectOptions
	}{
		{"nil", nil, DefaultConnectOptions},
		{"empty", &ConnectOptions{}, DefaultConnectOptions},
		{"one shot", &OneShotConnectOptions, ConnectOptions{Timeout: 5 * time.Second, ReconnectWait: 2 * time.Second, MaxReconnects: -1}},
		{"partial", &ConnectOptions{ReconnectWait: time.Second}, ConnectOptions{Timeout: 10 * time.Second, ReconnectWait: time.Second, MaxReconnects: 60}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.withDefaults(); got != tt.want {
				t.Errorf("%s - withDefaults() = %+v, want %+v", connectTestPrefix, got, tt.want)
			}
		})
	}
}
