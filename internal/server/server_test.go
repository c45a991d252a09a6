package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/engine-worker/internal/config"
	"github.com/morezero/engine-worker/pkg/client"
	"github.com/morezero/engine-worker/pkg/engine/enginetest"
	"github.com/morezero/engine-worker/pkg/events"
	"github.com/morezero/engine-worker/pkg/journal"
	"github.com/morezero/engine-worker/pkg/transport"
)

const serverTestPrefix = "server:server_test"

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T) *commsserver.Server {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", serverTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", serverTestPrefix)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func connect(t *testing.T, ns *commsserver.Server) *comms.Conn {
	t.Helper()
	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("%s - failed to connect: %v", serverTestPrefix, err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func testConfig() *config.Config {
	return &config.Config{
		WorkerID:           "w-test",
		EngineSubject:      "engine.worker.test",
		EngineWasmURL:      "engine_bg.wasm",
		HealthCheckTimeout: 5 * time.Second,
	}
}

type memoryJournal struct {
	mu      sync.Mutex
	records []journal.CallRecord
}

func (m *memoryJournal) AppendCall(_ context.Context, rec *journal.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memoryJournal) RecentCalls(_ context.Context, workerID string, limit int) ([]journal.CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []journal.CallRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].WorkerID == workerID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memoryJournal) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// startWorkerServer runs a Server with a fake engine and returns a client for it.
func startWorkerServer(t *testing.T, ns *commsserver.Server, cfg *config.Config, mj *memoryJournal) (*Server, *client.Client) {
	t.Helper()
	params := NewServerParams{Config: cfg, Conn: connect(t, ns), Engine: enginetest.NewFake()}
	if mj != nil {
		params.Journal = mj
		params.CallLog = mj
	}
	s, err := New(params)
	if err != nil {
		t.Fatalf("%s - New failed: %v", serverTestPrefix, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		cancel()
		t.Fatalf("%s - Start failed: %v", serverTestPrefix, err)
	}

	callerConn := connect(t, ns)
	caller, err := transport.NewCommsCaller(callerConn, cfg.EngineSubject)
	if err != nil {
		t.Fatalf("%s - NewCommsCaller failed: %v", serverTestPrefix, err)
	}
	callerConn.Flush()
	c := client.New(caller)

	t.Cleanup(func() {
		c.Close()
		caller.Close()
		s.Stop()
		cancel()
	})
	return s, c
}

func getHealth(t *testing.T, h http.Handler) (int, HealthOutput) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var out HealthOutput
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode health: %v", serverTestPrefix, err)
	}
	return rec.Code, out
}

func getReady(t *testing.T, h http.Handler) (int, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode ready: %v", serverTestPrefix, err)
	}
	return rec.Code, out
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(NewServerParams{}); err == nil {
		t.Errorf("%s - expected error without config", serverTestPrefix)
	}
	if _, err := New(NewServerParams{Config: testConfig()}); err == nil {
		t.Errorf("%s - expected error without connection", serverTestPrefix)
	}
}

func TestServer_HealthTracksReadiness(t *testing.T) {
	ns := startTestServer(t)
	s, c := startWorkerServer(t, ns, testConfig(), nil)
	h := s.Handler()

	code, health := getHealth(t, h)
	if code != http.StatusServiceUnavailable || health.Ready || health.Status != "starting" {
		t.Errorf("%s - before init: code=%d health=%+v", serverTestPrefix, code, health)
	}
	if code, body := getReady(t, h); code != http.StatusServiceUnavailable || body["status"] != "not_ready" {
		t.Errorf("%s - /ready before init: code=%d body=%v", serverTestPrefix, code, body)
	}
	if !health.Checks.Comms || len(health.Methods) != 5 {
		t.Errorf("%s - checks=%+v methods=%d", serverTestPrefix, health.Checks, len(health.Methods))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Init(ctx); err != nil {
		t.Fatalf("%s - Init: %v", serverTestPrefix, err)
	}

	code, health = getHealth(t, h)
	if code != http.StatusOK || !health.Ready || health.Status != "healthy" {
		t.Errorf("%s - after init: code=%d health=%+v", serverTestPrefix, code, health)
	}
	if health.EngineVersion != enginetest.DefaultVersion || health.Worker != "w-test" {
		t.Errorf("%s - health = %+v", serverTestPrefix, health)
	}
	if code, body := getReady(t, h); code != http.StatusOK || body["status"] != "ready" {
		t.Errorf("%s - /ready after init: code=%d body=%v", serverTestPrefix, code, body)
	}
}

func TestServer_PublishesReadyEvent(t *testing.T) {
	ns := startTestServer(t)
	cfg := testConfig()
	cfg.EngineReadySubject = "engine.ready.test"

	listener := connect(t, ns)
	got := make(chan *events.EngineReadyEvent, 2)
	sub, err := listener.Subscribe(cfg.EngineReadySubject, func(msg *comms.Msg) {
		var e events.EngineReadyEvent
		if json.Unmarshal(msg.Data, &e) == nil {
			got <- &e
		}
	})
	if err != nil {
		t.Fatalf("%s - subscribe: %v", serverTestPrefix, err)
	}
	defer sub.Unsubscribe()
	listener.Flush()

	_, c := startWorkerServer(t, ns, cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		if _, err := c.Init(ctx); err != nil {
			t.Fatalf("%s - Init: %v", serverTestPrefix, err)
		}
	}

	select {
	case e := <-got:
		if e.Worker != "w-test" || e.Version != enginetest.DefaultVersion {
			t.Errorf("%s - event = %+v", serverTestPrefix, e)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("%s - no ready event", serverTestPrefix)
	}
	select {
	case e := <-got:
		t.Errorf("%s - second ready event: %+v", serverTestPrefix, e)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestServer_JournalAndStatusPage(t *testing.T) {
	ns := startTestServer(t)
	mj := &memoryJournal{}
	s, c := startWorkerServer(t, ns, testConfig(), mj)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.SetPosition(ctx, "startpos"); !client.IsNotReady(err) {
		t.Errorf("%s - SetPosition before init = %v", serverTestPrefix, err)
	}
	if _, err := c.Init(ctx); err != nil {
		t.Fatalf("%s - Init: %v", serverTestPrefix, err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for mj.len() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if mj.len() != 2 {
		t.Fatalf("%s - journaled %d calls, want 2", serverTestPrefix, mj.len())
	}

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for path, want := range map[string]string{
		"/":        "Engine not ready",
		"/metrics": `engine_worker_calls_total{code="NOT_READY",method="setPosition",outcome="error"} 1`,
		"/ready":   `"ready"`,
	} {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatalf("%s - GET %s: %v", serverTestPrefix, path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), want) {
			t.Errorf("%s - GET %s: status %d, missing %q", serverTestPrefix, path, resp.StatusCode, want)
		}
	}

	resp, err := srv.Client().Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("%s - GET /nope: %v", serverTestPrefix, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("%s - GET /nope: status %d", serverTestPrefix, resp.StatusCode)
	}
}

func TestSetupLogging(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		SetupLogging(level)
	}
	SetupLogging("info")
}
