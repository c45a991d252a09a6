// Package server orchestrates all components: NATS client, engine, method
// registry, worker loop, journal, metrics and the HTTP health endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/engine-worker/internal/config"
	"github.com/morezero/engine-worker/pkg/commsutil"
	"github.com/morezero/engine-worker/pkg/dispatcher"
	"github.com/morezero/engine-worker/pkg/engine"
	"github.com/morezero/engine-worker/pkg/events"
	"github.com/morezero/engine-worker/pkg/journal"
	"github.com/morezero/engine-worker/pkg/methods"
	"github.com/morezero/engine-worker/pkg/metrics"
	"github.com/morezero/engine-worker/pkg/readiness"
	"github.com/morezero/engine-worker/pkg/transport"
	"github.com/morezero/engine-worker/pkg/worker"
)

const logPrefix = "server:server"

// callLog is the read side of the journal used by the status page.
type callLog interface {
	RecentCalls(ctx context.Context, workerID string, limit int) ([]journal.CallRecord, error)
}

// NewServerParams holds the collaborators of a Server.
type NewServerParams struct {
	Config *config.Config
	Conn   *comms.Conn
	Engine engine.Engine
	// Journal is optional; when set every call is appended to it.
	Journal journal.Appender
	// CallLog is optional; when set the status page lists recent calls.
	CallLog callLog
}

// Server is the engine-worker orchestrator.
type Server struct {
	cfg      *config.Config
	nc       *comms.Conn
	gate     *readiness.Gate
	reg      *methods.Registry
	disp     *dispatcher.Dispatcher
	metrics  *metrics.Collector
	journal  *journal.Observer
	callLog  callLog
	worker   *worker.Worker
	channel  *transport.CommsWorker
	serveErr chan error
}

// New wires the registry, dispatcher and observers. Nothing is subscribed
// until Start.
func New(params NewServerParams) (*Server, error) {
	cfg := params.Config
	if cfg == nil {
		return nil, fmt.Errorf("%s - config is required", logPrefix)
	}
	if params.Conn == nil {
		return nil, fmt.Errorf("%s - COMMS connection is required", logPrefix)
	}

	cfg.EnsureWorkerID()
	s := &Server{cfg: cfg, nc: params.Conn, gate: readiness.New(), callLog: params.CallLog}

	collector, err := metrics.New()
	if err != nil {
		return nil, err
	}
	s.metrics = collector
	collector.TrackReadiness(s.gate)

	publisher := events.FanOut(
		events.LogPublisher{},
		events.NewCommsPublisher(params.Conn, &events.CommsPublisherOpts{ReadySubject: cfg.EngineReadySubject}),
	)
	reg, err := methods.NewRegistry(methods.NewRegistryParams{
		Engine:     params.Engine,
		Gate:       s.gate,
		Locator:    cfg.EngineWasmURL,
		MinVersion: cfg.EngineMinVersion,
		WorkerID:   cfg.WorkerID,
		Publisher:  publisher,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create method registry: %w", logPrefix, err)
	}
	s.reg = reg

	observers := []dispatcher.Observer{collector}
	if params.Journal != nil {
		s.journal = journal.NewObserver(params.Journal, cfg.WorkerID, nil)
		observers = append(observers, s.journal)
	}
	s.disp = dispatcher.NewDispatcher(reg, observers...)

	s.worker = worker.New(s.disp, &worker.Options{
		Limiter:  worker.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 0),
		InFlight: collector.InFlight(),
	})
	return s, nil
}

// Start subscribes to the engine subject and serves requests until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ch, err := transport.NewCommsWorker(s.nc, s.cfg.EngineSubject, s.cfg.EngineQueueGroup)
	if err != nil {
		return err
	}
	if err := s.nc.Flush(); err != nil {
		ch.Close()
		return fmt.Errorf("%s - failed to flush subscription: %w", logPrefix, err)
	}
	s.channel = ch
	s.serveErr = make(chan error, 1)
	go func() {
		s.serveErr <- s.worker.Serve(ctx, ch)
	}()
	slog.Info(fmt.Sprintf("%s - Worker %s serving %s", logPrefix, s.cfg.WorkerID, s.cfg.EngineSubject))
	return nil
}

// Stop unsubscribes, waits for in-flight requests and flushes the journal.
func (s *Server) Stop() {
	if s.channel != nil {
		s.channel.Close()
		if err := <-s.serveErr; err != nil {
			slog.Error(fmt.Sprintf("%s - worker stopped with error: %v", logPrefix, err))
		}
		s.channel = nil
	}
	if s.journal != nil {
		s.journal.Close()
	}
}

// Registry returns the method registry.
func (s *Server) Registry() *methods.Registry {
	return s.reg
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting engine-worker %s", logPrefix, cfg.EnsureWorkerID()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName, nil)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	defer nc.Drain()

	params := NewServerParams{
		Config: cfg,
		Conn:   nc,
		Engine: engine.NewWasmEngine(&engine.WasmOptions{MemoryLimitPages: cfg.EngineMemoryPages}),
	}

	// Step 2: Journal database, if configured
	if cfg.JournalEnabled() {
		if cfg.RunMigrations {
			if err := journal.EnsureDatabase(ctx, cfg.JournalDatabaseURL); err != nil {
				return fmt.Errorf("%s - failed to ensure journal database: %w", logPrefix, err)
			}
		}
		pool, err := journal.NewPool(ctx, cfg.JournalDatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to journal database: %w", logPrefix, err)
		}
		defer pool.Close()

		if cfg.RunMigrations {
			migrations, err := journal.LoadMigrations(cfg.MigrationPath)
			if err != nil {
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := journal.RunMigrations(ctx, pool, migrations); err != nil {
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		repo := journal.NewRepository(pool)
		params.Journal = repo
		params.CallLog = repo
	}

	// Step 3: Registry, dispatcher, worker
	s, err := New(params)
	if err != nil {
		return err
	}
	if closer, ok := params.Engine.(interface{ Close(context.Context) error }); ok {
		defer closer.Close(context.Background())
	}
	if err := s.Start(ctx); err != nil {
		return err
	}

	// Step 4: HTTP health server
	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpServer := &http.Server{Addr: httpAddr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - engine-worker is up; waiting for init", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	s.Stop()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// SetupLogging installs a text slog handler on stdout at the given level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}
