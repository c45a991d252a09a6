// Package main is the entrypoint for the engine-worker binary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/morezero/engine-worker/internal/config"
	"github.com/morezero/engine-worker/internal/server"
	"github.com/morezero/engine-worker/pkg/client"
	"github.com/morezero/engine-worker/pkg/commsutil"
	"github.com/morezero/engine-worker/pkg/journal"
	"github.com/morezero/engine-worker/pkg/transport"
)

const usage = `Usage: engine-worker [command]
       engine-worker serve                    Start the worker (NATS, engine, HTTP health).
       engine-worker call <method> [params]   Send one request and print the response envelope.
       engine-worker migrate up               Create the call journal tables.
       engine-worker migrate status           Show whether the journal tables exist.
       engine-worker journal [worker] [n]     Print the n most recent journaled calls.
       engine-worker journal prune <age> [worker]
                                              Delete journaled calls older than age (e.g. 72h).

Commands:
  serve           (default) Start the engine worker.
  call            Methods: init, setDepth <depth>, setPosition <fen|startpos>, bestMove, version.
                  Params that parse as JSON are sent as-is; anything else is sent as a string.
  migrate up      Run journal migrations only.
  migrate status  Show current migration status.
  journal         Read back the call journal (default: WORKER_ID, 20 rows). Without
                  WORKER_ID set, name the worker explicitly.
  journal prune   Delete old journal rows; without a worker every worker is pruned.

Environment: COMMS_URL, ENGINE_SUBJECT, ENGINE_WASM_URL, WORKER_ID, JOURNAL_DATABASE_URL,
MIGRATION_PATH, HTTP_PORT, CALL_TIMEOUT, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "call":
		if len(args) < 2 {
			log.Fatalf("engine-worker call: require a method name")
		}
		if err := runCall(os.Stdout, args[1], args[2:]); err != nil {
			log.Fatalf("engine-worker call: %v", err)
		}
		return
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("engine-worker migrate: require subcommand (up, status)")
		}
		switch sub := args[1]; sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("engine-worker migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(os.Stdout); err != nil {
				log.Fatalf("engine-worker migrate status: %v", err)
			}
		default:
			log.Fatalf("engine-worker migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "journal":
		if len(args) > 1 && args[1] == "prune" {
			if err := runJournalPrune(os.Stdout, args[2:]); err != nil {
				log.Fatalf("engine-worker journal prune: %v", err)
			}
			return
		}
		if err := runJournal(os.Stdout, args[1:]); err != nil {
			log.Fatalf("engine-worker journal: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("engine-worker: %v", err)
	}
}

// parseParams turns command-line words into positional params.
func parseParams(words []string) []interface{} {
	params := make([]interface{}, 0, len(words))
	for _, w := range words {
		var v interface{}
		if err := json.Unmarshal([]byte(w), &v); err == nil {
			params = append(params, json.RawMessage(w))
			continue
		}
		params = append(params, w)
	}
	return params
}

func runCall(out io.Writer, method string, words []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	server.SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForCall(); err != nil {
		return err
	}

	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-cli", &commsutil.OneShotConnectOptions)
	if err != nil {
		return err
	}
	defer nc.Close()

	caller, err := transport.NewCommsCaller(nc, cfg.EngineSubject)
	if err != nil {
		return err
	}
	defer caller.Close()
	c := client.New(caller)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
	defer cancel()
	resp, err := c.Call(ctx, method, parseParams(words)...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("%s failed: %s", method, resp.Error.Message)
	}
	return nil
}

func runMigrateUp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	if err := journal.EnsureDatabase(ctx, cfg.JournalDatabaseURL); err != nil {
		return fmt.Errorf("ensure database: %w", err)
	}
	pool, err := journal.NewPool(ctx, cfg.JournalDatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := journal.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := journal.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus(out io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := journal.NewPool(ctx, cfg.JournalDatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := journal.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	applied, err := journal.AppliedMigrations(ctx, pool)
	if err != nil {
		return err
	}
	writeMigrationStatus(out, migrations, applied)
	return nil
}

// writeMigrationStatus prints one line per known migration, then a summary.
func writeMigrationStatus(out io.Writer, migrations []journal.Migration, applied map[int]string) {
	for _, m := range migrations {
		state := "pending"
		if _, ok := applied[m.Version]; ok {
			state = "applied"
		}
		fmt.Fprintf(out, "  %-8s %s\n", state, m.File())
	}
	pending := journal.PendingMigrations(migrations, applied)
	if len(pending) == 0 {
		fmt.Fprintf(out, "Migration status: up to date (%d applied)\n", len(applied))
		return
	}
	fmt.Fprintf(out, "Migration status: %d pending (run 'engine-worker migrate up')\n", len(pending))
}

func runJournal(out io.Writer, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	workerID, limit, err := journalArgs(args, cfg.WorkerID)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := journal.NewPool(ctx, cfg.JournalDatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	calls, err := journal.NewRepository(pool).RecentCalls(ctx, workerID, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(calls)
}

// journalArgs parses "[worker] [n]".
func journalArgs(args []string, defaultWorker string) (string, int, error) {
	workerID, limit := defaultWorker, 20
	if len(args) > 0 && args[0] != "" {
		workerID = args[0]
	}
	if workerID == "" {
		return "", 0, fmt.Errorf("WORKER_ID is not set; pass a worker id")
	}
	if len(args) > 1 {
		if _, err := fmt.Sscanf(args[1], "%d", &limit); err != nil || limit <= 0 {
			return "", 0, fmt.Errorf("invalid row count %q", args[1])
		}
	}
	return workerID, limit, nil
}

func runJournalPrune(out io.Writer, args []string) error {
	age, workerID, err := pruneArgs(args)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := journal.NewPool(ctx, cfg.JournalDatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	n, err := journal.NewRepository(pool).Prune(ctx, workerID, time.Now().Add(-age))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Pruned %d journaled calls\n", n)
	return nil
}

// pruneArgs parses "<age> [worker]".
func pruneArgs(args []string) (time.Duration, string, error) {
	if len(args) == 0 {
		return 0, "", fmt.Errorf("require an age such as 72h")
	}
	age, err := time.ParseDuration(args[0])
	if err != nil || age <= 0 {
		return 0, "", fmt.Errorf("invalid age %q", args[0])
	}
	workerID := ""
	if len(args) > 1 {
		workerID = args[1]
	}
	return age, workerID, nil
}
