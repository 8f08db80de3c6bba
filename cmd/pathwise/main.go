// Command pathwise runs the process orchestrator: an event loop over
// declarative process graphs with governed, traced node execution.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pathwise-io/pathwise/pkg/config"
	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/eval"
	"github.com/pathwise-io/pathwise/pkg/executor"
	"github.com/pathwise-io/pathwise/pkg/expr"
	"github.com/pathwise-io/pathwise/pkg/fixtures"
	"github.com/pathwise-io/pathwise/pkg/governance"
	"github.com/pathwise-io/pathwise/pkg/graph"
	"github.com/pathwise-io/pathwise/pkg/navigation"
	"github.com/pathwise-io/pathwise/pkg/observability"
	"github.com/pathwise-io/pathwise/pkg/orchestrator"
	"github.com/pathwise-io/pathwise/pkg/runtime"
	"github.com/pathwise-io/pathwise/pkg/store"
	"github.com/pathwise-io/pathwise/pkg/trace"

	_ "github.com/lib/pq" // Postgres driver
)

const version = "0.3.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. It exists separately from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}
	switch args[1] {
	case "server", "serve":
		return runServer(stderr)
	case "validate":
		return runValidate(args[2:], stdout, stderr)
	case "demo":
		return runDemo(stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "pathwise %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "pathwise %s — policy-enforcing process orchestrator\n", version)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  pathwise <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	printCommand(w, "server", "Run the orchestrator event loop (default)")
	printCommand(w, "validate", "Validate a process graph file (JSON or YAML)")
	printCommand(w, "demo", "Run the onboarding demo flow in memory")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration comes from PATHWISE_* environment variables; set")
	fmt.Fprintln(w, "PATHWISE_PROFILE to overlay a YAML profile on top of them.")
	fmt.Fprintln(w, "")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: pathwise validate <graph-file>")
		return 2
	}
	evaluator, err := expr.NewCELEvaluator()
	if err != nil {
		fmt.Fprintf(stderr, "Error: init expression evaluator: %v\n", err)
		return 1
	}
	loader, err := graph.NewLoader(evaluator)
	if err != nil {
		fmt.Fprintf(stderr, "Error: init loader: %v\n", err)
		return 1
	}
	g, err := loader.LoadFile(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Invalid: %v\n", err)
		return 1
	}
	def := g.Def()
	fmt.Fprintf(stdout, "Valid: %s@%s (%d nodes, %d edges)\n",
		def.ID, def.Version, len(def.Nodes), len(def.Edges))
	return 0
}

// services holds everything runServer and runDemo wire up.
type services struct {
	cfg      *config.Config
	logger   *slog.Logger
	proc     *orchestrator.ProcessOrchestrator
	traces   store.TraceRepository
	graphs   store.GraphRepository
	tracer   *trace.Tracer
	provider *observability.Provider
	db       *sql.DB
	rdb      *redis.Client
	taskSink *executor.MemoryTaskSink
}

func (s *services) close(ctx context.Context) {
	if s.provider != nil {
		if err := s.provider.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// launcherAdapter lets COMPOSITE actions start child instances through the
// process orchestrator. The pointer target is filled in after construction.
type launcherAdapter struct {
	proc **orchestrator.ProcessOrchestrator
}

func (l launcherAdapter) Launch(ctx context.Context, graphID, correlationID string, initial contracts.ExecutionContext) (string, error) {
	instance, _, err := (*l.proc).StartProcess(ctx, graphID, "", correlationID, initial)
	if err != nil {
		return "", err
	}
	return instance.ID, nil
}

//nolint:gocognit // wiring is linear
func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	s := &services{cfg: cfg, logger: logger}

	// Persistence. Memory is the lite mode; PATHWISE_DATABASE_URL switches everything
	// to Postgres. A SQLite path or Redis address overrides just the trace or
	// idempotency store.
	var (
		graphs    store.GraphRepository
		instances store.InstanceRepository
		traces    store.TraceRepository
		keys      store.IdempotencyStore
	)
	switch cfg.StoreBackend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if _, err := db.ExecContext(ctx, store.PostgresSchema); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
		s.db = db
		graphs = store.NewPostgresGraphRepository(db)
		instances = store.NewPostgresInstanceRepository(db)
		traces = store.NewPostgresTraceRepository(db)
		keys = store.NewPostgresIdempotencyStore(db)
		logger.Info("postgres store ready")
	default:
		graphs = store.NewMemoryGraphRepository()
		instances = store.NewMemoryInstanceRepository()
		traces = store.NewMemoryTraceRepository()
		keys = store.NewMemoryIdempotencyStore()
		logger.Info("in-memory store ready (set PATHWISE_DATABASE_URL for persistence)")
	}
	if cfg.SQLiteTrace != "" {
		st, err := store.OpenSQLiteTraceRepository(cfg.SQLiteTrace)
		if err != nil {
			return nil, fmt.Errorf("open sqlite trace store: %w", err)
		}
		traces = st
		logger.Info("sqlite trace store ready", "path", cfg.SQLiteTrace)
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		s.rdb = rdb
		keys = store.NewRedisIdempotencyStore(rdb, cfg.RedisKeyPrefix)
		logger.Info("redis idempotency store ready", "addr", cfg.RedisAddr)
	}
	s.graphs = graphs
	s.traces = traces

	evaluator, err := expr.NewCELEvaluator()
	if err != nil {
		return nil, fmt.Errorf("init expression evaluator: %w", err)
	}

	var principal governance.PrincipalResolver = governance.ClientPrincipalResolver{}
	if cfg.JWTSecret != "" {
		principal = governance.NewJWTPrincipalResolver([]byte(cfg.JWTSecret))
	}
	governor := governance.NewGovernor(keys, evaluator, principal, governance.Config{
		SkipIdempotency:   cfg.SkipIdempotency,
		SkipAuthorization: cfg.SkipAuthorization,
		SkipPolicyGate:    cfg.SkipPolicyGate,
		IdempotencyTTL:    cfg.IdempotencyTTL,
	}, logger)

	// Executors. The composite launcher points back at the process
	// orchestrator once it exists.
	registry := executor.NewRegistry()
	system := executor.NewSystemInvocationExecutor(logger)
	fixtures.BindHandlers(system)
	registry.RegisterType(contracts.ActionSystemInvocation, system)
	s.taskSink = executor.NewMemoryTaskSink()
	pending := executor.NewPendingTaskExecutor(s.taskSink, logger)
	registry.RegisterType(contracts.ActionHumanTask, pending)
	registry.RegisterType(contracts.ActionAgentAssisted, pending)
	registry.RegisterType(contracts.ActionComposite, executor.NewCompositeExecutor(launcherAdapter{proc: &s.proc}, logger))

	s.tracer = trace.NewTracer(traces, logger)

	// The inner orchestrator emits follow-up events into the process queue;
	// the sink indirection breaks the construction cycle.
	sink := orchestrator.EventSinkFunc(func(ctx context.Context, event contracts.Event) error {
		return s.proc.Sink().Emit(ctx, event)
	})
	inner := orchestrator.NewInstanceOrchestrator(
		graphs, instances,
		runtime.NewAssembler(nil),
		eval.NewEligibilityEvaluator(evaluator),
		navigation.NewDecider(cfg.MaxParallelPerStep),
		governor, registry, s.tracer, sink,
		orchestrator.InstanceConfig{
			MaxRetries:        cfg.MaxRetries,
			EscalationTimeout: cfg.EscalationTimeout,
		},
		logger,
	)

	s.proc = orchestrator.NewProcessOrchestrator(inner, instances, s.tracer, orchestrator.ProcessConfig{
		QueueSize:     cfg.QueueSize,
		Overflow:      orchestrator.OverflowPolicy(cfg.OverflowPolicy),
		SweepInterval: cfg.SweepInterval,
		RateLimit:     cfg.EventRateLimit,
		RateBurst:     cfg.EventRateBurst,
		ShutdownGrace: cfg.ShutdownGrace,
	}, logger)

	if cfg.TelemetryEnabled {
		provider, err := observability.New(ctx, &observability.Config{
			ServiceName:    "pathwise",
			ServiceVersion: version,
			OTLPEndpoint:   cfg.OTLPEndpoint,
			SampleRate:     cfg.SampleRate,
			Enabled:        true,
			Insecure:       true,
		})
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		s.provider = provider
		s.proc.WithObservability(provider)
	}

	return s, nil
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	cfg := config.Load()
	if profile := os.Getenv("PATHWISE_PROFILE"); profile != "" {
		if err := cfg.ApplyProfile(profile); err != nil {
			return nil, fmt.Errorf("apply profile %s: %w", profile, err)
		}
		logger.Info("profile applied", "path", profile)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func runServer(stderr io.Writer) int {
	ctx := context.Background()
	cfg, err := loadConfig(slog.Default())
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	s, err := buildServices(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Startup error: %v\n", err)
		return 1
	}
	defer s.close(ctx)

	// Seed the bundled onboarding graph when the catalog is empty so a fresh
	// install has something to run.
	if defs, err := s.graphs.List(ctx); err == nil && len(defs) == 0 {
		def := fixtures.OnboardingGraph()
		if err := s.graphs.Store(ctx, &def); err != nil {
			logger.Warn("seed graph store failed", "error", err)
		} else {
			logger.Info("seeded graph", "graph_id", def.ID, "version", def.Version)
		}
	}

	if err := s.proc.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Start error: %v\n", err)
		return 1
	}
	go s.tracer.PruneLoop(ctx, cfg.TracePruneInterval, cfg.TraceRetention)

	logger.Info("pathwise ready", "version", version, "store", cfg.StoreBackend)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")
	if err := s.proc.Stop(); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return 0
}

// runDemo drives the bundled onboarding flow end to end against the in-memory
// store and prints the decision trace.
func runDemo(stdout, stderr io.Writer) int {
	ctx := context.Background()
	logger := newLogger("warn")
	cfg := config.Load()
	cfg.StoreBackend = "memory"
	cfg.SQLiteTrace = ""
	cfg.RedisAddr = ""
	cfg.TelemetryEnabled = false

	s, err := buildServices(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Startup error: %v\n", err)
		return 1
	}
	defer s.close(ctx)

	def := fixtures.OnboardingGraph()
	if err := s.graphs.Store(ctx, &def); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := s.proc.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = s.proc.Stop() }()

	instance, _, err := s.proc.StartProcess(ctx, def.ID, "", "demo-1", contracts.ExecutionContext{
		Client: map[string]any{
			"tenant_id":          "demo",
			"principal":          "demo-operator",
			"permissions":        []any{"onboarding:review"},
			"reviewer_pool_size": 2,
		},
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Started %s on %s@%s\n", instance.ID, def.ID, def.Version)

	// Human and agent tasks park as pending work items; the demo plays the
	// worker and completes each one as it shows up.
	taskResults := map[string]map[string]any{
		fixtures.NodeCollectInfo:       {"employee_id": "E-1001", "name": "Jordan Fisher"},
		fixtures.NodeAnalyzeBackground: {"assessment": "routine hire, no findings"},
	}
	answered := map[string]bool{}

	deadline := time.Now().Add(10 * time.Second)
	for {
		for _, item := range s.taskSink.Items() {
			if answered[item.NodeID] {
				continue
			}
			answered[item.NodeID] = true
			fmt.Fprintf(stdout, "Completing pending task %s\n", item.NodeID)
			completed := contracts.NewNodeCompleted(instance.ID, item.NodeID, taskResults[item.NodeID], 0)
			if err := s.proc.Signal(ctx, completed); err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return 1
			}
		}

		current, err := s.proc.GetStatus(ctx, instance.ID)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if current.IsTerminal() {
			fmt.Fprintf(stdout, "Instance finished: %s\n", current.Status)
			if last, ok := s.proc.LastResult(instance.ID); ok {
				fmt.Fprintf(stdout, "Last cycle: %s (trace %s)\n", last.Status, last.TraceID)
			}
			break
		}
		if time.Now().After(deadline) {
			fmt.Fprintf(stderr, "Timed out waiting for completion (status %s)\n", current.Status)
			return 1
		}
		time.Sleep(50 * time.Millisecond)
	}

	records, err := s.traces.ListByInstance(ctx, instance.ID, 100)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "\nDecision trace (%d records):\n", len(records))
	for _, r := range records {
		fmt.Fprintf(stdout, "  %s  %-12s %-10s %s\n",
			r.Timestamp.Format(time.RFC3339), r.Type, r.Outcome, r.NodeID)
	}
	return 0
}
