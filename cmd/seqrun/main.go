package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seqrun/seqrun/internal/engine"
	"github.com/seqrun/seqrun/internal/logging"
	"github.com/seqrun/seqrun/internal/sandbox"
	"github.com/seqrun/seqrun/internal/scheduler"
	"github.com/seqrun/seqrun/internal/store"
	"github.com/seqrun/seqrun/internal/tool"
	"github.com/seqrun/seqrun/internal/validation"
	"github.com/seqrun/seqrun/pkg/mcp"
	"github.com/seqrun/seqrun/pkg/schema"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if len(args) == 0 {
		if cfg.MCP {
			return serveMCP(cfg, logger)
		}
		return fmt.Errorf("usage: seqrun <run|serve|schedule|tools> [args]")
	}

	switch args[0] {
	case "run":
		if len(args) < 2 {
			return fmt.Errorf("usage: seqrun run <workflow.json> [input.json]")
		}
		inputPath := ""
		if len(args) > 2 {
			inputPath = args[2]
		}
		return runWorkflow(cfg, logger, args[1], inputPath)
	case "serve":
		return serveMCP(cfg, logger)
	case "schedule":
		if len(args) < 2 {
			return fmt.Errorf("usage: seqrun schedule <jobs.json>")
		}
		return runScheduler(cfg, logger, args[1])
	case "tools":
		return listTools(cfg)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// buildEngine wires the full dependency graph: sandbox, registry,
// dispatcher, persistence, runner.
func buildEngine(ctx context.Context, cfg Config, logger *slog.Logger) (*engine.Runner, store.Store, *tool.Registry, error) {
	executor, err := sandbox.NewExecutor(sandbox.Config{
		WorkDir:       cfg.WorkDir,
		MaxOutputSize: cfg.MaxOutputSize,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	registry := tool.NewRegistry()
	if err := tool.RegisterBuiltins(registry, executor); err != nil {
		return nil, nil, nil, err
	}

	st, err := store.NewLibSQLStore(ctx, "file:"+cfg.DBPath)
	if err != nil {
		return nil, nil, nil, err
	}

	runner := engine.NewRunner(engine.RunnerConfig{
		Dispatcher:         tool.NewDispatcher(registry, nil, logger),
		Sink:               st,
		Logger:             logger,
		DefaultStepTimeout: msToDuration(cfg.StepTimeoutMS),
	})
	return runner, st, registry, nil
}

func runWorkflow(cfg Config, logger *slog.Logger, workflowPath, inputPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	raw, err := os.ReadFile(workflowPath)
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}

	sv, err := validation.NewSchemaValidator()
	if err != nil {
		return err
	}
	if err := sv.ValidateRaw(raw); err != nil {
		return err
	}

	var wf schema.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return fmt.Errorf("decode workflow: %w", err)
	}

	var input map[string]any
	if inputPath != "" {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return fmt.Errorf("decode input: %w", err)
		}
	}

	runner, st, _, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SaveWorkflow(ctx, &wf); err != nil {
		logger.Warn("failed to record workflow definition", slog.String("error", err.Error()))
	}

	run, runErr := runner.Execute(ctx, &wf, input)
	if run == nil {
		return runErr
	}

	out, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if run.Status == schema.RunStatusFailed {
		os.Exit(1)
	}
	return nil
}

func serveMCP(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, st, registry, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := mcp.NewServer(mcp.ServerDeps{
		Runner:   runner,
		Store:    st,
		Registry: registry,
		Logger:   logger,
	})
	logger.Info("mcp server listening on stdio")
	return srv.Serve(ctx)
}

// scheduledJob is one entry in a jobs file: a cron expression plus an
// inline workflow definition and optional input.
type scheduledJob struct {
	ID       string          `json:"id"`
	Spec     string          `json:"spec"`
	Workflow schema.Workflow `json:"workflow"`
	Input    map[string]any  `json:"input,omitempty"`
}

func runScheduler(cfg Config, logger *slog.Logger, jobsPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	data, err := os.ReadFile(jobsPath)
	if err != nil {
		return fmt.Errorf("read jobs file: %w", err)
	}
	var jobs []scheduledJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("decode jobs file: %w", err)
	}
	if len(jobs) == 0 {
		return fmt.Errorf("jobs file %s defines no jobs", jobsPath)
	}

	runner, st, _, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	sched := scheduler.NewScheduler(runner, 0, logger)
	for i := range jobs {
		job := &jobs[i]
		if err := sched.AddJob(&scheduler.Job{
			ID:       job.ID,
			Workflow: &job.Workflow,
			Input:    job.Input,
			Spec:     job.Spec,
		}); err != nil {
			return err
		}
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	sched.Stop()
	return nil
}

func listTools(cfg Config) error {
	executor, err := sandbox.NewExecutor(sandbox.Config{WorkDir: cfg.WorkDir})
	if err != nil {
		return err
	}
	registry := tool.NewRegistry()
	if err := tool.RegisterBuiltins(registry, executor); err != nil {
		return err
	}
	for _, info := range registry.List() {
		fmt.Printf("%-16s %s\n", info.Name, info.Description)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func msToDuration(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
