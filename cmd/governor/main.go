// Command governor runs the governance kernel as a standalone process,
// speaking the tool protocol over stdio or HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/upb/agent-governor/config"
	"github.com/upb/agent-governor/internal/eventlog"
	"github.com/upb/agent-governor/internal/kernel"
	"github.com/upb/agent-governor/server"
)

const governanceDirName = ".governor"

func main() {
	transport := flag.String("transport", "stdio", "transport to serve: stdio or http")
	port := flag.Int("port", 0, "http port (overrides GOVERNOR_PORT)")
	root := flag.String("root", "", "project root (overrides GOVERNOR_PROJECT_ROOT)")
	flag.Parse()

	if err := run(*transport, *port, *root); err != nil {
		fmt.Fprintf(os.Stderr, "governor: %v\n", err)
		os.Exit(1)
	}
}

func run(transport string, port int, root string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if root != "" {
		cfg.Governance.ProjectRoot = root
	}

	logger, err := buildLogger(cfg.LogLevel, transport)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	governanceDir := filepath.Join(cfg.Governance.ProjectRoot, governanceDirName)

	store, err := openStore(ctx, cfg, governanceDir)
	if err != nil {
		return err
	}
	defer store.Close()

	k, err := buildKernel(cfg, governanceDir, store, logger)
	if err != nil {
		return err
	}

	registry := server.NewRegistry(k, logger)
	logger.Info("governor starting",
		zap.String("project", cfg.Governance.ProjectID),
		zap.String("transport", transport),
		zap.String("stage", k.State().Stage),
	)

	switch transport {
	case "stdio":
		return server.NewStdioServer(registry, logger, os.Stdin, os.Stdout).Serve(ctx)
	case "http":
		return server.NewHTTPServer(registry, cfg, logger).ListenAndServe(ctx)
	default:
		return fmt.Errorf("unknown transport %q", transport)
	}
}

// buildLogger configures zap at the requested level. On the stdio
// transport logs go to stderr only, since stdout carries the protocol.
func buildLogger(level, transport string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	if transport == "http" {
		zcfg.OutputPaths = []string{"stdout"}
	}
	return zcfg.Build()
}

func openStore(ctx context.Context, cfg *config.Config, governanceDir string) (eventlog.Store, error) {
	switch cfg.EventLog.Backend {
	case "memory":
		return eventlog.NewMemoryStore(), nil
	case "sqlite":
		path := cfg.EventLog.SQLitePath
		if path == "" {
			if err := os.MkdirAll(governanceDir, 0o755); err != nil {
				return nil, fmt.Errorf("creating governance dir: %w", err)
			}
			path = filepath.Join(governanceDir, "events.db")
		}
		return eventlog.NewSQLiteStore(ctx, path)
	case "postgres":
		return eventlog.NewPostgresStore(ctx, cfg.EventLog.PostgresDSN)
	}
	return nil, fmt.Errorf("unknown event log backend %q", cfg.EventLog.Backend)
}

func buildKernel(cfg *config.Config, governanceDir string, store eventlog.Store, logger *zap.Logger) (*kernel.Kernel, error) {
	opts := kernel.Options{
		ProjectID:     cfg.Governance.ProjectID,
		Dir:           governanceDir,
		Store:         store,
		Logger:        logger,
		AgentVersion:  cfg.Governance.AgentVersion,
		PolicyVersion: cfg.Governance.PolicyVersion,
	}

	if cfg.Governance.StageFile != "" {
		stages, err := kernel.LoadStages(cfg.Governance.StageFile)
		if err != nil {
			return nil, err
		}
		opts.Stages = stages
	}
	if cfg.Governance.TriggerFile != "" {
		triggers, err := kernel.LoadTriggers(cfg.Governance.TriggerFile)
		if err != nil {
			return nil, err
		}
		opts.Triggers = triggers
	}
	if cfg.Governance.PolicyDir != "" {
		policies, err := kernel.LoadPolicies(cfg.Governance.PolicyDir)
		if err != nil {
			return nil, err
		}
		opts.Policies = policies
	}

	k, err := kernel.New(opts)
	if err != nil {
		return nil, fmt.Errorf("building kernel: %w", err)
	}
	return k, nil
}
