// Command conductor runs the agent orchestration service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conductor-ai/conductor/internal/engine"
	"github.com/conductor-ai/conductor/internal/server"
	"github.com/conductor-ai/conductor/pkg/config"
	"github.com/conductor-ai/conductor/pkg/feedback"
	"github.com/conductor-ai/conductor/pkg/generation"
	"github.com/conductor-ai/conductor/pkg/memory"
	"github.com/conductor-ai/conductor/pkg/observability"
	"github.com/conductor-ai/conductor/pkg/reflection"
	"github.com/conductor-ai/conductor/pkg/skill"
)

func main() {
	root := &cobra.Command{
		Use:   "conductor",
		Short: "Agent orchestration service",
	}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		dev        bool
		traces     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, dev, traces)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults apply when omitted)")
	cmd.Flags().BoolVar(&dev, "dev", false, "development mode: console logging, mock generation")
	cmd.Flags().BoolVar(&traces, "traces", false, "export traces to stdout")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func serve(ctx context.Context, cfg *config.Config, dev, traces bool) error {
	if dev {
		cfg.Generation.Provider = "mock"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := buildLogger(dev)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	observability.InitMetrics()
	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		Enabled: traces,
		Pretty:  dev,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background()) //nolint:errcheck

	store, err := buildStore(cfg.Memory)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}

	mem := memory.NewManager(store, cfg.Memory, log)
	defer mem.Close() //nolint:errcheck
	if err := mem.StartEviction(cfg.Memory.EvictionSchedule); err != nil {
		return fmt.Errorf("start eviction: %w", err)
	}

	registry := skill.NewRegistry(log)
	for _, s := range []skill.Skill{skill.SchedulingSkill{}, skill.NoteSkill{}} {
		if err := registry.Register(s); err != nil {
			return fmt.Errorf("register skill: %w", err)
		}
	}

	gen, err := generation.New(cfg.Generation)
	if err != nil {
		return fmt.Errorf("build generator: %w", err)
	}
	defer gen.Close() //nolint:errcheck

	agg := feedback.NewAggregator(cfg.Feedback, log)
	eng, err := engine.New(cfg.Engine, mem, registry, gen, reflection.NewEngine(gen, log), agg, log)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	health := observability.NewHealthChecker()
	health.RegisterCheck(observability.Check{
		Name: "store",
		Probe: func(ctx context.Context) error {
			_, err := store.Get(ctx, "healthcheck")
			if err != nil && !errors.Is(err, memory.ErrKeyNotFound) {
				return err
			}
			return nil
		},
		Critical: true,
	})

	srv := server.New(cfg.Server, eng, agg, registry, health, log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("conductor starting",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Memory.Store),
		zap.String("generation", cfg.Generation.Provider))
	return srv.ListenAndServe(ctx)
}

func buildLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func buildStore(cfg config.MemoryConfig) (memory.Store, error) {
	switch cfg.Store {
	case "redis":
		return memory.NewRedisStore(memory.RedisConfig{
			Addr:   cfg.RedisAddr,
			DB:     cfg.RedisDB,
			Prefix: cfg.KeyPrefix,
		})
	case "memory":
		return memory.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported memory store: %s", cfg.Store)
	}
}
