package main

import (
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/dagrun/dagrun/internal/bus"
	"github.com/dagrun/dagrun/internal/config"
	"github.com/dagrun/dagrun/internal/executor"
	"github.com/dagrun/dagrun/internal/model"
	"github.com/dagrun/dagrun/internal/model/anthropic"
	"github.com/dagrun/dagrun/internal/model/bedrock"
	"github.com/dagrun/dagrun/internal/model/openai"
	"github.com/dagrun/dagrun/internal/planner"
	"github.com/dagrun/dagrun/internal/repository"
	"github.com/dagrun/dagrun/internal/repository/memory"
	"github.com/dagrun/dagrun/internal/repository/sqlstore"
	"github.com/dagrun/dagrun/internal/scheduler"
	"github.com/dagrun/dagrun/internal/service"
	"github.com/dagrun/dagrun/internal/telemetry"
	"github.com/dagrun/dagrun/internal/tools"
)

// app bundles the wired subsystems a subcommand needs, plus a close func for
// whatever repository connection was opened.
type app struct {
	repo    repository.Repository
	chat    model.Client
	closer  io.Closer
	service *service.Service
	sched   *scheduler.Scheduler
	bus     *bus.Bus
	logger  telemetry.Logger
}

func buildRepository(ctx context.Context, cfg config.Config) (repository.Repository, io.Closer, error) {
	switch cfg.DBDriver {
	case "memory", "":
		return memory.New(), nil, nil
	case "sqlite", "postgres":
		store, err := sqlstore.Open(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("dagrunctl: open %s store: %w", cfg.DBDriver, err)
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("dagrunctl: unknown db-driver %q", cfg.DBDriver)
	}
}

func buildChatClient(ctx context.Context, cfg config.Config) (model.Client, error) {
	switch cfg.ModelProvider {
	case "anthropic":
		return anthropic.NewFromAPIKey(cfg.ModelAPIKey, cfg.ModelName), nil
	case "openai":
		return openai.NewFromAPIKey(cfg.ModelAPIKey, cfg.ModelName), nil
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("dagrunctl: load aws config: %w", err)
		}
		runtime := bedrockruntime.NewFromConfig(awsCfg)
		return bedrock.New(runtime, bedrock.Options{DefaultModel: cfg.ModelName}), nil
	default:
		return nil, fmt.Errorf("dagrunctl: unknown model-provider %q", cfg.ModelProvider)
	}
}

// buildApp wires every subsystem the Planner/Executor/Scheduler trio needs
// behind a Service, following the Repository -> Chat -> ToolRegistry ->
// Planner/Executor -> Scheduler -> Service dependency order.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	repo, closer, err := buildRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	chat, err := buildChatClient(ctx, cfg)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}

	registry := tools.NewRegistry()
	registerDemoTools(registry)
	registry.Seal()

	eventBus := bus.New(logger)

	var plannerOpts []planner.Option
	if cfg.MaxPlannerAttempts > 0 {
		plannerOpts = append(plannerOpts, planner.WithMaxAttempts(cfg.MaxPlannerAttempts))
	}
	plannerOpts = append(plannerOpts, planner.WithMetrics(metrics))
	p := planner.New(chat, registry, logger, plannerOpts...)

	ex := executor.New(repo, registry, chat, eventBus, logger, executor.WithMetrics(metrics))

	svc := service.New(p, ex, repo, nil, eventBus, logger)
	sched := scheduler.New(repo, service.RunnerFor(svc), logger, scheduler.WithOverlapGuard(cfg.SchedulerOverlapGuard))
	svc.SetScheduler(sched)

	return &app{repo: repo, chat: chat, closer: closer, service: svc, sched: sched, bus: eventBus, logger: logger}, nil
}

func (a *app) Close() {
	if a.closer != nil {
		_ = a.closer.Close()
	}
}
