// Command optiinfra-agent runs one domain agent (cost, performance,
// resource, or application): it registers with the orchestrator,
// heartbeats, serves its domain API, and drives workflow executions
// for its recommendations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/optiinfra/optiinfra/internal/agent"
	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/events"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/memory"
	"github.com/optiinfra/optiinfra/internal/orchestrator"
	"github.com/optiinfra/optiinfra/internal/query"
	"github.com/optiinfra/optiinfra/internal/storage"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
	"github.com/optiinfra/optiinfra/internal/telemetry"
	"github.com/optiinfra/optiinfra/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	agentType := flag.String("type", "", "agent type (cost, performance, resource, application); overrides config")
	flag.Parse()

	if err := run(*configPath, *agentType); err != nil {
		fmt.Fprintf(os.Stderr, "optiinfra-agent: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, agentType string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if agentType != "" {
		cfg.Agent.Type = agentType
	}
	if cfg.Agent.Type == "" {
		return fmt.Errorf("agent type required (set -type or agent.type)")
	}

	logger.Initialize(cfg.Log)
	log := logger.New("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		tracing, err := telemetry.InitTracing(ctx, telemetry.TracingOptions{
			ServiceName: "optiinfra-agent-" + cfg.Agent.Type,
			Endpoint:    cfg.Tracing.Endpoint,
			Insecure:    cfg.Tracing.Insecure,
			SampleRatio: cfg.Tracing.SampleRatio,
			Stdout:      cfg.Tracing.Stdout,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(shutdownCtx); err != nil {
				log.Warn("tracing shutdown failed", logger.Error(err))
			}
		}()
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store := relational.NewStore(db)
	ts := timeseries.NewStore(db)

	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Drain()
	}
	rec := events.NewRecorder(events.NewBus(256), store, nc)

	mem, err := openMemory(ctx, cfg)
	if err != nil {
		return err
	}

	registry := workflow.NewRegistry()
	workflow.RegisterBuiltins(registry)

	approver := orchestrator.NewPeerApprover(store, cfg.Timeouts.Approval)
	appReader := query.NewApplicationReader(ts, cfg.Timeouts.Reader)
	quality := agent.NewQualityProbe(appReader)
	notifier := workflow.NewNotifier(cfg.SMTP)
	engine := workflow.NewEngine(cfg.Workflow, store, registry, approver, quality, notifier, mem, rec)

	var domain agent.Domain
	switch cfg.Agent.Type {
	case "cost":
		domain = agent.NewCostDomain(query.NewCostReader(ts, cfg.Timeouts.Reader), engine, mem)
	case "performance":
		domain = agent.NewPerformanceDomain(query.NewPerformanceReader(ts, cfg.Timeouts.Reader), engine)
	case "resource":
		domain = agent.NewResourceDomain(query.NewResourceReader(ts, cfg.Timeouts.Reader), engine)
	case "application":
		domain = agent.NewApplicationDomain(appReader, engine)
	default:
		return fmt.Errorf("unknown agent type %q", cfg.Agent.Type)
	}

	if err := engine.Resume(ctx, cfg.Agent.Type); err != nil {
		log.Warn("workflow resume failed", logger.Error(err))
	}

	client := agent.NewOrchestratorClient(cfg.Agent.OrchestratorURL)
	runtime := agent.NewRuntime(cfg.Agent, client, []relational.Capability{
		{Name: "analyze_" + cfg.Agent.Type, Version: "1.0.0", Enabled: true},
		{Name: "peer_approval", Version: "1.0.0", Enabled: true},
		{Name: "workflow_execution", Version: "1.0.0", Enabled: true},
	})
	if err := runtime.Start(ctx); err != nil {
		return err
	}

	srv := agent.NewServer(cfg.Agent, domain, engine, runtime, client)
	return srv.Run(ctx)
}

// openMemory wires semantic memory: Qdrant when enabled, the in-process
// store otherwise.
func openMemory(ctx context.Context, cfg *config.Config) (*memory.Memory, error) {
	embed, err := memory.NewEmbedder(cfg.Memory, cfg.Timeouts.Embedding)
	if err != nil {
		return nil, err
	}

	var store memory.VectorStore
	if cfg.Qdrant.Enabled {
		store, err = memory.NewQdrantStore(cfg.Qdrant.Addr)
		if err != nil {
			return nil, err
		}
	} else {
		store = memory.NewLocalStore()
	}
	return memory.New(ctx, store, embed)
}
