// Command optiinfra-server runs the orchestrator: the collection
// scheduler, the agent registry, the dashboard API, and the event
// stream, all against the shared PostgreSQL cluster.
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

	"github.com/optiinfra/optiinfra/internal/cache"
	"github.com/optiinfra/optiinfra/internal/collector"
	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/credentials"
	"github.com/optiinfra/optiinfra/internal/events"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/orchestrator"
	"github.com/optiinfra/optiinfra/internal/providers"
	"github.com/optiinfra/optiinfra/internal/query"
	"github.com/optiinfra/optiinfra/internal/storage"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
	"github.com/optiinfra/optiinfra/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "optiinfra-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		return err
	}
	defer cfgMgr.Stop()
	cfg := cfgMgr.Get()

	logger.Initialize(cfg.Log)
	log := logger.New("main")
	cfgMgr.OnChange(func(*config.Config) {
		log.Warn("configuration file changed; listener, database, and scheduler settings apply on restart")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		tracing, err := telemetry.InitTracing(ctx, telemetry.TracingOptions{
			ServiceName: "optiinfra-server",
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

	if err := storage.Migrate(db.DB); err != nil {
		return err
	}

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

	registry := providers.NewRegistry()

	masterKey, err := credentials.LoadMasterKey(cfg)
	if err != nil {
		return err
	}
	enc, err := credentials.NewEncryptor(masterKey)
	if err != nil {
		return err
	}
	creds := credentials.NewService(store, enc, registry, rec, cfg.Credentials.CacheTTL)

	writer := collector.NewWriter(ts)
	scheduler := collector.NewScheduler(cfg.Scheduler, cfg.Timeouts, creds, registry, writer, store, rec)
	janitor := collector.NewJanitor(cfg.Scheduler, ts)

	readers := orchestrator.Readers{
		Cost:        query.NewCostReader(ts, cfg.Timeouts.Reader),
		Performance: query.NewPerformanceReader(ts, cfg.Timeouts.Reader),
		Resource:    query.NewResourceReader(ts, cfg.Timeouts.Reader),
		Application: query.NewApplicationReader(ts, cfg.Timeouts.Reader),
	}

	var redis *cache.Redis
	if cfg.Redis.Enabled {
		redis, err = cache.NewRedis(ctx, cfg.Redis, "orchestrator")
		if err != nil {
			log.Warn("redis unavailable, dashboard cache disabled", logger.Error(err))
		} else {
			defer redis.Close()
		}
	}

	go scheduler.Run(ctx)
	go janitor.Run(ctx)

	srv := orchestrator.New(cfg, store, creds, scheduler, readers, redis, rec)
	return srv.Run(ctx)
}
