package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trades-marketplace/internal/api"
	"trades-marketplace/internal/app"
	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/common/camunda"
	"trades-marketplace/internal/common/config"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/common/observability"
	"trades-marketplace/internal/realtime"
	"trades-marketplace/pkg/registry"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.String("config", "", "path to a config file (defaults to ./configs/config.yaml)")
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{"service": api.ServiceName})

	shutdownTracing, err := observability.InitTracing(cfg.Tracing, api.ServiceName, cfg.App.Environment)
	if err != nil {
		log.Warn("tracing disabled", map[string]interface{}{"error": err.Error()})
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := app.Connect(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("infrastructure unavailable", zap.Error(err))
	}
	defer infra.Close()

	hub := realtime.NewHub(cfg.Realtime.MaxConnectionsPerUser, cfg.Realtime.SendBuffer, log.WithFields(map[string]interface{}{"component": "realtime-hub"}))
	defer hub.Stop()

	engine := &app.EngineRef{}
	components, err := app.NewComponents(ctx, cfg, infra, engine, hub, log)
	if err != nil {
		zapLog.Fatal("failed to build services", zap.Error(err))
	}

	if err := components.Indexer.EnsureIndices(ctx); err != nil {
		log.Warn("search indices not ready", map[string]interface{}{"error": err.Error()})
	}

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		zapLog.Fatal("activity registry load failed", zap.Error(err))
	}

	var local *camunda.LocalEngine
	if cfg.Camunda.Enabled {
		zeebe, err := app.ConnectZeebe(cfg.Camunda, log)
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		engine.Engine = zeebe
	} else {
		local = camunda.NewLocalEngine(registry.BuiltinProcesses(), registry.NewValidator(reg), log, components.Runners(cfg, log)...)
		engine.Engine = local
		log.Info("no broker configured, running processes in-process", nil)
	}

	go func() {
		if err := components.Broker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("realtime subscriber stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	authn := auth.NewMiddleware(components.Tokens, components.Denylist, log)
	server := api.NewServer(api.Services{
		Users:         components.Users,
		Jobs:          components.Jobs,
		Applications:  components.Applications,
		Messaging:     components.Messaging,
		Payments:      components.Payments,
		Reviews:       components.Reviews,
		Search:        components.Search,
		Notifications: components.Notifications,
		Admin:         components.Admin,
	},
		authn,
		realtime.NewHandler(hub, components.Messaging, cfg.HTTP.CORSOrigins, log),
		map[string]api.Pinger{
			"postgres":      infra.Postgres,
			"redis":         infra.Redis,
			"elasticsearch": infra.Elasticsearch,
		},
		cfg.HTTP,
		log,
	)

	if err := server.Run(ctx); err != nil {
		log.Error("http server failed", map[string]interface{}{"error": err.Error()})
	}

	if local != nil {
		local.Wait()
	}
	log.Info("marketplace api stopped", nil)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
