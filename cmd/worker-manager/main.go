// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trades-marketplace/internal/app"
	"trades-marketplace/internal/common/camunda"
	"trades-marketplace/internal/common/config"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/common/observability"
	"trades-marketplace/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.String("config", "", "path to a config file (defaults to ./configs/config.yaml)")
	metricsAddr := pflag.String("metrics-address", ":8081", "address of the health and metrics server")
	pflag.Parse()

	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{"service": "worker-manager"})

	zapLog.Info("Starting worker manager...")

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	shutdownTracing, err := observability.InitTracing(cfg.Tracing, "worker-manager", cfg.App.Environment)
	if err != nil {
		log.Warn("tracing disabled", map[string]interface{}{"error": err.Error()})
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	obs := observability.New("worker-manager")
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init Zeebe Client with retry ---
	zeebe, err := app.ConnectZeebe(cfg.Camunda, log)
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zeebeClient := zeebe.GetClient()

	// --- Init PostgreSQL, Redis and Elasticsearch with retry ---
	infra, err := app.Connect(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("infrastructure unavailable", zap.Error(err))
	}
	defer infra.Close()

	components, err := app.NewComponents(ctx, cfg, infra, zeebe, nil, log)
	if err != nil {
		zapLog.Fatal("failed to build services", zap.Error(err))
	}

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		zapLog.Fatal("activity registry load failed", zap.Error(err))
	}
	validator := registry.NewValidator(reg)

	var workers []*camunda.CamundaWorker
	register := func(runner camunda.Runner) {
		if !config.IsWorkerEnabled(cfg, runner.TaskType()) {
			log.Info("worker disabled", map[string]interface{}{"taskType": runner.TaskType()})
			return
		}
		workers = append(workers, startWorker(zeebeClient, runner, config.GetWorkerConfig(cfg, runner.TaskType()), validator, obs, log))
	}

	// --- Register workers ---
	for _, runner := range components.Runners(cfg, log) {
		register(runner)
	}
	log.Info("workers registered", map[string]interface{}{"count": len(workers)})

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := zeebe.HealthCheck(checkCtx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "not_ready")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", *metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping metrics server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func startWorker(client zbc.Client, runner camunda.Runner, wcfg config.WorkerConfig, validator *registry.Validator, obs *observability.Observability, log logger.Logger) *camunda.CamundaWorker {
	timeout := 30 * time.Second
	if wcfg.Timeout > 0 {
		timeout = config.GetDuration(wcfg.Timeout)
	}
	maxJobsActive := wcfg.MaxJobsActive
	if maxJobsActive <= 0 {
		maxJobsActive = 5
	}

	handler := camunda.NewJobHandler(runner, validator, obs, timeout, log)
	w := camunda.NewWorker(client, runner.TaskType(), maxJobsActive, handler, log)
	w.Start()
	return w
}

func writeStatus(w http.ResponseWriter, status int, state string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": state,
		"time":   time.Now().Format(time.RFC3339),
	})
}
