// Relay Runtime — исполняет сохранённые графы.
//
// Runtime:
//   - Читает графы из Postgres и держит по одному flow на каждый
//   - Получает команды развёртывания из RabbitMQ и применяет diff
//   - Публикует события журнала движка в exchange relay.events
//   - Отдаёт /healthz и /metrics
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Relay/internal/flow"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/nodes"
	"github.com/shaiso/Relay/internal/orchestrator"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting relay-runtime")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// Журнал движка
	engineLog := telemetry.NewLog()
	engineLog.AddHandler(telemetry.NewSlogHandler(logger), telemetry.HandlerOptions{Level: telemetry.EngineLogLevel()})
	engineLog.AddHandler(telemetry.NewMetricsHandler(metrics), telemetry.HandlerOptions{Level: telemetry.LevelTrace, Metrics: true})

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	flowRepo := repo.NewFlowRepo(pool)
	if err := flowRepo.EnsureSchema(ctx); err != nil {
		logger.Error("failed to prepare schema", "error", err)
		os.Exit(1)
	}

	// RabbitMQ
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		events := mq.NewEventHandler(mq.NewPublisher(mqConn, logger), logger, 0)
		engineLog.AddHandler(events, telemetry.HandlerOptions{Level: telemetry.LevelInfo, Audit: true})
		go events.Run(ctx)
	}

	rt := flow.Init(flow.SettingsFromEnv(), flow.Deps{
		Registry: nodes.DefaultRegistry(),
		Sink:     engineLog,
		Metrics:  metrics,
	})

	orch := orchestrator.New(orchestrator.Config{
		Runtime: rt,
		Store:   flowRepo,
		Conn:    mqConn,
		Metrics: metrics,
		Logger:  logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz (состояние flow) + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := http.StatusOK
		if orch.IsStopped() {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"flows": orch.Flows()})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	port := ":8090"
	if v := os.Getenv("RELAY_PORT"); v != "" {
		port = ":" + v
	}
	server := &http.Server{Addr: port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("listening", "addr", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()

	orch.Stop(stopCtx)
	server.Shutdown(stopCtx)
	logger.Info("relay-runtime stopped")
}
