package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/flow"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 30 * time.Second

	// GlobalID — ID сохранённого графа с общими config-узлами и шаблонами.
	GlobalID = "global"
)

// Store — источник сохранённых графов.
type Store interface {
	Get(ctx context.Context, id string) (*repo.FlowRecord, error)
	List(ctx context.Context) ([]repo.FlowRecord, error)
}

// Orchestrator держит по одному Flow на каждый сохранённый граф и
// применяет изменения инкрементально.
//
// Orchestrator:
//   - Получает команды развёртывания из очереди RabbitMQ (event-driven)
//   - Периодически сверяет ревизии графов в БД (polling fallback)
//   - Для изменённого графа вычисляет diff и перезапускает только затронутые узлы
//   - Останавливает flow, удалённые или выключенные в БД
type Orchestrator struct {
	rt      *flow.Runtime
	store   Store
	conn    *mq.Connection
	metrics *telemetry.Metrics

	// opMu сериализует развёртывания: команда из очереди и poll
	// не применяются одновременно.
	opMu sync.Mutex

	mu     sync.RWMutex
	global *deployment
	flows  map[string]*deployment

	pollInterval time.Duration

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Runtime — движок, которым создаются flow.
	Runtime *flow.Runtime

	// Store — репозиторий графов.
	Store Store

	// Conn — соединение с RabbitMQ. nil — без consumer команд, только polling.
	Conn *mq.Connection

	// Metrics — метрики (может быть nil).
	Metrics *telemetry.Metrics

	// PollInterval — интервал сверки с БД (default: 30s).
	PollInterval time.Duration

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rt := cfg.Runtime
	if rt == nil {
		rt = flow.Init(flow.DefaultSettings(), flow.Deps{Metrics: cfg.Metrics})
	}

	return &Orchestrator{
		rt:           rt,
		store:        cfg.Store,
		conn:         cfg.Conn,
		metrics:      cfg.Metrics,
		flows:        make(map[string]*deployment),
		pollInterval: pollInterval,
		logger:       logger.With("component", "orchestrator"),
	}
}

// Start разворачивает все графы из Store и запускает фоновые циклы:
// consumer команд развёртывания (если есть соединение) и polling.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logger.Info("starting orchestrator", "poll_interval", o.pollInterval)

	if err := o.Sync(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	if o.conn != nil {
		consumer := mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:   mq.QueueDeployCommands,
			Handler: o.handleDeploy,
		})
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("deploy consumer error", "error", err)
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started", "flows", o.FlowCount())
	return nil
}

// Stop останавливает фоновые циклы и все flow: сначала обычные,
// затем глобальный, от которого они зависят.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	o.wg.Wait()

	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	flows := o.flows
	global := o.global
	o.flows = make(map[string]*deployment)
	o.global = nil
	o.stopped = true
	o.mu.Unlock()

	for _, id := range domain.SortedKeys(flows) {
		flows[id].flow.Stop(ctx, nil, nil)
	}
	if global != nil {
		global.flow.Stop(ctx, nil, nil)
	}

	o.logger.Info("orchestrator stopped", "flows", len(flows))
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Sync(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error("sync failed", "error", err)
			}
		}
	}
}
