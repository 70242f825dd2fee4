package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/repo"
)

// FlowStore — операции с сохранёнными графами, нужные группе flow.
type FlowStore interface {
	List(ctx context.Context) ([]repo.FlowRecord, error)
	Get(ctx context.Context, id string) (*repo.FlowRecord, error)
	Save(ctx context.Context, def *domain.GraphDefinition) (*repo.FlowRecord, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}

// Notifier отправляет команду развёртывания в relay-runtime.
type Notifier interface {
	PublishDeploy(ctx context.Context, cmd mq.DeployPayload) error
}

// Backend — хранилище графов и (необязательный) канал команд.
type Backend struct {
	Store    FlowStore
	Notifier Notifier

	closers []func()
}

// OpenBackend подключается к Postgres (RELAY_DB_URL) и RabbitMQ
// (RABBITMQ_URL). Без брокера Backend работает, но Notifier == nil.
func OpenBackend(ctx context.Context, logger *slog.Logger) (*Backend, error) {
	pool, err := repo.NewPool(ctx)
	if err != nil {
		return nil, err
	}
	flows := repo.NewFlowRepo(pool)
	if err := flows.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	b := &Backend{Store: flows}
	b.closers = append(b.closers, pool.Close)

	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		url = mq.DefaultURL()
	}
	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		logger.Warn("broker unavailable, deploy commands disabled", "error", err)
		return b, nil
	}
	b.Notifier = mq.NewPublisher(conn, logger)
	b.closers = append(b.closers, func() { conn.Close() })
	return b, nil
}

// Close освобождает соединения в обратном порядке.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// notify публикует команду развёртывания. Ошибка брокера не фатальна:
// relay-runtime подхватит ревизию при следующем poll.
func (b *Backend) notify(ctx context.Context, out *Output, cmd mq.DeployPayload) {
	if b.Notifier == nil {
		out.Warn("broker unavailable, runtime will pick up the change on next poll")
		return
	}
	if err := b.Notifier.PublishDeploy(ctx, cmd); err != nil {
		out.Warn(fmt.Sprintf("deploy command not sent: %v", err))
	}
}

// notFound переводит repo.ErrNotFound в понятное пользователю сообщение.
func notFound(id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("flow %s not found", id)
	}
	return err
}
