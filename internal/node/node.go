package node

import (
	"context"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/telemetry"
)

// Типы узлов, которые flow индексирует для маршрутизации.
const (
	TypeCatch  = "catch"
	TypeStatus = "status"
)

// Node — работающий экземпляр узла.
//
// Экземпляр создаётся конструктором из Registry, живёт в таблице
// активных узлов flow и закрывается через Close.
type Node interface {
	ID() string
	Type() string
	Name() string

	// Z возвращает scope узла: ID flow или ID экземпляра subflow.
	Z() string

	// Receive принимает сообщение. Вызывается синхронно отправителем.
	Receive(msg domain.Message)

	// UpdateWires заменяет выходные связи узла.
	UpdateWires(wires [][]string)

	// Close освобождает ресурсы узла. removed — узел удалён из графа,
	// а не просто перезапускается. Реализация должна уважать ctx.
	Close(ctx context.Context, removed bool) error

	// Error сообщает об ошибке узла. Если msg != nil, ошибка маршрутизируется
	// в catch-узлы; необработанная ошибка пишется в журнал.
	Error(err error, msg domain.Message)
}

// SourceFilter реализуют catch- и status-узлы с ограничением источников.
// Пустой список — принимаются события любых узлов своего scope.
type SourceFilter interface {
	Sources() []string
}

// Host — обратные вызовы узла во flow, которому он принадлежит.
type Host interface {
	// Lookup ищет активный узел по ID (включая глобальные config-узлы).
	Lookup(id string) (Node, bool)

	// HandleError маршрутизирует ошибку вверх по scope. Возвращает true,
	// если ошибку получил хотя бы один catch-узел.
	HandleError(origin Node, err error, msg domain.Message) bool

	// HandleStatus маршрутизирует статус вверх по scope.
	HandleStatus(origin Node, status domain.StatusUpdate) bool
}

// Config — всё, что получает конструктор узла.
type Config struct {
	// Spec — копия определения узла с подставленными переменными окружения.
	// Конструктор может её изменять.
	Spec *domain.NodeSpec

	// Host — flow, в котором создаётся узел.
	Host Host

	// Sink — журнал движка.
	Sink telemetry.Sink
}

// Constructor создаёт узел. Ошибка или паника означают, что узел не создан.
type Constructor func(cfg Config) (Node, error)
