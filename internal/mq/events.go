package mq

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shaiso/Relay/internal/telemetry"
)

const (
	defaultEventBuffer  = 1024
	eventPublishTimeout = 5 * time.Second
)

// EventPublisher — то, что нужно EventHandler от Publisher.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e telemetry.Event) error
}

// EventHandler — обработчик журнала движка, публикующий события в AMQP.
//
// Handle не блокирует: события складываются в буфер и публикуются
// горутиной Run. При переполненном буфере событие отбрасывается.
type EventHandler struct {
	publisher EventPublisher
	logger    *slog.Logger
	events    chan telemetry.Event
	dropped   atomic.Int64
}

// NewEventHandler создаёт обработчик с буфером на size событий
// (size <= 0 — значение по умолчанию).
func NewEventHandler(publisher EventPublisher, logger *slog.Logger, size int) *EventHandler {
	if size <= 0 {
		size = defaultEventBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{
		publisher: publisher,
		logger:    logger,
		events:    make(chan telemetry.Event, size),
	}
}

// Handle реализует telemetry.Handler.
func (h *EventHandler) Handle(e telemetry.Event) {
	select {
	case h.events <- e:
	default:
		h.dropped.Add(1)
	}
}

// Dropped возвращает число отброшенных событий.
func (h *EventHandler) Dropped() int64 {
	return h.dropped.Load()
}

// Run публикует события до отмены ctx.
func (h *EventHandler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-h.events:
			pubCtx, cancel := context.WithTimeout(ctx, eventPublishTimeout)
			if err := h.publisher.PublishEvent(pubCtx, e); err != nil {
				// Не через журнал движка: иначе ошибка публикации порождает новое событие.
				h.logger.Warn("failed to publish log event", "error", err)
			}
			cancel()
		}
	}
}
