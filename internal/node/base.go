package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/telemetry"
)

// InputFunc обрабатывает входящее сообщение. Возвращённая ошибка
// передаётся в Error вместе с сообщением.
type InputFunc func(msg domain.Message) error

// CloseFunc освобождает ресурсы узла.
type CloseFunc func(ctx context.Context, removed bool) error

// Base — базовая реализация Node.
//
// Типы узлов встраивают *Base и задают поведение через OnInput и OnClose:
//
//	b := node.NewBase(cfg)
//	b.OnInput(func(msg domain.Message) error {
//	    b.Send(msg)
//	    return nil
//	})
//	return b, nil
type Base struct {
	id   string
	typ  string
	name string
	z    string

	host Host
	sink telemetry.Sink

	mu      sync.RWMutex
	wires   [][]string
	onInput InputFunc
	onClose CloseFunc

	closed atomic.Bool
}

// NewBase создаёт Base из конфигурации конструктора.
func NewBase(cfg Config) *Base {
	sink := cfg.Sink
	if sink == nil {
		sink = telemetry.Discard
	}
	spec := cfg.Spec
	return &Base{
		id:    spec.ID,
		typ:   spec.Type,
		name:  spec.Name,
		z:     spec.Z,
		host:  cfg.Host,
		sink:  sink,
		wires: domain.CloneWires(spec.Wires),
	}
}

func (b *Base) ID() string   { return b.id }
func (b *Base) Type() string { return b.typ }
func (b *Base) Name() string { return b.name }
func (b *Base) Z() string    { return b.z }

// Host возвращает flow узла.
func (b *Base) Host() Host { return b.host }

// OnInput задаёт обработчик входящих сообщений.
func (b *Base) OnInput(fn InputFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onInput = fn
}

// OnClose задаёт обработчик закрытия.
func (b *Base) OnClose(fn CloseFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClose = fn
}

// Wires возвращает копию выходных связей.
func (b *Base) Wires() [][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return domain.CloneWires(b.wires)
}

// UpdateWires заменяет выходные связи.
func (b *Base) UpdateWires(wires [][]string) {
	wires = domain.CloneWires(wires)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wires = wires
}

// Receive передаёт сообщение обработчику OnInput.
// Закрытый узел сообщения игнорирует.
func (b *Base) Receive(msg domain.Message) {
	if b.closed.Load() {
		return
	}
	b.mu.RLock()
	fn := b.onInput
	b.mu.RUnlock()
	if fn == nil {
		return
	}
	if msg == nil {
		msg = domain.Message{}
	}
	if err := runInput(fn, msg); err != nil {
		b.Error(err, msg)
	}
}

func runInput(fn InputFunc, msg domain.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInputPanic, r)
		}
	}()
	return fn(msg)
}

type delivery struct {
	target Node
	msg    domain.Message
}

// Send отправляет сообщения по выходным портам: outputs[i] уходит
// всем получателям порта i, nil пропускается.
//
// Первый получатель получает исходное сообщение, остальные — копии.
// Копии делаются до первой доставки. Доставка синхронная.
func (b *Base) Send(outputs ...domain.Message) {
	if b.host == nil {
		return
	}

	b.mu.RLock()
	wires := b.wires
	b.mu.RUnlock()

	var deliveries []delivery
	sent := false
	for port, msg := range outputs {
		if msg == nil || port >= len(wires) {
			continue
		}
		if _, ok := msg[domain.MsgKeyID]; !ok {
			msg[domain.MsgKeyID] = uuid.NewString()
		}
		for _, targetID := range wires[port] {
			target, ok := b.host.Lookup(targetID)
			if !ok {
				continue
			}
			out := msg
			if sent {
				out = msg.Clone()
			}
			sent = true
			deliveries = append(deliveries, delivery{target: target, msg: out})
		}
	}

	for _, d := range deliveries {
		d.target.Receive(d.msg)
	}
}

// Error сообщает об ошибке. Если msg != nil, ошибка маршрутизируется
// в catch-узлы; необработанная пишется в журнал с уровнем error.
func (b *Base) Error(err error, msg domain.Message) {
	if err == nil {
		return
	}
	handled := false
	if msg != nil && b.host != nil {
		handled = b.host.HandleError(b, err, msg)
	}
	if !handled {
		b.record(telemetry.LevelError, err.Error())
	}
}

// Status публикует статус узла.
func (b *Base) Status(status domain.StatusUpdate) {
	if b.host == nil {
		return
	}
	b.host.HandleStatus(b, status)
}

// Log пишет информационное событие.
func (b *Base) Log(msg string) { b.record(telemetry.LevelInfo, msg) }

// Warn пишет предупреждение.
func (b *Base) Warn(msg string) { b.record(telemetry.LevelWarn, msg) }

// Debug пишет отладочное событие.
func (b *Base) Debug(msg string) { b.record(telemetry.LevelDebug, msg) }

// Trace пишет событие уровня trace.
func (b *Base) Trace(msg string) { b.record(telemetry.LevelTrace, msg) }

func (b *Base) record(level telemetry.Level, msg string) {
	b.sink.Record(telemetry.Event{
		Level: level,
		ID:    b.id,
		Type:  b.typ,
		Name:  b.name,
		Z:     b.z,
		Msg:   msg,
	})
}

// Close закрывает узел один раз; повторные вызовы ничего не делают.
func (b *Base) Close(ctx context.Context, removed bool) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.RLock()
	fn := b.onClose
	b.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, removed)
}

// Closed возвращает true после Close.
func (b *Base) Closed() bool {
	return b.closed.Load()
}

// Resolve находит активный config-узел по ID и приводит его к T.
func Resolve[T any](host Host, id string) (T, error) {
	var zero T
	if host == nil || id == "" {
		return zero, fmt.Errorf("%w: %q", ErrConfigNodeMissing, id)
	}
	n, ok := host.Lookup(id)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrConfigNodeMissing, id)
	}
	v, ok := n.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s has type %s", ErrInvalidConfig, id, n.Type())
	}
	return v, nil
}
