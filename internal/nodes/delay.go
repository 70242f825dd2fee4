package nodes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/node"
)

// Delay задерживает каждое сообщение на фиксированное время.
//
// Свойства:
//
//	{
//	    "duration_ms": 5000   // или "duration_sec": 5
//	}
//
// Статус узла показывает число ожидающих сообщений.
// Close отменяет все ожидающие сообщения.
type Delay struct {
	*node.Base
	duration time.Duration

	mu      sync.Mutex
	pending map[*time.Timer]struct{}
}

// NewDelay — конструктор типа "delay".
func NewDelay(cfg node.Config) (node.Node, error) {
	d := &Delay{
		Base:     node.NewBase(cfg),
		duration: GetDuration(cfg.Spec.Props, "duration"),
		pending:  make(map[*time.Timer]struct{}),
	}
	if d.duration <= 0 {
		return nil, fmt.Errorf("%w: delay: duration_ms or duration_sec required", node.ErrInvalidConfig)
	}
	d.OnInput(d.input)
	d.OnClose(d.close)
	return d, nil
}

func (d *Delay) input(msg domain.Message) error {
	d.mu.Lock()
	var timer *time.Timer
	timer = time.AfterFunc(d.duration, func() {
		d.mu.Lock()
		_, ok := d.pending[timer]
		delete(d.pending, timer)
		left := len(d.pending)
		d.mu.Unlock()
		if ok {
			d.Send(msg)
			d.queued(left)
		}
	})
	d.pending[timer] = struct{}{}
	count := len(d.pending)
	d.mu.Unlock()

	d.queued(count)
	return nil
}

// queued публикует размер очереди статусом узла. Пустая очередь
// очищает статус. Вызывается без d.mu.
func (d *Delay) queued(count int) {
	if count == 0 {
		d.Status(domain.StatusUpdate{})
		return
	}
	d.Status(domain.StatusUpdate{Text: fmt.Sprintf("%d queued", count), Fill: "blue", Shape: "ring"})
}

func (d *Delay) close(context.Context, bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for timer := range d.pending {
		timer.Stop()
	}
	clear(d.pending)
	return nil
}
