package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/node"
)

const defaultOnceDelay = 100 * time.Millisecond

// cronParser — 5 полей и дескрипторы (@hourly, @every 10s).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Inject порождает сообщения по расписанию, один раз после старта
// или при получении любого входящего сообщения.
//
// Свойства:
//
//	{
//	    "payload": "hello",
//	    "payload_type": "str",    // "str" | "json" | "date"
//	    "topic": "greetings",
//	    "cron": "*/5 * * * *",    // или "repeat_sec": 30
//	    "tz": "Europe/Moscow",
//	    "once": true,
//	    "once_delay_ms": 100
//	}
type Inject struct {
	*node.Base
	payload     any
	payloadType string
	topic       string

	mu    sync.Mutex
	sched *cron.Cron
	once  *time.Timer
}

// NewInject — конструктор типа "inject".
func NewInject(cfg node.Config) (node.Node, error) {
	props := cfg.Spec.Props
	n := &Inject{
		Base:        node.NewBase(cfg),
		payload:     props["payload"],
		payloadType: GetString(props, "payload_type"),
		topic:       GetString(props, "topic"),
	}

	switch n.payloadType {
	case "", "str", "date":
	case "json":
		if s, ok := n.payload.(string); ok {
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil, fmt.Errorf("%w: inject: invalid json payload: %v", node.ErrInvalidConfig, err)
			}
			n.payload = v
		}
	default:
		return nil, fmt.Errorf("%w: inject: unknown payload_type %q", node.ErrInvalidConfig, n.payloadType)
	}

	loc, err := location(props)
	if err != nil {
		return nil, err
	}
	sched, err := buildSchedule(props)
	if err != nil {
		return nil, err
	}
	if sched != nil {
		c := cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
		c.Schedule(sched, cron.FuncJob(n.Trigger))
		c.Start()
		n.sched = c
	}

	if GetBool(props, "once", false) {
		delay := GetDuration(props, "once_delay")
		if delay <= 0 {
			delay = defaultOnceDelay
		}
		n.once = time.AfterFunc(delay, n.Trigger)
	}

	n.OnInput(func(domain.Message) error {
		n.Trigger()
		return nil
	})
	n.OnClose(n.close)
	return n, nil
}

func buildSchedule(props map[string]any) (cron.Schedule, error) {
	if expr := GetString(props, "cron"); expr != "" {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: inject: invalid cron expression %q: %v", node.ErrInvalidConfig, expr, err)
		}
		return sched, nil
	}
	if every := GetDuration(props, "repeat"); every > 0 {
		return cron.Every(every), nil
	}
	return nil, nil
}

func location(props map[string]any) (*time.Location, error) {
	tz := GetString(props, "tz")
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: inject: unknown tz %q: %v", node.ErrInvalidConfig, tz, err)
	}
	return loc, nil
}

// Trigger отправляет одно сообщение.
func (n *Inject) Trigger() {
	if n.Closed() {
		return
	}
	msg := domain.Message{}
	switch n.payloadType {
	case "date":
		msg[domain.MsgKeyPayload] = time.Now().UnixMilli()
	default:
		msg[domain.MsgKeyPayload] = domain.CloneValue(n.payload)
	}
	if n.topic != "" {
		msg[domain.MsgKeyTopic] = n.topic
	}
	n.Send(msg)
}

func (n *Inject) close(ctx context.Context, _ bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.once != nil {
		n.once.Stop()
	}
	if n.sched == nil {
		return nil
	}
	// Stop не прерывает уже запущенные задания; ждём их.
	select {
	case <-n.sched.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
