package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/node"
	"github.com/shaiso/Relay/internal/telemetry"
)

const publishTimeout = 10 * time.Second

// Broker — config-узел с подключением к брокеру сообщений.
type Broker interface {
	node.Node

	// Publish объявляет обменник (один раз) и публикует payload.
	Publish(ctx context.Context, exchange, kind, routingKey string, payload any) error
}

// AMQPBroker — config-узел "amqp-broker".
//
// Свойства:
//
//	{
//	    "url": "$(RABBITMQ_URL)"   // по умолчанию mq.DefaultURL()
//	}
//
// Соединение открывается при первой публикации: недоступный брокер
// не мешает созданию узла.
type AMQPBroker struct {
	*node.Base
	url    string
	logger *slog.Logger

	mu        sync.Mutex
	conn      *mq.Connection
	publisher *mq.Publisher
	declared  map[string]bool
}

// NewAMQPBroker — конструктор типа "amqp-broker".
func NewAMQPBroker(cfg node.Config) (node.Node, error) {
	url := GetString(cfg.Spec.Props, "url")
	if url == "" {
		url = mq.DefaultURL()
	}
	b := &AMQPBroker{
		Base:     node.NewBase(cfg),
		url:      url,
		logger:   telemetry.WithNodeID(slog.Default(), cfg.Spec.ID, cfg.Spec.Type),
		declared: make(map[string]bool),
	}
	b.OnClose(b.close)
	return b, nil
}

func (b *AMQPBroker) connection() (*mq.Connection, *mq.Publisher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Closed() {
		return nil, nil, mq.ErrConnectionClosed
	}
	if b.conn == nil {
		conn, err := mq.NewConnection(b.url, b.logger)
		if err != nil {
			return nil, nil, err
		}
		b.conn = conn
		b.publisher = mq.NewPublisher(conn, b.logger)
	}
	return b.conn, b.publisher, nil
}

// Publish реализует Broker.
func (b *AMQPBroker) Publish(ctx context.Context, exchange, kind, routingKey string, payload any) error {
	conn, pub, err := b.connection()
	if err != nil {
		return err
	}

	key := exchange + "/" + kind
	b.mu.Lock()
	declared := b.declared[key]
	b.mu.Unlock()
	if !declared {
		if err := mq.DeclareExchange(ctx, conn, mq.Exchange(exchange), kind); err != nil {
			return err
		}
		b.mu.Lock()
		b.declared[key] = true
		b.mu.Unlock()
	}

	return pub.PublishJSON(ctx, mq.Exchange(exchange), mq.RoutingKey(routingKey), mq.MessageTypeFlowMessage, payload)
}

func (b *AMQPBroker) close(context.Context, bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

// AMQPOut публикует msg.payload в обменник через config-узел брокера.
//
// Свойства и ссылки:
//
//	{
//	    "refs":  {"broker": "<id узла amqp-broker>"},
//	    "props": {
//	        "exchange": "orders",
//	        "exchange_type": "topic",
//	        "routing_key": "orders.{{ .Msg.topic }}"   // по умолчанию msg.topic
//	    }
//	}
type AMQPOut struct {
	*node.Base
	broker     Broker
	exchange   string
	kind       string
	routingKey string

	lastStatus atomic.Pointer[string]
}

// NewAMQPOut — конструктор типа "amqp out".
func NewAMQPOut(cfg node.Config) (node.Node, error) {
	props := cfg.Spec.Props
	broker, err := node.Resolve[Broker](cfg.Host, cfg.Spec.Refs["broker"])
	if err != nil {
		return nil, fmt.Errorf("amqp out: %w", err)
	}

	n := &AMQPOut{
		Base:       node.NewBase(cfg),
		broker:     broker,
		exchange:   GetString(props, "exchange"),
		kind:       GetString(props, "exchange_type"),
		routingKey: GetString(props, "routing_key"),
	}
	if n.exchange == "" {
		return nil, fmt.Errorf("%w: amqp out: exchange is required", node.ErrInvalidConfig)
	}
	if n.kind == "" {
		n.kind = "topic"
	}
	n.OnInput(n.input)
	return n, nil
}

func (n *AMQPOut) input(msg domain.Message) error {
	key, _ := msg[domain.MsgKeyTopic].(string)
	if n.routingKey != "" {
		tctx := engine.NewContext(msg).WithNode(n.ID(), n.Type(), n.Name(), n.Z())
		rendered, err := engine.Render(n.routingKey, tctx)
		if err != nil {
			return fmt.Errorf("render routing key: %w", err)
		}
		key = rendered
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := n.broker.Publish(ctx, n.exchange, n.kind, key, msg.Payload()); err != nil {
		n.report(domain.StatusUpdate{Text: "disconnected", Fill: "red", Shape: "ring"})
		return fmt.Errorf("publish to %s: %w", n.exchange, err)
	}
	n.report(domain.StatusUpdate{Text: "connected", Fill: "green", Shape: "dot"})
	return nil
}

// report публикует статус, только если он изменился.
func (n *AMQPOut) report(status domain.StatusUpdate) {
	if prev := n.lastStatus.Swap(&status.Text); prev != nil && *prev == status.Text {
		return
	}
	n.Status(status)
}
