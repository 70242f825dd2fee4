package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Relay/internal/telemetry"
)

// MessageType — тип сообщения в конверте Message.
type MessageType string

// Типы сообщений.
const (
	MessageTypeLogEvent    MessageType = "log.event"
	MessageTypeDeploy      MessageType = "deploy.command"
	MessageTypeFlowMessage MessageType = "flow.message"
)

// Message — конверт публикуемого сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventPayload — событие журнала движка.
type EventPayload struct {
	Level    string    `json:"level"`
	Time     time.Time `json:"time"`
	NodeID   string    `json:"node_id,omitempty"`
	NodeType string    `json:"node_type,omitempty"`
	NodeName string    `json:"node_name,omitempty"`
	Z        string    `json:"z,omitempty"`
	Msg      string    `json:"msg"`
}

// DeployPayload — команда развернуть (или остановить) сохранённый граф.
type DeployPayload struct {
	FlowID string `json:"flow_id"`

	// Remove — остановить flow и забыть его.
	Remove bool `json:"remove,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher. logger == nil — slog.Default().
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует конверт msg в exchange с ключом routingKey.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishJSON заворачивает payload в конверт и публикует его.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	return p.Publish(ctx, exchange, routingKey, newMessage(msgType, payload))
}

// PublishEvent публикует событие журнала в relay.events.
func (p *Publisher) PublishEvent(ctx context.Context, e telemetry.Event) error {
	level := e.Level.String()
	return p.PublishJSON(ctx, ExchangeEvents, EventRoutingKey(level), MessageTypeLogEvent, EventPayload{
		Level:    level,
		Time:     e.Time,
		NodeID:   e.ID,
		NodeType: e.Type,
		NodeName: e.Name,
		Z:        e.Z,
		Msg:      e.Msg,
	})
}

// PublishDeploy публикует команду развёртывания flow.
// Потребитель: relay-runtime.
func (p *Publisher) PublishDeploy(ctx context.Context, cmd DeployPayload) error {
	return p.PublishJSON(ctx, ExchangeDeploy, RoutingKeyDeploy, MessageTypeDeploy, cmd)
}

func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
