package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Обменники.
const (
	// ExchangeEvents — события журнала движка (topic, ключ "event.<level>").
	ExchangeEvents Exchange = "relay.events"

	// ExchangeDeploy — команды развёртывания.
	ExchangeDeploy Exchange = "relay.deploy"

	// ExchangeDLQ — отклонённые команды.
	ExchangeDLQ Exchange = "relay.dlq"
)

// Очереди.
const (
	QueueDeployCommands Queue = "deploy.commands"
	QueueDLQDeploy      Queue = "dlq.deploy"
)

// Ключи маршрутизации.
const (
	RoutingKeyDeploy    RoutingKey = "deploy"
	RoutingKeyDLQDeploy RoutingKey = "deploy"
)

// EventRoutingKey возвращает ключ для события журнала уровня level.
func EventRoutingKey(level string) RoutingKey {
	return RoutingKey("event." + level)
}

// SetupTopology объявляет обменники, очереди и привязки relay.
// Очереди событий журнала объявляют сами потребители (topic exchange).
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []struct {
			name Exchange
			kind string
		}{
			{ExchangeEvents, amqp.ExchangeTopic},
			{ExchangeDeploy, amqp.ExchangeDirect},
			{ExchangeDLQ, amqp.ExchangeDirect},
		} {
			if err := declareExchange(ch, ex.name, ex.kind); err != nil {
				return err
			}
		}

		queues := []struct {
			name Queue
			args amqp.Table
		}{
			{QueueDeployCommands, amqp.Table{
				"x-dead-letter-exchange":    string(ExchangeDLQ),
				"x-dead-letter-routing-key": string(RoutingKeyDLQDeploy),
			}},
			{QueueDLQDeploy, nil},
		}
		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		bindings := []struct {
			queue      Queue
			routingKey RoutingKey
			exchange   Exchange
		}{
			{QueueDeployCommands, RoutingKeyDeploy, ExchangeDeploy},
			{QueueDLQDeploy, RoutingKeyDLQDeploy, ExchangeDLQ},
		}
		for _, b := range bindings {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// DeclareExchange объявляет durable обменник (используется узлами amqp out).
func DeclareExchange(ctx context.Context, conn *Connection, name Exchange, kind string) error {
	if kind == "" {
		kind = amqp.ExchangeTopic
	}
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return declareExchange(ch, name, kind)
	})
}

func declareExchange(ch *amqp.Channel, name Exchange, kind string) error {
	err := ch.ExchangeDeclare(
		string(name), // name
		kind,         // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Relay RabbitMQ Topology:

    relay.events (topic)
    └── event.<level>            Consumers: external log collectors

    relay.deploy (direct)
    └── deploy.commands [routing: deploy]
            Consumer: relay-runtime
            DLQ: dlq.deploy

    relay.dlq (direct)
    └── dlq.deploy [routing: deploy]
            Manual processing
`
}
