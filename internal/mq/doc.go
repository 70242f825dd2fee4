// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в конверте Message
//   - consumer.go   — потребление сообщений из очередей
//   - events.go     — обработчик журнала движка, публикующий события
//
// Типы сообщений:
//   - log.event      — событие журнала движка
//   - deploy.command — развернуть или удалить сохранённый граф
//   - flow.message   — сообщение flow, отправленное узлом amqp out
//
// Exchanges:
//   - relay.events — события журнала (topic, event.<level>)
//   - relay.deploy — команды развёртывания
//   - relay.dlq    — dead letter queue
package mq
