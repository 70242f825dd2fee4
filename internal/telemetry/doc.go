// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - log.go     — журнал движка: уровни, Event, Handler, Log
//   - metrics.go — Prometheus метрики
//
// Узлы и flow пишут события в Sink (обычно *Log). Log рассылает их
// подключённым обработчикам: SlogHandler, MetricsHandler и mq.EventHandler.
// Каждый обработчик имеет свой порог уровня и отдельные флаги audit/metric.
//
// Сервисы экспортируют метрики на /metrics endpoint.
package telemetry
