// Package cli реализует инструмент командной строки Relay.
//
// # Обзор
//
// CLI работает в двух режимах:
//   - локально с файлом графа: check, run, types (без БД и брокера)
//   - с хранилищем: flow list, push, enable, disable, delete
//     (Postgres по RELAY_DB_URL, команды развёртывания в RabbitMQ по RABBITMQ_URL)
//
// # Ключевые компоненты
//
// ## Backend
//
// Ленивое подключение к Postgres и RabbitMQ. Открывается только
// командами группы flow. Недоступный брокер не мешает сохранению
// графа: relay-runtime подхватит новую ревизию при следующем poll.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Warn/Error) — в stderr.
// Это позволяет использовать pipe: relay check graph.json --json | jq .
//
// ## Commands
//
// Каждая команда создаётся фабричной функцией (NewCheckCmd и т.д.),
// принимающей outputFn — замыкание для ленивого создания Output после
// парсинга PersistentFlags.
package cli
