// Package node определяет контракт работающего узла и реестр типов.
//
// # Node
//
// Node — экземпляр узла во flow: принимает сообщения (Receive), отправляет
// их по wires, сообщает об ошибках и статусах, закрывается с таймаутом.
// Flow хранит узлы в таблице активных и обращается к ним только через
// этот интерфейс.
//
// # Base
//
// Base реализует Node целиком. Типы узлов встраивают *Base и задают
// обработчики OnInput/OnClose. Base берёт на себя:
//   - копирование сообщений при отправке в несколько wires
//   - перехват паник обработчика и передачу ошибки в Error
//   - маршрутизацию ошибок и статусов через Host
//   - запись событий в журнал движка (telemetry.Sink)
//
// # Registry
//
// Registry сопоставляет имя типа с конструктором:
//
//	r := node.NewRegistry()
//	r.Register("debug", nodes.NewDebug)
//	n, err := r.Construct(node.Config{Spec: spec, Host: flow})
//
// # Файлы пакета
//
//   - node.go     — Node, Host, SourceFilter, Config, Constructor
//   - base.go     — Base, Resolve
//   - registry.go — Registry
//   - errors.go   — ошибки
package node
