// Package flow исполняет GraphDefinition: создаёт узлы, связывает их,
// маршрутизирует ошибки и статусы и останавливает узлы с таймаутом.
//
// # Runtime
//
// Runtime — контекст движка (настройки и зависимости). Создаётся один раз
// через Init и порождает Flow:
//
//	rt := flow.Init(flow.SettingsFromEnv(), flow.Deps{
//	    Registry: nodes.DefaultRegistry(),
//	    Sink:     log,
//	})
//	f := rt.Create(global, def)
//	if err := f.Start(nil); err != nil {
//	    // цикл config-узлов
//	}
//	defer f.Stop(ctx, nil, nil)
//
// # Жизненный цикл
//
//	STOPPED → STARTING → RUNNING | PARTIALLY_RUNNING → STOPPING → STOPPED
//
// Start создаёт config-узлы (в порядке ссылок), обычные узлы и экземпляры
// subflow, затем перестраивает индексы catch/status. Ошибка создания узла
// не фатальна. Фатален только цикл config-узлов (*CircularConfigError).
//
// Stop удаляет узлы из таблиц и закрывает их параллельно, каждый со своим
// таймаутом (Settings.NodeCloseTimeout).
//
// # Subflow
//
// Экземпляр subflow разворачивается в копии узлов шаблона с новыми ID
// и scope = ID экземпляра. Снаружи экземпляр представлен фасадом:
// он пересылает входящие сообщения внутрь, а его UpdateWires меняет
// только внешние связи выходов.
//
// # Маршрутизация
//
// HandleError и HandleStatus поднимаются от scope узла-источника по
// вложенным экземплярам (таблица parents) до flow и доставляют событие
// обработчикам ближайшего уровня.
//
// # Файлы пакета
//
//   - settings.go — Settings, Deps, Runtime, IDGenerator
//   - flow.go     — Flow, Start, Update, поиск узлов
//   - config.go   — очередь создания config-узлов
//   - subflow.go  — развёртывание subflow и фасад
//   - routing.go  — HandleError, HandleStatus
//   - stop.go     — Stop
//   - errors.go   — ошибки
package flow
