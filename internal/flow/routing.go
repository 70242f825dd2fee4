package flow

import (
	"slices"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/node"
	"github.com/shaiso/Relay/internal/telemetry"
)

// HandleError доставляет ошибку узла origin в catch-узлы.
//
// Поиск идёт от scope узла вверх по вложенным экземплярам subflow.
// На каждом уровне catch-узел с непустым списком источников принимает
// ошибку, только если в списке есть «сообщающий» узел: сам origin на его
// уровне и фасад экземпляра на внешних уровнях. Ошибку получают все
// подходящие catch-узлы ближайшего уровня, каждый — свою копию msg.
//
// Если msg уже несёт ошибку этого же узла, счётчик увеличивается;
// на errorLoopLimit маршрутизация прекращается с предупреждением.
func (f *Flow) HandleError(origin node.Node, err error, msg domain.Message) bool {
	text := ""
	if err != nil {
		text = err.Error()
	}

	count := 1
	if prev, ok := msg.Error(); ok && prev.Source.ID == origin.ID() {
		count = prev.Source.Count + 1
		if count >= errorLoopLimit {
			f.recordNode(telemetry.LevelWarn, origin, "message exceeded maximum number of catches")
			f.rt.deps.Metrics.ErrorRouted("loop")
			return false
		}
	}

	f.mu.RLock()
	targets := f.findHandlers(f.catchIndex, origin, true)
	f.mu.RUnlock()

	if len(targets) == 0 {
		f.rt.deps.Metrics.ErrorRouted("unhandled")
		return false
	}

	for _, target := range targets {
		errMsg := msg.Clone()
		if errMsg == nil {
			errMsg = domain.Message{}
		}
		if prev, ok := errMsg[domain.MsgKeyError]; ok {
			errMsg[domain.MsgKeyPrevError] = prev
		}
		errMsg[domain.MsgKeyError] = &domain.ErrorInfo{
			Message: text,
			Source: domain.Source{
				ID:    origin.ID(),
				Type:  origin.Type(),
				Name:  origin.Name(),
				Count: count,
			},
		}
		target.Receive(errMsg)
	}
	f.rt.deps.Metrics.ErrorRouted("handled")
	return true
}

// HandleStatus доставляет статус узла origin в status-узлы.
//
// Поиск устроен как в HandleError, но список источников всегда
// сравнивается с самим origin. Необработанный статус отбрасывается.
func (f *Flow) HandleStatus(origin node.Node, status domain.StatusUpdate) bool {
	f.mu.RLock()
	targets := f.findHandlers(f.statusIndex, origin, false)
	f.mu.RUnlock()

	for _, target := range targets {
		target.Receive(domain.Message{
			domain.MsgKeyStatus: domain.StatusInfo{
				Text: status.Text,
				Source: domain.Source{
					ID:   origin.ID(),
					Type: origin.Type(),
					Name: origin.Name(),
				},
			},
		})
	}
	f.rt.deps.Metrics.StatusRouted(len(targets) > 0)
	return len(targets) > 0
}

// findHandlers возвращает подходящие обработчики ближайшего уровня.
// Вызывается под f.mu.RLock.
//
// byReporter — фильтровать по сообщающему узлу (фасад на внешних уровнях),
// иначе по самому origin.
func (f *Flow) findHandlers(index map[string][]node.Node, origin node.Node, byReporter bool) []node.Node {
	reporter := origin.ID()
	scope := origin.Z()

	// Каждый шаг поднимается на уровень выше; глубже, чем экземпляров, не бывает.
	for range len(f.parents) + 1 {
		var matched []node.Node
		for _, h := range index[scope] {
			if accepts(h, reporter) {
				matched = append(matched, h)
			}
		}
		if len(matched) > 0 {
			return matched
		}

		parent, ok := f.parents[scope]
		if !ok {
			return nil
		}
		if byReporter {
			reporter = scope
		}
		scope = parent
	}
	return nil
}

// accepts проверяет список источников обработчика.
func accepts(handler node.Node, id string) bool {
	filter, ok := handler.(node.SourceFilter)
	if !ok {
		return true
	}
	sources := filter.Sources()
	return len(sources) == 0 || slices.Contains(sources, id)
}
