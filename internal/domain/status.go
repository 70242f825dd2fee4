package domain

// FlowState — состояние flow.
//
// Жизненный цикл:
//
//	STOPPED → STARTING → RUNNING → STOPPING → STOPPED
//	                   ↘ PARTIALLY_RUNNING (часть узлов не создалась)
type FlowState string

const (
	// FlowStateStopped — активных узлов нет.
	FlowStateStopped FlowState = "STOPPED"

	// FlowStateStarting — идёт создание узлов.
	FlowStateStarting FlowState = "STARTING"

	// FlowStateRunning — все узлы созданы.
	FlowStateRunning FlowState = "RUNNING"

	// FlowStatePartiallyRunning — часть узлов не удалось создать.
	FlowStatePartiallyRunning FlowState = "PARTIALLY_RUNNING"

	// FlowStateStopping — идёт остановка узлов.
	FlowStateStopping FlowState = "STOPPING"
)

// IsActive возвращает true, если во flow есть работающие узлы.
func (s FlowState) IsActive() bool {
	switch s {
	case FlowStateRunning, FlowStatePartiallyRunning:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление FlowState.
func (s FlowState) String() string {
	return string(s)
}
