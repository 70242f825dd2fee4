package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrFlowNotFound — flow не развёрнут.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrInvalidGraph — сохранённый граф не прошёл валидацию.
	ErrInvalidGraph = errors.New("invalid graph definition")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
