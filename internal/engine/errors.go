package engine

import (
	"errors"
	"strings"
)

// Ошибки валидации GraphDefinition.
var (
	// ErrEmptyGraph — описание графа отсутствует.
	ErrEmptyGraph = errors.New("graph definition is empty")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrIDMismatch — ключ map не совпадает с ID узла.
	ErrIDMismatch = errors.New("node ID does not match its key")

	// ErrEmptyNodeType — узел не имеет типа.
	ErrEmptyNodeType = errors.New("node has empty type")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrUnknownSubflow — экземпляр ссылается на несуществующий шаблон.
	ErrUnknownSubflow = errors.New("unknown subflow template")

	// ErrRecursiveSubflow — шаблон (через вложенность) содержит сам себя.
	ErrRecursiveSubflow = errors.New("subflow template contains itself")

	// ErrUnknownReference — ссылка на несуществующий config-узел.
	ErrUnknownReference = errors.New("reference to unknown config node")

	// ErrUnknownWireTarget — wire ведёт на несуществующий узел.
	ErrUnknownWireTarget = errors.New("wire to unknown node")

	// ErrInvalidPort — порт шаблона ссылается на узел вне шаблона.
	ErrInvalidPort = errors.New("invalid subflow port")

	// ErrCyclicDependency — config-узлы ссылаются друг на друга по кругу.
	ErrCyclicDependency = errors.New("cyclic config node dependency")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// CycleError — цикл ссылок между config-узлами.
type CycleError struct {
	// IDs — узлы, которые не удалось упорядочить (участники цикла и зависящие от них).
	IDs []string
}

// Error реализует интерфейс error.
func (e *CycleError) Error() string {
	return ErrCyclicDependency.Error() + ": " + strings.Join(e.IDs, ", ")
}

// Unwrap возвращает базовую ошибку.
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}
