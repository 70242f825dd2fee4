package flow

import (
	"errors"
	"fmt"
)

// Ошибки flow.
var (
	// ErrCircularConfig — config-узлы ссылаются друг на друга по кругу.
	ErrCircularConfig = errors.New("circular config node dependency")

	// ErrSubflowNotFound — шаблон subflow не найден ни во flow, ни в глобальном графе.
	ErrSubflowNotFound = errors.New("subflow template not found")

	// ErrRecursiveSubflow — шаблон через вложенные экземпляры содержит сам себя.
	ErrRecursiveSubflow = errors.New("subflow template contains itself")

	// ErrAlreadyExpanded — экземпляр subflow уже развёрнут.
	ErrAlreadyExpanded = errors.New("subflow instance already expanded")

	// ErrCloseTimeout — узел не закрылся за отведённое время.
	ErrCloseTimeout = errors.New("node close timed out")

	// ErrClosePanic — Close узла запаниковал.
	ErrClosePanic = errors.New("node close panicked")
)

// CircularConfigError — config-узел так и не дождался своих зависимостей.
//
// Ограничение попыток — механизм обнаружения цикла, а не его точная
// граница: ID — узел, первым исчерпавший попытки. Точный состав цикла
// даёт engine.ConfigOrder.
type CircularConfigError struct {
	ID       string
	Attempts int
}

// Error реализует интерфейс error.
func (e *CircularConfigError) Error() string {
	return fmt.Sprintf("%s: %s (after %d attempts)", ErrCircularConfig, e.ID, e.Attempts)
}

// Unwrap возвращает ErrCircularConfig.
func (e *CircularConfigError) Unwrap() error {
	return ErrCircularConfig
}
