package node

import "errors"

// Ошибки узлов.
var (
	// ErrTypeNotFound — тип узла не зарегистрирован.
	ErrTypeNotFound = errors.New("node type not found")

	// ErrConstructPanic — конструктор узла запаниковал.
	ErrConstructPanic = errors.New("node constructor panicked")

	// ErrInputPanic — обработчик входящего сообщения запаниковал.
	ErrInputPanic = errors.New("node input handler panicked")

	// ErrInvalidConfig — невалидные свойства узла.
	ErrInvalidConfig = errors.New("invalid node config")

	// ErrConfigNodeMissing — узел ссылается на config-узел, которого нет среди активных.
	ErrConfigNodeMissing = errors.New("referenced config node is not active")
)
