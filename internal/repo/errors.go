package repo

import "errors"

// Ошибки репозитория.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState — запись нельзя сохранить в текущем виде.
	ErrInvalidState = errors.New("invalid state")
)
