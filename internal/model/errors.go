package model

import "errors"

var (
	// ErrNotFound возвращается, если сущность с указанным идентификатором не найдена.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable возвращается, если у книги нет доступных экземпляров.
	ErrUnavailable = errors.New("no copies available")
	// ErrInvalidState возвращается, если операция недопустима для текущего статуса заявки.
	ErrInvalidState = errors.New("invalid transaction state")
	// ErrValidation возвращается при некорректных входных данных.
	ErrValidation = errors.New("validation failed")
	// ErrConflict возвращается, если хранилище отклонило транзакцию из-за конкурентного доступа.
	ErrConflict = errors.New("concurrent update conflict")
)
