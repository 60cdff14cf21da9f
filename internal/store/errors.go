package store

import "errors"

// Общие ошибки адаптеров хранилища.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownKind — неизвестный вид адаптера хранилища.
	ErrUnknownKind = errors.New("unknown store kind")

	// ErrClosed — хранилище уже закрыто.
	ErrClosed = errors.New("store is closed")
)
