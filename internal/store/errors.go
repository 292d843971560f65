package store

import "errors"

var (
	ErrVersionConflict = errors.New("version conflict")
	ErrSessionClosed   = errors.New("session closed")
	ErrInvalidPath     = errors.New("invalid path")
	ErrInvalidValue    = errors.New("value is not json-encodable")

	// ErrTxAbort возвращается из тела транзакции, чтобы выйти без записи.
	// Для вызывающего это не ошибка: Tx вернёт committed=false, err=nil.
	ErrTxAbort = errors.New("transaction aborted")
)
