// Package apperr: ошибки уровня сервиса с HTTP-статусом и кодом для клиента.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeBadRequest = "BAD_REQUEST"
	CodeForbidden  = "FORBIDDEN"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeInternal   = "INTERNAL_ERROR"
)

type Error struct {
	Code    string
	Message string
	Status  int
	// ChatID заполняется для Conflict: id уже существующего чата.
	ChatID string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func BadRequest(message string, err error) *Error {
	return &Error{Code: CodeBadRequest, Message: message, Status: http.StatusBadRequest, Err: err}
}

func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message, Status: http.StatusForbidden}
}

func NotFound(resource string) *Error {
	return &Error{Code: CodeNotFound, Message: resource + " not found", Status: http.StatusNotFound}
}

// Conflict: чат на двоих уже существует.
func Conflict(chatID string) *Error {
	return &Error{Code: CodeConflict, Message: "chat already exists", Status: http.StatusConflict, ChatID: chatID}
}

func Internal(message string, err error) *Error {
	return &Error{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError, Err: err}
}

// As достаёт *Error из цепочки err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is проверяет, что в err есть *Error с данным кодом.
func Is(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
