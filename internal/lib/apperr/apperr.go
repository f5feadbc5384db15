// Package apperr описывает таксономию ошибок биллинга и их отображение в HTTP-статусы.
package apperr

import (
	"errors"
	"net/http"
)

// Kind: категория ошибки.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindProvider   Kind = "provider"
	KindState      Kind = "state"
	KindInternal   Kind = "internal"
)

// Error: ошибка с категорией и сообщением для пользователя.
type Error struct {
	Kind    Kind
	Message string
	// Upstream отмечает отказ внешней платёжной сети, а не отклонённый статус.
	Upstream bool
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation: некорректный запрос.
func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

// NotFound: пользователь или запись отсутствуют.
func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Conflict: повторная подписка или повторное подтверждение.
func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

// State: действие недопустимо для текущего статуса.
func State(msg string) error {
	return &Error{Kind: KindState, Message: msg}
}

// Provider: провайдер отклонил операцию или вернул неожиданный статус.
func Provider(msg string, err error) error {
	return &Error{Kind: KindProvider, Message: msg, Err: err}
}

// Upstream: сбой сети провайдера или таймаут.
func Upstream(msg string, err error) error {
	return &Error{Kind: KindProvider, Message: msg, Upstream: true, Err: err}
}

// Wrap оборачивает err в ошибку заданной категории.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf возвращает категорию ошибки; неизвестные ошибки считаются внутренними.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message возвращает текст, безопасный для ответа клиенту.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus сопоставляет ошибку со статусом ответа.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation, KindState:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindProvider:
		if e.Upstream {
			return http.StatusBadGateway
		}
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
