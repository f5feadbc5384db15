// Package mailer отправляет транзакционные письма через Postmark с SMTP в качестве
// резервного канала.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
)

var (
	// ErrFailedToSend: письмо не принято ни одним транспортом.
	ErrFailedToSend = errors.New("failed to send email")
	// ErrInvalidMessage: письмо без получателя, темы или тела.
	ErrInvalidMessage = errors.New("invalid email message")
	// ErrNotConfigured: у транспорта нет учётных данных.
	ErrNotConfigured = errors.New("mail transport is not configured")
)

// Message: письмо к отправке.
type Message struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
	Tag      string
}

// Validate проверяет обязательные поля.
func (m Message) Validate() error {
	switch {
	case len(m.To) == 0:
		return fmt.Errorf("%w: no recipients", ErrInvalidMessage)
	case strings.TrimSpace(m.Subject) == "":
		return fmt.Errorf("%w: empty subject", ErrInvalidMessage)
	case m.HTMLBody == "" && m.TextBody == "":
		return fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	return nil
}

// Sender отправляет письмо.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Fallback пробует отправителей по порядку до первого успеха.
type Fallback struct {
	log     *slog.Logger
	senders []Sender
}

// NewFallback собирает цепочку отправителей.
func NewFallback(log *slog.Logger, senders ...Sender) *Fallback {
	return &Fallback{log: log, senders: senders}
}

func (f *Fallback) Send(ctx context.Context, msg Message) error {
	const op = "mailer.Fallback.Send"
	if err := msg.Validate(); err != nil {
		return err
	}
	if len(f.senders) == 0 {
		return fmt.Errorf("%s: %w: no transports configured", op, ErrFailedToSend)
	}

	var errs []error
	for i, s := range f.senders {
		err := s.Send(ctx, msg)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
		f.log.Warn("mail transport failed", slog.String("op", op), slog.Int("transport", i), slog.String("tag", msg.Tag), sl.Err(err))
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%s: %w", op, errors.Join(append([]error{ErrFailedToSend}, errs...)...))
}
