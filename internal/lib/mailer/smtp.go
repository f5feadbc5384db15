package mailer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/smtp"
)

// SMTPSender отправляет письма через SMTP-транспорт.
type SMTPSender struct {
	transport smtp.TransportInterface
}

// NewSMTPSender создаёт отправителя поверх транспорта.
func NewSMTPSender(transport smtp.TransportInterface) *SMTPSender {
	return &SMTPSender{transport: transport}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	from := s.transport.GetSMTPUser()

	client, err := s.transport.Connect(ctx)
	if err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		return errors.Join(ErrFailedToSend, fmt.Errorf("mail from %s: %w", from, err))
	}
	for _, addr := range msg.To {
		if err := client.Rcpt(addr); err != nil {
			return errors.Join(ErrFailedToSend, fmt.Errorf("rcpt to %s: %w", addr, err))
		}
	}

	wc, err := client.Data()
	if err != nil {
		return errors.Join(ErrFailedToSend, fmt.Errorf("data: %w", err))
	}
	if _, err := wc.Write(buildMIME(from, msg)); err != nil {
		_ = wc.Close()
		return errors.Join(ErrFailedToSend, fmt.Errorf("write body: %w", err))
	}
	if err := wc.Close(); err != nil {
		return errors.Join(ErrFailedToSend, fmt.Errorf("close body: %w", err))
	}
	if err := client.Quit(); err != nil {
		return errors.Join(ErrFailedToSend, fmt.Errorf("quit: %w", err))
	}
	return nil
}

func buildMIME(from string, msg Message) []byte {
	contentType := `text/html; charset="UTF-8"`
	body := msg.HTMLBody
	if body == "" {
		contentType = `text/plain; charset="UTF-8"`
		body = msg.TextBody
	}
	return []byte(strings.Join([]string{
		"From: " + from,
		"To: " + strings.Join(msg.To, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"MIME-Version: 1.0",
		"Content-Type: " + contentType,
		"",
		body,
	}, "\r\n"))
}
