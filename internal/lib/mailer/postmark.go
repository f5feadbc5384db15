package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"

	"github.com/magabrotheeeer/unimatch-billing/internal/config"
)

// PostmarkSender отправляет письма через транзакционный API Postmark.
type PostmarkSender struct {
	client  *postmark.Client
	from    string
	replyTo string
}

// NewPostmarkSender создаёт отправителя. Нужны серверный токен и адрес отправителя.
func NewPostmarkSender(cfg config.Mail) (*PostmarkSender, error) {
	if cfg.PostmarkServerToken == "" || cfg.SenderEmail == "" {
		return nil, fmt.Errorf("postmark: %w", ErrNotConfigured)
	}
	from := cfg.SenderEmail
	if cfg.AppName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.AppName, cfg.SenderEmail)
	}
	return &PostmarkSender{
		client:  postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:    from,
		replyTo: cfg.SupportEmail,
	}, nil
}

func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.from,
		ReplyTo:    s.replyTo,
		To:         strings.Join(msg.To, ","),
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TextBody:   msg.TextBody,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSend, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
