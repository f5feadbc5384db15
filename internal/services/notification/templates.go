package notification

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

type emailTemplate struct {
	subject string
	body    string
}

// Тексты писем; для опекуна используется та же тема с пометкой и вступление из layout.
var emailTemplates = map[models.NotificationKind]emailTemplate{
	models.NotificationRenewalSevenDay: {
		subject: "Your {{.AppName}} subscription renews in 7 days",
		body:    `<p>Your subscription renews on <strong>{{.NextBillingDate}}</strong>. No action is needed if you want to keep your access.</p>`,
	},
	models.NotificationRenewalThreeDay: {
		subject: "Your {{.AppName}} subscription renews in 3 days",
		body:    `<p>Your subscription renews on <strong>{{.NextBillingDate}}</strong>. You can cancel at any time from your account settings.</p>`,
	},
	models.NotificationRenewalToday: {
		subject: "Your {{.AppName}} subscription renews today",
		body:    `<p>Your subscription renews today, <strong>{{.NextBillingDate}}</strong>.</p>`,
	},
	models.NotificationSubscriptionStarted: {
		subject: "Welcome to {{.AppName}} Premium",
		body:    `<p>Your subscription is active.{{if .NextBillingDate}} The next payment is due on <strong>{{.NextBillingDate}}</strong>.{{end}}</p>`,
	},
	models.NotificationSubscriptionRenewed: {
		subject: "Your {{.AppName}} subscription has been renewed",
		body:    `<p>Thank you, your payment was received.{{if .NextBillingDate}} Your access now runs until <strong>{{.NextBillingDate}}</strong>.{{end}}</p>`,
	},
	models.NotificationPaymentFailed: {
		subject: "We could not process your {{.AppName}} payment",
		body:    `<p>Your latest payment failed. Please update your payment details to keep access to matches and messaging.</p>`,
	},
	models.NotificationSubscriptionCancelled: {
		subject: "Your {{.AppName}} subscription has been cancelled",
		body:    `<p>Your subscription was cancelled and paid features are no longer available. You can subscribe again at any time.</p>`,
	},
	models.NotificationSubscriptionEnded: {
		subject: "Your {{.AppName}} subscription has ended",
		body:    `<p>Your subscription has ended. Subscribe again to continue matching and messaging.</p>`,
	},
}

const layout = `<!doctype html>
<html><body style="font-family:sans-serif">
{{if .Guardian}}<p>Hello,</p>
<p>You are receiving this email because you are listed as the guardian of <strong>{{.FirstName}}</strong> on {{.AppName}}. The following was sent to them:</p>
{{else}}<p>Hi {{if .FirstName}}{{.FirstName}}{{else}}there{{end}},</p>
{{end}}{{.Body}}
<p>Questions? Contact us at <a href="mailto:{{.SupportEmail}}">{{.SupportEmail}}</a>.</p>
<p>The {{.AppName}} team</p>
</body></html>`

type templateData struct {
	AppName         string
	SupportEmail    string
	FirstName       string
	Guardian        bool
	NextBillingDate string
	Body            template.HTML
}

// Renderer собирает тему и HTML письма по уведомлению.
type Renderer struct {
	appName      string
	supportEmail string
	layout       *template.Template
	subjects     map[models.NotificationKind]*texttemplate.Template
	bodies       map[models.NotificationKind]*template.Template
}

// NewRenderer разбирает шаблоны; ошибка означает ошибку в самих шаблонах.
func NewRenderer(appName, supportEmail string) (*Renderer, error) {
	r := &Renderer{
		appName:      appName,
		supportEmail: supportEmail,
		subjects:     make(map[models.NotificationKind]*texttemplate.Template, len(emailTemplates)),
		bodies:       make(map[models.NotificationKind]*template.Template, len(emailTemplates)),
	}
	var err error
	if r.layout, err = template.New("layout").Parse(layout); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	for kind, t := range emailTemplates {
		if r.subjects[kind], err = texttemplate.New(string(kind) + "_subject").Parse(t.subject); err != nil {
			return nil, fmt.Errorf("parse %s subject: %w", kind, err)
		}
		if r.bodies[kind], err = template.New(string(kind)).Parse(t.body); err != nil {
			return nil, fmt.Errorf("parse %s body: %w", kind, err)
		}
	}
	return r, nil
}

// ErrUnknownKind: для вида уведомления нет шаблона.
var ErrUnknownKind = errors.New("unknown notification kind")

// Render возвращает тему и HTML-тело письма.
func (r *Renderer) Render(n models.Notification) (string, string, error) {
	subjectTpl, ok := r.subjects[n.Kind]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownKind, n.Kind)
	}

	data := templateData{
		AppName:      r.appName,
		SupportEmail: r.supportEmail,
		FirstName:    n.FirstName,
		Guardian:     n.Guardian,
	}
	if n.NextBillingDate != nil {
		data.NextBillingDate = formatDate(*n.NextBillingDate)
	}

	var subject, body, page bytes.Buffer
	if err := subjectTpl.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := r.bodies[n.Kind].Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	data.Body = template.HTML(body.String()) //nolint:gosec // тело отрендерено html/template выше
	if err := r.layout.Execute(&page, data); err != nil {
		return "", "", fmt.Errorf("render layout: %w", err)
	}

	s := subject.String()
	if n.Guardian {
		s = "[Guardian copy] " + s
	}
	return s, page.String(), nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2 January 2006")
}
