package notificationsender

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/unimatch-billing/internal/config"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/mailer"
)

func TestMailTransports(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		cfg     config.Mail
		want    int
		wantErr error
	}{
		{
			name: "postmark и smtp",
			cfg: config.Mail{
				SenderEmail:         "no-reply@example.com",
				PostmarkServerToken: "server-token",
				SMTPHost:            "localhost",
				SMTPPort:            "1025",
			},
			want: 2,
		},
		{
			name: "только smtp",
			cfg:  config.Mail{SMTPHost: "localhost", SMTPPort: "1025"},
			want: 1,
		},
		{
			name:    "нет транспортов",
			cfg:     config.Mail{},
			wantErr: mailer.ErrNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := mailTransports(tt.cfg, logger)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, list, tt.want)
		})
	}
}
