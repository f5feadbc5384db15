package mailer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/smtp"
)

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Connect(ctx context.Context) (smtp.Client, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(smtp.Client), args.Error(1)
}

func (m *MockTransport) GetSMTPUser() string {
	return m.Called().String(0)
}

type MockSMTPClient struct {
	mock.Mock
}

func (m *MockSMTPClient) Mail(from string) error { return m.Called(from).Error(0) }
func (m *MockSMTPClient) Rcpt(to string) error   { return m.Called(to).Error(0) }
func (m *MockSMTPClient) Quit() error            { return m.Called().Error(0) }
func (m *MockSMTPClient) Close() error           { return m.Called().Error(0) }

func (m *MockSMTPClient) Data() (io.WriteCloser, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

type MockSMTPWriter struct {
	mock.Mock
}

func (m *MockSMTPWriter) Write(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockSMTPWriter) Close() error { return m.Called().Error(0) }

func TestSMTPSender_Send(t *testing.T) {
	const from = "no-reply@unimatch.example"

	tests := []struct {
		name       string
		setupMocks func(tr *MockTransport, c *MockSMTPClient, w *MockSMTPWriter)
		wantErr    string
	}{
		{
			name: "success",
			setupMocks: func(tr *MockTransport, c *MockSMTPClient, w *MockSMTPWriter) {
				tr.On("Connect", mock.Anything).Return(c, nil)
				c.On("Mail", from).Return(nil)
				c.On("Rcpt", "anna@uni.ac.uk").Return(nil)
				c.On("Data").Return(w, nil)
				w.On("Write", mock.MatchedBy(func(p []byte) bool {
					s := string(p)
					return strings.Contains(s, "To: anna@uni.ac.uk") && strings.Contains(s, "text/html")
				})).Return(100, nil)
				w.On("Close").Return(nil)
				c.On("Quit").Return(nil)
				c.On("Close").Return(nil)
			},
		},
		{
			name: "connect error",
			setupMocks: func(tr *MockTransport, _ *MockSMTPClient, _ *MockSMTPWriter) {
				tr.On("Connect", mock.Anything).Return(nil, errors.New("dial refused"))
			},
			wantErr: "dial refused",
		},
		{
			name: "recipient rejected",
			setupMocks: func(tr *MockTransport, c *MockSMTPClient, _ *MockSMTPWriter) {
				tr.On("Connect", mock.Anything).Return(c, nil)
				c.On("Mail", from).Return(nil)
				c.On("Rcpt", "anna@uni.ac.uk").Return(errors.New("550 no such user"))
				c.On("Close").Return(nil)
			},
			wantErr: "550 no such user",
		},
		{
			name: "write error",
			setupMocks: func(tr *MockTransport, c *MockSMTPClient, w *MockSMTPWriter) {
				tr.On("Connect", mock.Anything).Return(c, nil)
				c.On("Mail", from).Return(nil)
				c.On("Rcpt", "anna@uni.ac.uk").Return(nil)
				c.On("Data").Return(w, nil)
				w.On("Write", mock.Anything).Return(0, errors.New("broken pipe"))
				w.On("Close").Return(nil)
				c.On("Close").Return(nil)
			},
			wantErr: "broken pipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, c, w := new(MockTransport), new(MockSMTPClient), new(MockSMTPWriter)
			tr.On("GetSMTPUser").Return(from)
			tt.setupMocks(tr, c, w)

			err := NewSMTPSender(tr).Send(context.Background(), testMessage)
			if tt.wantErr != "" {
				assert.ErrorIs(t, err, ErrFailedToSend)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			tr.AssertExpectations(t)
			c.AssertExpectations(t)
			w.AssertExpectations(t)
		})
	}
}
