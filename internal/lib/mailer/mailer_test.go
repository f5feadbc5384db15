package mailer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testMessage = Message{
	To:       []string{"anna@uni.ac.uk"},
	Subject:  "Your subscription renews in 7 days",
	HTMLBody: "<p>Hi Anna</p>",
	Tag:      "renewal_seven_day",
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{name: "valid", msg: testMessage},
		{name: "no recipients", msg: Message{Subject: "s", TextBody: "b"}, wantErr: true},
		{name: "blank subject", msg: Message{To: []string{"a@b.c"}, Subject: "  ", TextBody: "b"}, wantErr: true},
		{name: "no body", msg: Message{To: []string{"a@b.c"}, Subject: "s"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMessage)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFallback_Send(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(primary, secondary *MockSender)
		wantErr    bool
	}{
		{
			name: "primary succeeds",
			setupMocks: func(primary, _ *MockSender) {
				primary.On("Send", mock.Anything, testMessage).Return(nil).Once()
			},
		},
		{
			name: "falls back to secondary",
			setupMocks: func(primary, secondary *MockSender) {
				primary.On("Send", mock.Anything, testMessage).Return(errors.New("postmark down")).Once()
				secondary.On("Send", mock.Anything, testMessage).Return(nil).Once()
			},
		},
		{
			name: "all transports fail",
			setupMocks: func(primary, secondary *MockSender) {
				primary.On("Send", mock.Anything, testMessage).Return(errors.New("postmark down")).Once()
				secondary.On("Send", mock.Anything, testMessage).Return(errors.New("smtp down")).Once()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, secondary := new(MockSender), new(MockSender)
			tt.setupMocks(primary, secondary)

			err := NewFallback(newNoopLogger(), primary, secondary).Send(context.Background(), testMessage)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrFailedToSend)
				assert.Contains(t, err.Error(), "smtp down")
			} else {
				assert.NoError(t, err)
			}
			primary.AssertExpectations(t)
			secondary.AssertExpectations(t)
		})
	}
}

func TestFallback_NoTransports(t *testing.T) {
	err := NewFallback(newNoopLogger()).Send(context.Background(), testMessage)
	assert.ErrorIs(t, err, ErrFailedToSend)
}

func TestFallback_InvalidMessageSkipsTransports(t *testing.T) {
	primary := new(MockSender)
	err := NewFallback(newNoopLogger(), primary).Send(context.Background(), Message{})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	primary.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}
