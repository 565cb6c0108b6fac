package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/notification-service/internal/model"
	"github.com/aliskhannn/notification-service/pkg/email"
	"github.com/aliskhannn/notification-service/pkg/push"
	"github.com/aliskhannn/notification-service/pkg/sms"
)

type textTransport struct {
	err   error
	calls int
	to    string
	msg   string
}

func (f *textTransport) Send(_ context.Context, to string, msg string) error {
	f.calls++
	f.to, f.msg = to, msg
	return f.err
}

type pushRecorder struct {
	err     error
	calls   int
	sub     *push.Subscription
	payload []byte
}

func (f *pushRecorder) Send(_ context.Context, sub *push.Subscription, payload []byte) error {
	f.calls++
	f.sub, f.payload = sub, payload
	return f.err
}

func subscriptionJSON(t *testing.T, keyLen, authLen int) string {
	t.Helper()

	key := make([]byte, keyLen)
	if keyLen > 0 {
		key[0] = 0x04
	}

	b, err := json.Marshal(map[string]any{
		"endpoint": "https://push.example.com/send/abc",
		"keys": map[string]string{
			"p256dh": base64.RawURLEncoding.EncodeToString(key),
			"auth":   strings.Repeat("A", authLen),
		},
	})
	require.NoError(t, err)

	return string(b)
}

func TestEmailSender_Send(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		message   string
		transport error
		want      error
		calls     int
	}{
		{"ok", "user@example.com", "hello", nil, nil, 1},
		{"empty address", "", "hello", nil, ErrInvalidRecipient, 0},
		{"malformed address", "not-an-address", "hello", nil, ErrInvalidRecipient, 0},
		{"empty message", "user@example.com", " ", nil, ErrInvalidRecipient, 0},
		{"rejected", "user@example.com", "hello", fmt.Errorf("wrap: %w", email.ErrRecipientRejected), ErrRejectedRecipient, 1},
		{"smtp down", "user@example.com", "hello", errors.New("dial tcp: connection refused"), ErrTransportUnavailable, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &textTransport{err: tt.transport}
			err := NewEmailSender(tr).Send(context.Background(), model.Notification{
				Channel: model.ChannelEmail, Recipient: tt.recipient, Message: tt.message,
			})

			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, tt.calls, tr.calls)
		})
	}
}

func TestSMSSender_Send(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		transport error
		want      error
		calls     int
	}{
		{"international", "+15550001111", nil, nil, 1},
		{"digits only", "15550001111", nil, nil, 1},
		{"letters", "abc", nil, ErrInvalidRecipient, 0},
		{"not a number", "not-a-number", nil, ErrInvalidRecipient, 0},
		{"empty", "", nil, ErrInvalidRecipient, 0},
		{"gateway rejects", "+1555", sms.ErrRejected, ErrRejectedRecipient, 1},
		{"gateway down", "+1555", sms.ErrUnavailable, ErrTransportUnavailable, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &textTransport{err: tt.transport}
			err := NewSMSSender(tr).Send(context.Background(), model.Notification{
				Channel: model.ChannelSMS, Recipient: tt.recipient, Message: "hi",
			})

			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, tt.calls, tr.calls)
		})
	}
}

func TestPushSender_Send(t *testing.T) {
	tr := &pushRecorder{}
	s := NewPushSender(tr, "New Notification")

	err := s.Send(context.Background(), model.Notification{
		Channel:   model.ChannelPush,
		Recipient: subscriptionJSON(t, 65, 22),
		Message:   "hi",
		Media:     "https://example.com/image.png",
	})
	require.NoError(t, err)
	require.Equal(t, 1, tr.calls)
	assert.Equal(t, "https://push.example.com/send/abc", tr.sub.Endpoint)

	var p pushPayload
	require.NoError(t, json.Unmarshal(tr.payload, &p))
	assert.Equal(t, pushPayload{Title: "New Notification", Body: "hi", Image: "https://example.com/image.png"}, p)
}

func TestPushSender_Send_Failures(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		transport error
		want      error
		calls     int
	}{
		{"not json", "firebase_token", nil, ErrInvalidSubscription, 0},
		{"short key", subscriptionJSON(t, 64, 22), nil, ErrInvalidSubscription, 0},
		{"short auth", subscriptionJSON(t, 65, 21), nil, ErrInvalidSubscription, 0},
		{"gone", subscriptionJSON(t, 65, 22), push.ErrSubscriptionGone, ErrInvalidSubscription, 1},
		{"rejected", subscriptionJSON(t, 65, 22), push.ErrRejected, ErrRejectedRecipient, 1},
		{"unavailable", subscriptionJSON(t, 65, 22), push.ErrUnavailable, ErrTransportUnavailable, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &pushRecorder{err: tt.transport}
			err := NewPushSender(tr, "t").Send(context.Background(), model.Notification{
				Channel: model.ChannelPush, Recipient: tt.recipient, Message: "hi",
			})

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.calls, tr.calls)
		})
	}
}

func TestParseSubscription_BadEndpoint(t *testing.T) {
	_, err := ParseSubscription(`{"endpoint":"ftp://x","keys":{"p256dh":"","auth":""}}`)
	assert.ErrorIs(t, err, ErrInvalidSubscription)
}

func TestRouter_Send(t *testing.T) {
	tr := &textTransport{}
	r := NewRouter(map[model.Channel]Sender{model.ChannelSMS: NewSMSSender(tr)})

	assert.NoError(t, r.Send(context.Background(), model.Notification{Channel: model.ChannelSMS, Recipient: "+1", Message: "hi"}))
	assert.Equal(t, 1, tr.calls)

	err := r.Send(context.Background(), model.Notification{Channel: model.ChannelEmail})
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
	assert.True(t, IsPermanent(err))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(fmt.Errorf("x: %w", ErrInvalidRecipient)))
	assert.True(t, IsPermanent(ErrRejectedRecipient))
	assert.True(t, IsPermanent(ErrInvalidSubscription))
	assert.False(t, IsPermanent(ErrTransportUnavailable))
	assert.False(t, IsPermanent(context.DeadlineExceeded))
	assert.False(t, IsPermanent(errors.New("boom")))
}
