package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aliskhannn/notification-service/internal/model"
	"github.com/aliskhannn/notification-service/pkg/push"
)

const (
	p256dhLen     = 65 // uncompressed P-256 point
	authEncodeLen = 22 // base64url of the 16-byte auth secret
)

type pushTransport interface {
	Send(ctx context.Context, sub *push.Subscription, payload []byte) error
}

// PushSender delivers Web Push notifications.
type PushSender struct {
	transport pushTransport
	title     string
}

// NewPushSender creates a PushSender; title is shown above every message body.
func NewPushSender(t pushTransport, title string) *PushSender {
	return &PushSender{transport: t, title: title}
}

// pushPayload is the JSON document the service worker receives.
type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

// Send parses the recipient as a push subscription and posts the encrypted payload.
func (s *PushSender) Send(ctx context.Context, n model.Notification) error {
	sub, err := ParseSubscription(n.Recipient)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(pushPayload{Title: s.title, Body: n.Message, Image: n.Media})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	if err := s.transport.Send(ctx, sub, payload); err != nil {
		switch {
		case errors.Is(err, push.ErrSubscriptionGone):
			return fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
		case errors.Is(err, push.ErrRejected):
			return fmt.Errorf("%w: %w", ErrRejectedRecipient, err)
		default:
			return unavailable(model.ChannelPush, err)
		}
	}

	return nil
}

// ParseSubscription decodes a subscription descriptor and checks its key sizes:
// p256dh must decode to 65 bytes and auth must be 22 base64url characters.
func ParseSubscription(raw string) (*push.Subscription, error) {
	var sub push.Subscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}

	u, err := url.Parse(sub.Endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%w: bad endpoint %q", ErrInvalidSubscription, sub.Endpoint)
	}

	key, err := decodeKey(sub.Keys.P256dh)
	if err != nil || len(key) != p256dhLen {
		return nil, fmt.Errorf("%w: p256dh must be %d bytes", ErrInvalidSubscription, p256dhLen)
	}

	auth := strings.TrimRight(sub.Keys.Auth, "=")
	if len(auth) != authEncodeLen {
		return nil, fmt.Errorf("%w: auth must be %d characters", ErrInvalidSubscription, authEncodeLen)
	}

	if _, err := decodeKey(auth); err != nil {
		return nil, fmt.Errorf("%w: auth is not base64url", ErrInvalidSubscription)
	}

	return &sub, nil
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}

	return base64.RawStdEncoding.DecodeString(s)
}
