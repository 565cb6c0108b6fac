package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/aliskhannn/notification-service/internal/model"
	"github.com/aliskhannn/notification-service/pkg/sms"
)

var phonePattern = regexp.MustCompile(`^\+?\d+$`)

type smsGateway interface {
	Send(ctx context.Context, to string, msg string) error
}

// SMSSender delivers notifications through an SMS gateway.
type SMSSender struct {
	gateway smsGateway
}

// NewSMSSender creates an SMSSender on top of a gateway client.
func NewSMSSender(g smsGateway) *SMSSender {
	return &SMSSender{gateway: g}
}

// Send fails fast on a malformed phone number before touching the gateway.
func (s *SMSSender) Send(ctx context.Context, n model.Notification) error {
	if !phonePattern.MatchString(n.Recipient) {
		return fmt.Errorf("%w: %q is not a phone number", ErrInvalidRecipient, n.Recipient)
	}

	if err := s.gateway.Send(ctx, n.Recipient, n.Message); err != nil {
		if errors.Is(err, sms.ErrRejected) {
			return fmt.Errorf("%w: %w", ErrRejectedRecipient, err)
		}

		return unavailable(model.ChannelSMS, err)
	}

	return nil
}
