package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/aliskhannn/notification-service/internal/model"
	"github.com/aliskhannn/notification-service/pkg/email"
)

type mailTransport interface {
	Send(ctx context.Context, to string, msg string) error
}

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	transport mailTransport
}

// NewEmailSender creates an EmailSender on top of a mail transport.
func NewEmailSender(t mailTransport) *EmailSender {
	return &EmailSender{transport: t}
}

// Send validates the address and hands the message to the mail transport.
func (s *EmailSender) Send(ctx context.Context, n model.Notification) error {
	to := strings.TrimSpace(n.Recipient)
	if to == "" {
		return fmt.Errorf("%w: empty email address", ErrInvalidRecipient)
	}

	if _, err := mail.ParseAddress(to); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidRecipient, to, err)
	}

	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidRecipient)
	}

	if err := s.transport.Send(ctx, to, n.Message); err != nil {
		if errors.Is(err, email.ErrRecipientRejected) {
			return fmt.Errorf("%w: %w", ErrRejectedRecipient, err)
		}

		return unavailable(model.ChannelEmail, err)
	}

	return nil
}
