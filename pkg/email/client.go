// Package email sends plain-text notifications over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"time"

	"gopkg.in/mail.v2"
)

// ErrRecipientRejected is returned when the SMTP server permanently refuses the message.
var ErrRecipientRejected = errors.New("smtp: recipient rejected")

type sender interface {
	DialAndSend(m ...*mail.Message) error
}

// Client sends messages through a single SMTP relay.
type Client struct {
	from    string
	subject string
	dialer  sender
}

// NewClient creates a new SMTP client. A zero timeout keeps the dialer default.
func NewClient(smtpHost string, smtpPort int, username, password, from, subject string, timeout time.Duration) *Client {
	dialer := mail.NewDialer(smtpHost, smtpPort, username, password)
	if timeout > 0 {
		dialer.Timeout = timeout
	}

	return &Client{
		from:    from,
		subject: subject,
		dialer:  dialer,
	}
}

// Send delivers msg to the given address.
//
// Permanent SMTP failures (5xx replies) are reported as ErrRecipientRejected.
func (c *Client) Send(ctx context.Context, to string, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	message := mail.NewMessage()

	message.SetHeader("From", c.from)
	message.SetHeader("To", to)
	message.SetHeader("Subject", c.subject)

	message.SetBody("text/plain", msg)

	if err := c.dialer.DialAndSend(message); err != nil {
		if isPermanent(err) {
			return fmt.Errorf("%w: %w", ErrRecipientRejected, err)
		}

		return fmt.Errorf("send mail: %w", err)
	}

	return nil
}

func isPermanent(err error) bool {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && sendErr.Cause != nil {
		err = sendErr.Cause
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 500 && protoErr.Code < 600
	}

	return false
}
