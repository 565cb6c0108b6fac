// Package dispatcher sends a notification through the transport of its channel.
//
// Senders never retry on their own: the delivery worker owns the retry policy
// and uses IsPermanent to tell a dead-letter failure from a retryable one.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/aliskhannn/notification-service/internal/model"
)

var (
	ErrInvalidRecipient     = errors.New("invalid recipient")
	ErrRejectedRecipient    = errors.New("recipient rejected")
	ErrInvalidSubscription  = errors.New("invalid push subscription")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrUnsupportedChannel   = errors.New("unsupported channel")
)

// Sender delivers a single notification.
type Sender interface {
	Send(ctx context.Context, n model.Notification) error
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidRecipient) ||
		errors.Is(err, ErrRejectedRecipient) ||
		errors.Is(err, ErrInvalidSubscription) ||
		errors.Is(err, ErrUnsupportedChannel)
}

// Router picks the Sender registered for a notification's channel.
type Router struct {
	senders map[model.Channel]Sender
}

// NewRouter creates a Router over the given per-channel senders.
func NewRouter(senders map[model.Channel]Sender) *Router {
	return &Router{senders: senders}
}

// Send dispatches n through the sender of n.Channel.
func (r *Router) Send(ctx context.Context, n model.Notification) error {
	sender, ok := r.senders[n.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedChannel, n.Channel)
	}

	return sender.Send(ctx, n)
}

// unavailable wraps a transport failure as retryable, keeping the cause.
func unavailable(channel model.Channel, err error) error {
	return fmt.Errorf("%s: %w: %w", channel, ErrTransportUnavailable, err)
}
